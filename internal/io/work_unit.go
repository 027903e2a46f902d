package io

import "context"

// WorkUnit is one asynchronous job: a fetch plus whatever decoding can run off the traversal
// goroutine. Run reports its outcome through its own completion queue, the returned error is
// only logged.
type WorkUnit struct {
	Name string
	Run  func(ctx context.Context) error
}
