package io

import "errors"

// ErrSaturated is returned when the work queue is full. Callers keep their request and submit
// it again on a later frame.
var ErrSaturated = errors.New("work queue is full")

// ErrClosed is returned by Submit after the pool was closed.
var ErrClosed = errors.New("work queue is closed")

type Producer interface {
	Submit(unit *WorkUnit) error
}
