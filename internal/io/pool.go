// Package io runs asynchronous fetch work on a fixed set of consumer goroutines.
package io

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/golang/glog"
)

// PanicError wraps a panic raised by a work unit.
type PanicError struct {
	Name  string
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s panicked: %v", e.Name, e.Value)
}

// Pool is a producer and a set of consumers sharing a buffered work channel.
type Pool struct {
	producer  *StandardProducer
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	errors    chan error
}

// NewPool starts workers consumers, one per CPU when workers is not positive. The work channel
// buffers 5 units per consumer.
func NewPool(ctx context.Context, workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	ctx, cancel := context.WithCancel(ctx)

	workChannel := make(chan *WorkUnit, workers*5)
	p := &Pool{
		producer: NewStandardProducer(workChannel),
		cancel:   cancel,
		errors:   make(chan error, workers),
	}

	for i := 0; i < workers; i++ {
		p.waitGroup.Add(1)
		consumer := NewStandardConsumer(i)
		go consumer.Consume(ctx, workChannel, p.errors, &p.waitGroup)
	}
	glog.V(1).Infof("started %d consumers", workers)
	return p
}

func (p *Pool) Submit(unit *WorkUnit) error {
	return p.producer.Submit(unit)
}

// Errors exposes the most recent unit failures. It is lossy, failures are also logged.
func (p *Pool) Errors() <-chan error {
	return p.errors
}

// Close cancels running units, lets the consumers drain the queue and waits for them.
func (p *Pool) Close() {
	p.cancel()
	p.producer.close()
	p.waitGroup.Wait()
}
