package io

import "sync"

// StandardProducer submits work units to the channel the consumers read from. Submit never
// blocks, the traversal goroutine calls it.
type StandardProducer struct {
	mu     sync.RWMutex
	work   chan *WorkUnit
	closed bool
}

func NewStandardProducer(work chan *WorkUnit) *StandardProducer {
	return &StandardProducer{work: work}
}

func (p *StandardProducer) Submit(unit *WorkUnit) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.work <- unit:
		return nil
	default:
		return ErrSaturated
	}
}

// close closes the work channel once. Consumers drain what is left and quit.
func (p *StandardProducer) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.work)
	}
}
