package io

import (
	"context"
	"errors"
	"sync"

	"github.com/golang/glog"
)

type StandardConsumer struct {
	id int
}

func NewStandardConsumer(id int) *StandardConsumer {
	return &StandardConsumer{id: id}
}

// Continually consumes WorkUnits submitted to a work channel until the channel is closed. Failed
// units are logged and sent to the error channel when one is given, the consumer keeps going.
func (c *StandardConsumer) Consume(ctx context.Context, workchan chan *WorkUnit, errchan chan<- error, waitGroup *sync.WaitGroup) {
	defer waitGroup.Done()

	for {
		// get work from channel
		work, ok := <-workchan
		if !ok {
			// channel was closed by the pool, quit infinite loop
			break
		}

		err := c.doWork(ctx, work)
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) {
			glog.V(2).Infof("consumer %d: %s cancelled", c.id, work.Name)
			continue
		}
		glog.Warningf("consumer %d: %s: %v", c.id, work.Name, err)
		if errchan != nil {
			select {
			case errchan <- err:
			default:
			}
		}
	}
}

func (c *StandardConsumer) doWork(ctx context.Context, work *WorkUnit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Name: work.Name, Value: r}
		}
	}()
	return work.Run(ctx)
}
