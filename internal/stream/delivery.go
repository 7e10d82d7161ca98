package stream

import (
	"context"

	"github.com/phancao/Project-Management-Agent-sub011/internal/logging"
)

// Transport forwards frames to one client connection. Implementations must
// preserve call order; the delivery loop never sends concurrently.
type Transport interface {
	Send(ctx context.Context, frame Frame) error
}

// DeliveryLoop drains one thread's queue and forwards events to the
// transport in strict FIFO order. One loop per thread, bound to the active
// client connection.
type DeliveryLoop struct {
	thread    *Thread
	transport Transport
	logger    logging.Logger
}

// NewDeliveryLoop binds a transport to a thread's queue.
func NewDeliveryLoop(thread *Thread, transport Transport, logger logging.Logger) *DeliveryLoop {
	return &DeliveryLoop{
		thread:    thread,
		transport: transport,
		logger:    logging.OrNop(logger),
	}
}

// Run blocks until the queue closes, the context is cancelled, or the
// transport fails. A transport failure means the client connection is gone:
// the caller is expected to tear the thread down, which also cancels the
// workflow.
func (d *DeliveryLoop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.logger.Debug("delivery loop for thread %s stopped: %v", d.thread.ID, ctx.Err())
			return ctx.Err()
		case event, ok := <-d.thread.Queue.Events():
			if !ok {
				d.logger.Debug("queue closed, delivery loop for thread %s exiting", d.thread.ID)
				return nil
			}
			frame, err := EncodeFrame(event)
			if err != nil {
				d.logger.Error("failed to encode %s event for thread %s: %v", event.Kind, d.thread.ID, err)
				continue
			}
			if err := d.transport.Send(ctx, frame); err != nil {
				d.logger.Warn("transport send failed for thread %s, stopping delivery: %v", d.thread.ID, err)
				return err
			}
		}
	}
}
