package pipeline

import (
	"context"
	"time"

	"github.com/baldanca/s3-event-pipeline/source"
)

// startLease keeps msgs invisible on the queue while their cycle runs. It is
// a no-op unless a lease timeout is configured and the receiver can extend
// visibility. Extension failures are logged only; the worst case is a
// redelivery, which at-least-once processing already tolerates.
func (c *Consumer[E, O]) startLease(parent context.Context, msgs []source.Message) (stop func()) {
	if c.cfg.LeaseVisibilityTimeout <= 0 || len(msgs) == 0 {
		return func() {}
	}
	ext, ok := c.receiver.(source.VisibilityExtender)
	if !ok {
		return func() {}
	}

	handles := make([]source.AckHandle, len(msgs))
	for i, m := range msgs {
		handles[i] = m.AckHandle()
	}

	renewEvery := c.cfg.LeaseRenewEvery
	if renewEvery <= 0 {
		renewEvery = 20 * time.Second
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	go func() {
		defer close(done)
		t := time.NewTicker(renewEvery)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := ext.ExtendVisibilityBatch(ctx, handles, c.cfg.LeaseVisibilityTimeout); err != nil && ctx.Err() == nil {
					c.logger.Warn().
						Err(err).
						Int("messages", len(handles)).
						Msg("lease renewal failed")
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
