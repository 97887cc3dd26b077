package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/baldanca/s3-event-pipeline/completion"
	"github.com/baldanca/s3-event-pipeline/failure"
	"github.com/baldanca/s3-event-pipeline/retry"
	"github.com/baldanca/s3-event-pipeline/source"
)

// Processor owns a consumer's run loop.
type Processor[E, O any] struct {
	consumer *Consumer[E, O]
	cfg      Config
	retry    retry.Policy
	logger   zerolog.Logger
}

func NewProcessor[E, O any](
	receiver source.Receiver,
	stages Stages[E, O],
	completer completion.Completer[O],
	cfg Config,
	logger zerolog.Logger,
) (*Processor[E, O], error) {
	c, err := NewConsumer(receiver, stages, completer, cfg, logger)
	if err != nil {
		return nil, err
	}
	p := &Processor[E, O]{
		consumer: c,
		cfg:      cfg,
		retry:    retry.Nop(),
		logger:   logger.With().Str("component", "processor").Logger(),
	}
	if cfg.ReconnectAttempts > 1 {
		p.retry = retry.Simple{
			Attempts:  cfg.ReconnectAttempts,
			BaseDelay: cfg.ReconnectBaseDelay,
			MaxDelay:  cfg.ReconnectMaxDelay,
			Jitter:    true,
			RetryIf:   failure.IsRetryable,
		}
	}
	return p, nil
}

// State reports the consumer's current state.
func (p *Processor[E, O]) State() State { return p.consumer.State() }

// Run drives polling cycles until ctx is cancelled, then lets the current
// cycle drain and returns nil. Message failures never surface here. Run
// returns a TransportUnavailable error once ReconnectAttempts consecutive
// polls have failed, or at once for a poll error marked permanent.
func (p *Processor[E, O]) Run(ctx context.Context) error {
	p.logger.Info().
		Int("concurrency", p.cfg.Concurrency).
		Int32("poll_batch_size", p.cfg.PollBatchSize).
		Msg("processor started")
	defer p.consumer.setState(StateStopped)

	for {
		if ctx.Err() != nil {
			p.logger.Info().Msg("processor stopped")
			return nil
		}

		var n int
		err := p.retry.Do(ctx, func(ctx context.Context) error {
			var err error
			n, err = p.consumer.RunCycle(ctx)
			if err != nil {
				p.logger.Warn().Err(err).Msg("poll failed")
			}
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Error().Err(err).Int("attempts", p.cfg.ReconnectAttempts).Msg("queue transport unavailable")
			return failure.New(failure.KindTransportUnavailable, err)
		}

		if n == 0 && p.cfg.EmptyPollBackoff > 0 {
			t := time.NewTimer(p.cfg.EmptyPollBackoff)
			select {
			case <-ctx.Done():
				t.Stop()
			case <-t.C:
			}
		}
	}
}
