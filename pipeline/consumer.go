// Package pipeline runs queue messages through retrieve, handle and emit
// stages under a bounded concurrency gate and completes each poll cycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/baldanca/s3-event-pipeline/completion"
	"github.com/baldanca/s3-event-pipeline/emitter"
	"github.com/baldanca/s3-event-pipeline/failure"
	"github.com/baldanca/s3-event-pipeline/handler"
	"github.com/baldanca/s3-event-pipeline/retriever"
	"github.com/baldanca/s3-event-pipeline/source"
)

// Stages are the pluggable steps every message goes through, in order.
type Stages[E, O any] struct {
	Retriever retriever.Retriever[E]
	Handler   handler.Handler[E, O]
	Emitter   emitter.Emitter[O]
}

func (s Stages[E, O]) validate() error {
	if s.Retriever == nil {
		return errors.New("retriever is nil")
	}
	if s.Handler == nil {
		return errors.New("handler is nil")
	}
	if s.Emitter == nil {
		return errors.New("emitter is nil")
	}
	return nil
}

// Consumer executes one polling cycle at a time.
//
// Message pipelines run on a context detached from the caller's cancellation:
// shutdown stops new polls but never aborts a pipeline or its completion.
type Consumer[E, O any] struct {
	receiver  source.Receiver
	stages    Stages[E, O]
	completer completion.Completer[O]
	cfg       Config

	gate  *semaphore.Weighted
	state atomic.Int32

	logger zerolog.Logger
	now    func() time.Time
}

func NewConsumer[E, O any](
	receiver source.Receiver,
	stages Stages[E, O],
	completer completion.Completer[O],
	cfg Config,
	logger zerolog.Logger,
) (*Consumer[E, O], error) {
	if receiver == nil {
		return nil, errors.New("receiver is nil")
	}
	if err := stages.validate(); err != nil {
		return nil, err
	}
	if completer == nil {
		return nil, errors.New("completer is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	return &Consumer[E, O]{
		receiver:  receiver,
		stages:    stages,
		completer: completer,
		cfg:       cfg,
		gate:      semaphore.NewWeighted(int64(cfg.Concurrency)),
		logger:    logger.With().Str("component", "consumer").Logger(),
		now:       time.Now,
	}, nil
}

// State reports where the consumer is in its cycle.
func (c *Consumer[E, O]) State() State { return State(c.state.Load()) }

func (c *Consumer[E, O]) setState(s State) {
	if prev := State(c.state.Swap(int32(s))); prev != s {
		c.logger.Trace().Stringer("from", prev).Stringer("to", s).Msg("state change")
	}
}

// enter moves to an in-flight state, or to Draining once shutdown was requested.
func (c *Consumer[E, O]) enter(ctx context.Context, s State) {
	if ctx.Err() != nil {
		s = StateDraining
	}
	c.setState(s)
}

// markDraining flags a cycle that is still in flight when shutdown arrives.
func (c *Consumer[E, O]) markDraining() {
	for {
		cur := State(c.state.Load())
		switch cur {
		case StateDispatching, StateAwaiting, StateCompleting:
		default:
			return
		}
		if c.state.CompareAndSwap(int32(cur), int32(StateDraining)) {
			c.logger.Info().Stringer("from", cur).Msg("shutdown requested; draining in-flight messages")
			return
		}
	}
}

// RunCycle polls once and, when messages arrive, runs every message to an
// outcome and completes the batch. It returns the number of messages received.
// The only error it returns is a poll failure; cancellation of ctx during the
// poll is not an error.
func (c *Consumer[E, O]) RunCycle(ctx context.Context) (int, error) {
	if ctx.Err() != nil {
		c.setState(StateStopped)
		return 0, nil
	}

	c.setState(StatePolling)
	msgs, err := c.receiver.Receive(ctx, c.cfg.PollBatchSize)
	if err != nil {
		if ctx.Err() != nil {
			c.setState(StateStopped)
			return 0, nil
		}
		c.setState(StateIdle)
		return 0, err
	}
	if len(msgs) == 0 {
		if ctx.Err() != nil {
			c.setState(StateStopped)
		} else {
			c.setState(StateIdle)
		}
		return 0, nil
	}

	work := context.WithoutCancel(ctx)
	polledAt := c.now()

	stopWatch := context.AfterFunc(ctx, c.markDraining)
	defer stopWatch()

	stopLease := c.startLease(work, msgs)

	c.enter(ctx, StateDispatching)
	outcomes := make([]completion.Outcome[O], len(msgs))
	var g errgroup.Group
	for i, msg := range msgs {
		// work is never cancelled, so Acquire only returns once a slot frees.
		if err := c.gate.Acquire(work, 1); err != nil {
			outcomes[i] = completion.Failed[O](msg, err, retriever.ObjectReference{}, 0)
			continue
		}
		g.Go(func() error {
			defer c.gate.Release(1)
			outcomes[i] = c.process(work, msg)
			return nil
		})
	}

	c.enter(ctx, StateAwaiting)
	_ = g.Wait()

	c.enter(ctx, StateCompleting)
	rep, err := c.completer.Complete(work, completion.Batch[O]{Outcomes: outcomes, PolledAt: polledAt})
	stopLease()
	if err != nil {
		c.logger.Error().
			Err(err).
			Int("messages", len(msgs)).
			Int("ack_failed", len(rep.AckFailed)).
			Msg("completion failed; affected messages will be redelivered")
	} else {
		c.logger.Debug().
			Str("record_id", rep.RecordID).
			Int("deleted", len(rep.Deleted)).
			Int("failed", len(rep.Failed)).
			Msg("cycle completed")
	}

	if ctx.Err() != nil {
		c.setState(StateStopped)
	} else {
		c.setState(StateIdle)
	}
	return len(msgs), nil
}

// process runs one message through every stage and always yields an outcome.
func (c *Consumer[E, O]) process(ctx context.Context, msg source.Message) (out completion.Outcome[O]) {
	start := c.now()
	var ref retriever.ObjectReference
	stage := failure.KindRetrievalIO

	defer func() {
		if r := recover(); r != nil {
			err := failure.Newf(stage, "panic: %v", r)
			err.Retryable = true
			out = completion.Failed[O](msg, err, ref, c.now().Sub(start))
		}
		c.logOutcome(out)
	}()

	p, err := c.stages.Retriever.Retrieve(ctx, msg)
	ref = p.Ref
	if err != nil {
		return completion.Failed[O](msg, classify(failure.KindRetrievalIO, err), ref, c.now().Sub(start))
	}

	stage = failure.KindHandler
	result, err := c.stages.Handler.Handle(ctx, p.Event)
	if err != nil {
		return completion.Failed[O](msg, classify(failure.KindHandler, err), ref, c.now().Sub(start))
	}

	stage = failure.KindEmit
	if err := c.stages.Emitter.Emit(ctx, result); err != nil {
		return completion.Failed[O](msg, classify(failure.KindEmit, err), ref, c.now().Sub(start))
	}

	return completion.Success(msg, result, ref, c.now().Sub(start))
}

// classify tags err with the stage kind. Retrieval errors keep the kind the
// retriever assigned. Handler and emitter errors are re-tagged with their
// stage, keeping the original error as the cause and its retryability.
func classify(stage failure.Kind, err error) error {
	if fe, ok := failure.As(err); ok && (fe.Kind == stage || stage == failure.KindRetrievalIO) {
		return err
	}
	return &failure.Error{Kind: stage, Retryable: failure.IsRetryable(err), Cause: err}
}

func (c *Consumer[E, O]) logOutcome(o completion.Outcome[O]) {
	if o.OK() {
		c.logger.Debug().
			Str("message_id", o.Message.ID).
			Str("bucket", o.Ref.Bucket).
			Str("key", o.Ref.Key).
			Dur("duration", o.Duration).
			Msg("message processed")
		return
	}
	c.logger.Warn().
		Err(o.Err.Cause).
		Str("message_id", o.Message.ID).
		Int("receive_count", o.Message.ReceiveCount).
		Str("bucket", o.Ref.Bucket).
		Str("key", o.Ref.Key).
		Str("kind", o.Err.Kind.String()).
		Bool("retryable", o.Err.Retryable).
		Msg("message failed")
}
