package completion

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/rs/zerolog"

	"github.com/baldanca/s3-event-pipeline/failure"
	"github.com/baldanca/s3-event-pipeline/retry"
	"github.com/baldanca/s3-event-pipeline/source"
)

// Completer finalizes the outcomes of one poll cycle.
type Completer[O any] interface {
	Complete(ctx context.Context, batch Batch[O]) (Report, error)
}

// Report describes what Complete did with a batch.
type Report struct {
	RecordID string
	// Deleted lists message IDs acknowledged on the queue.
	Deleted []string
	// Failed lists message IDs whose outcome was a failure. They were not deleted.
	Failed []string
	// AckFailed maps message IDs that succeeded but could not be deleted to a
	// CompletionAck error. They will be redelivered.
	AckFailed map[string]error
}

type Config struct {
	// AckBatchSize is the number of deletions per request (1..10).
	AckBatchSize int
	// AckAttempts bounds delete attempts per chunk, counting the first.
	AckAttempts  int
	AckBaseDelay time.Duration
	AckMaxDelay  time.Duration
}

func (c Config) Validate() error {
	if c.AckBatchSize < 1 || c.AckBatchSize > source.MaxBatchSize {
		return errors.New("ack batch size must be between 1 and 10")
	}
	if c.AckAttempts < 1 {
		return errors.New("ack attempts must be >= 1")
	}
	if c.AckBaseDelay < 0 || c.AckMaxDelay < 0 {
		return errors.New("ack delays must be non-negative")
	}
	if c.AckAttempts > 1 && c.AckBaseDelay == 0 {
		return errors.New("ack base delay must be > 0 when ack attempts > 1")
	}
	return nil
}

var DefaultConfig = Config{
	AckBatchSize: 10,
	AckAttempts:  3,
	AckBaseDelay: 100 * time.Millisecond,
	AckMaxDelay:  2 * time.Second,
}

// SQSHandler records every batch and then deletes the successful messages.
//
// Nothing is deleted until the batch record is durable, so a message is never
// acknowledged without a trace of its outcome. Failure outcomes are never
// deleted; the queue redelivers them and eventually routes them to a DLQ.
type SQSHandler[O any] struct {
	ack        source.Acknowledger
	serializer Serializer[O]
	records    RecordSink
	cfg        Config
	retry      retry.Policy
	logger     zerolog.Logger
}

var _ Completer[struct{}] = (*SQSHandler[struct{}])(nil)

func NewSQSHandler[O any](
	ack source.Acknowledger,
	serializer Serializer[O],
	records RecordSink,
	cfg Config,
	logger zerolog.Logger,
) (*SQSHandler[O], error) {
	if ack == nil {
		return nil, errors.New("acknowledger is nil")
	}
	if serializer == nil {
		return nil, errors.New("serializer is nil")
	}
	if records == nil {
		return nil, errors.New("record sink is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := &SQSHandler[O]{
		ack:        ack,
		serializer: serializer,
		records:    records,
		cfg:        cfg,
		retry:      retry.Nop(),
		logger:     logger.With().Str("component", "sqs_completion").Logger(),
	}
	if cfg.AckAttempts > 1 {
		h.retry = retry.Simple{
			Attempts:  cfg.AckAttempts,
			BaseDelay: cfg.AckBaseDelay,
			MaxDelay:  cfg.AckMaxDelay,
			Jitter:    true,
			RetryIf:   failure.IsRetryable,
		}
	}
	return h, nil
}

func (h *SQSHandler[O]) Complete(ctx context.Context, batch Batch[O]) (Report, error) {
	var rep Report
	if len(batch.Outcomes) == 0 {
		return rep, nil
	}

	successes, failures := batch.Partition()
	for _, o := range failures {
		rep.Failed = append(rep.Failed, o.Message.ID)
	}

	rec, err := h.serializer.Serialize(ctx, batch)
	if err != nil {
		return rep, failure.New(failure.KindCompletionAck, fmt.Errorf("serialize completion batch: %w", err))
	}
	if err := h.records.Put(ctx, rec); err != nil {
		return rep, failure.New(failure.KindCompletionAck, fmt.Errorf("store completion record id=%s: %w", rec.ID, err))
	}
	rep.RecordID = rec.ID

	var group source.AckGroup
	for _, o := range successes {
		if !group.Add(o.Message.AckHandle()) {
			h.logger.Debug().Str("message_id", o.Message.ID).Msg("duplicate message in batch; deleting once")
		}
	}

	for _, chunk := range group.Chunks(h.cfg.AckBatchSize) {
		left := h.deleteChunk(ctx, chunk)
		for _, hd := range chunk {
			if cause, ok := left[hd.ID]; ok {
				if rep.AckFailed == nil {
					rep.AckFailed = make(map[string]error)
				}
				fe := failure.New(failure.KindCompletionAck, cause)
				rep.AckFailed[hd.ID] = fe
				h.logger.Warn().
					Err(cause).
					Str("message_id", hd.ID).
					Str("kind", fe.Kind.String()).
					Msg("message not deleted; it will be redelivered")
				continue
			}
			rep.Deleted = append(rep.Deleted, hd.ID)
		}
	}

	h.logger.Debug().
		Str("record_id", rec.ID).
		Int("deleted", len(rep.Deleted)).
		Int("failed", len(rep.Failed)).
		Int("ack_failed", len(rep.AckFailed)).
		Msg("batch completed")

	if n := len(rep.AckFailed); n > 0 {
		return rep, failure.Newf(failure.KindCompletionAck, "%d of %d deletions failed", n, group.Len())
	}
	return rep, nil
}

// deleteChunk deletes one chunk, retrying only the entries that were not
// deleted. Entries rejected with a non-retryable code are not sent again.
// It returns the causes for entries still undeleted.
func (h *SQSHandler[O]) deleteChunk(ctx context.Context, chunk []source.AckHandle) map[string]error {
	pending := chunk
	causes := make(map[string]error, len(chunk))
	settled := make(map[string]error)

	err := h.retry.Do(ctx, func(ctx context.Context) error {
		failures, err := h.ack.DeleteBatch(ctx, pending)
		if err != nil {
			for _, hd := range pending {
				causes[hd.ID] = err
			}
			return err
		}
		clear(causes)

		rejected := make(map[string]source.AckFailure, len(failures))
		for _, f := range failures {
			rejected[f.Handle.ID] = f
		}
		next := make([]source.AckHandle, 0, len(failures))
		for _, hd := range pending {
			f, ok := rejected[hd.ID]
			if !ok {
				continue
			}
			if !f.Retryable() {
				settled[hd.ID] = f
				continue
			}
			next = append(next, hd)
			causes[hd.ID] = f
		}
		pending = next
		if len(pending) == 0 {
			return nil
		}
		return fmt.Errorf("%d deletions rejected", len(pending))
	})
	if err != nil {
		for _, hd := range pending {
			if _, ok := causes[hd.ID]; !ok {
				causes[hd.ID] = err
			}
		}
	}
	maps.Copy(causes, settled)
	if len(causes) == 0 {
		return nil
	}
	return causes
}
