package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/baldanca/s3-event-pipeline/encoder"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Record is one serialized completion batch.
type Record struct {
	ID        string
	CreatedAt time.Time
	// PolledAt is when the cycle's messages were received.
	PolledAt    time.Time
	ContentType string
	Extension   string
	Data        []byte
	Successes   int
	Failures    int
}

// Serializer turns a completion batch into a durable record.
type Serializer[O any] interface {
	Serialize(ctx context.Context, batch Batch[O]) (Record, error)
}

// Entry is the flat row written per outcome.
type Entry struct {
	MessageID    string `parquet:"message_id" json:"message_id"`
	Status       string `parquet:"status" json:"status"`
	Kind         string `parquet:"kind" json:"kind,omitempty"`
	Retryable    bool   `parquet:"retryable" json:"retryable"`
	Error        string `parquet:"error" json:"error,omitempty"`
	ReceiveCount int32  `parquet:"receive_count" json:"receive_count"`
	Bucket       string `parquet:"bucket" json:"bucket,omitempty"`
	Key          string `parquet:"key" json:"key,omitempty"`
	Output       string `parquet:"output" json:"output,omitempty"`
	// OutputError is set when a successful output could not be rendered as
	// JSON. The message still counts as a success.
	OutputError string `parquet:"output_error" json:"output_error,omitempty"`
	DurationMs  int64  `parquet:"duration_ms" json:"duration_ms"`
	PolledAt    int64  `parquet:"polled_at" json:"polled_at"`
	CompletedAt int64  `parquet:"completed_at" json:"completed_at"`
}

// EncoderSerializer writes one Entry per outcome with a record encoder.
// Outputs are embedded as JSON text; an output that cannot be marshaled is
// recorded in OutputError and never fails the batch.
type EncoderSerializer[O any] struct {
	enc encoder.Encoder[Entry]
	now func() time.Time
}

func NewEncoderSerializer[O any](enc encoder.Encoder[Entry]) (*EncoderSerializer[O], error) {
	if enc == nil {
		return nil, errors.New("encoder is nil")
	}
	return &EncoderSerializer[O]{enc: enc, now: time.Now}, nil
}

func (s *EncoderSerializer[O]) Serialize(ctx context.Context, batch Batch[O]) (Record, error) {
	now := s.now().UTC()
	rec := Record{
		ID:          uuid.NewString(),
		CreatedAt:   now,
		PolledAt:    batch.PolledAt.UTC(),
		ContentType: s.enc.ContentType(),
		Extension:   s.enc.FileExtension(),
	}

	entries := make([]Entry, 0, len(batch.Outcomes))
	for _, o := range batch.Outcomes {
		e := Entry{
			MessageID:    o.Message.ID,
			ReceiveCount: int32(o.Message.ReceiveCount),
			Bucket:       o.Ref.Bucket,
			Key:          o.Ref.Key,
			DurationMs:   o.Duration.Milliseconds(),
			CompletedAt:  now.UnixMilli(),
		}
		if !batch.PolledAt.IsZero() {
			e.PolledAt = batch.PolledAt.UnixMilli()
		}
		if o.OK() {
			rec.Successes++
			e.Status = StatusSuccess
			if out, err := json.Marshal(o.Output); err != nil {
				e.OutputError = err.Error()
			} else {
				e.Output = string(out)
			}
		} else {
			rec.Failures++
			e.Status = StatusFailure
			e.Kind = o.Err.Kind.String()
			e.Retryable = o.Err.Retryable
			e.Error = o.Err.Error()
		}
		entries = append(entries, e)
	}

	data, err := s.enc.Encode(ctx, entries)
	if err != nil {
		return Record{}, fmt.Errorf("encode completion entries: %w", err)
	}
	rec.Data = data
	return rec, nil
}
