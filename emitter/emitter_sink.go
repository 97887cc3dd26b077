package emitter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/baldanca/s3-event-pipeline/encoder"
	"github.com/baldanca/s3-event-pipeline/sink"
)

// SinkEmitter encodes each output as its own object and writes it to an
// object-store sink.
type SinkEmitter[O any] struct {
	sink    sink.Sinkr
	encoder encoder.Encoder[O]
	name    string
	now     func() time.Time
}

// NewSinkEmitter writes outputs under keys partitioned by name and hour.
func NewSinkEmitter[O any](s sink.Sinkr, enc encoder.Encoder[O], name string) (*SinkEmitter[O], error) {
	if s == nil {
		return nil, errors.New("sink is nil")
	}
	if enc == nil {
		return nil, errors.New("encoder is nil")
	}
	if name == "" {
		name = "outputs"
	}
	return &SinkEmitter[O]{sink: s, encoder: enc, name: name, now: time.Now}, nil
}

func (e *SinkEmitter[O]) Emit(ctx context.Context, out O) error {
	data, err := e.encoder.Encode(ctx, []O{out})
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}

	contentType := e.encoder.ContentType()
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return e.sink.Write(ctx, sink.WriteRequest{
		Key:         sink.PartitionedKey(e.name, e.now(), e.encoder.FileExtension()),
		Data:        data,
		ContentType: contentType,
	})
}
