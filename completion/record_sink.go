package completion

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/baldanca/s3-event-pipeline/sink"
)

// RecordSink stores completion records. Put returns nil only once the record
// is durable.
type RecordSink interface {
	Put(ctx context.Context, rec Record) error
}

// ObjectSink stores each record as one object, partitioned by creation hour.
type ObjectSink struct {
	sink sink.Sinkr
	name string
}

func NewObjectSink(s sink.Sinkr, name string) (*ObjectSink, error) {
	if s == nil {
		return nil, errors.New("sink is nil")
	}
	if name == "" {
		name = "completions"
	}
	return &ObjectSink{sink: s, name: name}, nil
}

func (s *ObjectSink) Put(ctx context.Context, rec Record) error {
	ext := rec.Extension
	if ext == "" || ext[0] != '.' {
		ext = ".bin"
	}
	contentType := rec.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	t := rec.CreatedAt.UTC()
	key := fmt.Sprintf("%s/%04d/%02d/%02d/%02d/%s%s",
		s.name, t.Year(), int(t.Month()), t.Day(), t.Hour(), rec.ID, ext,
	)

	return s.sink.Write(ctx, sink.WriteRequest{
		Key:         key,
		Data:        rec.Data,
		ContentType: contentType,
		Meta: map[string]string{
			"record-id": rec.ID,
			"successes": strconv.Itoa(rec.Successes),
			"failures":  strconv.Itoa(rec.Failures),
		},
	})
}

// LogSink writes a summary line per record. It keeps no payload and suits
// deployments where the emitted outputs are the only durable trail.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "completion_log").Logger()}
}

func (s *LogSink) Put(_ context.Context, rec Record) error {
	s.logger.Info().
		Str("record_id", rec.ID).
		Time("created_at", rec.CreatedAt).
		Int("successes", rec.Successes).
		Int("failures", rec.Failures).
		Int("bytes", len(rec.Data)).
		Msg("completion recorded")
	return nil
}
