package retriever

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/baldanca/s3-event-pipeline/decoder"
	"github.com/baldanca/s3-event-pipeline/failure"
	"github.com/baldanca/s3-event-pipeline/source"
)

type Config struct {
	// FetchTimeout bounds GetObject plus the full body read.
	FetchTimeout time.Duration
	// MinPrealloc is the smallest read buffer allocated per object.
	MinPrealloc int
	// MaxPrealloc caps how much a declared size may preallocate.
	MaxPrealloc int
	MultiRecord MultiRecordPolicy
}

var DefaultConfig = Config{
	FetchTimeout: 2 * time.Second,
	MinPrealloc:  1024,
	MaxPrealloc:  64 << 20,
	MultiRecord:  FirstRecord,
}

func (c Config) Validate() error {
	if c.FetchTimeout <= 0 {
		return errors.New("FetchTimeout must be > 0")
	}
	if c.MinPrealloc < 0 {
		return errors.New("MinPrealloc must be >= 0")
	}
	if c.MaxPrealloc < c.MinPrealloc {
		return errors.New("MaxPrealloc must be >= MinPrealloc")
	}
	if c.MultiRecord != FirstRecord && c.MultiRecord != RejectMultiRecord {
		return fmt.Errorf("unknown multi-record policy %d", int(c.MultiRecord))
	}
	return nil
}

type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Retriever fetches the object named by an S3 event notification and
// decodes it. It is safe for concurrent use.
type S3Retriever[E any] struct {
	cfg     Config
	client  s3API
	decoder decoder.Decoder[E]
	logger  zerolog.Logger
}

var _ Retriever[struct{}] = (*S3Retriever[struct{}])(nil)

func NewS3Retriever[E any](client s3API, dec decoder.Decoder[E], cfg Config, logger zerolog.Logger) (*S3Retriever[E], error) {
	if client == nil {
		return nil, errors.New("s3 client is required")
	}
	if dec == nil {
		return nil, errors.New("decoder is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retriever config: %w", err)
	}
	return &S3Retriever[E]{
		cfg:     cfg,
		client:  client,
		decoder: dec,
		logger:  logger.With().Str("component", "s3_retriever").Logger(),
	}, nil
}

func (r *S3Retriever[E]) Retrieve(ctx context.Context, msg source.Message) (Payload[E], error) {
	var out Payload[E]

	refs, err := ParseNotification(msg.Body)
	if err != nil {
		return out, err
	}
	if len(refs) > 1 {
		if r.cfg.MultiRecord == RejectMultiRecord {
			return out, failure.Newf(failure.KindMalformedNotification, "notification has %d records, expected 1", len(refs))
		}
		r.logger.Warn().
			Str("message_id", msg.ID).
			Int("records", len(refs)).
			Msg("notification has multiple records, processing only the first")
	}
	ref := refs[0]
	out.Ref = ref

	data, err := r.fetch(ctx, ref)
	if err != nil {
		return out, err
	}
	out.BytesRead = int64(len(data))

	r.logger.Debug().
		Str("message_id", msg.ID).
		Str("bucket", ref.Bucket).
		Str("key", ref.Key).
		Int64("declared_size", ref.Size).
		Int("bytes", len(data)).
		Msg("retrieved object")

	ev, err := r.decode(data)
	if err != nil {
		return out, err
	}
	out.Event = ev
	return out, nil
}

// decode runs the decoder, reporting a panic as a DecodeError.
func (r *S3Retriever[E]) decode(data []byte) (ev E, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = failure.Newf(failure.KindDecode, "decoder panic: %v", p)
		}
	}()
	ev, err = r.decoder.Decode(data)
	if err != nil {
		return ev, failure.New(failure.KindDecode, err)
	}
	return ev, nil
}

func (r *S3Retriever[E]) fetch(ctx context.Context, ref ObjectReference) ([]byte, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	obj, err := r.client.GetObject(fetchCtx, &s3.GetObjectInput{
		Bucket: &ref.Bucket,
		Key:    &ref.Key,
	})
	if err != nil {
		return nil, r.classify(fetchCtx, ref, "get object", err)
	}
	if obj.Body == nil {
		return nil, failure.Newf(failure.KindRetrievalIO, "get s3 object %s/%s: empty body", ref.Bucket, ref.Key)
	}
	defer obj.Body.Close()

	buf := bytes.NewBuffer(make([]byte, 0, r.prealloc(ref.Size)))
	n, err := buf.ReadFrom(obj.Body)
	if err != nil {
		return nil, r.classify(fetchCtx, ref, "read object", err)
	}
	if obj.ContentLength != nil && n != *obj.ContentLength {
		return nil, failure.New(failure.KindRetrievalIO,
			fmt.Errorf("read s3 object %s/%s: got %d of %d bytes: %w", ref.Bucket, ref.Key, n, *obj.ContentLength, io.ErrUnexpectedEOF))
	}
	return buf.Bytes(), nil
}

// prealloc sizes the read buffer from the declared size. Tiny objects still
// get MinPrealloc so small reads do not grow the buffer repeatedly.
func (r *S3Retriever[E]) prealloc(declared int64) int {
	n := r.cfg.MinPrealloc
	if declared > int64(n) {
		n = int(min(declared, int64(r.cfg.MaxPrealloc)))
	}
	return n
}

func (r *S3Retriever[E]) classify(fetchCtx context.Context, ref ObjectReference, op string, err error) error {
	if errors.Is(fetchCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return failure.New(failure.KindRetrievalTimeout,
			fmt.Errorf("%s s3://%s/%s exceeded %s: %w", op, ref.Bucket, ref.Key, r.cfg.FetchTimeout, err))
	}

	ev := r.logger.Warn().Err(err).Str("bucket", ref.Bucket).Str("key", ref.Key)
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		ev = ev.Str("aws_code", apiErr.ErrorCode())
	}
	ev.Msg("s3 retrieval failed")

	return failure.New(failure.KindRetrievalIO, fmt.Errorf("%s s3://%s/%s: %w", op, ref.Bucket, ref.Key, err))
}
