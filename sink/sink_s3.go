package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Sink writes objects to one S3 bucket under an optional prefix.
type Sink struct {
	client s3API

	bucket    string
	bucketPtr *string
	prefix    string
}

var _ Sinkr = (*Sink)(nil)

func New(client s3API, bucket, prefix string) (*Sink, error) {
	if client == nil {
		return nil, errors.New("s3 client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("bucket is required")
	}

	s := &Sink{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
	s.bucketPtr = &s.bucket
	return s, nil
}

func (s *Sink) Write(ctx context.Context, req WriteRequest) error {
	if req.Key == "" {
		return fmt.Errorf("empty key")
	}

	// S3 keys are opaque; no path cleaning.
	key := strings.TrimLeft(req.Key, "/")
	if s.prefix != "" {
		key = s.prefix + "/" + key
	}

	cl := int64(len(req.Data))
	input := s3.PutObjectInput{
		Bucket:        s.bucketPtr,
		Key:           &key,
		Body:          bytes.NewReader(req.Data),
		ContentLength: &cl,
	}
	if req.ContentType != "" {
		ct := req.ContentType
		input.ContentType = &ct
	}
	if len(req.Meta) > 0 {
		input.Metadata = req.Meta
	}

	if _, err := s.client.PutObject(ctx, &input); err != nil {
		return fmt.Errorf("put s3 object key=%q: %w", key, err)
	}
	return nil
}
