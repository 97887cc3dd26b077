package source

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog"
)

// MaxBatchSize is the SQS limit for ReceiveMessage and the *Batch APIs.
const MaxBatchSize = 10

// ErrBatchTooLarge is returned when a single request would exceed MaxBatchSize.
var ErrBatchTooLarge = errors.New("batch exceeds sqs limit of 10 entries")

const attrReceiveCount = "ApproximateReceiveCount"

type SourceSQSConfig struct {
	WaitTimeSeconds int32
	MaxMessages     int32
	VisibilityTO    int32
}

func (c SourceSQSConfig) Validate() error {
	if c.WaitTimeSeconds < 0 || c.WaitTimeSeconds > 20 {
		return errors.New("wait time seconds must be between 0 and 20")
	}
	if c.MaxMessages < 1 || c.MaxMessages > MaxBatchSize {
		return errors.New("max messages must be between 1 and 10")
	}
	if c.VisibilityTO < 0 {
		return errors.New("visibility timeout must be non-negative")
	}
	return nil
}

var DefaultSourceSQSConfig = SourceSQSConfig{
	WaitTimeSeconds: 20,
	MaxMessages:     10,
	VisibilityTO:    30,
}

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
	ChangeMessageVisibilityBatch(ctx context.Context, params *sqs.ChangeMessageVisibilityBatchInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityBatchOutput, error)
}

// SourceSQS is the SQS queue transport. It is safe for concurrent use; the
// underlying SDK client does its own synchronization.
type SourceSQS struct {
	cfg SourceSQSConfig

	client      sqsAPI
	queueURL    string
	queueURLPtr *string

	logger zerolog.Logger
}

var (
	_ Receiver           = (*SourceSQS)(nil)
	_ Acknowledger       = (*SourceSQS)(nil)
	_ VisibilityExtender = (*SourceSQS)(nil)
)

func NewWithConfig(client sqsAPI, queueURL string, cfg SourceSQSConfig, logger zerolog.Logger) (*SourceSQS, error) {
	if client == nil {
		return nil, errors.New("sqs client is required")
	}
	if queueURL == "" {
		return nil, errors.New("queue url is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sqs source config: %w", err)
	}

	s := &SourceSQS{
		cfg:      cfg,
		client:   client,
		queueURL: queueURL,
		logger:   logger.With().Str("component", "sqs_source").Str("queue_url", queueURL).Logger(),
	}
	s.queueURLPtr = &s.queueURL
	return s, nil
}

// Receive performs one long-poll ReceiveMessage call for up to max messages.
// A max outside 1..MaxMessages falls back to the configured MaxMessages.
func (s *SourceSQS) Receive(ctx context.Context, max int32) ([]Message, error) {
	if max < 1 || max > s.cfg.MaxMessages {
		max = s.cfg.MaxMessages
	}

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.WaitTimeSeconds+5)*time.Second)
	defer cancel()

	out, err := s.client.ReceiveMessage(reqCtx, &sqs.ReceiveMessageInput{
		QueueUrl:              s.queueURLPtr,
		MaxNumberOfMessages:   max,
		WaitTimeSeconds:       s.cfg.WaitTimeSeconds,
		VisibilityTimeout:     s.cfg.VisibilityTO,
		MessageAttributeNames: []string{"All"},
		AttributeNames:        []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameAll},
	})
	if err != nil {
		return nil, transportError("sqs receive", err)
	}

	msgs := make([]Message, 0, len(out.Messages))
	for i := range out.Messages {
		msgs = append(msgs, fromSQS(&out.Messages[i]))
	}
	s.logger.Debug().Int("count", len(msgs)).Msg("received messages")
	return msgs, nil
}

// DeleteBatch issues a single DeleteMessageBatch request for up to
// MaxBatchSize handles and reports the entries SQS rejected.
func (s *SourceSQS) DeleteBatch(ctx context.Context, handles []AckHandle) ([]AckFailure, error) {
	if len(handles) == 0 {
		return nil, nil
	}
	if len(handles) > MaxBatchSize {
		return nil, ErrBatchTooLarge
	}

	// Entry ids only need to be unique within the request; positional ids
	// let us map failures back without trusting message ids to match the
	// SQS id charset.
	var ids [MaxBatchSize]string
	entries := make([]sqstypes.DeleteMessageBatchRequestEntry, 0, len(handles))
	for i := range handles {
		ids[i] = strconv.Itoa(i)
		entries = append(entries, sqstypes.DeleteMessageBatchRequestEntry{
			Id:            &ids[i],
			ReceiptHandle: &handles[i].ReceiptHandle,
		})
	}

	out, err := s.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
		QueueUrl: s.queueURLPtr,
		Entries:  entries,
	})
	if err != nil {
		return nil, transportError("sqs delete batch", err)
	}

	if len(out.Failed) == 0 {
		return nil, nil
	}
	failures := make([]AckFailure, 0, len(out.Failed))
	for _, f := range out.Failed {
		idx, convErr := strconv.Atoi(aws.ToString(f.Id))
		if convErr != nil || idx < 0 || idx >= len(handles) {
			return nil, fmt.Errorf("sqs delete batch: unexpected failed entry id %q", aws.ToString(f.Id))
		}
		failures = append(failures, AckFailure{
			Handle:  handles[idx],
			Code:    aws.ToString(f.Code),
			Message: aws.ToString(f.Message),
		})
	}
	return failures, nil
}

// ExtendVisibilityBatch sets the visibility timeout of every handle, in
// chunks of MaxBatchSize.
func (s *SourceSQS) ExtendVisibilityBatch(ctx context.Context, handles []AckHandle, visibilityTimeoutSeconds int32) error {
	if len(handles) == 0 {
		return nil
	}

	in := sqs.ChangeMessageVisibilityBatchInput{
		QueueUrl: s.queueURLPtr,
	}

	entries := make([]sqstypes.ChangeMessageVisibilityBatchRequestEntry, 0, MaxBatchSize)

	for i := 0; i < len(handles); i += MaxBatchSize {
		end := i + MaxBatchSize
		if end > len(handles) {
			end = len(handles)
		}

		entries = entries[:0]
		var ids [MaxBatchSize]string

		for j := i; j < end; j++ {
			k := j - i
			ids[k] = strconv.Itoa(k)

			entries = append(entries, sqstypes.ChangeMessageVisibilityBatchRequestEntry{
				Id:                &ids[k],
				ReceiptHandle:     &handles[j].ReceiptHandle,
				VisibilityTimeout: visibilityTimeoutSeconds,
			})
		}

		in.Entries = entries
		out, err := s.client.ChangeMessageVisibilityBatch(ctx, &in)
		if err != nil {
			return transportError("sqs visibility batch", err)
		}
		if len(out.Failed) > 0 {
			f := out.Failed[0]
			return fmt.Errorf("sqs visibility batch failed id=%s code=%s message=%s",
				aws.ToString(f.Id), aws.ToString(f.Code), aws.ToString(f.Message))
		}
	}

	return nil
}

func fromSQS(m *sqstypes.Message) Message {
	msg := Message{
		ID:            aws.ToString(m.MessageId),
		ReceiptHandle: aws.ToString(m.ReceiptHandle),
		Body:          aws.ToString(m.Body),
		ReceiveCount:  1,
		Attributes:    m.Attributes,
	}
	if v, ok := m.Attributes[attrReceiveCount]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			msg.ReceiveCount = n
		}
	}
	return msg
}
