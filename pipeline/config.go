package pipeline

import (
	"errors"
	"time"

	"github.com/baldanca/s3-event-pipeline/source"
)

type Config struct {
	// PollBatchSize is the maximum number of messages requested per poll (1..10).
	PollBatchSize int32
	// Concurrency bounds the number of message pipelines running at once. It
	// has no default and must be set.
	Concurrency int
	// EmptyPollBackoff is the pause after a poll that returned nothing.
	EmptyPollBackoff time.Duration

	// LeaseVisibilityTimeout enables visibility extension for in-flight
	// messages when > 0 and the receiver supports it.
	LeaseVisibilityTimeout int32
	LeaseRenewEvery        time.Duration

	// ReconnectAttempts bounds consecutive failed polls before Run gives up.
	ReconnectAttempts  int
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
}

var DefaultConfig = Config{
	PollBatchSize:      10,
	EmptyPollBackoff:   time.Second,
	LeaseRenewEvery:    20 * time.Second,
	ReconnectAttempts:  5,
	ReconnectBaseDelay: 200 * time.Millisecond,
	ReconnectMaxDelay:  5 * time.Second,
}

func (c Config) Validate() error {
	if c.PollBatchSize < 1 || c.PollBatchSize > source.MaxBatchSize {
		return errors.New("poll batch size must be between 1 and 10")
	}
	if c.Concurrency < 1 {
		return errors.New("concurrency must be set (>= 1)")
	}
	if c.EmptyPollBackoff < 0 {
		return errors.New("empty poll backoff must be non-negative")
	}
	if c.LeaseVisibilityTimeout < 0 {
		return errors.New("lease visibility timeout must be non-negative")
	}
	if c.LeaseVisibilityTimeout > 0 && c.LeaseRenewEvery <= 0 {
		return errors.New("lease renew interval must be > 0 when lease is enabled")
	}
	if c.ReconnectAttempts < 1 {
		return errors.New("reconnect attempts must be >= 1")
	}
	if c.ReconnectBaseDelay < 0 || c.ReconnectMaxDelay < 0 {
		return errors.New("reconnect delays must be non-negative")
	}
	if c.ReconnectAttempts > 1 && c.ReconnectBaseDelay == 0 {
		return errors.New("reconnect base delay must be > 0 when reconnect attempts > 1")
	}
	return nil
}
