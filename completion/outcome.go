// Package completion records the outcome of every processed message and
// acknowledges the successful ones.
package completion

import (
	"time"

	"github.com/baldanca/s3-event-pipeline/failure"
	"github.com/baldanca/s3-event-pipeline/retriever"
	"github.com/baldanca/s3-event-pipeline/source"
)

// Outcome is the final result of one message pipeline. Err is nil for a
// success; otherwise Output is the zero value.
type Outcome[O any] struct {
	Message source.Message
	Output  O
	Err     *failure.Error
	// Ref is set once retrieval parsed the notification.
	Ref      retriever.ObjectReference
	Duration time.Duration
}

// Success builds a successful outcome.
func Success[O any](msg source.Message, out O, ref retriever.ObjectReference, d time.Duration) Outcome[O] {
	return Outcome[O]{Message: msg, Output: out, Ref: ref, Duration: d}
}

// Failed builds a failure outcome. Errors without a failure kind are recorded
// as KindUnknown; errors marked failure.Permanent are never retryable.
func Failed[O any](msg source.Message, err error, ref retriever.ObjectReference, d time.Duration) Outcome[O] {
	fe, ok := failure.As(err)
	if !ok {
		fe = failure.New(failure.KindUnknown, err)
	}
	if fe.Retryable && !failure.IsRetryable(err) {
		fe = &failure.Error{Kind: fe.Kind, Retryable: false, Cause: fe.Cause}
	}
	return Outcome[O]{Message: msg, Err: fe, Ref: ref, Duration: d}
}

func (o Outcome[O]) OK() bool { return o.Err == nil }

// Batch holds the outcomes of one poll cycle, one per admitted message.
type Batch[O any] struct {
	Outcomes []Outcome[O]
	PolledAt time.Time
}

// Partition splits the batch into successes and failures, keeping order.
func (b Batch[O]) Partition() (successes, failures []Outcome[O]) {
	for _, o := range b.Outcomes {
		if o.OK() {
			successes = append(successes, o)
		} else {
			failures = append(failures, o)
		}
	}
	return successes, failures
}
