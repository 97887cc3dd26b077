// Package retriever resolves queue notifications into typed events by fetching
// and decoding the object each notification references.
package retriever

import (
	"context"

	"github.com/baldanca/s3-event-pipeline/source"
)

// ObjectReference locates one stored object named by a notification.
type ObjectReference struct {
	Bucket string
	Key    string
	// Size is the object size the notification declared. It is a hint only.
	Size      int64
	EventName string
	Region    string
}

// Payload is a decoded event plus the object it came from.
type Payload[E any] struct {
	Event E
	Ref   ObjectReference
	// BytesRead is the exact number of object bytes handed to the decoder.
	BytesRead int64
}

// Retriever turns a queue message into a typed event.
//
// Errors are *failure.Error values of kind MalformedNotification,
// RetrievalTimeout, RetrievalIO or Decode. Retrievers never retry; a failed
// message is retried by leaving it unacknowledged.
type Retriever[E any] interface {
	Retrieve(ctx context.Context, msg source.Message) (Payload[E], error)
}

// Func adapts a plain function to Retriever.
type Func[E any] func(ctx context.Context, msg source.Message) (Payload[E], error)

func (f Func[E]) Retrieve(ctx context.Context, msg source.Message) (Payload[E], error) {
	return f(ctx, msg)
}
