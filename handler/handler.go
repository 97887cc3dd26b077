package handler

import "context"

// Handler runs business processing on a decoded event.
//
// A returned error is retried through redelivery unless it is wrapped with
// failure.Permanent, in which case the failure is recorded as terminal and
// the message is left for the queue's dead-letter routing.
type Handler[E, O any] interface {
	Handle(ctx context.Context, event E) (O, error)
}

// Func adapts a plain function to Handler.
type Func[E, O any] func(ctx context.Context, event E) (O, error)

func (f Func[E, O]) Handle(ctx context.Context, event E) (O, error) { return f(ctx, event) }
