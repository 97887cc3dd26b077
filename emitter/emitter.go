// Package emitter delivers handler outputs to their destination.
package emitter

import "context"

// Emitter durably delivers one handler output. A nil error means the output
// is confirmed delivered; only then may the originating message be deleted.
type Emitter[O any] interface {
	Emit(ctx context.Context, out O) error
}

// Func adapts a plain function to Emitter.
type Func[O any] func(ctx context.Context, out O) error

func (f Func[O]) Emit(ctx context.Context, out O) error { return f(ctx, out) }
