// Package failure defines the closed set of error kinds a message pipeline can
// produce and the error type that carries them.
package failure

import (
	"errors"
	"fmt"
)

// Kind identifies the pipeline stage (or infrastructure condition) that failed.
type Kind int

const (
	// KindUnknown is reported for errors that carry no Kind.
	KindUnknown Kind = iota
	// KindMalformedNotification: the queue message body is not a usable notification.
	KindMalformedNotification
	// KindRetrievalTimeout: the object fetch exceeded its deadline.
	KindRetrievalTimeout
	// KindRetrievalIO: the object could not be fetched or read completely.
	KindRetrievalIO
	// KindDecode: the decoder rejected the object bytes.
	KindDecode
	// KindHandler: the event handler failed.
	KindHandler
	// KindEmit: the emitter could not deliver the handler output.
	KindEmit
	// KindCompletionAck: the message could not be acknowledged (or its batch recorded).
	KindCompletionAck
	// KindTransportUnavailable: the queue transport is unreachable beyond per-message scope.
	KindTransportUnavailable
)

var kindNames = [...]string{
	KindUnknown:               "Unknown",
	KindMalformedNotification: "MalformedNotification",
	KindRetrievalTimeout:      "RetrievalTimeout",
	KindRetrievalIO:           "RetrievalIoError",
	KindDecode:                "DecodeError",
	KindHandler:               "HandlerError",
	KindEmit:                  "EmitError",
	KindCompletionAck:         "CompletionAckError",
	KindTransportUnavailable:  "TransportUnavailable",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// retryableByDefault reports whether a redelivery could plausibly succeed.
// Malformed notifications and undecodable payloads fail identically on every attempt.
func (k Kind) retryableByDefault() bool {
	switch k {
	case KindMalformedNotification, KindDecode:
		return false
	default:
		return true
	}
}

// Error is a categorized pipeline error wrapping an opaque cause.
type Error struct {
	Kind      Kind
	Retryable bool
	Cause     error
}

// Sentinels for errors.Is matching by kind.
var (
	ErrMalformedNotification = &Error{Kind: KindMalformedNotification}
	ErrRetrievalTimeout      = &Error{Kind: KindRetrievalTimeout}
	ErrRetrievalIO           = &Error{Kind: KindRetrievalIO}
	ErrDecode                = &Error{Kind: KindDecode}
	ErrHandler               = &Error{Kind: KindHandler}
	ErrEmit                  = &Error{Kind: KindEmit}
	ErrCompletionAck         = &Error{Kind: KindCompletionAck}
	ErrTransportUnavailable  = &Error{Kind: KindTransportUnavailable}
)

// New wraps cause with kind, using the kind's default retryability.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Retryable: kind.retryableByDefault(), Cause: cause}
}

// Newf is New with a formatted cause.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Errorf(format, args...))
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same Kind when target carries no cause, which
// lets callers write errors.Is(err, failure.ErrRetrievalTimeout).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Cause != nil {
		return e == t
	}
	return e.Kind == t.Kind
}

// As returns the outermost *Error in err's chain.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	if fe, ok := As(err); ok {
		return fe.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err should be retried by redelivery.
// Errors without a Kind are treated as retryable unless marked Permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var p *permanentError
	if errors.As(err, &p) {
		return false
	}
	if fe, ok := As(err); ok {
		return fe.Retryable
	}
	return true
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as non-retryable. Handlers use it for business data
// that will never process successfully.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}
