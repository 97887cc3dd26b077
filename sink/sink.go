package sink

import "context"

// WriteRequest is one object to store durably.
type WriteRequest struct {
	Key         string
	Data        []byte
	ContentType string
	// Meta is stored as user metadata when the backend supports it.
	Meta map[string]string
}

// Sinkr stores whole objects. Write must only return nil once the object is
// durably stored.
type Sinkr interface {
	Write(ctx context.Context, req WriteRequest) error
}
