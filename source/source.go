package source

import (
	"context"
	"fmt"
)

// Message is one unit of work received from a queue.
//
// Pipelines borrow a Message for the duration of one run and treat it as
// read-only; Body is the raw notification exactly as delivered.
type Message struct {
	ID            string
	ReceiptHandle string
	Body          string
	// ReceiveCount is the delivery attempt counter (1 on first delivery).
	ReceiveCount int
	Attributes   map[string]string
}

// AckHandle returns the compact handle used to delete or extend the message.
func (m Message) AckHandle() AckHandle {
	return AckHandle{ID: m.ID, ReceiptHandle: m.ReceiptHandle}
}

// AckHandle identifies a received message for acknowledgement and lease extension.
type AckHandle struct {
	ID            string
	ReceiptHandle string
}

// AckFailure describes one entry the queue refused to delete.
type AckFailure struct {
	Handle  AckHandle
	Code    string
	Message string
}

func (f AckFailure) Error() string {
	return fmt.Sprintf("delete rejected id=%s code=%s message=%s", f.Handle.ID, f.Code, f.Message)
}

// Receiver polls a queue for messages.
//
// Receive returns at most max messages; an empty slice with a nil error means
// the queue had nothing to deliver within the poll window.
type Receiver interface {
	Receive(ctx context.Context, max int32) ([]Message, error)
}

// Acknowledger deletes messages in bounded batches.
//
// A nil error with a non-empty failure slice is a partial success: every
// handle not listed in failures was deleted. A non-nil error means the request
// as a whole did not go through and none of the handles are known deleted.
type Acknowledger interface {
	DeleteBatch(ctx context.Context, handles []AckHandle) (failures []AckFailure, err error)
}

// VisibilityExtender can extend the visibility timeout for a batch of messages.
//
// This is primarily useful for SQS-style leases when processing takes longer
// than the queue visibility timeout.
type VisibilityExtender interface {
	ExtendVisibilityBatch(ctx context.Context, handles []AckHandle, timeoutSeconds int32) error
}

// AckGroup accumulates handles that should be acknowledged together.
//
// A message ID is only ever added once; later duplicates are ignored so a
// single batch never offers the same message for deletion twice.
type AckGroup struct {
	handles []AckHandle
	seen    map[string]struct{}
}

// Add appends a handle to the group and reports whether it was new.
func (g *AckGroup) Add(h AckHandle) bool {
	if g.seen == nil {
		g.seen = make(map[string]struct{})
	}
	if _, dup := g.seen[h.ID]; dup {
		return false
	}
	g.seen[h.ID] = struct{}{}
	g.handles = append(g.handles, h)
	return true
}

// Len returns the number of distinct handles in the group.
func (g *AckGroup) Len() int { return len(g.handles) }

// Chunks splits the group into slices of at most size handles.
func (g *AckGroup) Chunks(size int) [][]AckHandle {
	if size < 1 {
		size = 1
	}
	out := make([][]AckHandle, 0, (len(g.handles)+size-1)/size)
	for i := 0; i < len(g.handles); i += size {
		end := i + size
		if end > len(g.handles) {
			end = len(g.handles)
		}
		out = append(out, g.handles[i:end])
	}
	return out
}
