package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/baldanca/s3-event-pipeline/completion"
	"github.com/baldanca/s3-event-pipeline/decoder"
	"github.com/baldanca/s3-event-pipeline/encoder"
	"github.com/baldanca/s3-event-pipeline/handler"
	"github.com/baldanca/s3-event-pipeline/retriever"
	"github.com/baldanca/s3-event-pipeline/source"
)

type event struct {
	ID   string `json:"id"`
	Size int    `json:"-"`
}

type result struct {
	ID   string `json:"id"`
	Size int    `json:"size"`
}

// fakeQueue behaves like a tiny SQS queue: received messages become in
// flight until deleted or explicitly redelivered.
type fakeQueue struct {
	mu          sync.Mutex
	pending     []source.Message
	inflight    map[string]source.Message
	deleted     []string
	receiveErrs []error
	receives    int
	extends     int
	// blockWhenEmpty makes an empty Receive wait for ctx like a long poll.
	blockWhenEmpty bool
}

var (
	_ source.Receiver           = (*fakeQueue)(nil)
	_ source.Acknowledger       = (*fakeQueue)(nil)
	_ source.VisibilityExtender = (*fakeQueue)(nil)
)

func (q *fakeQueue) push(msgs ...source.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, msgs...)
}

func (q *fakeQueue) Receive(ctx context.Context, max int32) ([]source.Message, error) {
	q.mu.Lock()
	q.receives++
	if len(q.receiveErrs) > 0 {
		err := q.receiveErrs[0]
		q.receiveErrs = q.receiveErrs[1:]
		q.mu.Unlock()
		return nil, err
	}
	if len(q.pending) == 0 {
		q.mu.Unlock()
		if q.blockWhenEmpty {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return nil, nil
	}
	n := int(max)
	if n > len(q.pending) {
		n = len(q.pending)
	}
	out := append([]source.Message(nil), q.pending[:n]...)
	q.pending = q.pending[n:]
	if q.inflight == nil {
		q.inflight = make(map[string]source.Message)
	}
	for _, m := range out {
		q.inflight[m.ID] = m
	}
	q.mu.Unlock()
	return out, nil
}

func (q *fakeQueue) DeleteBatch(_ context.Context, hs []source.AckHandle) ([]source.AckFailure, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, h := range hs {
		q.deleted = append(q.deleted, h.ID)
		delete(q.inflight, h.ID)
	}
	return nil, nil
}

func (q *fakeQueue) ExtendVisibilityBatch(context.Context, []source.AckHandle, int32) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.extends++
	return nil
}

// redeliver returns every undeleted in-flight message to the queue, as a
// visibility timeout expiry would.
func (q *fakeQueue) redeliver() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id, m := range q.inflight {
		m.ReceiveCount++
		q.pending = append(q.pending, m)
		delete(q.inflight, id)
	}
}

func (q *fakeQueue) deletedIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.deleted...)
}

func (q *fakeQueue) receiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.receives
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	delay   map[string]time.Duration
	calls   atomic.Int32
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, delay: map[string]time.Duration{}}
}

func (f *fakeS3) put(bucket, key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[bucket+"/"+key] = data
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.calls.Add(1)
	name := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)

	f.mu.Lock()
	data, ok := f.objects[name]
	d := f.delay[name]
	f.mu.Unlock()

	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("not found")}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

type recordingEmitter struct {
	mu   sync.Mutex
	outs []result
	fail map[string]error
}

func (e *recordingEmitter) Emit(_ context.Context, r result) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.fail[r.ID]; err != nil {
		return err
	}
	e.outs = append(e.outs, r)
	return nil
}

func (e *recordingEmitter) ids() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ids []string
	for _, r := range e.outs {
		ids = append(ids, r.ID)
	}
	return ids
}

type recordingRecords struct {
	mu   sync.Mutex
	recs []completion.Record
}

func (r *recordingRecords) Put(_ context.Context, rec completion.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return nil
}

func (r *recordingRecords) entries(t *testing.T) []completion.Entry {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []completion.Entry
	for _, rec := range r.recs {
		sc := bufio.NewScanner(bytes.NewReader(rec.Data))
		for sc.Scan() {
			var e completion.Entry
			require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
			out = append(out, e)
		}
	}
	return out
}

// recordingCompleter keeps every batch it completes.
type recordingCompleter struct {
	inner completion.Completer[result]

	mu      sync.Mutex
	batches []completion.Batch[result]
}

func (c *recordingCompleter) Complete(ctx context.Context, b completion.Batch[result]) (completion.Report, error) {
	c.mu.Lock()
	c.batches = append(c.batches, b)
	c.mu.Unlock()
	return c.inner.Complete(ctx, b)
}

func (c *recordingCompleter) outcomes() map[string]completion.Outcome[result] {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[string]completion.Outcome[result]{}
	for _, b := range c.batches {
		for _, o := range b.Outcomes {
			out[o.Message.ID] = o
		}
	}
	return out
}

type harness struct {
	queue     *fakeQueue
	s3        *fakeS3
	emitter   *recordingEmitter
	records   *recordingRecords
	completer *recordingCompleter
	stages    Stages[event, result]
	cfg       Config
}

func echoHandler() handler.Handler[event, result] {
	return handler.Func[event, result](func(_ context.Context, ev event) (result, error) {
		return result{ID: ev.ID, Size: ev.Size}, nil
	})
}

func testConfig() Config {
	cfg := DefaultConfig
	cfg.Concurrency = 4
	cfg.EmptyPollBackoff = 5 * time.Millisecond
	cfg.ReconnectBaseDelay = time.Millisecond
	cfg.ReconnectMaxDelay = time.Millisecond
	return cfg
}

func newHarness(t *testing.T, h handler.Handler[event, result], mutRetriever func(*retriever.Config)) *harness {
	t.Helper()

	hs := &harness{
		queue:   &fakeQueue{},
		s3:      newFakeS3(),
		emitter: &recordingEmitter{fail: map[string]error{}},
		records: &recordingRecords{},
		cfg:     testConfig(),
	}

	dec := decoder.Func[event](func(b []byte) (event, error) {
		var ev event
		if err := json.Unmarshal(bytes.TrimSpace(b), &ev); err != nil {
			return event{}, err
		}
		ev.Size = len(b)
		return ev, nil
	})
	rcfg := retriever.DefaultConfig
	if mutRetriever != nil {
		mutRetriever(&rcfg)
	}
	r, err := retriever.NewS3Retriever[event](hs.s3, dec, rcfg, zerolog.Nop())
	require.NoError(t, err)

	ser, err := completion.NewEncoderSerializer[result](encoder.JSONLinesEncoder[completion.Entry]{})
	require.NoError(t, err)
	ccfg := completion.DefaultConfig
	ccfg.AckBaseDelay = time.Millisecond
	sqsh, err := completion.NewSQSHandler[result](hs.queue, ser, hs.records, ccfg, zerolog.Nop())
	require.NoError(t, err)
	hs.completer = &recordingCompleter{inner: sqsh}

	hs.stages = Stages[event, result]{Retriever: r, Handler: h, Emitter: hs.emitter}
	return hs
}

func (h *harness) consumer(t *testing.T) *Consumer[event, result] {
	t.Helper()
	c, err := NewConsumer[event, result](h.queue, h.stages, h.completer, h.cfg, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func (h *harness) processor(t *testing.T) *Processor[event, result] {
	t.Helper()
	p, err := NewProcessor[event, result](h.queue, h.stages, h.completer, h.cfg, zerolog.Nop())
	require.NoError(t, err)
	return p
}

// object stores a JSON document of exactly size bytes under bucket "b" and
// queues a notification for it.
func (h *harness) object(t *testing.T, id, key string, size int) {
	t.Helper()
	doc := fmt.Sprintf(`{"id":%q}`, id)
	require.LessOrEqual(t, len(doc), size)
	h.s3.put("b", key, []byte(doc+strings.Repeat(" ", size-len(doc))))
	h.queue.push(source.Message{
		ID:            id,
		ReceiptHandle: "rh-" + id,
		Body:          notification("b", key, int64(size)),
		ReceiveCount:  1,
	})
}

func notification(bucket, key string, size int64) string {
	return fmt.Sprintf(`{"Records":[{"eventName":"ObjectCreated:Put","awsRegion":"us-east-1",`+
		`"s3":{"bucket":{"name":%q},"object":{"key":%q,"size":%d}}}]}`, bucket, key, size)
}

var errBoom = errors.New("boom")

func sourceMessage(id, body string) source.Message {
	return source.Message{ID: id, ReceiptHandle: "rh-" + id, Body: body, ReceiveCount: 1}
}
