package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuongbtq/jobstatus/shared/sqs"
)

// Transport operation names used by MemoryTransport for call counting and
// fault injection
const (
	OpCreate  = "CreateQueue"
	OpSend    = "Send"
	OpReceive = "Receive"
	OpDelete  = "DeleteQueue"
)

type memoryQueue struct {
	attrs    sqs.QueueAttributes
	messages []sqs.Message
	// hidden holds the time each in-flight message becomes visible again
	hidden map[string]time.Time
}

func newMemoryQueue(attrs sqs.QueueAttributes) *memoryQueue {
	return &memoryQueue{attrs: attrs, hidden: make(map[string]time.Time)}
}

func (q *memoryQueue) inFlight(id string, now time.Time) bool {
	until, ok := q.hidden[id]
	return ok && now.Before(until)
}

// MemoryTransport is an in-process Transport for local development and tests.
// Like a FIFO queue it returns the oldest retained messages first. Received
// messages stay hidden for the visibility timeout of the receive, or of the
// queue when the receive passes zero; while any message of a FIFO queue is
// hidden, receives return nothing.
type MemoryTransport struct {
	mu     sync.Mutex
	now    func() time.Time
	queues map[string]*memoryQueue
	calls  map[string]int
	faults map[string]error
	seq    int

	// ReverseOrder returns received messages newest first, simulating
	// out-of-order delivery.
	ReverseOrder bool
}

var _ Transport = (*MemoryTransport)(nil)

// NewMemoryTransport creates an empty transport. A nil clock uses time.Now.
func NewMemoryTransport(now func() time.Time) *MemoryTransport {
	if now == nil {
		now = time.Now
	}
	return &MemoryTransport{
		now:    now,
		queues: make(map[string]*memoryQueue),
		calls:  make(map[string]int),
		faults: make(map[string]error),
	}
}

// Calls returns how many times op was invoked.
func (t *MemoryTransport) Calls(op string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[op]
}

// Fail makes every following op call return err. A nil err clears the fault.
func (t *MemoryTransport) Fail(op string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		delete(t.faults, op)
		return
	}
	t.faults[op] = err
}

// Exists reports whether the queue exists.
func (t *MemoryTransport) Exists(queue string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.queues[queue]
	return ok
}

// Attributes returns the attributes queue was created with.
func (t *MemoryTransport) Attributes(queue string) (sqs.QueueAttributes, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.queues[queue]
	if !ok {
		return sqs.QueueAttributes{}, false
	}
	return q.attrs, true
}

// Messages returns a copy of every message held by queue.
func (t *MemoryTransport) Messages(queue string) []sqs.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.queues[queue]
	if !ok {
		return nil
	}
	return append([]sqs.Message(nil), q.messages...)
}

// Inject appends msg to queue as is, keeping its SentAt. The queue is created
// when missing.
func (t *MemoryTransport) Inject(queue string, msg sqs.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.queues[queue]
	if !ok {
		q = newMemoryQueue(sqs.QueueAttributes{})
		t.queues[queue] = q
	}
	t.seq++
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("mem-%d", t.seq)
	}
	q.messages = append(q.messages, msg)
}

func (t *MemoryTransport) enter(op string) error {
	t.calls[op]++
	return t.faults[op]
}

func notFound(op, queue string) error {
	return &sqs.QueueError{Op: op, Queue: queue, Err: sqs.ErrQueueNotFound}
}

func (t *MemoryTransport) CreateQueue(_ context.Context, name string, attrs sqs.QueueAttributes) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.enter(OpCreate); err != nil {
		return "", err
	}
	if _, ok := t.queues[name]; !ok {
		t.queues[name] = newMemoryQueue(attrs)
	}
	return "memory://" + name, nil
}

func (t *MemoryTransport) Send(_ context.Context, queue string, msg sqs.OutgoingMessage) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.enter(OpSend); err != nil {
		return "", err
	}
	q, ok := t.queues[queue]
	if !ok {
		return "", notFound(OpSend, queue)
	}

	t.seq++
	id := fmt.Sprintf("mem-%d", t.seq)
	attrs := make(map[string]string, len(msg.Attributes))
	for k, v := range msg.Attributes {
		attrs[k] = v
	}
	q.messages = append(q.messages, sqs.Message{
		ID:         id,
		Body:       msg.Body,
		Attributes: attrs,
		SentAt:     t.now().UTC(),
	})
	return id, nil
}

func (t *MemoryTransport) Receive(_ context.Context, queue string, opts sqs.ReceiveOptions) ([]sqs.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.enter(OpReceive); err != nil {
		return nil, err
	}
	q, ok := t.queues[queue]
	if !ok {
		return nil, notFound(OpReceive, queue)
	}

	now := t.now()
	var out []sqs.Message
	for _, msg := range q.messages {
		if q.attrs.RetentionPeriod > 0 && now.Sub(msg.SentAt) > q.attrs.RetentionPeriod {
			continue
		}
		if q.inFlight(msg.ID, now) {
			// one message group per queue: in-flight messages lock it
			if q.attrs.FIFO {
				return nil, nil
			}
			continue
		}
		out = append(out, msg)
		if opts.MaxMessages > 0 && len(out) == opts.MaxMessages {
			break
		}
	}

	visibility := opts.VisibilityTimeout
	if visibility <= 0 {
		visibility = q.attrs.VisibilityTimeout
	}
	if visibility > 0 {
		for _, msg := range out {
			q.hidden[msg.ID] = now.Add(visibility)
		}
	}

	if t.ReverseOrder {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func (t *MemoryTransport) DeleteQueue(_ context.Context, queue string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.enter(OpDelete); err != nil {
		return err
	}
	if _, ok := t.queues[queue]; !ok {
		return notFound(OpDelete, queue)
	}
	delete(t.queues, queue)
	return nil
}
