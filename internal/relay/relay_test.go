package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/jobstatus/shared/mailer"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// acknowledger records the fate of every delivery tag
type acknowledger struct {
	mu      sync.Mutex
	acked   []uint64
	nacked  map[uint64]bool
	settled chan struct{}
}

func newAcknowledger() *acknowledger {
	return &acknowledger{nacked: make(map[uint64]bool), settled: make(chan struct{}, 64)}
}

func (a *acknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	a.acked = append(a.acked, tag)
	a.mu.Unlock()
	a.settled <- struct{}{}
	return nil
}

func (a *acknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	a.nacked[tag] = requeue
	a.mu.Unlock()
	a.settled <- struct{}{}
	return nil
}

func (a *acknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *acknowledger) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-a.settled:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of %d deliveries settled", i, n)
		}
	}
}

type fakeSource struct {
	deliveries chan amqp.Delivery
	prefetch   int
}

func (f *fakeSource) SetPrefetch(count int) error {
	f.prefetch = count
	return nil
}

func (f *fakeSource) Consume(string) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []mailer.Message
	errs map[string]error
}

func (f *fakeSender) Send(_ context.Context, msg mailer.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[msg.To]; err != nil {
		return err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func envelope(t *testing.T, to string) []byte {
	t.Helper()
	body, err := json.Marshal(mailer.Message{To: to, Subject: "Job liver", Body: "Complete!", JobName: "liver"})
	require.NoError(t, err)
	return body
}

func TestRelay_Deliveries(t *testing.T) {
	ack := newAcknowledger()
	source := &fakeSource{deliveries: make(chan amqp.Delivery, 8)}
	sender := &fakeSender{errs: map[string]error{
		"down@example.org":     errors.New("connection reset"),
		"rejected@example.org": &textproto.Error{Code: 550, Msg: "no such user"},
	}}

	r := New(&Config{Source: source, Sender: sender, Concurrency: 2})

	source.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: envelope(t, "alice@example.org")}
	source.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte("{broken")}
	source.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 3, Body: envelope(t, "down@example.org")}
	source.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 4, Body: envelope(t, "down@example.org"), Redelivered: true}
	source.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 5, Body: envelope(t, "rejected@example.org")}
	close(source.deliveries)

	require.NoError(t, r.Start(context.Background()))
	ack.wait(t, 5)

	assert.Equal(t, 2, source.prefetch)
	assert.Equal(t, []uint64{1}, ack.acked)
	assert.Equal(t, map[uint64]bool{
		2: false, // malformed
		3: true,  // transient, first attempt
		4: false, // transient, already redelivered
		5: false, // permanent rejection
	}, ack.nacked)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "alice@example.org", sender.sent[0].To)
}

func TestRelay_Stop(t *testing.T) {
	source := &fakeSource{deliveries: make(chan amqp.Delivery)}
	r := New(&Config{Source: source, Sender: &fakeSender{}})

	done := make(chan error, 1)
	go func() { done <- r.Start(context.Background()) }()

	r.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestShouldRequeue(t *testing.T) {
	retryable := NewRetryableError(errors.New("timeout"))

	assert.True(t, shouldRequeue(retryable, false))
	assert.False(t, shouldRequeue(retryable, true))
	assert.False(t, shouldRequeue(errors.New("permanent"), false))
}
