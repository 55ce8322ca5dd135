package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/saitei/internal/model"
)

func publishTestEvent(b *Broker, eventType, severity, taskID string) {
	b.Publish(model.ObserverEvent{
		ID:        "e1",
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Severity:  severity,
		TaskID:    taskID,
		Message:   "m",
	})
}

func recv(t *testing.T, ch chan []byte) []byte {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func assertEmpty(t *testing.T, ch chan []byte) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("unexpected event: %s", msg)
	default:
	}
}

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker(testLogger())

	a := b.Subscribe(StreamFilter{})
	c := b.Subscribe(StreamFilter{})
	defer b.Unsubscribe(a)
	defer b.Unsubscribe(c)

	assert.Equal(t, 2, b.SubscriberCount())

	publishTestEvent(b, "task-completed", "info", "t1")

	msgA := recv(t, a)
	msgC := recv(t, c)
	assert.Equal(t, msgA, msgC)
	assert.Contains(t, string(msgA), "event: task-completed\n")
	assert.Contains(t, string(msgA), "data: {")
}

func TestBrokerTaskFilter(t *testing.T) {
	b := NewBroker(testLogger())

	ch := b.Subscribe(StreamFilter{TaskID: "t1"})
	defer b.Unsubscribe(ch)

	publishTestEvent(b, "task-started", "info", "t2")
	assertEmpty(t, ch)

	publishTestEvent(b, "task-started", "info", "t1")
	recv(t, ch)
}

func TestBrokerSeverityAndTypeFilter(t *testing.T) {
	b := NewBroker(testLogger())

	ch := b.Subscribe(StreamFilter{Type: "observation", Severity: "info"})
	defer b.Unsubscribe(ch)

	publishTestEvent(b, "task-started", "info", "")
	publishTestEvent(b, "observation", "warn", "")
	assertEmpty(t, ch)

	publishTestEvent(b, "observation", "info", "")
	recv(t, ch)
}

func TestBrokerDropsDebugUnlessVerbose(t *testing.T) {
	b := NewBroker(testLogger())

	quiet := b.Subscribe(StreamFilter{})
	verbose := b.Subscribe(StreamFilter{Verbose: true})
	defer b.Unsubscribe(quiet)
	defer b.Unsubscribe(verbose)

	publishTestEvent(b, "metrics-collected", "debug", "")

	assertEmpty(t, quiet)
	recv(t, verbose)
}

func TestBrokerSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroker(testLogger())

	ch := b.Subscribe(StreamFilter{})
	defer b.Unsubscribe(ch)

	// Overflow the subscriber buffer; publishes must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			publishTestEvent(b, "task-started", "info", "t1")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	// The buffer holds at most its capacity; the rest were dropped.
	drained := 0
	for {
		select {
		case <-ch:
			drained++
			continue
		default:
		}
		break
	}
	assert.LessOrEqual(t, drained, 64)
	assert.Greater(t, drained, 0)
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker(testLogger())

	ch := b.Subscribe(StreamFilter{})
	b.Unsubscribe(ch)

	_, open := <-ch
	require.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())
}
