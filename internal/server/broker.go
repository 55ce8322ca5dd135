package server

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ashita-ai/saitei/internal/model"
)

// StreamFilter narrows which events a subscriber receives. Zero fields
// match everything.
type StreamFilter struct {
	TaskID   string
	Type     string
	Severity string
	// Verbose includes debug-severity events, which are dropped otherwise.
	Verbose bool
}

func (f StreamFilter) matches(e model.ObserverEvent) bool {
	if !f.Verbose && e.Severity == "debug" {
		return false
	}
	if f.TaskID != "" && e.TaskID != f.TaskID {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	return true
}

type subscriber struct {
	ch     chan []byte
	filter StreamFilter
}

// Broker fans observer events out to SSE subscribers. Events arrive from
// the arbiter's event log and the health monitor; each is formatted as an
// SSE message once and delivered to every subscriber whose filter matches.
type Broker struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
}

// NewBroker creates an SSE broker.
func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		logger:      logger,
		subscribers: make(map[*subscriber]struct{}),
	}
}

// Publish broadcasts one event to all matching subscribers. Safe to call
// from any goroutine; never blocks.
func (b *Broker) Publish(e model.ObserverEvent) {
	payload, err := json.Marshal(e)
	if err != nil {
		b.logger.Warn("broker: marshal event", "error", err)
		return
	}
	msg := formatSSE(e.Type, payload)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if !sub.filter.matches(e) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			// Subscriber buffer full. Drop this event for them so one
			// slow client cannot block the rest.
		}
	}
}

// Subscribe returns a channel that receives SSE-formatted events matching
// the filter. The caller must call Unsubscribe when done.
func (b *Broker) Subscribe(filter StreamFilter) chan []byte {
	sub := &subscriber{ch: make(chan []byte, 64), filter: filter}
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	return sub.ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	for sub := range b.subscribers {
		if sub.ch == ch {
			delete(b.subscribers, sub)
			close(sub.ch)
			break
		}
	}
	b.mu.Unlock()
}

// SubscriberCount reports the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// formatSSE formats an event as a Server-Sent Events message.
func formatSSE(eventType string, data []byte) []byte {
	out := make([]byte, 0, len(eventType)+len(data)+16)
	out = append(out, "event: "...)
	out = append(out, eventType...)
	out = append(out, "\ndata: "...)
	out = append(out, data...)
	out = append(out, "\n\n"...)
	return out
}
