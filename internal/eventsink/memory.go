// Package eventsink implements domain.EventSink: an in-memory fan-out sink
// used by tests and the telemetry subscriber, and a Kafka-shaped durable
// sink for audit/replay.
package eventsink

import (
	"sync"

	"github.com/aiorchestrator/orchestrator/internal/domain"
)

// Event is one envelope an in-memory sink fans out to its subscribers.
type Event struct {
	Type    string
	Payload map[string]any
}

// Memory is an in-process fan-out EventSink: every Emit call is delivered
// to every currently-registered subscriber channel. Slow subscribers drop
// events rather than blocking the emitter (event delivery is always
// best-effort).
type Memory struct {
	mu   sync.RWMutex
	subs []chan Event
}

// NewMemory constructs an empty in-memory fan-out sink.
func NewMemory() *Memory {
	return &Memory{}
}

var _ domain.EventSink = (*Memory)(nil)

// Emit fans payload out to every subscriber, never blocking on a full
// channel.
func (m *Memory) Emit(_ domain.Context, eventType string, payload map[string]any) {
	m.mu.RLock()
	subs := m.subs
	m.mu.RUnlock()

	evt := Event{Type: eventType, Payload: payload}
	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribe registers a new channel that receives every future Emit call.
// The returned func unregisters it; callers should always defer it.
func (m *Memory) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()

	unsubscribe := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, c := range m.subs {
			if c == ch {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}
	return ch, unsubscribe
}
