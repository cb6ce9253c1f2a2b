// Package bus provides the in-process event bus that fans session activity
// out to the server, archive, relay and metrics.
package bus

import (
	"sync"
	"time"
)

// EventType names a session event.
type EventType string

const (
	// Session lifecycle
	EventSessionStarted EventType = "session.started"
	EventSessionEnded   EventType = "session.ended"

	// Engine callbacks, published after the gate has applied them
	EventEngineStatus EventType = "engine.status"
	EventEngineChat   EventType = "engine.chat"

	// Gate feedback
	EventGuidance          EventType = "gate.guidance"
	EventInterruptRejected EventType = "gate.interrupt_rejected"

	// Outcome of every engine command issued by the session
	EventCommand EventType = "session.command"
)

// AllEventTypes lists every event type the session publishes.
var AllEventTypes = []EventType{
	EventSessionStarted,
	EventSessionEnded,
	EventEngineStatus,
	EventEngineChat,
	EventGuidance,
	EventInterruptRejected,
	EventCommand,
}

// Event is one session event as seen by bus subscribers.
type Event struct {
	Type      EventType      `json:"type"`
	SessionID string         `json:"sessionId,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent stamps an event with the current time.
func NewEvent(t EventType, sessionID string, data map[string]any) Event {
	return Event{Type: t, SessionID: sessionID, Timestamp: time.Now().UTC(), Data: data}
}

// String returns the named value from Data, or "".
func (e Event) String(key string) string {
	s, _ := e.Data[key].(string)
	return s
}

// Handler receives published events.
type Handler func(Event)

// EventBus fans session events out to the archive, relay, metrics and viewers.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewEventBus returns a bus with no subscribers.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe registers handler for one event type.
func (b *EventBus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeMultiple registers handler for each of eventTypes.
func (b *EventBus) SubscribeMultiple(eventTypes []EventType, handler Handler) {
	for _, et := range eventTypes {
		b.Subscribe(et, handler)
	}
}

func (b *EventBus) snapshot(t EventType) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	handlers := make([]Handler, len(b.handlers[t]))
	copy(handlers, b.handlers[t])
	return handlers
}

// Publish sends an event to all subscribed handlers without waiting.
// Handlers run in their own goroutines, so ordering across events is lost.
func (b *EventBus) Publish(event Event) {
	for _, handler := range b.snapshot(event.Type) {
		go handler(event)
	}
}

// PublishSync sends an event and waits for all handlers to complete. Callers
// that publish from a single goroutine get per-handler ordering.
func (b *EventBus) PublishSync(event Event) {
	handlers := b.snapshot(event.Type)

	var wg sync.WaitGroup
	for _, handler := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			h(event)
		}(handler)
	}
	wg.Wait()
}

// Clear drops every subscriber.
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[EventType][]Handler)
}
