package chat

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// EventType represents the type of chat event.
type EventType string

const (
	EventSessionStart  EventType = "session_start"
	EventSessionEnd    EventType = "session_end"
	EventStepTimed     EventType = "step_timed"
	EventStepFailed    EventType = "step_failed"
	EventMemoriesAdded EventType = "memories_added"
	EventMemoriesWiped EventType = "memories_wiped"
)

// Event represents a chat event with associated data.
type Event struct {
	Type      EventType
	Timestamp time.Time
	UserID    string
	Data      map[string]any
}

// EventHandler is a function that handles events.
type EventHandler func(Event)

// EventBus fans loop events out to subscribers such as the perf reporter
// and the session recorder.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[EventType][]EventHandler
	allHandlers []EventHandler
}

func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]EventHandler),
	}
}

// Subscribe registers a handler for a specific event type.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// SubscribeAll registers a handler for all event types.
func (eb *EventBus) SubscribeAll(handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.allHandlers = append(eb.allHandlers, handler)
}

// Publish sends an event to all registered handlers. A nil bus drops it.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, handler := range eb.handlers[event.Type] {
		handler(event)
	}
	for _, handler := range eb.allHandlers {
		handler(event)
	}
}

// PublishWithData publishes an event with associated data.
func (eb *EventBus) PublishWithData(eventType EventType, userID string, data map[string]any) {
	eb.Publish(Event{
		Type:   eventType,
		UserID: userID,
		Data:   data,
	})
}

// PerfReporter prints one "[perf] <step>: <ms> ms" line per timed step.
func PerfReporter(out io.Writer) EventHandler {
	return func(e Event) {
		step, _ := e.Data["step"].(string)
		d, _ := e.Data["duration"].(time.Duration)
		fmt.Fprintf(out, "[perf] %s: %.2f ms\n", step, float64(d.Microseconds())/1000)
	}
}
