// Package events keeps a bounded in-memory log of registry and dispatch events.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/zkgate/internal/logging"
)

// EventType classifies an event.
type EventType string

const (
	EventProgramRegistered EventType = "program.registered"
	EventProgramReplaced   EventType = "program.replaced"
	EventProgramRemoved    EventType = "program.removed"
	EventOperationFailed   EventType = "operation.failed"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is one entry in the log.
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Severity  Severity          `json:"severity"`
	Timestamp time.Time         `json:"timestamp"`
	ProgramID string            `json:"program_id,omitempty"`
	Vendor    string            `json:"vendor,omitempty"`
	Operation string            `json:"operation,omitempty"`
	Message   string            `json:"message,omitempty"`
	Error     string            `json:"error,omitempty"`
	Duration  time.Duration     `json:"duration_ns,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	TraceID   string            `json:"trace_id,omitempty"`
}

// Handler is called for every logged event, outside the buffer lock.
type Handler func(Event)

// Sink accepts events.
type Sink interface {
	LogWithContext(ctx context.Context, event Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) LogWithContext(context.Context, Event) {}

// RingBuffer is a thread-safe circular buffer for events.
type RingBuffer struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers map[int64]Handler
	nextID   int64
}

// NewRingBuffer creates a buffer holding the last size events.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1000
	}
	return &RingBuffer{
		events:   make([]Event, size),
		size:     size,
		handlers: make(map[int64]Handler),
	}
}

// Log adds an event, filling in the id and timestamp when missing.
func (rb *RingBuffer) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}

	rb.mu.Lock()
	rb.events[rb.head] = event
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}
	handlers := make([]Handler, 0, len(rb.handlers))
	for _, h := range rb.handlers {
		handlers = append(handlers, h)
	}
	rb.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
}

// LogWithContext attaches the request trace id before logging.
func (rb *RingBuffer) LogWithContext(ctx context.Context, event Event) {
	if event.TraceID == "" {
		event.TraceID = logging.GetTraceID(ctx)
	}
	rb.Log(event)
}

// Subscribe registers h and returns a function removing it.
func (rb *RingBuffer) Subscribe(h Handler) func() {
	rb.mu.Lock()
	id := rb.nextID
	rb.nextID++
	rb.handlers[id] = h
	rb.mu.Unlock()

	return func() {
		rb.mu.Lock()
		delete(rb.handlers, id)
		rb.mu.Unlock()
	}
}

// Recent returns up to n events, newest first.
func (rb *RingBuffer) Recent(n int) []Event {
	return rb.filter(n, nil)
}

// RecentByProgram returns up to n events for one program, newest first.
func (rb *RingBuffer) RecentByProgram(programID string, n int) []Event {
	return rb.filter(n, func(e Event) bool { return e.ProgramID == programID })
}

// RecentByType returns up to n events of one type, newest first.
func (rb *RingBuffer) RecentByType(eventType EventType, n int) []Event {
	return rb.filter(n, func(e Event) bool { return e.Type == eventType })
}

func (rb *RingBuffer) filter(n int, keep func(Event) bool) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return []Event{}
	}
	result := make([]Event, 0, min(n, rb.count))
	for i := 0; i < rb.count && len(result) < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		if keep == nil || keep(rb.events[idx]) {
			result = append(result, rb.events[idx])
		}
	}
	return result
}

// Count returns the number of buffered events.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}
