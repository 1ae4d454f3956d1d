// Package progress defines the event stream a pipeline run emits toward
// its caller: phase milestones, per-item outcomes, token updates, and the
// terminal result. Consumers typically relay events over a server-push
// channel; emission never blocks the pipeline on a slow consumer.
package progress

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sheetpipe/sheetpipe/internal/model"
)

// EventType discriminates progress events.
type EventType string

const (
	EventPhaseStart       EventType = "phase_start"
	EventPhaseComplete    EventType = "phase_complete"
	EventProgress         EventType = "progress"
	EventTableStart       EventType = "table_start"
	EventTableComplete    EventType = "table_complete"
	EventTableError       EventType = "table_error"
	EventValidationResult EventType = "validation_result"
	EventTokenUpdate      EventType = "token_update"
	EventReviewReady      EventType = "review_ready"
	EventRunComplete      EventType = "run_complete"
	EventRunError         EventType = "run_error"
)

// Event is one progress notification. Only the fields relevant to Type
// are populated.
type Event struct {
	Type           EventType               `json:"type"`
	RunID          string                  `json:"run_id"`
	Phase          string                  `json:"phase,omitempty"`
	Table          string                  `json:"table,omitempty"`
	Message        string                  `json:"message,omitempty"`
	CompletedItems int                     `json:"completed_items,omitempty"`
	TotalItems     int                     `json:"total_items,omitempty"`
	Percent        float64                 `json:"percent,omitempty"`
	Usage          *model.TokenUsage       `json:"usage,omitempty"`
	Report         *model.ValidationReport `json:"report,omitempty"`
	Plan           *model.ExtractionPlan   `json:"plan,omitempty"`
	Error          string                  `json:"error,omitempty"`
	At             time.Time               `json:"at"`
}

// Sink receives progress events. Emit must be safe for concurrent use and
// must not block the caller indefinitely.
type Sink interface {
	Emit(ev Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ev Event)

// Emit implements Sink.
func (f SinkFunc) Emit(ev Event) { f(ev) }

// Discard is a Sink that drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// ChannelSink buffers events on a channel for a single consumer. When the
// buffer is full the oldest event is dropped so the pipeline never stalls
// behind a slow reader; drops are counted and logged once per run.
type ChannelSink struct {
	ch      chan Event
	dropped atomic.Int64
	closed  atomic.Bool
	mu      sync.Mutex
}

// NewChannelSink creates a ChannelSink with the given buffer size
// (minimum 1).
func NewChannelSink(buffer int) *ChannelSink {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan Event { return s.ch }

// Emit implements Sink. Drops the oldest buffered event when full.
func (s *ChannelSink) Emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return
	}
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}

// Close closes the event channel. Emit calls after Close are ignored.
func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.CompareAndSwap(false, true) {
		if n := s.dropped.Load(); n > 0 {
			zap.L().Warn("progress: events dropped by slow consumer", zap.Int64("dropped", n))
		}
		close(s.ch)
	}
}

// Dropped reports how many events were discarded due to a full buffer.
func (s *ChannelSink) Dropped() int64 { return s.dropped.Load() }
