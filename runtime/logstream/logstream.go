// Package logstream defines the telemetry events that workers publish while
// processing a file and the Publisher seam they publish through. Events
// travel over a pub/sub channel keyed by execution ID; consumers are
// WebSocket relays and the backend log table. The core knows the two event
// shapes and the channel identity, never the transport.
package logstream

import (
	"context"
	"sync"
)

// Kind discriminates the two event families on the wire.
type Kind string

const (
	// KindLog marks a regular per-step log line.
	KindLog Kind = "LOG"
	// KindUpdate marks a UI state-transition marker.
	KindUpdate Kind = "UPDATE"
)

// Stage tags a log line with the pipeline phase that produced it.
type Stage string

const (
	StageCompile Stage = "COMPILE"
	StageBuild   Stage = "BUILD"
	StageRun     Stage = "RUN"
)

// Level is the severity of a log event.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// UpdateState enumerates UI update markers.
type UpdateState string

const (
	StateInputUpdate  UpdateState = "INPUT_UPDATE"
	StateOutputUpdate UpdateState = "OUTPUT_UPDATE"
	StateRunning      UpdateState = "RUNNING"
	StateSuccess      UpdateState = "SUCCESS"
	StateError        UpdateState = "ERROR"
	StateNext         UpdateState = "NEXT"
)

type (
	// Event is either a LogEvent or an UpdateEvent.
	Event interface {
		Kind() Kind
	}

	// LogEvent is a regular structured log line.
	LogEvent struct {
		Stage          Stage  `json:"stage"`
		Message        string `json:"message"`
		Level          Level  `json:"level"`
		Step           int    `json:"step,omitempty"`
		Iteration      int    `json:"iteration,omitempty"`
		IterationTotal int    `json:"iteration_total,omitempty"`
		ExecutionID    string `json:"execution_id"`
		OrganizationID string `json:"organization_id,omitempty"`
	}

	// UpdateEvent is a UI state-transition marker.
	UpdateEvent struct {
		State     UpdateState `json:"state"`
		Message   string      `json:"message"`
		Component string      `json:"component,omitempty"`
	}

	// Publisher delivers events to the channel's transport binding.
	Publisher interface {
		Publish(ctx context.Context, channel string, ev Event) error
	}
)

// Kind implements Event.
func (LogEvent) Kind() Kind { return KindLog }

// Kind implements Event.
func (UpdateEvent) Kind() Kind { return KindUpdate }

// NoopPublisher discards all events.
type NoopPublisher struct{}

// NewNoopPublisher constructs a Publisher that discards everything.
func NewNoopPublisher() Publisher { return NoopPublisher{} }

// Publish implements Publisher.
func (NoopPublisher) Publish(context.Context, string, Event) error { return nil }

// Buffer is an in-memory Publisher that records published events per
// channel. It backs tests and single-process development runs.
type Buffer struct {
	mu     sync.Mutex
	events map[string][]Event
}

// NewBuffer constructs an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{events: make(map[string][]Event)}
}

// Publish implements Publisher.
func (b *Buffer) Publish(_ context.Context, channel string, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[channel] = append(b.events[channel], ev)
	return nil
}

// Events returns a copy of the events published to channel, in order.
func (b *Buffer) Events(channel string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events[channel]))
	copy(out, b.events[channel])
	return out
}
