// Package analytics provides a fire-and-forget event sink: sends never
// block, and a full buffer drops the event rather than stalling the
// Rotation Engine.
package analytics

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/agent-island/cauth/internal/cauth/logging"
)

// Event is one analytics record.
type Event struct {
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
	At         time.Time      `json:"at"`
}

// bufferSize bounds the channel; beyond this, Send drops events.
const bufferSize = 256

// Sink drains buffered events into an io.Writer in the background.
type Sink struct {
	enabled bool
	events  chan Event
	out     io.Writer
	wg      sync.WaitGroup
}

// New starts a Sink writing JSON-lines events to out. If enabled is false,
// Send is a complete no-op (the channel is never created), matching the
// config file's analyticsEnabled opt-out.
func New(enabled bool, out io.Writer) *Sink {
	if out == nil {
		out = io.Discard
	}
	s := &Sink{enabled: enabled, out: out}
	if !enabled {
		return s
	}

	s.events = make(chan Event, bufferSize)
	s.wg.Add(1)
	go s.drain()
	return s
}

// drain reads until Close closes the events channel, encoding everything
// already queued (closing a buffered channel does not discard its contents).
func (s *Sink) drain() {
	defer s.wg.Done()
	enc := json.NewEncoder(s.out)
	for ev := range s.events {
		_ = enc.Encode(ev)
	}
}

// Send enqueues an event without blocking. If the buffer is full, the event
// is dropped and logged at debug level.
func (s *Sink) Send(name string, properties map[string]any, at time.Time) {
	if !s.enabled {
		return
	}
	select {
	case s.events <- Event{Name: name, Properties: properties, At: at}:
	default:
		logging.Debug("analytics: buffer full, dropping event", "name", name)
	}
}

// Close stops the background drain goroutine after flushing queued events.
// Callers must not call Send after Close.
func (s *Sink) Close() {
	if !s.enabled {
		return
	}
	close(s.events)
	s.wg.Wait()
}
