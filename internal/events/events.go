// Package events provides the outbound event stream of the sync agent.
//
// Every cycle outcome (online/offline, records synced, queue depth) is
// emitted as a structured event. Events are written to the agent's zerolog
// logger and fanned out to any subscribed channels, so a display layer can
// observe the agent without the agent knowing it exists.
package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level classifies an event for display and log filtering.
type Level int

const (
	// Info is routine progress: a cycle starting, queue processing beginning.
	Info Level = iota
	// Success is a completed unit of work: a cycle finished, a record replayed.
	Success
	// Warn is a condition a human should eventually look at, such as records
	// abandoned after repeated store rejections.
	Warn
	// Error is a failed unit of work that the agent will recover from on its
	// own, or a durability failure it cannot.
	Error
)

// String returns a human-readable representation of the level.
func (l Level) String() string {
	switch l {
	case Info:
		return "info"
	case Success:
		return "success"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one entry in the agent's outbound stream.
type Event struct {
	Level   Level
	Message string
	At      time.Time
}

// Emitter writes events to a zerolog logger and to subscribed channels.
// Subscriber channels are never blocked on: if a subscriber falls behind,
// events are dropped for that subscriber rather than stalling the sync loop.
type Emitter struct {
	logger zerolog.Logger

	mu   sync.Mutex
	subs []chan Event
}

// NewEmitter creates an emitter writing to the given logger.
func NewEmitter(logger zerolog.Logger) *Emitter {
	return &Emitter{logger: logger}
}

// Subscribe returns a buffered channel receiving all future events.
// The channel is owned by the emitter and closed by Close.
func (e *Emitter) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	e.mu.Lock()
	e.subs = append(e.subs, ch)
	e.mu.Unlock()
	return ch
}

// Emit formats and publishes one event.
func (e *Emitter) Emit(level Level, format string, args ...interface{}) {
	ev := Event{
		Level:   level,
		Message: fmt.Sprintf(format, args...),
		At:      time.Now(),
	}

	e.log(ev)

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is behind; drop rather than block the sync loop.
		}
	}
}

// Infof emits an Info-level event.
func (e *Emitter) Infof(format string, args ...interface{}) {
	e.Emit(Info, format, args...)
}

// Successf emits a Success-level event.
func (e *Emitter) Successf(format string, args ...interface{}) {
	e.Emit(Success, format, args...)
}

// Warnf emits a Warn-level event.
func (e *Emitter) Warnf(format string, args ...interface{}) {
	e.Emit(Warn, format, args...)
}

// Errorf emits an Error-level event.
func (e *Emitter) Errorf(format string, args ...interface{}) {
	e.Emit(Error, format, args...)
}

// Close closes all subscriber channels. Emit must not be called after Close.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subs {
		close(ch)
	}
	e.subs = nil
}

func (e *Emitter) log(ev Event) {
	var entry *zerolog.Event
	switch ev.Level {
	case Warn:
		entry = e.logger.Warn()
	case Error:
		entry = e.logger.Error()
	default:
		entry = e.logger.Info()
	}
	entry.Str("event", ev.Level.String()).Msg(ev.Message)
}
