package events

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// TestEmit_Subscriber tests that subscribers receive emitted events.
func TestEmit_Subscriber(t *testing.T) {
	em := NewEmitter(zerolog.Nop())
	ch := em.Subscribe(4)

	em.Successf("synced %d records", 12)

	ev := <-ch
	if ev.Level != Success {
		t.Errorf("Level = %v, want Success", ev.Level)
	}
	if ev.Message != "synced 12 records" {
		t.Errorf("Message = %q", ev.Message)
	}
	if ev.At.IsZero() {
		t.Error("At is zero")
	}
}

// TestEmit_SlowSubscriberDoesNotBlock tests that a full subscriber channel
// never stalls the emitter.
func TestEmit_SlowSubscriberDoesNotBlock(t *testing.T) {
	em := NewEmitter(zerolog.Nop())
	em.Subscribe(1)

	// Second emit would deadlock here if the emitter blocked on a full channel.
	em.Infof("first")
	em.Infof("second")
}

// TestEmit_Logged tests that events reach the zerolog stream with their level.
func TestEmit_Logged(t *testing.T) {
	var buf bytes.Buffer
	em := NewEmitter(zerolog.New(&buf))

	em.Errorf("sync failed: %s", "timeout")

	out := buf.String()
	if !strings.Contains(out, `"level":"error"`) {
		t.Errorf("log output missing error level: %s", out)
	}
	if !strings.Contains(out, "sync failed: timeout") {
		t.Errorf("log output missing message: %s", out)
	}
	if !strings.Contains(out, `"event":"error"`) {
		t.Errorf("log output missing event classification: %s", out)
	}
}

// TestClose_ClosesSubscribers tests that Close closes subscriber channels.
func TestClose_ClosesSubscribers(t *testing.T) {
	em := NewEmitter(zerolog.Nop())
	ch := em.Subscribe(1)

	em.Close()

	if _, ok := <-ch; ok {
		t.Error("channel still open after Close")
	}
}

// TestLevelString tests level names used in log output.
func TestLevelString(t *testing.T) {
	for lvl, want := range map[Level]string{Info: "info", Success: "success", Warn: "warn", Error: "error"} {
		if got := lvl.String(); got != want {
			t.Errorf("Level(%d).String() = %q, want %q", lvl, got, want)
		}
	}
}
