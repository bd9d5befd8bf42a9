package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rescale/shellxfer/internal/events"
)

func TestSetOutputRoutesConsole(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("cli", nil)
	l.SetOutput(&buf)

	l.Info().Str("task_id", "t-1").Msg("chunk written")

	out := buf.String()
	if !strings.Contains(out, "chunk written") || !strings.Contains(out, "t-1") {
		t.Errorf("Expected message and field in console output, got %q", out)
	}
	if l.Output() != &buf {
		t.Error("Output() should return the writer passed to SetOutput")
	}
}

func TestFileLoggerWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shellxfer.log")
	l := NewFileLogger("cli", nil, FileConfig{Path: path})
	l.SetOutput(&bytes.Buffer{})

	l.Warn().Msg("retrying transfer")
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Expected log file to exist: %v", err)
	}
	if !strings.Contains(string(data), `"message":"retrying transfer"`) {
		t.Errorf("Expected JSON log line, got %q", data)
	}
}

func TestServerModePublishesWarnings(t *testing.T) {
	bus := events.NewEventBus(10)
	defer bus.Close()
	ch := bus.Subscribe(events.EventLog)

	l := NewLogger("server", bus)
	l.SetOutput(&bytes.Buffer{})
	l.Info().Msg("not forwarded")
	l.Warn().Msg("disk nearly full")

	select {
	case ev := <-ch:
		le := ev.(*events.LogEvent)
		if le.Level != events.WarnLevel || le.Message != "disk nearly full" {
			t.Errorf("Unexpected log event: %+v", le)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for forwarded warning")
	}

	select {
	case ev := <-ch:
		t.Errorf("Info messages should not be forwarded, got %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestWithTask(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("cli", nil)
	l.SetOutput(&buf)

	l.WithTask("abc").Info().Msg("hello")
	if !strings.Contains(buf.String(), "abc") {
		t.Errorf("Expected task id in output, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"debug":   zerolog.DebugLevel,
		"warn":    zerolog.WarnLevel,
		"garbage": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.Info().Msg("discarded")
	l.WithTask("x").Errorf("also %s", "discarded")
	if err := l.Close(); err != nil {
		t.Errorf("Close on nop logger: %v", err)
	}
}
