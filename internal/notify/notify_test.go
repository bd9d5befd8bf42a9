package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rescale/shellxfer/internal/events"
)

type recorder struct {
	mu       sync.Mutex
	titles   []string
	messages []string
	alerts   int
}

func (r *recorder) send(title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	r.messages = append(r.messages, message)
	return nil
}

func newTestNotifier(cfg *Config) (*Notifier, *recorder) {
	rec := &recorder{}
	n := NewNotifier(cfg, nil)
	n.send = rec.send
	n.alert = func(title, message string) error {
		rec.mu.Lock()
		rec.alerts++
		rec.mu.Unlock()
		return rec.send(title, message)
	}
	return n, rec
}

func outcome(kind events.OutcomeKind, msg string) *events.OutcomeEvent {
	ev := events.NewOutcomeEvent(kind, msg)
	ev.TaskID = "task-1"
	ev.Target = "/srv/data/report.csv"
	return ev
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Enabled {
		t.Error("Expected notifications to be disabled by default")
	}
	if !cfg.OnSuccess {
		t.Error("Expected OnSuccess to be true by default")
	}
	if !cfg.OnFailure {
		t.Error("Expected OnFailure to be true by default")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"short", 10, "short"},
		{"exactly10c", 10, "exactly10c"},
		{"this is a long string", 10, "this is..."},
		{"", 10, ""},
		{"abc", 3, "abc"},
		{"abcd", 3, "..."},
	}

	for _, tt := range tests {
		result := truncate(tt.input, tt.maxLen)
		if result != tt.expected {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, result, tt.expected)
		}
	}
}

func TestShortenPath(t *testing.T) {
	if got := shortenPath("/short/path"); got != "/short/path" {
		t.Errorf("shortenPath should leave short paths alone, got %q", got)
	}

	long := "/a/very/long/path/that/exceeds/the/maximum/length/for/notification/display/file.txt"
	got := shortenPath(long)
	if len(got) >= len(long) {
		t.Errorf("shortenPath(%q) was not shortened: %q", long, got)
	}
	if !strings.HasSuffix(got, "file.txt") {
		t.Errorf("shortenPath should keep the file name, got %q", got)
	}
}

func TestNotifier_Disabled(t *testing.T) {
	n, rec := newTestNotifier(&Config{Enabled: false, OnSuccess: true, OnFailure: true})

	n.Outcome(outcome(events.OutcomeDownloadDone, "Downloaded report.csv (1.0 KiB)"))
	if len(rec.titles) != 0 {
		t.Fatalf("disabled notifier sent %d notifications", len(rec.titles))
	}

	n.SetEnabled(true)
	if !n.IsEnabled() {
		t.Fatal("SetEnabled(true) did not take effect")
	}
	n.Outcome(outcome(events.OutcomeDownloadDone, "Downloaded report.csv (1.0 KiB)"))
	if len(rec.titles) != 1 {
		t.Fatalf("expected 1 notification after enabling, got %d", len(rec.titles))
	}
}

func TestNotifier_Outcome(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		kind      events.OutcomeKind
		message   string
		wantTitle string
		wantAlert bool
	}{
		{"download done", Config{true, true, true}, events.OutcomeDownloadDone, "Downloaded a", "Download Complete", false},
		{"upload done", Config{true, true, true}, events.OutcomeUploadDone, "Uploaded a", "Upload Complete", false},
		{"upload file done", Config{true, true, true}, events.OutcomeUploadFileDone, "Uploaded a to /b", "File Replaced", false},
		{"silent success", Config{true, true, true}, events.OutcomeDownloadDone, "", "", false},
		{"success off", Config{true, false, true}, events.OutcomeUploadDone, "Uploaded a", "", false},
		{"failed", Config{true, true, true}, events.OutcomeFailed, "Transfer failed: boom", "Transfer Failed", true},
		{"failure off", Config{true, true, false}, events.OutcomeFailed, "Transfer failed: boom", "", false},
		{"canceled", Config{true, true, true}, events.OutcomeCanceled, "Transfer canceled: a", "Transfer Canceled", false},
		{"retrying", Config{true, true, true}, events.OutcomeRetrying, "Retrying a", "", false},
		{"no active", Config{true, true, true}, events.OutcomeNoActive, "No active transfer", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			n, rec := newTestNotifier(&cfg)
			n.Outcome(outcome(tt.kind, tt.message))

			if tt.wantTitle == "" {
				if len(rec.titles) != 0 {
					t.Fatalf("expected no notification, got %v", rec.titles)
				}
				return
			}
			if len(rec.titles) != 1 || rec.titles[0] != tt.wantTitle {
				t.Fatalf("titles = %v, want [%s]", rec.titles, tt.wantTitle)
			}
			if !strings.Contains(rec.messages[0], "/srv/data/report.csv") {
				t.Errorf("message %q does not name the remote path", rec.messages[0])
			}
			if (rec.alerts == 1) != tt.wantAlert {
				t.Errorf("alerts = %d, wantAlert %v", rec.alerts, tt.wantAlert)
			}
		})
	}
}

func TestNotifier_AlertFallsBack(t *testing.T) {
	n, rec := newTestNotifier(&Config{Enabled: true, OnFailure: true})
	n.alert = func(title, message string) error { return errors.New("no alert support") }

	n.Outcome(outcome(events.OutcomeFailed, "Transfer failed: boom"))
	if len(rec.titles) != 1 || rec.titles[0] != "Transfer Failed" {
		t.Fatalf("expected the fallback notification, got %v", rec.titles)
	}
}

func TestNotifier_Follow(t *testing.T) {
	n, rec := newTestNotifier(&Config{Enabled: true, OnSuccess: true, OnFailure: true})

	sub := make(chan events.Event, 4)
	sub <- events.NewProgressEvent()
	sub <- outcome(events.OutcomeUploadDone, "Uploaded a")
	sub <- outcome(events.OutcomeFailed, "Transfer failed: boom")
	close(sub)

	n.Follow(context.Background(), sub)

	if len(rec.titles) != 2 {
		t.Fatalf("expected 2 notifications, got %v", rec.titles)
	}
}
