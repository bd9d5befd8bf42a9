package transfer

import (
	"errors"
	"io"
	"testing"

	"github.com/rescale/shellxfer/internal/codec"
)

func TestNewTaskValidation(t *testing.T) {
	tests := []struct {
		name    string
		spec    TaskSpec
		wantErr error
	}{
		{"empty remote path", TaskSpec{Kind: KindDownload, LocalPath: "/tmp/x"}, codec.ErrEmptyPath},
		{"newline in path", TaskSpec{Kind: KindDownload, RemotePath: "/a\nb", LocalPath: "/tmp/x"}, codec.ErrUnquotablePath},
		{"stream upload without stream", TaskSpec{Kind: KindUploadFromStream, RemotePath: "/a"}, ErrNullSource},
		{"file upload without path", TaskSpec{Kind: KindUploadFromFile, RemotePath: "/a"}, ErrNullSource},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTask(tt.spec, 2)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewTask() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := NewTask(TaskSpec{Kind: KindDownload, RemotePath: "/a"}, 2); err == nil {
		t.Error("Download without a local destination should be rejected")
	}
	if _, err := NewTask(TaskSpec{Kind: "sideways", RemotePath: "/a"}, 2); err == nil {
		t.Error("Unknown kind should be rejected")
	}
}

func TestNewTaskDefaults(t *testing.T) {
	task, err := NewTask(TaskSpec{Kind: KindDownload, RemotePath: "/var/log/app.log", LocalPath: "/tmp/app.log"}, -3)
	if err != nil {
		t.Fatal(err)
	}
	if task.DisplayName != "app.log" {
		t.Errorf("DisplayName = %q, want app.log", task.DisplayName)
	}
	if task.RetriesRemaining() != 0 {
		t.Errorf("Negative budget should clamp to 0, got %d", task.RetriesRemaining())
	}
	if task.ID == "" {
		t.Error("Expected a generated ID")
	}
	info := task.Info()
	if info.State != TaskQueued || info.Attempts != 0 {
		t.Errorf("Unexpected initial info: %+v", info)
	}
}

func TestRequestCancelIdempotent(t *testing.T) {
	task, err := NewTask(TaskSpec{Kind: KindDownload, RemotePath: "/a", LocalPath: "/tmp/a"}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if task.checkpoint() != nil {
		t.Fatal("Fresh task should pass its checkpoint")
	}
	task.RequestCancel()
	task.RequestCancel()
	if !task.CancelRequested() {
		t.Error("CancelRequested should be true")
	}
	if !errors.Is(task.checkpoint(), ErrCanceled) {
		t.Error("checkpoint should return ErrCanceled")
	}
	select {
	case <-task.cancelCh:
	default:
		t.Error("cancelCh should be closed")
	}
}

func TestConsumeRetry(t *testing.T) {
	task, _ := NewTask(TaskSpec{Kind: KindDownload, RemotePath: "/a", LocalPath: "/tmp/a"}, 2)
	for want := 1; want >= 0; want-- {
		left, ok := task.consumeRetry()
		if !ok || left != want {
			t.Fatalf("consumeRetry() = %d, %v; want %d, true", left, ok, want)
		}
	}
	if _, ok := task.consumeRetry(); ok {
		t.Error("Budget should be exhausted")
	}
}

func nilOpener() (io.ReadCloser, error) { return nil, nil }

func TestOpenSourceNilReader(t *testing.T) {
	task, err := NewTask(TaskSpec{Kind: KindUploadFromStream, RemotePath: "/a", Stream: nilOpener}, 2)
	if err != nil {
		t.Fatal(err)
	}
	_, err = task.openSource()
	var te *TransferError
	if !errors.As(err, &te) || te.Kind != LocalIOFailure {
		t.Fatalf("Expected LocalIOFailure, got %v", err)
	}
	if !RetryAll.Retryable(err) {
		t.Error("A stream that fails to open at run time is retryable")
	}
}

func TestKindAndStateHelpers(t *testing.T) {
	if KindDownload.IsUpload() || !KindUploadFromFile.IsUpload() || !KindUploadFromStream.IsUpload() {
		t.Error("IsUpload mismatch")
	}
	for _, s := range []TaskState{TaskSucceeded, TaskCanceled, TaskFailed} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if TaskQueued.IsTerminal() || TaskActive.IsTerminal() {
		t.Error("queued and active are not terminal")
	}
}
