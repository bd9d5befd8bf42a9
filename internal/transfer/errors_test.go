package transfer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rescale/shellxfer/internal/channel"
	"github.com/rescale/shellxfer/internal/diskspace"
)

func TestClassifyReason(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		msg  string
		want Reason
	}{
		{AuthFailure, "anything", ReasonAuth},
		{RemoteIOFailure, "dd: /x: Permission denied", ReasonPermission},
		{RemoteIOFailure, "dd: /x: No such file or directory", ReasonNotFound},
		{RemoteIOFailure, "write error: No space left on device", ReasonStorage},
		{ConnectFailure, "something odd", ReasonNetwork},
		{RemoteIOFailure, "read tcp: connection reset by peer", ReasonNetwork},
		{RemoteIOFailure, "i/o timeout", ReasonNetwork},
		{RemoteIOFailure, "ssh: unable to authenticate", ReasonAuth},
		{RemoteIOFailure, "base64: invalid input", ReasonUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyReason(tt.kind, errors.New(tt.msg)); got != tt.want {
			t.Errorf("ClassifyReason(%s, %q) = %s, want %s", tt.kind, tt.msg, got, tt.want)
		}
	}

	space := &diskspace.InsufficientSpaceError{Path: "/tmp/x", RequiredBytes: 10, AvailableBytes: 1}
	if got := ClassifyReason(LocalIOFailure, fmt.Errorf("wrap: %w", space)); got != ReasonStorage {
		t.Errorf("Insufficient space should classify as storage, got %s", got)
	}
	if got := ClassifyReason(RemoteIOFailure, nil); got != ReasonUnknown {
		t.Errorf("nil error should be unknown, got %s", got)
	}
}

func TestFromChannel(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{fmt.Errorf("%w: bad password", channel.ErrAuth), AuthFailure},
		{fmt.Errorf("%w: refused", channel.ErrConnect), ConnectFailure},
		{fmt.Errorf("%w: exit 1", channel.ErrRemoteIO), RemoteIOFailure},
		{errors.New("weird"), RemoteIOFailure},
	}
	for _, tt := range tests {
		var te *TransferError
		if err := fromChannel(OpReadChunk, tt.err); !errors.As(err, &te) || te.Kind != tt.want {
			t.Errorf("fromChannel(%v) = %v, want kind %s", tt.err, err, tt.want)
		}
	}
	if err := fromChannel(OpConnect, context.Canceled); !errors.Is(err, context.Canceled) {
		t.Errorf("context.Canceled should pass through, got %v", err)
	}
}

func TestRetryPolicy(t *testing.T) {
	network := newError(ConnectFailure, OpConnect, errors.New("connection refused"))
	auth := newError(AuthFailure, OpConnect, errors.New("denied"))
	notFound := newError(RemoteIOFailure, OpReadChunk, errors.New("No such file or directory"))

	if !RetryAll.Retryable(network) || !RetryAll.Retryable(auth) || !RetryAll.Retryable(notFound) {
		t.Error("RetryAll should retry every failure")
	}
	if RetryAll.Retryable(ErrCanceled) || RetryAll.Retryable(newError(NullSource, OpOpenSource, ErrNullSource)) {
		t.Error("Cancellation and null source are never retried")
	}
	if RetryAll.Retryable(nil) {
		t.Error("nil is not retryable")
	}
	if !RetryTransient.Retryable(network) {
		t.Error("RetryTransient should retry network failures")
	}
	if RetryTransient.Retryable(auth) || RetryTransient.Retryable(notFound) {
		t.Error("RetryTransient should not retry auth or not_found")
	}
}

func TestParseRetryPolicy(t *testing.T) {
	for in, want := range map[string]RetryPolicy{"": RetryAll, "all": RetryAll, " Transient ": RetryTransient} {
		got, err := ParseRetryPolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseRetryPolicy(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseRetryPolicy("sometimes"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

func TestRetryDelay(t *testing.T) {
	if got := RetryDelay(time.Second, 1); got != time.Second {
		t.Errorf("RetryDelay(1s, 1) = %v", got)
	}
	if got := RetryDelay(time.Second, 2); got != 2*time.Second {
		t.Errorf("RetryDelay(1s, 2) = %v", got)
	}
	if got := RetryDelay(0, 5); got != 0 {
		t.Errorf("Zero step should give zero delay, got %v", got)
	}
}

func TestTransferErrorUnwrap(t *testing.T) {
	base := errors.New("boom")
	err := newError(LocalIOFailure, OpWriteLocal, base)
	if !errors.Is(err, base) {
		t.Error("TransferError should unwrap to its cause")
	}
	if err.Error() != "write local file: boom" {
		t.Errorf("Error() = %q", err.Error())
	}
	if ReasonOf(fmt.Errorf("outer: %w", err)) != ReasonUnknown {
		t.Errorf("ReasonOf should find the wrapped TransferError")
	}
}
