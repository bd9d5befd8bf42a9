package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rescale/shellxfer/internal/channel"
	"github.com/rescale/shellxfer/internal/diskspace"
)

// ErrorKind is the failure taxonomy of a transfer attempt.
type ErrorKind int

const (
	// ConnectFailure indicates the channel could not be established
	ConnectFailure ErrorKind = iota + 1
	// AuthFailure indicates the remote rejected the credentials
	AuthFailure
	// RemoteIOFailure indicates a command ran but its output was unusable
	RemoteIOFailure
	// LocalIOFailure indicates the local file or stream could not be read or written
	LocalIOFailure
	// NullSource indicates an upload task without a byte source
	NullSource
)

func (k ErrorKind) String() string {
	switch k {
	case ConnectFailure:
		return "connect"
	case AuthFailure:
		return "auth"
	case RemoteIOFailure:
		return "remote_io"
	case LocalIOFailure:
		return "local_io"
	case NullSource:
		return "null_source"
	default:
		return "unknown"
	}
}

// Reason is the user-facing cause class of a failure.
type Reason string

const (
	ReasonAuth       Reason = "auth"
	ReasonNetwork    Reason = "network"
	ReasonPermission Reason = "permission"
	ReasonNotFound   Reason = "not_found"
	ReasonStorage    Reason = "storage"
	ReasonUnknown    Reason = "unknown"
)

// Operations named in TransferError.Op
const (
	OpConnect    = "connect"
	OpReadChunk  = "read chunk"
	OpTruncate   = "truncate remote file"
	OpAppend     = "append chunk"
	OpOpenLocal  = "open local file"
	OpWriteLocal = "write local file"
	OpOpenSource = "open upload source"
	OpReadSource = "read upload source"
)

var (
	// ErrCanceled is the cancellation signal. It is an outcome, not a failure,
	// and never consumes a retry.
	ErrCanceled = errors.New("transfer canceled")

	// ErrNullSource marks an upload task constructed without a source.
	ErrNullSource = errors.New("upload source is missing")

	// ErrEngineStopped is returned by Enqueue after Stop.
	ErrEngineStopped = errors.New("transfer engine is stopped")
)

// TransferError is a classified failure of one transfer attempt.
type TransferError struct {
	Kind   ErrorKind
	Reason Reason
	Op     string
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, op string, err error) *TransferError {
	return &TransferError{Kind: kind, Reason: ClassifyReason(kind, err), Op: op, Err: err}
}

// fromChannel maps a channel error onto the taxonomy.
func fromChannel(op string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, channel.ErrAuth):
		return newError(AuthFailure, op, err)
	case errors.Is(err, channel.ErrConnect):
		return newError(ConnectFailure, op, err)
	default:
		return newError(RemoteIOFailure, op, err)
	}
}

// ClassifyReason determines the cause class from the kind and the message.
// Matching is on lowercase substrings, the same way shell tools report them.
func ClassifyReason(kind ErrorKind, err error) Reason {
	if kind == AuthFailure {
		return ReasonAuth
	}
	if err == nil {
		return ReasonUnknown
	}
	if diskspace.IsInsufficientSpaceError(err) {
		return ReasonStorage
	}

	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "operation not permitted") ||
		strings.Contains(msg, "read-only file system") ||
		strings.Contains(msg, "access denied") {
		return ReasonPermission
	}

	if strings.Contains(msg, "no such file") ||
		strings.Contains(msg, "not found") ||
		strings.Contains(msg, "does not exist") ||
		strings.Contains(msg, "not a directory") {
		return ReasonNotFound
	}

	if strings.Contains(msg, "no space left") ||
		strings.Contains(msg, "disk quota") ||
		strings.Contains(msg, "insufficient disk space") ||
		strings.Contains(msg, "file too large") {
		return ReasonStorage
	}

	if kind == ConnectFailure ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "network is unreachable") ||
		strings.Contains(msg, "no route to host") ||
		strings.Contains(msg, "eof") {
		return ReasonNetwork
	}

	if strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "authentication failed") {
		return ReasonAuth
	}

	return ReasonUnknown
}

// ReasonOf extracts the reason of err, or ReasonUnknown.
func ReasonOf(err error) Reason {
	var te *TransferError
	if errors.As(err, &te) {
		return te.Reason
	}
	return ClassifyReason(0, err)
}

// RetryPolicy decides which failures consume the retry budget.
type RetryPolicy string

const (
	// RetryAll retries every failure except cancellation and a null source.
	RetryAll RetryPolicy = "all"
	// RetryTransient retries only network and unknown failures.
	RetryTransient RetryPolicy = "transient"
)

// ParseRetryPolicy accepts "all", "transient" or "" (all).
func ParseRetryPolicy(s string) (RetryPolicy, error) {
	switch RetryPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", RetryAll:
		return RetryAll, nil
	case RetryTransient:
		return RetryTransient, nil
	}
	return "", fmt.Errorf("unknown retry policy %q (want all or transient)", s)
}

// Retryable reports whether err may be retried under the policy.
func (p RetryPolicy) Retryable(err error) bool {
	if err == nil || errors.Is(err, ErrCanceled) || errors.Is(err, ErrNullSource) {
		return false
	}
	if p != RetryTransient {
		return true
	}
	switch ReasonOf(err) {
	case ReasonNetwork, ReasonUnknown:
		return true
	default:
		return false
	}
}

// RetryDelay is the linear back-off before retry number attempt (1-based).
func RetryDelay(step time.Duration, attempt int) time.Duration {
	if attempt <= 0 || step <= 0 {
		return 0
	}
	return step * time.Duration(attempt)
}
