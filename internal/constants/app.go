package constants

import (
	"time"
)

// Chunk protocol sizes
const (
	// TransferBlockSize - size of one remote read for downloads (64 KB)
	// Every download chunk is a single `dd` block of this size, so the block
	// index for a chunk is position / TransferBlockSize.
	TransferBlockSize = 64 * 1024

	// UploadBufferSize - bytes read from the source per append command (16 KB)
	// Base64 grows this to ~22 KB of command text, which stays well under
	// typical ARG_MAX limits for `echo`.
	UploadBufferSize = 16 * 1024
)

// Retry configuration
const (
	// DefaultRetries - retry budget for a task after its first failure
	DefaultRetries = 2

	// RetryDelayStep - delay added per consumed retry (1s, 2s, ...)
	RetryDelayStep = 1 * time.Second

	// MaxRetries - upper bound accepted from configuration
	MaxRetries = 10
)

// Progress reporting
const (
	// ProgressScaleMax - maximum value of the progress scale (per mille)
	ProgressScaleMax = 1000

	// ProgressUIThrottle - minimum interval between in-loop progress events (200ms)
	ProgressUIThrottle = 200 * time.Millisecond

	// ProgressUIStep - minimum progress advance that bypasses the throttle (0.5%)
	ProgressUIStep = 5

	// ETAUnknown - rendered instead of an ETA when none can be computed
	ETAUnknown = "--:--"
)

// Disk space safety margin
const (
	// DiskSpaceSafetyMargin - multiplier applied to a download's declared size
	// before comparing it against the free space of the destination filesystem
	DiskSpaceSafetyMargin = 1.05
)

// Event System
const (
	// EventBusDefaultBuffer - default buffer size for event channels (1000)
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios (5000)
	EventBusMaxBuffer = 5000
)

// SSH channel
const (
	// DefaultSSHPort - port used when a destination does not name one
	DefaultSSHPort = 22

	// SSHDialTimeout - timeout for TCP connect plus SSH handshake (15 seconds)
	SSHDialTimeout = 15 * time.Second

	// SSHKeepAliveInterval - interval for keepalive@openssh.com requests (30 seconds)
	SSHKeepAliveInterval = 30 * time.Second
)

// Control API
const (
	// DefaultListenAddress - loopback address of the control API
	DefaultListenAddress = "127.0.0.1:7317"

	// APIRequestTimeout - timeout for a single control API call (10 seconds)
	APIRequestTimeout = 10 * time.Second

	// APIRetryMax - retries for control API calls
	APIRetryMax = 3

	// APIShutdownTimeout - grace period for in-flight control API requests
	APIShutdownTimeout = 5 * time.Second

	// SSEHeartbeatInterval - comment line sent to idle event streams (15 seconds)
	SSEHeartbeatInterval = 15 * time.Second
)

// History
const (
	// HistoryDefaultLimit - rows returned by `history` without --limit
	HistoryDefaultLimit = 50
)
