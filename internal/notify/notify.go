// Package notify shows desktop notifications for finished transfers.
// It uses github.com/gen2brain/beeep for cross-platform notification support.
package notify

import (
	"context"
	"fmt"
	"path"
	"sync"

	"github.com/gen2brain/beeep"

	"github.com/rescale/shellxfer/internal/events"
	"github.com/rescale/shellxfer/internal/logging"
)

// Config holds notification settings.
type Config struct {
	// Enabled determines if notifications are sent at all.
	Enabled bool

	// OnSuccess shows a notification for completed transfers that carry a
	// success message.
	OnSuccess bool

	// OnFailure shows a notification for transfers that failed for good.
	OnFailure bool
}

// DefaultConfig returns the default notification configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   false,
		OnSuccess: true,
		OnFailure: true,
	}
}

// sender delivers one notification. Replaced in tests.
type sender func(title, message string) error

// Notifier turns outcome events into desktop notifications.
type Notifier struct {
	logger *logging.Logger
	send   sender
	alert  sender

	mu  sync.RWMutex
	cfg Config
}

// NewNotifier creates a notifier. A nil cfg uses DefaultConfig.
func NewNotifier(cfg *Config, logger *logging.Logger) *Notifier {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Notifier{
		logger: logger,
		cfg:    *cfg,
		send: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
		alert: func(title, message string) error {
			return beeep.Alert(title, message, "")
		},
	}
}

// SetEnabled enables or disables notifications.
func (n *Notifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cfg.Enabled = enabled
}

// IsEnabled returns whether notifications are enabled.
func (n *Notifier) IsEnabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.cfg.Enabled
}

func (n *Notifier) config() Config {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.cfg
}

// Outcome shows the notification for one outcome event, if any applies.
// Retrying and no_active outcomes never notify.
func (n *Notifier) Outcome(ev *events.OutcomeEvent) {
	cfg := n.config()
	if !cfg.Enabled || ev == nil {
		return
	}

	switch ev.Kind {
	case events.OutcomeDownloadDone, events.OutcomeUploadDone, events.OutcomeUploadFileDone:
		// An empty message means the task asked for no success notice.
		if !cfg.OnSuccess || ev.Message == "" {
			return
		}
		title := "Upload Complete"
		switch ev.Kind {
		case events.OutcomeDownloadDone:
			title = "Download Complete"
		case events.OutcomeUploadFileDone:
			title = "File Replaced"
		}
		n.deliver(title, ev, false)

	case events.OutcomeFailed:
		if !cfg.OnFailure {
			return
		}
		n.deliver("Transfer Failed", ev, true)

	case events.OutcomeCanceled:
		if !cfg.OnFailure {
			return
		}
		n.deliver("Transfer Canceled", ev, false)
	}
}

func (n *Notifier) deliver(title string, ev *events.OutcomeEvent, alert bool) {
	message := truncate(ev.Message, 100)
	if ev.Target != "" {
		message = fmt.Sprintf("%s\n%s", message, shortenPath(ev.Target))
	}

	var err error
	if alert {
		// Alerts fall back to a plain notification.
		if err = n.alert(title, message); err != nil {
			err = n.send(title, message)
		}
	} else {
		err = n.send(title, message)
	}
	if err != nil {
		n.logger.Warn().Err(err).Str("task_id", ev.TaskID).Str("kind", string(ev.Kind)).Msg("Failed to send notification")
	}
}

// Follow consumes outcome events until sub is closed or ctx is done.
func (n *Notifier) Follow(ctx context.Context, sub <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if oe, isOutcome := ev.(*events.OutcomeEvent); isOutcome {
				n.Outcome(oe)
			}
		}
	}
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// shortenPath abbreviates a long remote path for display in notifications.
func shortenPath(p string) string {
	const maxLen = 60

	if len(p) <= maxLen {
		return p
	}

	// Keep the last two components
	short := path.Join("...", path.Base(path.Dir(p)), path.Base(p))
	if len(short) > maxLen {
		return "..." + p[len(p)-(maxLen-3):]
	}
	return short
}
