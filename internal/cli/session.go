package cli

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/rescale/shellxfer/internal/channel"
	"github.com/rescale/shellxfer/internal/config"
	"github.com/rescale/shellxfer/internal/constants"
	"github.com/rescale/shellxfer/internal/diskspace"
	"github.com/rescale/shellxfer/internal/events"
	"github.com/rescale/shellxfer/internal/foreground"
	"github.com/rescale/shellxfer/internal/history"
	"github.com/rescale/shellxfer/internal/logging"
	"github.com/rescale/shellxfer/internal/notify"
	"github.com/rescale/shellxfer/internal/progress"
	"github.com/rescale/shellxfer/internal/transfer"
)

// engineOptions maps the config file onto engine options.
func engineOptions(cfg *config.Config, bus *events.EventBus, logger *logging.Logger, factory channel.Factory) (transfer.Options, error) {
	policy, err := transfer.ParseRetryPolicy(cfg.Transfer.RetryPolicy)
	if err != nil {
		return transfer.Options{}, err
	}

	// The engine reads zero as "use the default budget".
	retries := cfg.Transfer.Retries
	if retries == 0 {
		retries = -1
	}

	margin := cfg.Transfer.FreeSpaceMargin
	return transfer.Options{
		Factory:     factory,
		Bus:         bus,
		Logger:      logger,
		Foreground:  foreground.NewLockHolder(cfg.LockPath(), logger),
		Retries:     retries,
		RetryDelay:  cfg.RetryDelay(),
		RetryPolicy: policy,
		UIThrottle:  cfg.UIThrottle(),
		UIStep:      cfg.Transfer.UIStep,
		SpaceCheck: func(path string, n int64) error {
			return diskspace.CheckAvailableSpace(path, n, margin)
		},
	}, nil
}

func sshFactory(cfg *config.Config, logger *logging.Logger) channel.Factory {
	return channel.NewSSHFactory(channel.SSHOptions{
		Timeout:               cfg.SSHTimeout(),
		KnownHostsFile:        cfg.SSH.KnownHosts,
		InsecureIgnoreHostKey: cfg.SSH.InsecureIgnoreHostKey,
		ProxyURL:              cfg.SSH.Proxy,
		KeepAlive:             constants.SSHKeepAliveInterval,
		Logger:                logger,
	})
}

// outcomeTally counts how tasks ended.
type outcomeTally struct {
	mu        sync.Mutex
	succeeded int
	failed    int
	canceled  int
}

func (t *outcomeTally) follow(sub <-chan events.Event) {
	for ev := range sub {
		oe, ok := ev.(*events.OutcomeEvent)
		if !ok || oe.TaskID == "" {
			continue
		}
		t.mu.Lock()
		switch oe.Kind {
		case events.OutcomeDownloadDone, events.OutcomeUploadDone, events.OutcomeUploadFileDone:
			t.succeeded++
		case events.OutcomeFailed:
			t.failed++
		case events.OutcomeCanceled:
			t.canceled++
		}
		t.mu.Unlock()
	}
}

func (t *outcomeTally) counts() (succeeded, failed, canceled int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.succeeded, t.failed, t.canceled
}

// notifyConfig maps the [notify] section and the --notify flag.
func notifyConfig(cfg *config.Config) *notify.Config {
	return &notify.Config{
		Enabled:   cfg.Notify.Enabled || notifyFlag,
		OnSuccess: cfg.Notify.OnSuccess,
		OnFailure: cfg.Notify.OnFailure,
	}
}

// session is one engine plus the followers hanging off its event bus:
// history recording, progress rendering, desktop notifications and the
// outcome tally.
type session struct {
	cfg    *config.Config
	logger *logging.Logger
	bus    *events.EventBus
	engine *transfer.Engine
	store  *history.Store
	tally  *outcomeTally

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// newSession wires an engine for cfg. With render set, progress is drawn on
// stderr in the --progress mode.
func newSession(cfg *config.Config, logger *logging.Logger, factory channel.Factory, render bool) (*session, error) {
	bus := events.NewEventBus(constants.EventBusDefaultBuffer)
	return newSessionWithBus(cfg, logger, factory, bus, render)
}

func newSessionWithBus(cfg *config.Config, logger *logging.Logger, factory channel.Factory, bus *events.EventBus, render bool) (*session, error) {
	opts, err := engineOptions(cfg, bus, logger, factory)
	if err != nil {
		bus.Close()
		return nil, err
	}
	engine, err := transfer.NewEngine(opts)
	if err != nil {
		bus.Close()
		return nil, err
	}

	s := &session{cfg: cfg, logger: logger, bus: bus, engine: engine, tally: &outcomeTally{}}
	ctx := context.Background()

	if store, err := history.Open(cfg.HistoryPath()); err != nil {
		logger.Warn().Err(err).Str("path", cfg.HistoryPath()).Msg("Transfer history disabled")
	} else {
		s.store = store
		sub := bus.SubscribeReliable(events.EventOutcome)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			store.Follow(ctx, sub, logger)
		}()
	}

	tallySub := bus.SubscribeReliable(events.EventOutcome)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tally.follow(tallySub)
	}()

	if ncfg := notifyConfig(cfg); ncfg.Enabled {
		notifier := notify.NewNotifier(ncfg, logger)
		sub := bus.Subscribe(events.EventOutcome)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			notifier.Follow(ctx, sub)
		}()
	}

	if render {
		mode, err := progress.ParseMode(progressMode)
		if err != nil {
			s.close()
			return nil, err
		}
		renderer := progress.New(mode, os.Stderr)
		sub := bus.SubscribeAll()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			progress.Follow(ctx, sub, renderer)
		}()
	}

	return s, nil
}

// close stops the engine, lets every follower drain, and closes the store.
func (s *session) close() {
	s.closeOnce.Do(func() {
		s.engine.Stop()
		s.bus.Close()
		s.wg.Wait()
		if s.store != nil {
			if err := s.store.Close(); err != nil {
				s.logger.Debug().Err(err).Msg("Failed to close history store")
			}
		}
	})
}

// run enqueues specs, drains the queue, and reports failures. A canceled
// ctx stops the engine with the remaining tasks unstarted.
func (s *session) run(ctx context.Context, specs []transfer.TaskSpec) error {
	defer s.close()

	for _, spec := range specs {
		if _, err := s.engine.Enqueue(spec); err != nil {
			return fmt.Errorf("failed to enqueue %s: %w", spec.RemotePath, err)
		}
	}

	setInterruptTarget(s.engine)
	defer setInterruptTarget(nil)

	s.engine.Start()
	waitErr := s.engine.WaitIdle(ctx)
	pending := s.engine.Stats().Pending

	s.close()
	succeeded, failed, canceled := s.tally.counts()
	s.logger.Debug().Int("succeeded", succeeded).Int("failed", failed).Int("canceled", canceled).Msg("Transfers finished")

	switch {
	case waitErr != nil:
		return fmt.Errorf("stopped with %d transfer(s) not started", pending)
	case failed > 0:
		return fmt.Errorf("%d of %d transfer(s) failed", failed, len(specs))
	case canceled > 0 && succeeded == 0:
		return fmt.Errorf("transfer canceled")
	}
	return nil
}
