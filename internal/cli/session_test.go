package cli

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rescale/shellxfer/internal/channel"
	"github.com/rescale/shellxfer/internal/config"
	"github.com/rescale/shellxfer/internal/constants"
	"github.com/rescale/shellxfer/internal/events"
	"github.com/rescale/shellxfer/internal/history"
	"github.com/rescale/shellxfer/internal/logging"
	"github.com/rescale/shellxfer/internal/transfer"
)

var (
	ddCommand     = regexp.MustCompile(`^dd if='(.*)' bs=\d+ skip=(\d+) count=1 status=none \| base64 -w 0$`)
	appendCommand = regexp.MustCompile(`^echo "([A-Za-z0-9+/=]*)" \| base64 -d >> '(.*)'$`)
)

// memoryHost serves files that fit in a single block.
type memoryHost struct {
	mu         sync.Mutex
	files      map[string][]byte
	connectErr error
}

func (h *memoryHost) factory() channel.Factory {
	return func(dest channel.Destination) channel.Channel {
		return &memoryChannel{host: h}
	}
}

type memoryChannel struct {
	host *memoryHost
}

func (c *memoryChannel) Connect(ctx context.Context) error {
	if c.host.connectErr != nil {
		return c.host.connectErr
	}
	return nil
}

func (c *memoryChannel) Exec(ctx context.Context, command string) (string, error) {
	h := c.host
	h.mu.Lock()
	defer h.mu.Unlock()

	if m := ddCommand.FindStringSubmatch(command); m != nil {
		if m[2] != "0" {
			return "", nil
		}
		return base64.StdEncoding.EncodeToString(h.files[m[1]]), nil
	}
	if strings.HasPrefix(command, "> '") {
		h.files[strings.TrimSuffix(strings.TrimPrefix(command, "> '"), "'")] = nil
		return "", nil
	}
	if m := appendCommand.FindStringSubmatch(command); m != nil {
		data, err := base64.StdEncoding.DecodeString(m[1])
		if err != nil {
			return "", err
		}
		h.files[m[2]] = append(h.files[m[2]], data...)
		return "", nil
	}
	return "", errors.New("unexpected command: " + command)
}

func (c *memoryChannel) Close() error { return nil }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Storage.HistoryDB = filepath.Join(dir, "history.db")
	cfg.Storage.LockFile = filepath.Join(dir, "active.lock")
	cfg.Transfer.RetryDelayMs = 1
	return cfg
}

func testDest() channel.Destination {
	return channel.Destination{Host: "build01", Port: constants.DefaultSSHPort, Username: "ci", AuthKind: channel.AuthPassword}
}

func TestSessionRunDownloadAndUpload(t *testing.T) {
	cfg := testConfig(t)
	host := &memoryHost{files: map[string][]byte{"/var/log/app.log": []byte("hello from the remote side\n")}}

	local := filepath.Join(t.TempDir(), "app.log")
	upload := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(upload, []byte("local notes"), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := newSession(cfg, logging.NewNopLogger(), host.factory(), false)
	if err != nil {
		t.Fatalf("newSession failed: %v", err)
	}

	specs := []transfer.TaskSpec{
		{Kind: transfer.KindDownload, RemotePath: "/var/log/app.log", LocalPath: local, ShowSuccessNotice: true, Destination: testDest()},
		{Kind: transfer.KindUploadFromFile, RemotePath: "/tmp/notes.txt", LocalPath: upload, ShowSuccessNotice: true, Destination: testDest()},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.run(ctx, specs); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	got, err := os.ReadFile(local)
	if err != nil {
		t.Fatalf("Failed to read download: %v", err)
	}
	if string(got) != "hello from the remote side\n" {
		t.Errorf("Unexpected download content %q", got)
	}
	if string(host.files["/tmp/notes.txt"]) != "local notes" {
		t.Errorf("Unexpected upload content %q", host.files["/tmp/notes.txt"])
	}

	succeeded, failed, canceled := s.tally.counts()
	if succeeded != 2 || failed != 0 || canceled != 0 {
		t.Errorf("Expected 2/0/0, got %d/%d/%d", succeeded, failed, canceled)
	}

	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		t.Fatalf("history.Open failed: %v", err)
	}
	defer store.Close()
	n, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 history records, got %d", n)
	}
}

func TestSessionFollowersSeeEveryOutcome(t *testing.T) {
	cfg := testConfig(t)
	host := &memoryHost{files: map[string][]byte{}}
	dir := t.TempDir()

	const n = 25
	var specs []transfer.TaskSpec
	for i := 0; i < n; i++ {
		remote := fmt.Sprintf("/data/part-%02d", i)
		host.files[remote] = []byte(remote)
		specs = append(specs, transfer.TaskSpec{
			Kind:        transfer.KindDownload,
			RemotePath:  remote,
			LocalPath:   filepath.Join(dir, filepath.Base(remote)),
			Destination: testDest(),
		})
	}

	// A one-slot bus overflows for every lossy subscriber.
	bus := events.NewEventBus(1)
	s, err := newSessionWithBus(cfg, logging.NewNopLogger(), host.factory(), bus, false)
	if err != nil {
		t.Fatalf("newSessionWithBus failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.run(ctx, specs); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if succeeded, _, _ := s.tally.counts(); succeeded != n {
		t.Errorf("Tally saw %d of %d outcomes", succeeded, n)
	}

	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		t.Fatalf("history.Open failed: %v", err)
	}
	defer store.Close()
	count, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != n {
		t.Errorf("Expected %d history records, got %d", n, count)
	}
}

func TestSessionRunReportsFailures(t *testing.T) {
	cfg := testConfig(t)
	cfg.Transfer.Retries = 1
	host := &memoryHost{files: map[string][]byte{}, connectErr: channel.ErrConnect}

	s, err := newSession(cfg, logging.NewNopLogger(), host.factory(), false)
	if err != nil {
		t.Fatalf("newSession failed: %v", err)
	}

	spec := transfer.TaskSpec{
		Kind:        transfer.KindDownload,
		RemotePath:  "/missing",
		LocalPath:   filepath.Join(t.TempDir(), "missing"),
		Destination: testDest(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = s.run(ctx, []transfer.TaskSpec{spec})
	if err == nil || !strings.Contains(err.Error(), "1 of 1 transfer(s) failed") {
		t.Fatalf("Expected failure summary, got %v", err)
	}
}

func TestSessionRunRejectsInvalidSpec(t *testing.T) {
	cfg := testConfig(t)
	s, err := newSession(cfg, logging.NewNopLogger(), (&memoryHost{}).factory(), false)
	if err != nil {
		t.Fatalf("newSession failed: %v", err)
	}

	err = s.run(context.Background(), []transfer.TaskSpec{{Kind: transfer.KindUploadFromStream, RemotePath: "/x", Destination: testDest()}})
	if !errors.Is(err, transfer.ErrNullSource) {
		t.Errorf("Expected ErrNullSource, got %v", err)
	}
}

func TestEngineOptionsFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Transfer.Retries = 0
	cfg.Transfer.RetryPolicy = "transient"

	opts, err := engineOptions(cfg, nil, logging.NewNopLogger(), (&memoryHost{}).factory())
	if err != nil {
		t.Fatalf("engineOptions failed: %v", err)
	}
	if opts.Retries != -1 {
		t.Errorf("Expected zero retries to map to -1, got %d", opts.Retries)
	}
	if opts.RetryPolicy != transfer.RetryTransient {
		t.Errorf("Expected transient policy, got %q", opts.RetryPolicy)
	}
	if opts.RetryDelay != time.Millisecond {
		t.Errorf("Expected 1ms retry delay, got %v", opts.RetryDelay)
	}
	if opts.Foreground == nil || opts.SpaceCheck == nil {
		t.Error("Expected foreground lock and space check to be set")
	}

	cfg.Transfer.RetryPolicy = "sometimes"
	if _, err := engineOptions(cfg, nil, logging.NewNopLogger(), nil); err == nil {
		t.Error("Expected error for unknown retry policy")
	}
}

func TestNotifyConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	if notifyConfig(cfg).Enabled {
		t.Error("Expected notifications off by default")
	}

	notifyFlag = true
	defer func() { notifyFlag = false }()
	ncfg := notifyConfig(cfg)
	if !ncfg.Enabled || !ncfg.OnSuccess || !ncfg.OnFailure {
		t.Errorf("Expected --notify to enable both kinds, got %+v", ncfg)
	}
}
