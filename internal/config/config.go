// Package config provides configuration management for shellxfer.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/rescale/shellxfer/internal/constants"
)

// Config represents the shellxfer configuration file.
//
// Config file location:
//   - $SHELLXFER_CONFIG if set
//   - Windows: %APPDATA%\shellxfer\shellxfer.conf
//   - Unix: ~/.config/shellxfer/shellxfer.conf
//
// INI format:
//
//	[transfer]
//	retries = 2
//	retry_delay_ms = 1000
//	retry_policy = all
//	ui_throttle_ms = 200
//	ui_step = 5
//	free_space_margin = 1.05
//
//	[ssh]
//	port = 22
//	timeout_seconds = 15
//	known_hosts =
//	insecure_ignore_host_key = false
//	proxy =
//
//	[storage]
//	history_db =
//	lock_file =
//
//	[logging]
//	file =
//	level = info
//
//	[server]
//	listen = 127.0.0.1:7317
//
//	[notify]
//	enabled = false
//	on_success = true
//	on_failure = true
type Config struct {
	Transfer TransferConfig
	SSH      SSHConfig
	Storage  StorageConfig
	Logging  LoggingConfig
	Server   ServerConfig
	Notify   NotifyConfig
}

// TransferConfig contains queue and retry settings.
type TransferConfig struct {
	// Retries is the per-task retry budget after the first failure.
	// Minimum: 0, Maximum: 10, Default: 2
	Retries int `ini:"retries"`

	// RetryDelayMs is the linear back-off step; retry N waits N times this.
	// Default: 1000
	RetryDelayMs int `ini:"retry_delay_ms"`

	// RetryPolicy is "all" (retry every failure) or "transient"
	// (network and unclassified failures only).
	// Default: all
	RetryPolicy string `ini:"retry_policy"`

	// UIThrottleMs and UIStep limit how often in-loop progress is published.
	UIThrottleMs int `ini:"ui_throttle_ms"`
	UIStep       int `ini:"ui_step"`

	// FreeSpaceMargin multiplies a download's size before the free space check.
	// Minimum: 1.0, Default: 1.05
	FreeSpaceMargin float64 `ini:"free_space_margin"`
}

// SSHConfig contains channel settings shared by every destination.
type SSHConfig struct {
	// Port is used when the command line does not name one.
	Port int `ini:"port"`

	// TimeoutSeconds bounds TCP connect plus handshake.
	TimeoutSeconds int `ini:"timeout_seconds"`

	// KnownHosts is the known_hosts file. Empty means ~/.ssh/known_hosts.
	KnownHosts string `ini:"known_hosts"`

	// InsecureIgnoreHostKey disables host key verification.
	InsecureIgnoreHostKey bool `ini:"insecure_ignore_host_key"`

	// Proxy is an optional socks5:// URL the TCP connection is dialed through.
	Proxy string `ini:"proxy"`
}

// StorageConfig names local state files. Empty values resolve under ConfigDirectory.
type StorageConfig struct {
	HistoryDB string `ini:"history_db"`
	LockFile  string `ini:"lock_file"`
}

// LoggingConfig controls the log file and level.
type LoggingConfig struct {
	// File is the rotating log file. Empty disables file logging.
	File  string `ini:"file"`
	Level string `ini:"level"`
}

// ServerConfig contains control API settings.
type ServerConfig struct {
	Listen string `ini:"listen"`
}

// NotifyConfig controls desktop notifications for finished transfers.
type NotifyConfig struct {
	Enabled   bool `ini:"enabled"`
	OnSuccess bool `ini:"on_success"`
	OnFailure bool `ini:"on_failure"`
}

// Config validation errors
var (
	ErrInvalidRetries         = errors.New("retries must be between 0 and 10")
	ErrInvalidRetryDelay      = errors.New("retry_delay_ms must not be negative")
	ErrInvalidRetryPolicy     = errors.New("retry_policy must be all or transient")
	ErrInvalidUIThrottle      = errors.New("ui_throttle_ms must not be negative")
	ErrInvalidUIStep          = errors.New("ui_step must be between 1 and 1000")
	ErrInvalidFreeSpaceMargin = errors.New("free_space_margin must be between 1.0 and 10.0")
	ErrInvalidSSHPort         = errors.New("port must be between 1 and 65535")
	ErrInvalidSSHTimeout      = errors.New("timeout_seconds must be between 1 and 600")
	ErrInvalidLogLevel        = errors.New("level must be one of debug, info, warn, error")
	ErrMissingListen          = errors.New("listen address is required")
)

// DefaultConfig creates a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Transfer: TransferConfig{
			Retries:         constants.DefaultRetries,
			RetryDelayMs:    int(constants.RetryDelayStep / time.Millisecond),
			RetryPolicy:     "all",
			UIThrottleMs:    int(constants.ProgressUIThrottle / time.Millisecond),
			UIStep:          constants.ProgressUIStep,
			FreeSpaceMargin: constants.DiskSpaceSafetyMargin,
		},
		SSH: SSHConfig{
			Port:           constants.DefaultSSHPort,
			TimeoutSeconds: int(constants.SSHDialTimeout / time.Second),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Listen: constants.DefaultListenAddress,
		},
		Notify: NotifyConfig{
			OnSuccess: true,
			OnFailure: true,
		},
	}
}

// LoadConfig loads configuration from an INI file.
// If path is empty, uses DefaultConfigPath.
// If the file doesn't exist, returns a config with default values and no error.
// If the file exists but is invalid, returns an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return cfg, nil // Return defaults if we can't determine path
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Parse [transfer] section
	transferSection := iniFile.Section("transfer")
	cfg.Transfer.Retries = transferSection.Key("retries").MustInt(cfg.Transfer.Retries)
	cfg.Transfer.RetryDelayMs = transferSection.Key("retry_delay_ms").MustInt(cfg.Transfer.RetryDelayMs)
	cfg.Transfer.RetryPolicy = transferSection.Key("retry_policy").MustString(cfg.Transfer.RetryPolicy)
	cfg.Transfer.UIThrottleMs = transferSection.Key("ui_throttle_ms").MustInt(cfg.Transfer.UIThrottleMs)
	cfg.Transfer.UIStep = transferSection.Key("ui_step").MustInt(cfg.Transfer.UIStep)
	cfg.Transfer.FreeSpaceMargin = transferSection.Key("free_space_margin").MustFloat64(cfg.Transfer.FreeSpaceMargin)

	// Parse [ssh] section
	sshSection := iniFile.Section("ssh")
	cfg.SSH.Port = sshSection.Key("port").MustInt(cfg.SSH.Port)
	cfg.SSH.TimeoutSeconds = sshSection.Key("timeout_seconds").MustInt(cfg.SSH.TimeoutSeconds)
	cfg.SSH.KnownHosts = sshSection.Key("known_hosts").String()
	cfg.SSH.InsecureIgnoreHostKey = sshSection.Key("insecure_ignore_host_key").MustBool(false)
	cfg.SSH.Proxy = sshSection.Key("proxy").String()

	// Parse [storage] section
	storageSection := iniFile.Section("storage")
	cfg.Storage.HistoryDB = storageSection.Key("history_db").String()
	cfg.Storage.LockFile = storageSection.Key("lock_file").String()

	// Parse [logging] section
	loggingSection := iniFile.Section("logging")
	cfg.Logging.File = loggingSection.Key("file").String()
	cfg.Logging.Level = loggingSection.Key("level").MustString(cfg.Logging.Level)

	// Parse [server] section
	cfg.Server.Listen = iniFile.Section("server").Key("listen").MustString(cfg.Server.Listen)

	// Parse [notify] section
	notifySection := iniFile.Section("notify")
	cfg.Notify.Enabled = notifySection.Key("enabled").MustBool(cfg.Notify.Enabled)
	cfg.Notify.OnSuccess = notifySection.Key("on_success").MustBool(cfg.Notify.OnSuccess)
	cfg.Notify.OnFailure = notifySection.Key("on_failure").MustBool(cfg.Notify.OnFailure)

	return cfg, nil
}

// Save writes the configuration to path, or DefaultConfigPath when empty.
// Creates parent directories if they don't exist.
func (cfg *Config) Save(path string) error {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()
	sections := []struct {
		name string
		src  interface{}
	}{
		{"transfer", &cfg.Transfer},
		{"ssh", &cfg.SSH},
		{"storage", &cfg.Storage},
		{"logging", &cfg.Logging},
		{"server", &cfg.Server},
		{"notify", &cfg.Notify},
	}
	for _, s := range sections {
		section, err := iniFile.NewSection(s.name)
		if err != nil {
			return fmt.Errorf("failed to create %s section: %w", s.name, err)
		}
		if err := section.ReflectFrom(s.src); err != nil {
			return fmt.Errorf("failed to write %s section: %w", s.name, err)
		}
	}

	// Use temporary file + rename for atomicity
	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// Validate checks the configuration.
// Returns nil if valid, or an error describing what's wrong.
func (cfg *Config) Validate() error {
	t := cfg.Transfer
	if t.Retries < 0 || t.Retries > constants.MaxRetries {
		return ErrInvalidRetries
	}
	if t.RetryDelayMs < 0 {
		return ErrInvalidRetryDelay
	}
	switch strings.ToLower(strings.TrimSpace(t.RetryPolicy)) {
	case "", "all", "transient":
	default:
		return ErrInvalidRetryPolicy
	}
	if t.UIThrottleMs < 0 {
		return ErrInvalidUIThrottle
	}
	if t.UIStep < 1 || t.UIStep > constants.ProgressScaleMax {
		return ErrInvalidUIStep
	}
	if t.FreeSpaceMargin < 1 || t.FreeSpaceMargin > 10 {
		return ErrInvalidFreeSpaceMargin
	}

	if cfg.SSH.Port < 1 || cfg.SSH.Port > 65535 {
		return ErrInvalidSSHPort
	}
	if cfg.SSH.TimeoutSeconds < 1 || cfg.SSH.TimeoutSeconds > 600 {
		return ErrInvalidSSHTimeout
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return ErrInvalidLogLevel
	}

	if strings.TrimSpace(cfg.Server.Listen) == "" {
		return ErrMissingListen
	}
	return nil
}

// RetryDelay returns the back-off step as a duration.
func (cfg *Config) RetryDelay() time.Duration {
	return time.Duration(cfg.Transfer.RetryDelayMs) * time.Millisecond
}

// UIThrottle returns the progress throttle window as a duration.
func (cfg *Config) UIThrottle() time.Duration {
	return time.Duration(cfg.Transfer.UIThrottleMs) * time.Millisecond
}

// SSHTimeout returns the dial and handshake timeout.
func (cfg *Config) SSHTimeout() time.Duration {
	return time.Duration(cfg.SSH.TimeoutSeconds) * time.Second
}

// HistoryPath returns the history database path, resolving the default.
func (cfg *Config) HistoryPath() string {
	if cfg.Storage.HistoryDB != "" {
		return cfg.Storage.HistoryDB
	}
	return filepath.Join(ConfigDirectory(), "history.db")
}

// LockPath returns the foreground lock file path, resolving the default.
func (cfg *Config) LockPath() string {
	if cfg.Storage.LockFile != "" {
		return cfg.Storage.LockFile
	}
	return filepath.Join(ConfigDirectory(), "active.lock")
}

// TokenPath returns the control API bearer token file.
func (cfg *Config) TokenPath() string {
	return filepath.Join(ConfigDirectory(), "api.token")
}
