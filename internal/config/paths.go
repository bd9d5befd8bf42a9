package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// ConfigEnvVar overrides the config file location.
const ConfigEnvVar = "SHELLXFER_CONFIG"

// ConfigDirectory returns the directory for config and local state.
//   - Windows: %APPDATA%\shellxfer
//   - Unix: ~/.config/shellxfer
func ConfigDirectory() string {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return filepath.Join(os.TempDir(), "shellxfer")
			}
			appData = filepath.Join(homeDir, "AppData", "Roaming")
		}
		return filepath.Join(appData, "shellxfer")
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "shellxfer")
		}
		return filepath.Join(homeDir, ".config", "shellxfer")
	}
	return filepath.Join(configDir, "shellxfer")
}

// DefaultConfigPath returns $SHELLXFER_CONFIG, or shellxfer.conf under ConfigDirectory.
func DefaultConfigPath() (string, error) {
	if p := os.Getenv(ConfigEnvVar); p != "" {
		return p, nil
	}
	return filepath.Join(ConfigDirectory(), "shellxfer.conf"), nil
}

// LogDirectory returns the log directory.
//   - Windows: %LOCALAPPDATA%\shellxfer\logs
//   - Unix: ~/.config/shellxfer/logs
func LogDirectory() string {
	if runtime.GOOS == "windows" {
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return filepath.Join(localAppData, "shellxfer", "logs")
		}
	}
	return filepath.Join(ConfigDirectory(), "logs")
}

// EnsureDirectory creates dir with owner-only permissions if it doesn't exist.
func EnsureDirectory(dir string) error {
	return os.MkdirAll(dir, 0700)
}
