// Package cli provides configuration management commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rescale/shellxfer/internal/config"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage shellxfer configuration",
		Long: `Configuration management commands for shellxfer.

Commands:
  init  - Write a configuration file with default values
  show  - Display current configuration
  path  - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Long: `Write a configuration file with default values.

Use --force to overwrite existing configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}

			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Printf("Configuration already exists at: %s\n", path)
					fmt.Println("Use --force to overwrite or run 'config show' to view current config.")
					return nil
				}
			}

			if err := config.DefaultConfig().Save(path); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			GetLogger().Info().Str("path", path).Msg("Configuration written")
			fmt.Printf("✓ Configuration written to %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")
	return cmd
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the configuration in effect: the file named by --config or
$` + config.ConfigEnvVar + `, or the default location, with defaults filled in.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			cfg := GetConfig()

			fmt.Println("Current Configuration")
			fmt.Println("=====================")
			fmt.Println()

			fmt.Println("Transfer Settings:")
			fmt.Printf("  Retries:           %d\n", cfg.Transfer.Retries)
			fmt.Printf("  Retry Delay:       %s per attempt\n", cfg.RetryDelay())
			fmt.Printf("  Retry Policy:      %s\n", cfg.Transfer.RetryPolicy)
			fmt.Printf("  UI Throttle:       %s\n", cfg.UIThrottle())
			fmt.Printf("  UI Step:           %d\n", cfg.Transfer.UIStep)
			fmt.Printf("  Free Space Margin: %.2f\n", cfg.Transfer.FreeSpaceMargin)
			fmt.Println()

			fmt.Println("SSH Settings:")
			fmt.Printf("  Port:        %d\n", cfg.SSH.Port)
			fmt.Printf("  Timeout:     %s\n", cfg.SSHTimeout())
			knownHosts := cfg.SSH.KnownHosts
			if knownHosts == "" {
				knownHosts = "~/.ssh/known_hosts"
			}
			if cfg.SSH.InsecureIgnoreHostKey {
				knownHosts = "<host key checking disabled>"
			}
			fmt.Printf("  Known Hosts: %s\n", knownHosts)
			if cfg.SSH.Proxy != "" {
				fmt.Printf("  Proxy:       %s\n", cfg.SSH.Proxy)
			}
			fmt.Println()

			fmt.Println("Storage:")
			fmt.Printf("  History DB: %s\n", cfg.HistoryPath())
			fmt.Printf("  Lock File:  %s\n", cfg.LockPath())
			fmt.Println()

			fmt.Println("Logging:")
			fmt.Printf("  Level: %s\n", cfg.Logging.Level)
			if cfg.Logging.File != "" {
				fmt.Printf("  File:  %s\n", cfg.Logging.File)
			}
			fmt.Println()

			fmt.Println("Server:")
			fmt.Printf("  Listen: %s\n", cfg.Server.Listen)
			fmt.Println()

			fmt.Println("Notifications:")
			fmt.Printf("  Enabled:    %t\n", cfg.Notify.Enabled)
			fmt.Printf("  On Success: %t\n", cfg.Notify.OnSuccess)
			fmt.Printf("  On Failure: %t\n", cfg.Notify.OnFailure)
			fmt.Println()

			fmt.Printf("Configuration file: %s\n", path)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				fmt.Println("  (file does not exist - using defaults)")
			}
			return nil
		},
	}
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Long:  `Display the path to the configuration file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				fmt.Println("Configuration path (from --config flag):")
			} else {
				fmt.Println("Configuration path:")
			}
			fmt.Printf("  %s\n", path)
			fmt.Println()

			if fileInfo, err := os.Stat(path); err == nil {
				fmt.Println("Status: ✓ File exists")
				fmt.Printf("Size:   %d bytes\n", fileInfo.Size())
				fmt.Printf("Modified: %s\n", fileInfo.ModTime().Format("2006-01-02 15:04:05"))
			} else {
				fmt.Println("Status: File does not exist")
				fmt.Println()
				fmt.Println("Create a configuration file with: shellxfer config init")
			}
			return nil
		},
	}
}
