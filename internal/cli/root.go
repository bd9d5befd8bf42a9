// Package cli provides the command-line interface for shellxfer.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rescale/shellxfer/internal/config"
	"github.com/rescale/shellxfer/internal/logging"
	"github.com/rescale/shellxfer/internal/version"
)

var (
	// Global flags
	cfgFile      string
	verbose      bool
	debug        bool
	progressMode string
	notifyFlag   bool

	// Global logger
	logger *logging.Logger

	// Loaded in PersistentPreRunE
	appConfig *config.Config

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc

	interruptMu     sync.Mutex
	interruptTarget activeCanceler
	interruptCount  int
)

// activeCanceler is what the first Ctrl+C talks to.
type activeCanceler interface {
	CancelActive() bool
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "shellxfer",
		Short: "Move files over a remote shell, one chunk per command",
		Long: `shellxfer ` + version.Version + ` - Built: ` + version.BuildTime + `
Transfers files to and from hosts where only a command shell is available.

Downloads read the remote file one block at a time with dd and base64.
Uploads truncate the remote file and append base64 chunks to it.
Transfers run one at a time from a queue, with retries and cancellation.

Press Ctrl+C once to cancel the active transfer, twice to stop.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			appConfig = cfg

			logger = logging.NewFileLogger("cli", nil, logging.FileConfig{Path: cfg.Logging.File})
			level := logging.ParseLevel(cfg.Logging.Level)
			if verbose || debug {
				level = zerolog.DebugLevel
			}
			logging.SetGlobalLevel(level)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				logger.Close()
			}
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path (default: $"+config.ConfigEnvVar+" or the user config directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug output (same as --verbose)")
	rootCmd.PersistentFlags().StringVar(&progressMode, "progress", "auto", "Progress display: auto, bar, queue or plain")
	rootCmd.PersistentFlags().BoolVar(&notifyFlag, "notify", false, "Show desktop notifications when transfers finish")

	rootCmd.Version = version.Version + " (" + version.BuildTime + ")"

	completionCmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Enable tab-completion for shellxfer commands",
		Long: `Generate shell completion scripts for shellxfer.

QUICK START:

  bash:
    shellxfer completion bash | sudo tee /etc/bash_completion.d/shellxfer

  zsh:
    shellxfer completion zsh > "${fpath[1]}/_shellxfer"

  fish:
    shellxfer completion fish > ~/.config/fish/completions/shellxfer.fish

  PowerShell:
    shellxfer completion powershell >> $PROFILE`,
	}
	rootCmd.AddCommand(completionCmd)

	completionCmd.AddCommand(&cobra.Command{
		Use:   "bash",
		Short: "Generate bash completion script",
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootCmd.Root().GenBashCompletion(cmd.OutOrStdout())
		},
	})
	completionCmd.AddCommand(&cobra.Command{
		Use:   "zsh",
		Short: "Generate zsh completion script",
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootCmd.Root().GenZshCompletion(cmd.OutOrStdout())
		},
	})
	completionCmd.AddCommand(&cobra.Command{
		Use:   "fish",
		Short: "Generate fish completion script",
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootCmd.Root().GenFishCompletion(cmd.OutOrStdout(), true)
		},
	})
	completionCmd.AddCommand(&cobra.Command{
		Use:   "powershell",
		Short: "Generate PowerShell completion script",
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootCmd.Root().GenPowerShellCompletion(cmd.OutOrStdout())
		},
	})

	// Disable default completion command (we're adding our own above)
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	return rootCmd
}

// Execute runs the CLI.
func Execute() error {
	// Create a context that can be cancelled by signals
	rootContext, cancelFunc = context.WithCancel(context.Background())
	defer cancelFunc()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		for sig := range sigChan {
			if sig == nil {
				continue
			}
			handleInterrupt(sig)
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.Execute()

	// Clean up signal handler
	signal.Stop(sigChan)
	close(sigChan)

	return err
}

// handleInterrupt cancels the active transfer on the first signal and stops
// everything on the next one.
func handleInterrupt(sig os.Signal) {
	interruptMu.Lock()
	interruptCount++
	first := interruptCount == 1
	target := interruptTarget
	interruptMu.Unlock()

	if first && target != nil && target.CancelActive() {
		fmt.Fprintf(os.Stderr, "\nReceived %v, canceling the active transfer (again to stop)\n", sig)
		return
	}
	fmt.Fprintf(os.Stderr, "\nReceived %v, stopping...\n", sig)
	cancelFunc()
}

// setInterruptTarget routes the first Ctrl+C to c. Nil restores plain
// cancellation.
func setInterruptTarget(c activeCanceler) {
	interruptMu.Lock()
	defer interruptMu.Unlock()
	interruptTarget = c
	interruptCount = 0
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newPutCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newEnqueueCmd())
	rootCmd.AddCommand(newCancelCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newConfigCmd())
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return logger
}

// GetContext returns the global CLI context with signal handling.
// This context will be cancelled when the user presses Ctrl+C.
func GetContext() context.Context {
	if rootContext == nil {
		// Fallback to background context if called before Execute()
		return context.Background()
	}
	return rootContext
}

// GetConfig returns the loaded configuration, or defaults before
// PersistentPreRunE has run.
func GetConfig() *config.Config {
	if appConfig == nil {
		return config.DefaultConfig()
	}
	return appConfig
}

// configPath resolves --config, then the environment, then the default.
func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.DefaultConfigPath()
}

func loadConfig() (*config.Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}
