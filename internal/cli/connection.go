package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rescale/shellxfer/internal/channel"
	"github.com/rescale/shellxfer/internal/config"
	"github.com/rescale/shellxfer/internal/constants"
)

// connFlags are the destination flags shared by every command that opens a
// channel.
type connFlags struct {
	host          string
	port          int
	user          string
	identity      string
	passwordStdin bool
	askPassword   bool
}

func (f *connFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.host, "host", "H", "", "Remote host (or user@host)")
	cmd.Flags().IntVarP(&f.port, "port", "p", 0, fmt.Sprintf("SSH port (default from config, %d)", constants.DefaultSSHPort))
	cmd.Flags().StringVarP(&f.user, "user", "u", "", "Remote user (default: current user)")
	cmd.Flags().StringVarP(&f.identity, "identity", "i", "", "Private key file for key authentication")
	cmd.Flags().BoolVar(&f.passwordStdin, "password-stdin", false, "Read the password (or key passphrase) from the first line of stdin")
	cmd.Flags().BoolVar(&f.askPassword, "ask-password", false, "Prompt for the password (or key passphrase)")
	cmd.MarkFlagsMutuallyExclusive("password-stdin", "ask-password")
}

// resolve builds a destination from the flags and config. readSecret is
// called only when a secret was requested.
func (f *connFlags) resolve(cfg *config.Config, readSecret func(label string) (string, error)) (channel.Destination, error) {
	if f.host == "" {
		return channel.Destination{}, errors.New("--host is required")
	}

	dest := channel.Destination{
		Host:     f.host,
		Port:     f.port,
		Username: f.user,
		AuthKind: channel.AuthPassword,
	}
	if user, host, ok := splitUserHost(f.host); ok {
		dest.Host = host
		if dest.Username == "" {
			dest.Username = user
		}
	}
	if dest.Port == 0 {
		dest.Port = cfg.SSH.Port
	}
	if dest.Username == "" {
		dest.Username = currentUser()
	}
	if f.identity != "" {
		dest.AuthKind = channel.AuthKey
		dest.KeyMaterialRef = f.identity
	}

	if f.passwordStdin || f.askPassword {
		label := fmt.Sprintf("%s's password: ", dest.String())
		if dest.AuthKind == channel.AuthKey {
			label = fmt.Sprintf("Passphrase for %s: ", f.identity)
		}
		secret, err := readSecret(label)
		if err != nil {
			return channel.Destination{}, err
		}
		dest.Credential = secret
	}

	if err := dest.Validate(); err != nil {
		return channel.Destination{}, err
	}
	return dest, nil
}

// destination resolves against the process's stdin and terminal.
func (f *connFlags) destination(cfg *config.Config) (channel.Destination, error) {
	return f.resolve(cfg, func(label string) (string, error) {
		if f.passwordStdin {
			return readSecretLine(os.Stdin)
		}
		return promptPassword(label)
	})
}

func splitUserHost(s string) (user, host string, ok bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '@' {
			if i == 0 || i == len(s)-1 {
				return "", "", false
			}
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

func currentUser() string {
	for _, key := range []string{"USER", "USERNAME", "LOGNAME"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}
