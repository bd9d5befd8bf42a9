// Package channel defines the remote command-execution capability the transfer
// engine drives, and its SSH implementation.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
)

// Channel is an authenticated session that runs one shell command at a time
// and returns its captured stdout.
type Channel interface {
	// Connect dials and authenticates.
	Connect(ctx context.Context) error
	// Exec runs command and returns its whole stdout once it exits.
	Exec(ctx context.Context, command string) (string, error)
	// Close tears the session down. Safe to call more than once.
	Close() error
}

// Factory builds a fresh, unconnected Channel for a destination.
type Factory func(dest Destination) Channel

// AuthKind selects how a destination authenticates.
type AuthKind string

const (
	AuthPassword AuthKind = "password"
	AuthKey      AuthKind = "key"
)

// ParseAuthKind accepts "password" or "key" (empty means password).
func ParseAuthKind(s string) (AuthKind, error) {
	switch AuthKind(s) {
	case "", AuthPassword:
		return AuthPassword, nil
	case AuthKey:
		return AuthKey, nil
	}
	return "", fmt.Errorf("unknown auth kind %q (want password or key)", s)
}

// Destination is a resolved remote endpoint.
//
// For AuthPassword, Credential is the password. For AuthKey, KeyMaterialRef is
// a private key file path or an inline PEM block, and Credential is the
// optional key passphrase.
type Destination struct {
	Host           string
	Port           int
	Username       string
	Credential     string `json:"-"`
	AuthKind       AuthKind
	KeyMaterialRef string
}

// Address returns host:port.
func (d Destination) Address() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// String is safe to log: it never includes the credential.
func (d Destination) String() string {
	return fmt.Sprintf("%s@%s", d.Username, d.Address())
}

// Validate checks the fields a channel needs before dialing.
func (d Destination) Validate() error {
	if d.Host == "" {
		return errors.New("destination host is required")
	}
	if d.Port <= 0 || d.Port > 65535 {
		return fmt.Errorf("destination port %d out of range", d.Port)
	}
	if d.Username == "" {
		return errors.New("destination username is required")
	}
	if d.AuthKind == AuthKey && d.KeyMaterialRef == "" {
		return errors.New("key authentication requires key material")
	}
	return nil
}

// Failure classes reported by channels. Implementations wrap one of these so
// callers can use errors.Is without depending on the transport.
var (
	ErrConnect  = errors.New("connect failed")
	ErrAuth     = errors.New("authentication failed")
	ErrRemoteIO = errors.New("remote command failed")
	ErrClosed   = errors.New("channel is not connected")
)
