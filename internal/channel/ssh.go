package channel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/net/proxy"

	"github.com/rescale/shellxfer/internal/constants"
	"github.com/rescale/shellxfer/internal/logging"
)

// SSHOptions configures SSH channels built by NewSSHFactory.
type SSHOptions struct {
	// Timeout bounds TCP connect plus handshake. Zero uses SSHDialTimeout.
	Timeout time.Duration

	// KnownHostsFile is checked for host keys. Empty uses ~/.ssh/known_hosts.
	KnownHostsFile string

	// InsecureIgnoreHostKey skips host key verification entirely.
	InsecureIgnoreHostKey bool

	// ProxyURL routes the TCP connection through a proxy (socks5://host:port).
	ProxyURL string

	// KeepAlive is the interval for keepalive requests. Zero disables them.
	KeepAlive time.Duration

	Logger *logging.Logger
}

// SSHChannel runs each command in its own session on one SSH connection.
type SSHChannel struct {
	dest Destination
	opts SSHOptions

	mu     sync.Mutex
	client *ssh.Client
	done   chan struct{}
}

// NewSSHFactory returns a Factory producing SSH channels with opts.
func NewSSHFactory(opts SSHOptions) Factory {
	if opts.Timeout <= 0 {
		opts.Timeout = constants.SSHDialTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	return func(dest Destination) Channel {
		return &SSHChannel{dest: dest, opts: opts}
	}
}

// Connect dials the destination and completes the SSH handshake.
func (c *SSHChannel) Connect(ctx context.Context) error {
	if err := c.dest.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}

	auth, err := authMethods(c.dest)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	hostKeys, err := hostKeyCallback(c.opts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}

	cfg := &ssh.ClientConfig{
		User:            c.dest.Username,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         c.opts.Timeout,
	}

	addr := c.dest.Address()
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	conn, err := dial(dialCtx, c.opts, addr)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrConnect, addr, err)
	}

	// The handshake has no context of its own; bound it with a deadline.
	_ = conn.SetDeadline(time.Now().Add(c.opts.Timeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return classifyHandshake(addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	client := ssh.NewClient(sshConn, chans, reqs)

	c.mu.Lock()
	c.client = client
	c.done = make(chan struct{})
	c.mu.Unlock()

	if c.opts.KeepAlive > 0 {
		go c.keepAlive(client, c.done)
	}

	c.opts.Logger.Debug().Str("destination", c.dest.String()).Msg("SSH channel connected")
	return nil
}

// Exec runs command in a new session and returns stdout. A non-zero exit
// status is an ErrRemoteIO carrying the command's stderr.
// Cancelling ctx closes the session and abandons the round trip.
func (c *SSHChannel) Exec(ctx context.Context, command string) (string, error) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return "", ErrClosed
	}

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("%w: open session: %v", ErrRemoteIO, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	result := make(chan error, 1)
	go func() { result <- session.Run(command) }()

	select {
	case err = <-result:
	case <-ctx.Done():
		_ = session.Close()
		return "", ctx.Err()
	}

	if err != nil {
		var exitErr *ssh.ExitError
		msg := strings.TrimSpace(stderr.String())
		if errors.As(err, &exitErr) {
			if msg == "" {
				msg = fmt.Sprintf("exit status %d", exitErr.ExitStatus())
			}
			return stdout.String(), fmt.Errorf("%w: %s", ErrRemoteIO, msg)
		}
		return stdout.String(), fmt.Errorf("%w: %v", ErrRemoteIO, err)
	}
	return stdout.String(), nil
}

// Close shuts the connection down.
func (c *SSHChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	close(c.done)
	err := c.client.Close()
	c.client = nil
	return err
}

func (c *SSHChannel) keepAlive(client *ssh.Client, done <-chan struct{}) {
	ticker := time.NewTicker(c.opts.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				c.opts.Logger.Debug().Err(err).Msg("SSH keepalive failed")
				return
			}
		}
	}
}

func dial(ctx context.Context, opts SSHOptions, addr string) (net.Conn, error) {
	direct := &net.Dialer{Timeout: opts.Timeout, KeepAlive: 30 * time.Second}
	if opts.ProxyURL == "" {
		return direct.DialContext(ctx, "tcp", addr)
	}

	u, err := url.Parse(opts.ProxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}
	d, err := proxy.FromURL(u, direct)
	if err != nil {
		return nil, fmt.Errorf("unsupported proxy: %w", err)
	}
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, "tcp", addr)
	}
	return d.Dial("tcp", addr)
}

// authMethods builds the client auth list for a destination.
func authMethods(dest Destination) ([]ssh.AuthMethod, error) {
	switch dest.AuthKind {
	case AuthKey:
		signer, err := loadSigner(dest.KeyMaterialRef, dest.Credential)
		if err != nil {
			return nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	default:
		password := dest.Credential
		return []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		}, nil
	}
}

// loadSigner parses key material from an inline PEM block or a file path.
func loadSigner(ref, passphrase string) (ssh.Signer, error) {
	var pemBytes []byte
	if strings.HasPrefix(strings.TrimSpace(ref), "-----BEGIN") {
		pemBytes = []byte(ref)
	} else {
		data, err := os.ReadFile(expandHome(ref))
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		pemBytes = data
	}

	if passphrase != "" {
		signer, err := ssh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return signer, nil
	}
	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, errors.New("private key is encrypted and no passphrase was given")
		}
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}

func hostKeyCallback(opts SSHOptions) (ssh.HostKeyCallback, error) {
	if opts.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := opts.KnownHostsFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locate known_hosts: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(expandHome(path))
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w (set insecure_ignore_host_key to skip verification)", path, err)
	}
	return cb, nil
}

func classifyHandshake(addr string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain") {
		return fmt.Errorf("%w: %s: %v", ErrAuth, addr, err)
	}
	return fmt.Errorf("%w: handshake with %s: %v", ErrConnect, addr, err)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
