package cli

import (
	"errors"
	"strings"
	"testing"

	"github.com/rescale/shellxfer/internal/channel"
	"github.com/rescale/shellxfer/internal/config"
)

func noSecret(t *testing.T) func(string) (string, error) {
	return func(string) (string, error) {
		t.Error("secret should not be read")
		return "", nil
	}
}

func TestResolveDestination(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SSH.Port = 2222

	f := connFlags{host: "ops@build01"}
	dest, err := f.resolve(cfg, noSecret(t))
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if dest.Host != "build01" || dest.Username != "ops" || dest.Port != 2222 {
		t.Errorf("Unexpected destination %+v", dest)
	}
	if dest.AuthKind != channel.AuthPassword {
		t.Errorf("Expected password auth, got %q", dest.AuthKind)
	}

	f = connFlags{host: "admin@db02", user: "root", port: 22, identity: "~/.ssh/id_ed25519"}
	dest, err = f.resolve(cfg, noSecret(t))
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if dest.Username != "root" || dest.Port != 22 || dest.Host != "db02" {
		t.Errorf("Explicit flags should win: %+v", dest)
	}
	if dest.AuthKind != channel.AuthKey || dest.KeyMaterialRef != "~/.ssh/id_ed25519" {
		t.Errorf("Expected key auth, got %+v", dest)
	}
}

func TestResolveDestinationSecret(t *testing.T) {
	cfg := config.DefaultConfig()

	var label string
	f := connFlags{host: "ops@build01", askPassword: true}
	dest, err := f.resolve(cfg, func(l string) (string, error) {
		label = l
		return "s3cret", nil
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if dest.Credential != "s3cret" {
		t.Errorf("Expected credential to be set")
	}
	if !strings.Contains(label, "ops@build01") {
		t.Errorf("Expected password label to name the destination, got %q", label)
	}

	f = connFlags{host: "build01", user: "ops", identity: "key", passwordStdin: true}
	_, err = f.resolve(cfg, func(l string) (string, error) {
		label = l
		return "", errors.New("closed")
	})
	if err == nil {
		t.Error("Expected secret read error to propagate")
	}
	if !strings.HasPrefix(label, "Passphrase for key") {
		t.Errorf("Expected passphrase label, got %q", label)
	}
}

func TestResolveDestinationErrors(t *testing.T) {
	cfg := config.DefaultConfig()

	f := connFlags{}
	if _, err := f.resolve(cfg, noSecret(t)); err == nil {
		t.Error("Expected error without --host")
	}

	f = connFlags{host: "build01", user: "ops", port: 70000}
	if _, err := f.resolve(cfg, noSecret(t)); err == nil {
		t.Error("Expected error for out of range port")
	}
}

func TestSplitUserHost(t *testing.T) {
	tests := []struct {
		in         string
		user, host string
		ok         bool
	}{
		{"ops@build01", "ops", "build01", true},
		{"a@b@c", "a@b", "c", true},
		{"build01", "", "", false},
		{"@build01", "", "", false},
		{"ops@", "", "", false},
	}
	for _, tt := range tests {
		user, host, ok := splitUserHost(tt.in)
		if user != tt.user || host != tt.host || ok != tt.ok {
			t.Errorf("splitUserHost(%q) = %q, %q, %v", tt.in, user, host, ok)
		}
	}
}

func TestReadSecretLine(t *testing.T) {
	got, err := readSecretLine(strings.NewReader("hunter2\r\nrest"))
	if err != nil || got != "hunter2" {
		t.Errorf("Expected hunter2, got %q (%v)", got, err)
	}
	got, err = readSecretLine(strings.NewReader("no-newline"))
	if err != nil || got != "no-newline" {
		t.Errorf("Expected no-newline, got %q (%v)", got, err)
	}
	if _, err := readSecretLine(strings.NewReader("")); err == nil {
		t.Error("Expected error for empty stdin")
	}
}
