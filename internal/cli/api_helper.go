// Package cli provides control API client helper functions.
package cli

import (
	"fmt"

	"github.com/rescale/shellxfer/internal/api"
)

// getControlClient creates a client for the running `shellxfer serve`.
// An explicit address overrides the configured listen address.
func getControlClient(addr string) (*api.Client, error) {
	cfg := GetConfig()
	if addr == "" {
		addr = cfg.Server.Listen
	}

	token, err := api.ReadToken(cfg.TokenPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read control API token (is `shellxfer serve` running?): %w", err)
	}

	return api.NewClient(addr, token, GetLogger()), nil
}
