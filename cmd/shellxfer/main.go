// shellxfer moves files to and from hosts reachable only through a command shell.
package main

import (
	"os"

	"github.com/rescale/shellxfer/internal/cli"
	"github.com/rescale/shellxfer/internal/version"
)

// Version information, injected via LDFLAGS for release builds
var (
	Version   = "v0.3.0-dev"
	BuildTime = "unknown"
)

func main() {
	// Set version in version package (canonical source for all packages)
	version.Version = Version
	version.BuildTime = BuildTime

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
