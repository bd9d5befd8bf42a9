package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rescale/shellxfer/internal/api"
	"github.com/rescale/shellxfer/internal/channel"
	"github.com/rescale/shellxfer/internal/config"
	"github.com/rescale/shellxfer/internal/constants"
	"github.com/rescale/shellxfer/internal/events"
	"github.com/rescale/shellxfer/internal/logging"
	"github.com/rescale/shellxfer/internal/version"
)

// newServeCmd creates the 'serve' command.
func newServeCmd() *cobra.Command {
	var conn connFlags
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the transfer queue with a local control API",
		Long: `Run a long-lived transfer engine. Other shellxfer commands (enqueue,
cancel, status) talk to it over a loopback HTTP API protected by a bearer
token stored next to the config file.

Connection flags set the default destination; requests may override it.

Press Ctrl+C once to cancel the active transfer, twice to stop.

Examples:
  shellxfer serve -H ops@build01 -i ~/.ssh/id_ed25519
  shellxfer serve --listen 127.0.0.1:9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := GetConfig()
			if listen == "" {
				listen = cfg.Server.Listen
			}

			def, err := defaultDestination(&conn, cfg)
			if err != nil {
				return err
			}

			bus := events.NewEventBus(constants.EventBusDefaultBuffer)
			log := logging.NewFileLogger("server", bus, logging.FileConfig{Path: cfg.Logging.File})
			defer log.Close()

			s, err := newSessionWithBus(cfg, log, sshFactory(cfg, log), bus, false)
			if err != nil {
				return err
			}
			defer s.close()

			token, err := api.EnsureToken(cfg.TokenPath())
			if err != nil {
				return err
			}

			srv, err := api.NewServer(api.ServerOptions{
				Engine:             s.engine,
				Bus:                bus,
				History:            s.store,
				Logger:             log,
				DefaultDestination: def,
				Token:              token,
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(os.Stderr, "======================================================================")
			fmt.Fprintf(os.Stderr, "  SHELLXFER %s\n", version.Version)
			fmt.Fprintln(os.Stderr, "======================================================================")
			fmt.Fprintf(os.Stderr, "Control API:   http://%s\n", listen)
			fmt.Fprintf(os.Stderr, "Token file:    %s\n", cfg.TokenPath())
			if def.Host != "" {
				fmt.Fprintf(os.Stderr, "Destination:   %s\n", def.String())
			}
			fmt.Fprintln(os.Stderr, "======================================================================")

			s.engine.Start()
			setInterruptTarget(s.engine)
			defer setInterruptTarget(nil)

			return srv.ListenAndServe(GetContext(), listen)
		},
	}

	conn.register(cmd)
	cmd.Flags().StringVar(&listen, "listen", "", "Control API address (default from config, "+constants.DefaultListenAddress+")")

	return cmd
}

// defaultDestination is the destination requests fall back to. Without
// --host it only carries the port and user.
func defaultDestination(conn *connFlags, cfg *config.Config) (channel.Destination, error) {
	if conn.host == "" {
		if conn.identity != "" || conn.passwordStdin || conn.askPassword {
			return channel.Destination{}, fmt.Errorf("credentials flags need --host")
		}
		port := conn.port
		if port == 0 {
			port = cfg.SSH.Port
		}
		user := conn.user
		if user == "" {
			user = currentUser()
		}
		return channel.Destination{Port: port, Username: user, AuthKind: channel.AuthPassword}, nil
	}
	return conn.destination(cfg)
}
