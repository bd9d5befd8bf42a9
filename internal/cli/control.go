package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rescale/shellxfer/internal/api"
	"github.com/rescale/shellxfer/internal/channel"
	"github.com/rescale/shellxfer/internal/constants"
	"github.com/rescale/shellxfer/internal/events"
	"github.com/rescale/shellxfer/internal/history"
	"github.com/rescale/shellxfer/internal/progress"
	"github.com/rescale/shellxfer/internal/transfer"
)

// destinationRequest carries only what the flags set, so the server's
// default fills the rest.
func destinationRequest(conn *connFlags) (*api.DestinationRequest, error) {
	if conn.host == "" && conn.port == 0 && conn.user == "" && conn.identity == "" {
		if conn.passwordStdin || conn.askPassword {
			return nil, errors.New("credentials flags need --host")
		}
		return nil, nil
	}

	req := &api.DestinationRequest{Host: conn.host, Port: conn.port, Username: conn.user}
	if user, host, ok := splitUserHost(conn.host); ok {
		req.Host = host
		if req.Username == "" {
			req.Username = user
		}
	}
	if conn.identity != "" {
		req.AuthKind = string(channel.AuthKey)
		req.KeyMaterial = conn.identity
	}
	if conn.passwordStdin || conn.askPassword {
		label := "Password: "
		if conn.identity != "" {
			label = fmt.Sprintf("Passphrase for %s: ", conn.identity)
		}
		var secret string
		var err error
		if conn.passwordStdin {
			secret, err = readSecretLine(os.Stdin)
		} else {
			secret, err = promptPassword(label)
		}
		if err != nil {
			return nil, err
		}
		req.Credential = secret
	}
	return req, nil
}

func printQueued(info transfer.TaskInfo) {
	fmt.Printf("Queued %s %s (%s) as %s\n", info.Kind, info.RemotePath, info.Host, info.ID)
}

// newEnqueueCmd creates the 'enqueue' command group.
func newEnqueueCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue transfers on a running server",
		Long: `Queue transfers on a running 'shellxfer serve'. Local paths are
resolved here and read or written by the server process.`,
	}
	cmd.PersistentFlags().StringVar(&addr, "server", "", "Control API address (default from config)")

	cmd.AddCommand(newEnqueueGetCmd(&addr))
	cmd.AddCommand(newEnqueuePutCmd(&addr))
	return cmd
}

func newEnqueueGetCmd(addr *string) *cobra.Command {
	var conn connFlags
	var opts downloadOptions

	cmd := &cobra.Command{
		Use:   "get <remote-file> [local-path]",
		Short: "Queue a download",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			local := ""
			if len(args) == 2 {
				local = args[1]
			}
			target, err := downloadTarget(args[0], local)
			if err != nil {
				return err
			}
			if err := checkOverwrite(target, opts.force); err != nil {
				return err
			}
			dest, err := destinationRequest(&conn)
			if err != nil {
				return err
			}
			client, err := getControlClient(*addr)
			if err != nil {
				return err
			}

			show := !opts.quiet
			info, err := client.Enqueue(GetContext(), api.TransferRequest{
				Kind:              transfer.KindDownload,
				RemotePath:        args[0],
				LocalPath:         target,
				TotalBytes:        opts.size,
				DisplayName:       opts.name,
				ShowSuccessNotice: &show,
				Destination:       dest,
			})
			if err != nil {
				return err
			}
			printQueued(info)
			return nil
		},
	}

	conn.register(cmd)
	cmd.Flags().Int64Var(&opts.size, "size", 0, "Remote file size in bytes, if known")
	cmd.Flags().StringVar(&opts.name, "name", "", "Display name (default: remote base name)")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Do not report a success message")
	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "Overwrite an existing local file without asking")
	return cmd
}

func newEnqueuePutCmd(addr *string) *cobra.Command {
	var conn connFlags
	var opts uploadOptions

	cmd := &cobra.Command{
		Use:   "put <local-file> [local-file...] <remote-path>",
		Short: "Queue uploads",
		Long: `Queue uploads of local files. Standard input cannot be sent to the
server; use 'shellxfer put -' for that.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sources, remote := args[:len(args)-1], args[len(args)-1]
			for _, s := range sources {
				if s == stdinArg {
					return errors.New("stdin uploads are not supported through the server (use 'shellxfer put -')")
				}
			}

			specs, err := buildUploadSpecs(sources, remote, channel.Destination{}, opts, nil)
			if err != nil {
				return err
			}
			dest, err := destinationRequest(&conn)
			if err != nil {
				return err
			}
			client, err := getControlClient(*addr)
			if err != nil {
				return err
			}

			show := !opts.quiet
			for _, spec := range specs {
				info, err := client.Enqueue(GetContext(), api.TransferRequest{
					Kind:              spec.Kind,
					RemotePath:        spec.RemotePath,
					LocalPath:         spec.LocalPath,
					TotalBytes:        spec.TotalBytes,
					DisplayName:       spec.DisplayName,
					ShowSuccessNotice: &show,
					ShowReloadNotice:  spec.ShowReloadNotice,
					Destination:       dest,
				})
				if err != nil {
					return fmt.Errorf("failed to queue %s: %w", spec.LocalPath, err)
				}
				printQueued(info)
			}
			return nil
		},
	}

	conn.register(cmd)
	cmd.Flags().StringVar(&opts.name, "name", "", "Display name for a single upload")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Do not report a success message")
	cmd.Flags().BoolVar(&opts.reload, "reload-notice", false, "Report completion as a file the remote side should reload")
	return cmd
}

// newCancelCmd creates the 'cancel' command.
func newCancelCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the active transfer on a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getControlClient(addr)
			if err != nil {
				return err
			}
			canceled, err := client.Cancel(GetContext())
			if err != nil {
				return err
			}
			if canceled {
				fmt.Println("Cancel requested")
			} else {
				fmt.Println("No active transfer")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "server", "", "Control API address (default from config)")
	return cmd
}

// newStatusCmd creates the 'status' command.
func newStatusCmd() *cobra.Command {
	var addr string
	var watch bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the queue of a running server",
		Long: `Show the active and pending transfers of a running server.

With --watch, follow progress and outcomes live until Ctrl+C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getControlClient(addr)
			if err != nil {
				return err
			}

			ctx := GetContext()
			status, err := client.Status(ctx)
			if err != nil {
				return err
			}
			printStatus(status)

			if !watch {
				return nil
			}
			return watchEvents(ctx, client)
		},
	}
	cmd.Flags().StringVar(&addr, "server", "", "Control API address (default from config)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow live progress")
	return cmd
}

func printStatus(status api.StatusResponse) {
	state := "idle"
	if status.Stats.Busy {
		state = "busy"
	}
	if !status.Stats.Running {
		state = "stopped"
	}
	fmt.Printf("Engine: %s  pending: %d  completed: %d\n", state, status.Stats.Pending, status.Stats.Completed)
	if len(status.Tasks) == 0 {
		return
	}

	fmt.Println()
	fmt.Printf("%-10s %-14s %-8s %-20s %s\n", "STATE", "KIND", "PROGRESS", "HOST", "REMOTE")
	for _, t := range status.Tasks {
		pct := "-"
		if t.TotalBytes > 0 {
			pct = fmt.Sprintf("%.1f%%", float64(t.Progress)*100/constants.ProgressScaleMax)
		} else if t.BytesDone > 0 {
			pct = transfer.FormatBytes(t.BytesDone)
		}
		fmt.Printf("%-10s %-14s %-8s %-20s %s\n", t.State, t.Kind, pct, t.Host, t.RemotePath)
	}
}

func watchEvents(ctx context.Context, client *api.Client) error {
	mode, err := progress.ParseMode(progressMode)
	if err != nil {
		return err
	}
	renderer := progress.New(mode, os.Stderr)
	defer renderer.Close()

	err = client.Events(ctx, func(ev events.Event) error {
		renderer.Handle(ev)
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// newHistoryCmd creates the 'history' command.
func newHistoryCmd() *cobra.Command {
	var limit int
	var keep int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show finished transfers",
		Long: `Show transfers recorded in the local history database, newest first.

Use --prune N to keep only the newest N records.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := GetConfig()
			store, err := history.Open(cfg.HistoryPath())
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := GetContext()
			if cmd.Flags().Changed("prune") {
				if keep < 0 {
					return errors.New("--prune must not be negative")
				}
				n, err := store.Prune(ctx, keep)
				if err != nil {
					return err
				}
				fmt.Printf("Removed %d record(s)\n", n)
				return nil
			}

			records, err := store.Recent(ctx, limit)
			if err != nil {
				return err
			}
			printHistory(records)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", constants.HistoryDefaultLimit, "Number of records to show (0 = all)")
	cmd.Flags().IntVar(&keep, "prune", 0, "Delete all but the newest N records")
	return cmd
}

func printHistory(records []history.Record) {
	if len(records) == 0 {
		fmt.Println("No transfers recorded")
		return
	}
	fmt.Printf("%-19s %-16s %-9s %-9s %s\n", "FINISHED", "OUTCOME", "SIZE", "REASON", "REMOTE")
	for _, r := range records {
		reason := r.Reason
		if reason == "" {
			reason = "-"
		}
		fmt.Printf("%-19s %-16s %-9s %-9s %s\n",
			r.FinishedAt.Local().Format(time.DateTime),
			r.Outcome, transfer.FormatBytes(r.Bytes), reason, r.RemotePath)
	}
}
