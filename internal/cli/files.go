package cli

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rescale/shellxfer/internal/channel"
	"github.com/rescale/shellxfer/internal/config"
	"github.com/rescale/shellxfer/internal/pathutil"
	"github.com/rescale/shellxfer/internal/transfer"
)

// downloadOptions are the per-task flags of get and enqueue get.
type downloadOptions struct {
	size  int64
	name  string
	quiet bool
	force bool
}

// downloadTarget resolves the local file for remote. An empty local means
// the remote base name in the current directory; a directory (existing, or
// written with a trailing separator) receives the remote base name.
func downloadTarget(remote, local string) (string, error) {
	base := path.Base(remote)
	if base == "/" || base == "." {
		return "", fmt.Errorf("remote path %q does not name a file", remote)
	}
	if local == "" {
		return pathutil.ResolveAbsolutePath(base)
	}
	if strings.HasSuffix(local, string(filepath.Separator)) || strings.HasSuffix(local, "/") {
		return pathutil.ResolveAbsolutePath(filepath.Join(local, base))
	}
	resolved, err := pathutil.ResolveAbsolutePath(local)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(resolved); err == nil && info.IsDir() {
		return filepath.Join(resolved, base), nil
	}
	return resolved, nil
}

// checkOverwrite refuses to replace an existing file unless forced or
// confirmed interactively.
func checkOverwrite(localPath string, force bool) error {
	info, err := os.Stat(localPath)
	if os.IsNotExist(err) || force {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", localPath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("'%s' is a directory", localPath)
	}
	ok, err := confirmOverwrite(localPath)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s already exists (use --force to overwrite)", localPath)
	}
	return nil
}

func buildDownloadSpec(remote, local string, dest channel.Destination, opts downloadOptions) (transfer.TaskSpec, error) {
	target, err := downloadTarget(remote, local)
	if err != nil {
		return transfer.TaskSpec{}, err
	}
	if opts.size < 0 {
		return transfer.TaskSpec{}, fmt.Errorf("--size must not be negative")
	}
	return transfer.TaskSpec{
		Kind:              transfer.KindDownload,
		DisplayName:       opts.name,
		RemotePath:        remote,
		TotalBytes:        opts.size,
		LocalPath:         target,
		ShowSuccessNotice: !opts.quiet,
		Destination:       dest,
	}, nil
}

// newGetCmd creates the 'get' command.
func newGetCmd() *cobra.Command {
	var conn connFlags
	var opts downloadOptions

	cmd := &cobra.Command{
		Use:   "get <remote-file> [local-path]",
		Short: "Download one remote file",
		Long: `Download a file from the remote host, one block per shell command.

Without --size the transfer runs until the remote returns a short block.
With --size progress and ETA are shown and a truncated remote file fails
the transfer.

Examples:
  shellxfer get -H ops@build01 /var/log/app.log
  shellxfer get -H build01 -i ~/.ssh/id_ed25519 /data/out.tar ./results/
  shellxfer get -H build01 --ask-password --size 1048576 /tmp/core core.bin`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := GetConfig()
			dest, err := conn.destination(cfg)
			if err != nil {
				return err
			}

			local := ""
			if len(args) == 2 {
				local = args[1]
			}
			spec, err := buildDownloadSpec(args[0], local, dest, opts)
			if err != nil {
				return err
			}
			if err := checkOverwrite(spec.LocalPath, opts.force); err != nil {
				return err
			}

			return runLocal(cfg, []transfer.TaskSpec{spec})
		},
	}

	conn.register(cmd)
	cmd.Flags().Int64Var(&opts.size, "size", 0, "Remote file size in bytes, if known")
	cmd.Flags().StringVar(&opts.name, "name", "", "Display name (default: remote base name)")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Do not print a success message")
	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "Overwrite an existing local file without asking")

	return cmd
}

// newPutCmd creates the 'put' command.
func newPutCmd() *cobra.Command {
	var conn connFlags
	var opts uploadOptions

	cmd := &cobra.Command{
		Use:   "put <local-file|-> [local-file...] <remote-path>",
		Short: "Upload local files (or stdin) to the remote host",
		Long: `Upload files to the remote host. The remote file is truncated first,
then every chunk is appended with echo and base64 -d.

Use - as the source to upload standard input. Standard input cannot be
replayed, so a failed attempt is not retried with a partial stream.

When several files are given, or the remote path ends with /, each file
is placed under the remote directory with its own name.

Examples:
  shellxfer put -H ops@build01 report.csv /srv/reports/report.csv
  shellxfer put -H build01 "*.log" /var/tmp/logs/
  tar cz src | shellxfer put -H build01 - /tmp/src.tgz`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sources, remote := args[:len(args)-1], args[len(args)-1]
			for _, s := range sources {
				if s == stdinArg && conn.passwordStdin {
					return fmt.Errorf("--password-stdin cannot be used when uploading from stdin")
				}
			}

			cfg := GetConfig()
			dest, err := conn.destination(cfg)
			if err != nil {
				return err
			}
			specs, err := buildUploadSpecs(sources, remote, dest, opts, os.Stdin)
			if err != nil {
				return err
			}
			return runLocal(cfg, specs)
		},
	}

	conn.register(cmd)
	cmd.Flags().StringVar(&opts.name, "name", "", "Display name for a single upload")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Do not print a success message")
	cmd.Flags().BoolVar(&opts.reload, "reload-notice", false, "Report completion as a file the remote side should reload")

	return cmd
}

// newBatchCmd creates the 'batch' command.
func newBatchCmd() *cobra.Command {
	var conn connFlags
	var force bool

	cmd := &cobra.Command{
		Use:   "batch <manifest>",
		Short: "Run many transfers from a CSV or JSON manifest",
		Long: `Queue every transfer in a manifest and run them one at a time.

CSV manifests need a header row with direction, remote and local columns.
Optional columns are size, name and host. Lines starting with # are
comments. JSON manifests are an array of objects with the same fields.

  direction,remote,local,size
  get,/var/log/app.log,logs/app.log,
  put,/srv/reports/report.csv,report.csv,

A host column overrides --host for that row.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := config.LoadManifest(args[0])
			if err != nil {
				return err
			}

			cfg := GetConfig()
			specs, err := manifestSpecs(entries, &conn, cfg, force)
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "Queued %d transfer(s) from %s\n", len(specs), args[0])
			return runLocal(cfg, specs)
		},
	}

	conn.register(cmd)
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing local files without asking")

	return cmd
}

// manifestSpecs resolves every entry against the connection flags. The
// secret is read at most once.
func manifestSpecs(entries []config.ManifestEntry, conn *connFlags, cfg *config.Config, force bool) ([]transfer.TaskSpec, error) {
	var secret *string
	readSecret := func(label string) (string, error) {
		if secret != nil {
			return *secret, nil
		}
		var s string
		var err error
		if conn.passwordStdin {
			s, err = readSecretLine(os.Stdin)
		} else {
			s, err = promptPassword(label)
		}
		if err != nil {
			return "", err
		}
		secret = &s
		return s, nil
	}

	specs := make([]transfer.TaskSpec, 0, len(entries))
	for i, e := range entries {
		flags := *conn
		if e.Host != "" {
			flags.host = e.Host
		}
		dest, err := flags.resolve(cfg, readSecret)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i+1, err)
		}

		switch e.Direction {
		case config.DirectionGet:
			spec, err := buildDownloadSpec(e.Remote, e.Local, dest, downloadOptions{size: e.Size, name: e.Name})
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i+1, err)
			}
			if err := checkOverwrite(spec.LocalPath, force); err != nil {
				return nil, fmt.Errorf("entry %d: %w", i+1, err)
			}
			specs = append(specs, spec)
		case config.DirectionPut:
			if e.Local == stdinArg {
				return nil, fmt.Errorf("entry %d: manifests cannot upload from stdin", i+1)
			}
			up, err := buildUploadSpecs([]string{e.Local}, e.Remote, dest, uploadOptions{name: e.Name}, nil)
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i+1, err)
			}
			specs = append(specs, up...)
		}
	}
	return specs, nil
}

// runLocal drives an in-process engine over SSH until the queue drains.
func runLocal(cfg *config.Config, specs []transfer.TaskSpec) error {
	log := GetLogger()
	s, err := newSession(cfg, log, sshFactory(cfg, log), true)
	if err != nil {
		return err
	}
	return s.run(GetContext(), specs)
}
