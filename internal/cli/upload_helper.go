package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/rescale/shellxfer/internal/channel"
	"github.com/rescale/shellxfer/internal/transfer"
)

// stdinArg names standard input as the upload source.
const stdinArg = "-"

// expandGlobPatterns expands glob patterns like *.zip, even when quoted
// Returns deduplicated list of file paths
func expandGlobPatterns(patterns []string) ([]string, error) {
	var expandedFiles []string
	seenFiles := make(map[string]bool)

	add := func(p string) error {
		absPath, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("failed to get absolute path for %s: %w", p, err)
		}
		if !seenFiles[absPath] {
			expandedFiles = append(expandedFiles, absPath)
			seenFiles[absPath] = true
		}
		return nil
	}

	for _, pattern := range patterns {
		if !strings.ContainsAny(pattern, "*?[]") {
			if err := add(pattern); err != nil {
				return nil, err
			}
			continue
		}

		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern '%s': %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match pattern: %s", pattern)
		}
		for _, match := range matches {
			if err := add(match); err != nil {
				return nil, err
			}
		}
	}

	return expandedFiles, nil
}

// onceOpener hands r out to the first attempt only. A retry after r was
// consumed fails instead of uploading whatever tail is left.
func onceOpener(r io.Reader) transfer.StreamOpener {
	var used atomic.Bool
	return func() (io.ReadCloser, error) {
		if used.Swap(true) {
			return nil, errors.New("standard input was consumed by an earlier attempt")
		}
		return io.NopCloser(r), nil
	}
}

// remoteTarget places a local file under remote when remote names a
// directory (trailing slash) or several files go to the same place.
func remoteTarget(local, remote string, many bool) string {
	if many || strings.HasSuffix(remote, "/") {
		return path.Join(remote, filepath.Base(local))
	}
	return remote
}

// uploadOptions are the per-task flags of put and enqueue put.
type uploadOptions struct {
	quiet  bool
	reload bool
	name   string
}

// buildUploadSpecs turns put arguments into tasks. stdin is used only for
// the "-" source.
func buildUploadSpecs(sources []string, remote string, dest channel.Destination, opts uploadOptions, stdin io.Reader) ([]transfer.TaskSpec, error) {
	if len(sources) == 1 && sources[0] == stdinArg {
		if strings.HasSuffix(remote, "/") {
			return nil, errors.New("uploading from stdin needs a remote file path, not a directory")
		}
		return []transfer.TaskSpec{{
			Kind:              transfer.KindUploadFromStream,
			DisplayName:       opts.name,
			RemotePath:        remote,
			Stream:            onceOpener(stdin),
			ShowSuccessNotice: !opts.quiet,
			ShowReloadNotice:  opts.reload,
			Destination:       dest,
		}}, nil
	}

	for _, s := range sources {
		if s == stdinArg {
			return nil, errors.New("stdin cannot be combined with other sources")
		}
	}

	files, err := expandGlobPatterns(sources)
	if err != nil {
		return nil, err
	}

	many := len(files) > 1
	specs := make([]transfer.TaskSpec, 0, len(files))
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			return nil, fmt.Errorf("file not found: %s", f)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("'%s' is a directory, not a file", f)
		}
		name := opts.name
		if many {
			name = ""
		}
		specs = append(specs, transfer.TaskSpec{
			Kind:              transfer.KindUploadFromFile,
			DisplayName:       name,
			RemotePath:        remoteTarget(f, remote, many),
			TotalBytes:        info.Size(),
			LocalPath:         f,
			ShowSuccessNotice: !opts.quiet,
			ShowReloadNotice:  opts.reload,
			Destination:       dest,
		})
	}
	return specs, nil
}
