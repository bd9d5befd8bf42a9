package transfer

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rescale/shellxfer/internal/channel"
	"github.com/rescale/shellxfer/internal/codec"
)

// openDownloadTarget opens the local file positioned at the task's resume
// point. Bytes past that point (a torn write from an earlier attempt) are
// discarded.
func openDownloadTarget(t *Task) (*os.File, error) {
	if dir := filepath.Dir(t.LocalPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(t.LocalPath, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	pos := t.Position()
	if err := f.Truncate(pos); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Seek(pos, 0); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// download pulls one dd block per round trip and appends it locally.
//
// The loop ends when a known total is reached, when the remote returns an
// empty chunk, or after a short chunk. A file shorter than its declared
// total completes with the bytes it had. A retry resumes at the task position.
func (e *Engine) download(ctx context.Context, ch channel.Channel, t *Task, rep *reporter) error {
	total := t.TotalBytes
	blockSize := e.opts.BlockSize

	if total > 0 && t.Position() == 0 {
		if err := e.opts.SpaceCheck(t.LocalPath, total); err != nil {
			return newError(LocalIOFailure, OpOpenLocal, err)
		}
	}

	f, err := openDownloadTarget(t)
	if err != nil {
		return newError(LocalIOFailure, OpOpenLocal, err)
	}
	defer f.Close()

	rep.update(t.Position(), false)

	for {
		if err := t.checkpoint(); err != nil {
			return err
		}

		pos := t.Position()
		if total > 0 && total-pos <= 0 {
			break
		}

		cmd := codec.DownloadChunkCommand(t.RemotePath, blockSize, codec.BlockIndex(pos, blockSize))
		out, err := ch.Exec(ctx, cmd)
		if err != nil {
			return fromChannel(OpReadChunk, err)
		}

		chunk, err := codec.DecodeChunk(out)
		if err != nil {
			return newError(RemoteIOFailure, OpReadChunk, err)
		}
		// Remote EOF, even short of a declared total.
		if len(chunk) == 0 {
			break
		}

		short := len(chunk) < blockSize
		if total > 0 && pos+int64(len(chunk)) > total {
			chunk = chunk[:total-pos]
		}

		if _, err := f.Write(chunk); err != nil {
			return newError(LocalIOFailure, OpWriteLocal, err)
		}
		done := t.advance(len(chunk))
		rep.update(done, false)

		if short {
			break
		}
	}

	if err := f.Sync(); err != nil {
		return newError(LocalIOFailure, OpWriteLocal, err)
	}
	rep.update(t.Position(), true)
	return nil
}
