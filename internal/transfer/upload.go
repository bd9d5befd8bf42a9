package transfer

import (
	"context"
	"errors"
	"io"

	"github.com/rescale/shellxfer/internal/channel"
	"github.com/rescale/shellxfer/internal/codec"
)

// upload empties the remote file, then appends one base64 chunk per buffer
// read from the source. Every attempt starts over from byte zero.
func (e *Engine) upload(ctx context.Context, ch channel.Channel, t *Task, rep *reporter) error {
	src, err := t.openSource()
	if err != nil {
		return err
	}
	defer src.Close()

	if err := t.checkpoint(); err != nil {
		return err
	}
	if _, err := ch.Exec(ctx, codec.TruncateCommand(t.RemotePath)); err != nil {
		return fromChannel(OpTruncate, err)
	}

	t.restartFromZero()
	rep.update(0, false)

	buf := make([]byte, e.opts.UploadBufferSize)
	for {
		if err := t.checkpoint(); err != nil {
			return err
		}

		n, rerr := io.ReadFull(src, buf)
		if n > 0 {
			if err := t.checkpoint(); err != nil {
				return err
			}
			if _, err := ch.Exec(ctx, codec.AppendChunkCommand(t.RemotePath, buf[:n])); err != nil {
				return fromChannel(OpAppend, err)
			}
			rep.update(t.advance(n), false)
		}

		if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
			break
		}
		if rerr != nil {
			return newError(LocalIOFailure, OpReadSource, rerr)
		}
	}

	rep.update(t.Position(), true)
	return nil
}
