// Package pipe moves bytes between readers and writers, optionally on a
// runner goroutine, and transcodes text between charsets.
package pipe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/jdbcx/jdbcx/internal/async"
	"github.com/jdbcx/jdbcx/internal/model"
)

const chunkSize = 8 * 1024

// Copy copies src to dst in chunks and stops between chunks once ctx is
// done. It returns the number of bytes written.
func Copy(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	if dst == nil || src == nil {
		return 0, nil
	}
	buf := make([]byte, chunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, model.Cancelled("copy", context.Cause(ctx))
		}
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return written, nil
			}
			return written, rerr
		}
	}
}

// Pump runs Copy through the runner and closes closers once the copy ends,
// whatever the outcome. Parallelism <= 0 copies on the calling goroutine.
func Pump(ctx context.Context, r *async.Runner, parallelism int, dst io.Writer, src io.Reader, closers ...io.Closer) *async.Task[int64] {
	return async.Supply(ctx, r, parallelism, copyAndClose(dst, src, closers))
}

// Detach is Pump on a goroutine of its own, for sources whose Read may block
// past any deadline. Await the task with a timeout.
func Detach(ctx context.Context, dst io.Writer, src io.Reader, closers ...io.Closer) *async.Task[int64] {
	return async.Go(ctx, copyAndClose(dst, src, closers))
}

func copyAndClose(dst io.Writer, src io.Reader, closers []io.Closer) func(context.Context) (int64, error) {
	return func(ctx context.Context) (int64, error) {
		defer func() {
			for _, c := range closers {
				if c == nil {
					continue
				}
				if err := c.Close(); err != nil && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, os.ErrClosed) {
					slog.DebugContext(ctx, "closing pipe", "error", err)
				}
			}
		}()
		return Copy(ctx, dst, src)
	}
}
