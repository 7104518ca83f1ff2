// Package echo runs the serial reader loop: one line read, one line printed,
// until the context is cancelled or the device fails.
package echo

import (
	"context"
	"io"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	serial "github.com/luhtfiimanal/serialecho"
	"github.com/luhtfiimanal/serialecho/internal/logger"
)

// LineReader is the subset of *serial.Port used by the loop.
type LineReader interface {
	ReadLine() (serial.Line, error)
}

// Stats counts what a Loop has done so far.
type Stats struct {
	Lines    int // iterations that printed a line
	Timeouts int // of which ended on the read timeout
}

// Loop copies lines from a LineReader to an io.Writer.
type Loop struct {
	reader LineReader
	out    io.Writer
	buf    []byte
	stats  Stats
}

// New returns a Loop reading from r and printing to out. r is used for the
// whole lifetime of the loop; it is never reopened.
func New(r LineReader, out io.Writer) *Loop {
	return &Loop{reader: r, out: out}
}

// Run reads lines until ctx is cancelled or a read or write fails. Each
// iteration writes exactly one line to out: the received bytes followed by
// '\n'. A read that times out prints an empty or partial line.
//
// If the reader is also an io.Closer, cancelling ctx closes it to unblock a
// pending read, and the resulting serial.ErrClosed is reported as a clean stop.
func (l *Loop) Run(ctx context.Context) error {
	if c, ok := l.reader.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() {
			if err := c.Close(); err != nil {
				logger.Warn(ctx, "close reader", zap.Error(err))
			}
		})
		defer stop()
	}

	logger.Info(ctx, "echo loop started")
	for {
		if ctx.Err() != nil {
			l.logStopped(ctx)
			return nil
		}

		line, err := l.reader.ReadLine()
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, serial.ErrClosed) {
				l.logStopped(ctx)
				return nil
			}
			return errors.Wrap(err, "read line")
		}

		if line.TimedOut {
			l.stats.Timeouts++
			logger.Debug(ctx, "read timed out", zap.Int("partial_bytes", len(line.Data)))
		}

		l.buf = append(append(l.buf[:0], line.Data...), '\n')
		if _, err := l.out.Write(l.buf); err != nil {
			return errors.Wrap(err, "write line")
		}
		l.stats.Lines++
	}
}

// Stats returns the counters accumulated by Run. It must not be called
// concurrently with Run.
func (l *Loop) Stats() Stats { return l.stats }

func (l *Loop) logStopped(ctx context.Context) {
	logger.Info(ctx, "echo loop stopped",
		zap.Int("lines", l.stats.Lines),
		zap.Int("timeouts", l.stats.Timeouts),
	)
}
