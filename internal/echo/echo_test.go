package echo

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	serial "github.com/luhtfiimanal/serialecho"
	"github.com/luhtfiimanal/serialecho/internal/logger"
)

var errUnplugged = errors.New("unplugged")

// scriptedReader replays lines and then fails with errUnplugged.
type scriptedReader struct {
	lines []serial.Line
	calls int
}

func (r *scriptedReader) ReadLine() (serial.Line, error) {
	r.calls++
	if len(r.lines) == 0 {
		return serial.Line{}, errUnplugged
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}

// blockingReader blocks every read until Close, like a silent device with no timeout.
type blockingReader struct {
	once   sync.Once
	closed chan struct{}
	closes int
}

func newBlockingReader() *blockingReader {
	return &blockingReader{closed: make(chan struct{})}
}

func (r *blockingReader) ReadLine() (serial.Line, error) {
	<-r.closed
	return serial.Line{}, serial.ErrClosed
}

func (r *blockingReader) Close() error {
	r.once.Do(func() {
		r.closes++
		close(r.closed)
	})
	return nil
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("stdout closed") }

func TestLoop_EchoesEveryLine(t *testing.T) {
	r := &scriptedReader{lines: []serial.Line{
		{Data: []byte("T1=21.5")},
		{Data: []byte{0x00, 0xff, 'x'}},
		{Data: []byte("RELAY1=ON")},
	}}
	var out bytes.Buffer

	l := New(r, &out)
	err := l.Run(context.Background())

	require.ErrorIs(t, err, errUnplugged)
	require.Equal(t, "T1=21.5\n\x00\xffx\nRELAY1=ON\n", out.String())
	require.Equal(t, Stats{Lines: 3}, l.Stats())
	require.Equal(t, 4, r.calls)
}

func TestLoop_TimeoutPrintsLine(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ctx := logger.WithLogger(context.Background(), zap.New(core))

	r := &scriptedReader{lines: []serial.Line{
		{TimedOut: true},
		{Data: []byte("par"), TimedOut: true},
		{Data: []byte("tial")},
	}}
	var out bytes.Buffer

	l := New(r, &out)
	require.ErrorIs(t, l.Run(ctx), errUnplugged)

	require.Equal(t, "\npar\ntial\n", out.String())
	require.Equal(t, Stats{Lines: 3, Timeouts: 2}, l.Stats())
	require.Equal(t, 2, logs.FilterMessage("read timed out").Len())
}

func TestLoop_CancelClosesReader(t *testing.T) {
	r := newBlockingReader()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- New(r, &bytes.Buffer{}).Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after cancel")
	}
	require.Equal(t, 1, r.closes)
}

func TestLoop_ClosedWithoutCancelIsAnError(t *testing.T) {
	r := newBlockingReader()
	require.NoError(t, r.Close())

	err := New(r, &bytes.Buffer{}).Run(context.Background())
	require.ErrorIs(t, err, serial.ErrClosed)
}

func TestLoop_AlreadyCancelled(t *testing.T) {
	r := &scriptedReader{lines: []serial.Line{{Data: []byte("x")}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	require.NoError(t, New(r, &out).Run(ctx))
	require.Zero(t, r.calls)
	require.Empty(t, out.String())
}

func TestLoop_WriteError(t *testing.T) {
	r := &scriptedReader{lines: []serial.Line{{Data: []byte("x")}}}
	err := New(r, failingWriter{}).Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "write line")
	require.Equal(t, 1, r.calls)
}
