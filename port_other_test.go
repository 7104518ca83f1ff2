//go:build !linux

package serial

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/require"
	bugst "go.bug.st/serial"
)

// fakeBugstPort blocks reads until Close, or returns data queued in chunks.
type fakeBugstPort struct {
	bugst.Port // methods the backend never calls

	mu       sync.Mutex
	chunks   [][]byte
	timeouts []time.Duration
	closes   int
	closed   chan struct{}
}

func newFakeBugstPort(chunks ...string) *fakeBugstPort {
	f := &fakeBugstPort{closed: make(chan struct{})}
	for _, c := range chunks {
		f.chunks = append(f.chunks, []byte(c))
	}
	return f
}

func (f *fakeBugstPort) SetReadTimeout(t time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeouts = append(f.timeouts, t)
	return nil
}

func (f *fakeBugstPort) Read(p []byte) (int, error) {
	f.mu.Lock()
	if len(f.chunks) > 0 {
		n := copy(p, f.chunks[0])
		f.chunks = f.chunks[1:]
		f.mu.Unlock()
		return n, nil
	}
	timeout := f.timeouts[len(f.timeouts)-1]
	f.mu.Unlock()

	if timeout >= 0 {
		select {
		case <-time.After(timeout):
			return 0, nil
		case <-f.closed:
		}
	} else {
		<-f.closed
	}
	return 0, errors.New("port closed")
}

func (f *fakeBugstPort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	if f.closes == 1 {
		close(f.closed)
	}
	return nil
}

func TestOpen_MissingDeviceOther(t *testing.T) {
	_, err := Open(Config{Device: filepath.Join(t.TempDir(), "ttyUSB0")})
	require.Error(t, err)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestBugstConn_ReadLine(t *testing.T) {
	fake := newFakeBugstPort("T1=21", ".5\nRELAY1=ON\n")
	port := newPort(Config{Device: "COM3", Delimiter: "\n", ReadTimeout: 50 * time.Millisecond, MaxLineLength: DefaultMaxLineLength}, &bugstConn{port: fake})

	for _, want := range []string{"T1=21.5", "RELAY1=ON"} {
		line, err := port.ReadLine()
		require.NoError(t, err)
		require.False(t, line.TimedOut)
		require.Equal(t, want, string(line.Data))
	}

	line, err := port.ReadLine()
	require.NoError(t, err)
	require.True(t, line.TimedOut)
	require.Empty(t, line.Data)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	for _, timeout := range fake.timeouts {
		require.Greater(t, timeout, time.Duration(0))
		require.LessOrEqual(t, timeout, 50*time.Millisecond)
	}
}

func TestBugstConn_CloseUnblocksRead(t *testing.T) {
	fake := newFakeBugstPort()
	port := newPort(Config{Device: "COM3", Delimiter: "\n", MaxLineLength: DefaultMaxLineLength}, &bugstConn{port: fake})

	errs := make(chan error, 1)
	go func() {
		_, err := port.ReadLine()
		errs <- err
	}()

	// Give the goroutine a chance to block
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, port.Close())

	select {
	case err := <-errs:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for ReadLine to return after Close")
	}

	require.NoError(t, port.Close())
	fake.mu.Lock()
	require.Equal(t, 1, fake.closes)
	require.Equal(t, bugst.NoTimeout, fake.timeouts[0])
	fake.mu.Unlock()

	_, err := port.ReadLine()
	require.ErrorIs(t, err, ErrClosed)
}
