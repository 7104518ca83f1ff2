package serial

import (
	"bytes"
	"sync"
	"time"

	"github.com/go-faster/errors"
)

const (
	// DefaultBaudRate is used when Config.BaudRate is zero.
	DefaultBaudRate = 9600
	// DefaultDelimiter is used when Config.Delimiter is empty.
	DefaultDelimiter = "\n"
	// DefaultMaxLineLength is used when Config.MaxLineLength is zero.
	DefaultMaxLineLength = 64 * 1024

	readChunkSize = 4096
)

var (
	// ErrClosed is returned by ReadLine once the port has been closed.
	ErrClosed = errors.New("serial: port closed")
	// ErrUnsupportedBaud is returned by Open for a baud rate outside the supported table.
	ErrUnsupportedBaud = errors.New("serial: unsupported baud rate")
	// ErrInvalidConfig is returned by Open when the Config cannot be used.
	ErrInvalidConfig = errors.New("serial: invalid config")

	// errWoken is returned by a conn when Close interrupted a pending read.
	errWoken = errors.New("serial: read interrupted")
)

// supportedBaudRates lists the rates accepted by Open on every backend.
var supportedBaudRates = []int{1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200, 230400, 460800, 921600}

// Config holds configuration parameters for opening a serial port.
type Config struct {
	Device    string
	BaudRate  int    // default 9600
	Delimiter string // default "\n"
	// ReadTimeout bounds a single ReadLine call. Zero blocks until a delimiter arrives.
	ReadTimeout time.Duration
	// MaxLineLength caps a pending line; longer input is returned in pieces.
	MaxLineLength int
}

func (c Config) normalize() (Config, error) {
	if c.Device == "" {
		return c, errors.Wrap(ErrInvalidConfig, "empty device path")
	}
	if c.BaudRate == 0 {
		c.BaudRate = DefaultBaudRate
	}
	if !isSupportedBaud(c.BaudRate) {
		return c, errors.Wrapf(ErrUnsupportedBaud, "%d", c.BaudRate)
	}
	if c.Delimiter == "" {
		c.Delimiter = DefaultDelimiter
	}
	if c.ReadTimeout < 0 {
		return c, errors.Wrapf(ErrInvalidConfig, "negative read timeout %s", c.ReadTimeout)
	}
	if c.MaxLineLength == 0 {
		c.MaxLineLength = DefaultMaxLineLength
	}
	if c.MaxLineLength < 0 {
		return c, errors.Wrapf(ErrInvalidConfig, "negative max line length %d", c.MaxLineLength)
	}
	return c, nil
}

func isSupportedBaud(baud int) bool {
	for _, b := range supportedBaudRates {
		if b == baud {
			return true
		}
	}
	return false
}

// Line is one unit of input returned by ReadLine.
type Line struct {
	// Data holds the received bytes without the delimiter. It is owned by the caller.
	Data []byte
	// TimedOut reports that the read timeout elapsed before a delimiter arrived.
	// Data then holds whatever was received so far, possibly nothing.
	TimedOut bool
}

// conn is the platform-specific device handle underneath a Port.
type conn interface {
	// read waits at most wait (forever when negative) for input and reads it into buf.
	// It returns 0, nil when the wait elapses.
	read(buf []byte, wait time.Duration) (int, error)
	// wake unblocks a pending read.
	wake()
	close() error
}

// Port is an open serial device delivering delimiter-framed lines.
// It is safe for concurrent use by multiple goroutines.
type Port struct {
	name   string
	config Config
	conn   conn

	mu      sync.Mutex // serializes reads and guards pending
	pending []byte
	buf     []byte

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Open opens the serial device described by cfg in raw mode and returns a Port.
// The device is opened exactly once; callers release it with Close.
func Open(cfg Config) (*Port, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	c, err := openConn(cfg)
	if err != nil {
		return nil, err
	}
	return newPort(cfg, c), nil
}

func newPort(cfg Config, c conn) *Port {
	return &Port{
		name:   cfg.Device,
		config: cfg,
		conn:   c,
		buf:    make([]byte, readChunkSize),
		done:   make(chan struct{}),
	}
}

// Name returns the device path the port was opened with.
func (p *Port) Name() string { return p.name }

// Config returns the effective configuration, defaults applied.
func (p *Port) Config() Config { return p.config }

// ReadLine returns the next delimiter-framed line, or whatever arrived before
// the read timeout elapsed. Bytes following a delimiter are kept for the next call.
func (p *Port) ReadLine() (Line, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed() {
		return Line{}, ErrClosed
	}

	delim := []byte(p.config.Delimiter)
	var deadline time.Time
	if p.config.ReadTimeout > 0 {
		deadline = time.Now().Add(p.config.ReadTimeout)
	}

	for {
		if line, ok := p.cutLine(delim); ok {
			return line, nil
		}

		wait := time.Duration(-1)
		if !deadline.IsZero() {
			wait = time.Until(deadline)
			if wait <= 0 {
				return Line{Data: p.takePending(len(p.pending)), TimedOut: true}, nil
			}
		}

		n, err := p.conn.read(p.buf, wait)
		if p.closed() || errors.Is(err, errWoken) {
			return Line{}, ErrClosed
		}
		if err != nil {
			return Line{}, errors.Wrapf(err, "read %s", p.name)
		}
		p.pending = append(p.pending, p.buf[:n]...)
	}
}

// cutLine extracts the first complete line from pending, if any. A line
// longer than MaxLineLength is returned in MaxLineLength pieces. Trailing
// bytes that may start a delimiter are never part of a piece.
func (p *Port) cutLine(delim []byte) (Line, bool) {
	limit := p.config.MaxLineLength
	idx := bytes.Index(p.pending, delim)
	switch {
	case idx >= 0 && idx <= limit:
		data := p.takePending(idx)
		p.pending = append(p.pending[:0], p.pending[len(delim):]...)
		return Line{Data: data}, true
	case idx > limit:
		return Line{Data: p.takePending(limit)}, true
	case idx < 0 && len(p.pending)-partialDelimiter(p.pending, delim) >= limit:
		return Line{Data: p.takePending(limit)}, true
	}
	return Line{}, false
}

// partialDelimiter returns the length of the longest suffix of b that is a
// proper prefix of delim.
func partialDelimiter(b, delim []byte) int {
	for k := min(len(delim)-1, len(b)); k > 0; k-- {
		if bytes.HasSuffix(b, delim[:k]) {
			return k
		}
	}
	return 0
}

// takePending copies out the first n pending bytes and drops them.
func (p *Port) takePending(n int) []byte {
	data := make([]byte, n)
	copy(data, p.pending[:n])
	p.pending = append(p.pending[:0], p.pending[n:]...)
	return data
}

func (p *Port) closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Close closes the serial port and unblocks any pending ReadLine call.
// Safe to call multiple times; subsequent calls return the first result.
func (p *Port) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		p.conn.wake()
		// Wait for an in-flight read to observe done before releasing descriptors.
		p.mu.Lock()
		defer p.mu.Unlock()
		p.closeErr = p.conn.close()
	})
	return p.closeErr
}
