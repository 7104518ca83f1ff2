//go:build !linux

package serial

import (
	"os"
	"time"

	"github.com/go-faster/errors"
	bugst "go.bug.st/serial"
)

// bugstConn backs a Port with go.bug.st/serial where raw termios is unavailable.
type bugstConn struct {
	port     bugst.Port
	closeErr error
}

func openConn(cfg Config) (conn, error) {
	port, err := bugst.Open(cfg.Device, &bugst.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	})
	if err != nil {
		var portErr *bugst.PortError
		if errors.As(err, &portErr) && portErr.Code() == bugst.PortNotFound {
			return nil, errors.Wrapf(os.ErrNotExist, "open %s", cfg.Device)
		}
		return nil, errors.Wrapf(err, "open %s", cfg.Device)
	}
	return &bugstConn{port: port}, nil
}

func (c *bugstConn) read(buf []byte, wait time.Duration) (int, error) {
	timeout := bugst.NoTimeout
	if wait >= 0 {
		timeout = wait
	}
	if err := c.port.SetReadTimeout(timeout); err != nil {
		return 0, errors.Wrap(err, "set read timeout")
	}
	return c.port.Read(buf)
}

// wake closes the port, which is the only way to interrupt a pending Read here.
func (c *bugstConn) wake() {
	c.closeErr = c.port.Close()
}

func (c *bugstConn) close() error {
	return c.closeErr
}
