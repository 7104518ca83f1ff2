//go:build linux

package serial

import (
	"io"
	"time"

	"github.com/go-faster/errors"
	"golang.org/x/sys/unix"
)

// unixConn is a raw termios device plus a self-pipe used to interrupt poll.
type unixConn struct {
	fd    int
	pipeR int
	pipeW int
}

func openConn(cfg Config) (conn, error) {
	speed, ok := baudToUnix(cfg.BaudRate)
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedBaud, "%d", cfg.BaudRate)
	}

	fd, err := unix.Open(cfg.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", cfg.Device)
	}

	if err := configureRaw(fd, speed); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "configure %s", cfg.Device)
	}

	// Back to blocking mode now that the line is configured; poll bounds every read.
	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "set blocking")
	}

	pipeFds := make([]int, 2)
	if err := unix.Pipe2(pipeFds, unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "pipe")
	}

	return &unixConn{fd: fd, pipeR: pipeFds[0], pipeW: pipeFds[1]}, nil
}

func configureRaw(fd int, speed uint32) error {
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return errors.Wrap(err, "get termios")
	}

	// Raw mode, 8N1
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB
	termios.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= speed

	// Reads return as soon as one byte is available.
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return errors.Wrap(err, "set termios")
	}
	return nil
}

func (c *unixConn) read(buf []byte, wait time.Duration) (int, error) {
	pfd := []unix.PollFd{
		{Fd: int32(c.fd), Events: unix.POLLIN},
		{Fd: int32(c.pipeR), Events: unix.POLLIN},
	}
	for {
		n, err := unix.Poll(pfd, pollTimeout(wait))
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, errors.Wrap(err, "poll")
		}
		if n == 0 {
			return 0, nil
		}
		break
	}

	if pfd[1].Revents != 0 {
		var b [1]byte
		_, _ = unix.Read(c.pipeR, b[:])
		return 0, errWoken
	}
	if pfd[0].Revents&unix.POLLNVAL != 0 {
		return 0, errors.New("invalid device descriptor")
	}
	// POLLHUP and POLLERR fall through to read so the caller sees the real error.
	for {
		n, err := unix.Read(c.fd, buf)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, io.EOF
		}
		return n, nil
	}
}

// pollTimeout converts wait to poll(2) milliseconds, rounding up.
func pollTimeout(wait time.Duration) int {
	if wait < 0 {
		return -1
	}
	return int((wait + time.Millisecond - 1) / time.Millisecond)
}

func (c *unixConn) wake() {
	_, _ = unix.Write(c.pipeW, []byte{1})
}

func (c *unixConn) close() error {
	err := unix.Close(c.fd)
	unix.Close(c.pipeR)
	unix.Close(c.pipeW)
	return err
}

func baudToUnix(baud int) (uint32, bool) {
	switch baud {
	case 1200:
		return unix.B1200, true
	case 2400:
		return unix.B2400, true
	case 4800:
		return unix.B4800, true
	case 9600:
		return unix.B9600, true
	case 19200:
		return unix.B19200, true
	case 38400:
		return unix.B38400, true
	case 57600:
		return unix.B57600, true
	case 115200:
		return unix.B115200, true
	case 230400:
		return unix.B230400, true
	case 460800:
		return unix.B460800, true
	case 921600:
		return unix.B921600, true
	default:
		return 0, false
	}
}
