// Package serial provides a minimal line-oriented serial port reader for
// talking to embedded boards over a USB-serial adapter.
//
// Lines are framed by a configurable delimiter (default "\n") and every
// ReadLine call is bounded by Config.ReadTimeout, so a silent device yields an
// empty, timed-out Line instead of blocking forever. The wire format is treated
// as opaque bytes.
//
// Features:
//   - Raw termios configuration on Linux via golang.org/x/sys/unix
//   - go.bug.st/serial backend on other platforms
//   - Bytes after a delimiter are kept for the next read, never dropped
//   - Close unblocks a pending read (self-pipe on Linux)
//   - PTY-based tests
//
// Example usage:
//
//	port, err := serial.Open(serial.Config{
//	    Device:      "/dev/ttyUSB0",
//	    BaudRate:    9600,
//	    ReadTimeout: 500 * time.Millisecond,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer port.Close()
//
//	for {
//	    line, err := port.ReadLine()
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Printf("%s\n", line.Data)
//	}
package serial
