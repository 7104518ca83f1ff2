// Command serialecho opens a serial device and prints every line it receives
// to standard output until interrupted.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	serial "github.com/luhtfiimanal/serialecho"
	"github.com/luhtfiimanal/serialecho/internal/config"
	"github.com/luhtfiimanal/serialecho/internal/echo"
	"github.com/luhtfiimanal/serialecho/internal/logger"
)

type flags struct {
	configPath  string
	environment string
	device      string
	baud        int
	timeout     time.Duration
	delimiter   string
}

func newRootCommand() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "serialecho",
		Short: "Print lines received on a serial port",
		Example: `  serialecho
  serialecho --device /dev/ttyACM0 --baud 115200
  serialecho --delimiter '\r\n' --timeout 2s`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(f.configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd, &f, cfg)

			if err := logger.Setup(cfg.Environment); err != nil {
				return errors.Wrap(err, "setup logger")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx = logger.WithFields(ctx, zap.String("device", cfg.Serial.Device))
			defer logger.Sync(ctx)

			if err := run(ctx, cfg, cmd.OutOrStdout()); err != nil {
				logger.Error(ctx, "serialecho failed", zap.Error(err))
				return loggedError{err}
			}
			return nil
		},
	}

	bindFlags(cmd, &f)
	return cmd
}

func bindFlags(cmd *cobra.Command, f *flags) {
	fs := cmd.Flags()
	fs.StringVarP(&f.configPath, "config", "c", "", "YAML config file (optional)")
	fs.StringVar(&f.environment, "environment", "", "logger environment: development | production")
	fs.StringVarP(&f.device, "device", "d", "", "serial device path")
	fs.IntVarP(&f.baud, "baud", "b", 0, "baud rate")
	fs.DurationVarP(&f.timeout, "timeout", "t", 0, "read timeout per line (0 waits forever)")
	fs.StringVar(&f.delimiter, "delimiter", "", `line delimiter, escapes allowed (e.g. '\r\n')`)
}

// applyFlags overrides cfg with the flags the user set explicitly.
func applyFlags(cmd *cobra.Command, f *flags, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("environment") {
		cfg.Environment = f.environment
	}
	if changed("device") {
		cfg.Serial.Device = f.device
	}
	if changed("baud") {
		cfg.Serial.BaudRate = f.baud
	}
	if changed("timeout") {
		cfg.Serial.ReadTimeout = f.timeout
	}
	if changed("delimiter") {
		cfg.Serial.Delimiter = f.delimiter
	}
}

// run opens the device once and echoes it to out until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, out io.Writer) error {
	sc, err := cfg.SerialConfig()
	if err != nil {
		return err
	}

	port, err := serial.Open(sc)
	if err != nil {
		return errors.Wrap(err, "open serial port")
	}
	defer func() {
		if err := port.Close(); err != nil {
			logger.Warn(ctx, "close serial port", zap.Error(err))
		}
	}()

	pc := port.Config()
	logger.Info(ctx, "serial port opened",
		zap.Int("baud", pc.BaudRate),
		zap.Duration("read_timeout", pc.ReadTimeout),
		zap.ByteString("delimiter", []byte(pc.Delimiter)),
	)

	return echo.New(port, out).Run(ctx)
}

// loggedError marks an error already reported through the logger.
type loggedError struct{ error }

func (e loggedError) Unwrap() error { return e.error }

// reportError prints err unless the logger has already reported it.
// Config, flag and argument errors happen before the logger exists.
func reportError(w io.Writer, err error) {
	var logged loggedError
	if errors.As(err, &logged) {
		return
	}
	fmt.Fprintln(w, "serialecho:", err)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		reportError(os.Stderr, err)
		os.Exit(1)
	}
}
