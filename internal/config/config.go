// Package config loads serialecho settings from an optional YAML file and
// environment variables.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/ilyakaznacheev/cleanenv"

	serial "github.com/luhtfiimanal/serialecho"
)

// Config is the full application configuration. Defaults reproduce the
// original bench setup: an Arduino on /dev/ttyUSB0 at 9600 baud.
type Config struct {
	// Environment selects the logger flavour (development or production).
	Environment string `env:"ENVIRONMENT" env-default:"development" yaml:"environment"`

	Serial struct {
		// Device is the serial device node.
		Device string `env:"SERIAL_DEVICE" env-default:"/dev/ttyUSB0" yaml:"device"`
		// BaudRate must match the attached firmware.
		BaudRate int `env:"SERIAL_BAUD_RATE" env-default:"9600" yaml:"baudRate"`
		// ReadTimeout bounds each line read; zero waits for a delimiter forever.
		ReadTimeout time.Duration `env:"SERIAL_READ_TIMEOUT" env-default:"500ms" yaml:"readTimeout"`
		// Delimiter terminates a line. Go escape sequences such as \r\n are interpreted.
		Delimiter string `env:"SERIAL_DELIMITER" env-default:"\n" yaml:"delimiter"`
		// MaxLineLength caps an undelimited line; zero uses the package default.
		MaxLineLength int `env:"SERIAL_MAX_LINE_LENGTH" env-default:"0" yaml:"maxLineLength"`
	} `yaml:"serial"`
}

// Load reads the YAML file at configPath, then applies environment overrides.
// An empty configPath reads the environment only.
func Load(configPath string) (*Config, error) {
	var cfg Config
	if configPath == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, errors.Wrap(err, "read environment")
		}
		return &cfg, nil
	}
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, errors.Wrapf(err, "read config %s", configPath)
	}
	return &cfg, nil
}

// SerialConfig converts the serial section into a serial.Config.
func (c *Config) SerialConfig() (serial.Config, error) {
	delim, err := UnescapeDelimiter(c.Serial.Delimiter)
	if err != nil {
		return serial.Config{}, err
	}
	return serial.Config{
		Device:        c.Serial.Device,
		BaudRate:      c.Serial.BaudRate,
		Delimiter:     delim,
		ReadTimeout:   c.Serial.ReadTimeout,
		MaxLineLength: c.Serial.MaxLineLength,
	}, nil
}

// UnescapeDelimiter interprets Go escape sequences in s, so that the two
// characters `\n` from a flag or env var become a newline. Strings without a
// backslash are returned unchanged.
func UnescapeDelimiter(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	out, err := strconv.Unquote(`"` + s + `"`)
	if err != nil {
		return "", errors.Wrapf(err, "invalid delimiter %q", s)
	}
	return out, nil
}
