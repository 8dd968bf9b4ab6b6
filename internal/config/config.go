package config

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"git.sr.ht/~emersion/go-scfg"
	"github.com/matt0x6f/ironcord-gateway/internal/constants"
	"github.com/matt0x6f/ironcord-gateway/internal/irc"
	"github.com/matt0x6f/ironcord-gateway/internal/logger"
	"github.com/matt0x6f/ironcord-gateway/internal/validation"
)

// IRC is the upstream network every session connects to
type IRC struct {
	Host          string
	Port          int
	TLS           bool
	SASLMechanism string
}

type History struct {
	Limit int
	Delay time.Duration
}

// RateLimit bounds inbound relay frames per browser connection
type RateLimit struct {
	PerSecond float64
	Burst     int
}

type Config struct {
	Listen    string
	Database  string
	LogLevel  string
	LogFormat string
	IRC       IRC
	Reconnect irc.ReconnectOptions
	History   History
	RateLimit RateLimit
}

func Defaults() Config {
	return Config{
		Listen:    "localhost:3001",
		Database:  "ironcord.db",
		LogLevel:  "info",
		LogFormat: logger.FormatConsole,
		IRC: IRC{
			Port:          6667,
			SASLMechanism: "PLAIN",
		},
		Reconnect: irc.DefaultReconnectOptions(),
		History: History{
			Limit: constants.DefaultHistoryLimit,
			Delay: constants.HistoryFetchDelay,
		},
		RateLimit: RateLimit{
			PerSecond: 10,
			Burst:     20,
		},
	}
}

// Load reads and validates the config file at filename
func Load(filename string) (Config, error) {
	block, err := scfg.Load(filename)
	if err != nil {
		return Config{}, fmt.Errorf("error parsing scfg: %w", err)
	}
	return fromBlock(block)
}

// Read reads and validates a config from r
func Read(r io.Reader) (Config, error) {
	block, err := scfg.Read(r)
	if err != nil {
		return Config{}, fmt.Errorf("error parsing scfg: %w", err)
	}
	return fromBlock(block)
}

func fromBlock(block scfg.Block) (Config, error) {
	cfg := Defaults()
	if err := unmarshal(block, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the fields that have no usable default
func (c Config) Validate() error {
	if err := validation.ValidateServerAddress(c.IRC.Host, c.IRC.Port); err != nil {
		return fmt.Errorf("irc: %w", err)
	}
	switch strings.ToUpper(c.IRC.SASLMechanism) {
	case "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512":
	default:
		return fmt.Errorf("irc: unsupported sasl-mechanism %q", c.IRC.SASLMechanism)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if err := logger.ValidateFormat(c.LogFormat); err != nil {
		return err
	}
	if c.Reconnect.MaxRetries < 0 {
		return fmt.Errorf("reconnect: max-retries must not be negative")
	}
	if c.RateLimit.PerSecond <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate-limit: per-second and burst must be positive")
	}
	return nil
}

func unmarshal(block scfg.Block, cfg *Config) error {
	for _, d := range block {
		var err error
		switch d.Name {
		case "listen":
			err = d.ParseParams(&cfg.Listen)
		case "database":
			err = d.ParseParams(&cfg.Database)
		case "log-level":
			err = d.ParseParams(&cfg.LogLevel)
		case "log-format":
			err = d.ParseParams(&cfg.LogFormat)
		case "irc":
			err = unmarshalIRC(d.Children, &cfg.IRC)
		case "reconnect":
			err = unmarshalReconnect(d.Children, &cfg.Reconnect)
		case "history":
			err = unmarshalHistory(d.Children, &cfg.History)
		case "rate-limit":
			err = unmarshalRateLimit(d.Children, &cfg.RateLimit)
		default:
			return fmt.Errorf("unknown directive %q", d.Name)
		}
		if err != nil {
			return fmt.Errorf("directive %q: %w", d.Name, err)
		}
	}
	return nil
}

func unmarshalIRC(block scfg.Block, c *IRC) error {
	for _, child := range block {
		var err error
		switch child.Name {
		case "host":
			err = child.ParseParams(&c.Host)
		case "port":
			c.Port, err = parseInt(child)
		case "tls":
			c.TLS, err = parseBool(child)
		case "sasl-mechanism":
			err = child.ParseParams(&c.SASLMechanism)
		default:
			return fmt.Errorf("unknown directive %q", child.Name)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func unmarshalReconnect(block scfg.Block, r *irc.ReconnectOptions) error {
	for _, child := range block {
		var err error
		switch child.Name {
		case "max-retries":
			r.MaxRetries, err = parseInt(child)
		case "initial-delay":
			r.InitialDelay, err = parseDuration(child)
		case "max-delay":
			r.MaxDelay, err = parseDuration(child)
		default:
			return fmt.Errorf("unknown directive %q", child.Name)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func unmarshalHistory(block scfg.Block, h *History) error {
	for _, child := range block {
		var err error
		switch child.Name {
		case "limit":
			h.Limit, err = parseInt(child)
		case "delay":
			h.Delay, err = parseDuration(child)
		default:
			return fmt.Errorf("unknown directive %q", child.Name)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func unmarshalRateLimit(block scfg.Block, r *RateLimit) error {
	for _, child := range block {
		var err error
		switch child.Name {
		case "per-second":
			var s string
			if err = child.ParseParams(&s); err == nil {
				r.PerSecond, err = strconv.ParseFloat(s, 64)
			}
		case "burst":
			r.Burst, err = parseInt(child)
		default:
			return fmt.Errorf("unknown directive %q", child.Name)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func parseInt(d *scfg.Directive) (int, error) {
	var s string
	if err := d.ParseParams(&s); err != nil {
		return 0, err
	}
	return strconv.Atoi(s)
}

func parseBool(d *scfg.Directive) (bool, error) {
	var s string
	if err := d.ParseParams(&s); err != nil {
		return false, err
	}
	return strconv.ParseBool(s)
}

func parseDuration(d *scfg.Directive) (time.Duration, error) {
	var s string
	if err := d.ParseParams(&s); err != nil {
		return 0, err
	}
	return time.ParseDuration(s)
}
