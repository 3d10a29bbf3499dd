// Package config loads server configuration from NETCODE_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/bchoi12/birdtown-sub001/internal/netcode"
	"github.com/bchoi12/birdtown-sub001/internal/netcode/loop"
	"github.com/bchoi12/birdtown-sub001/internal/observability"
	"github.com/bchoi12/birdtown-sub001/logging"
)

// Config is the full server configuration.
type Config struct {
	Addr            string        `env:"NETCODE_ADDR"             envDefault:":8080"`
	TickRate        int           `env:"NETCODE_TICK_RATE"        envDefault:"60"`
	InboundCapacity int           `env:"NETCODE_INBOUND_CAPACITY" envDefault:"1024"`
	MaxSeqLead      uint64        `env:"NETCODE_MAX_SEQ_LEAD"     envDefault:"120"`
	WriteTimeout    time.Duration `env:"NETCODE_WRITE_TIMEOUT"    envDefault:"5s"`

	MinInterval     time.Duration `env:"NETCODE_MIN_INTERVAL"     envDefault:"16ms"`
	RefreshInterval time.Duration `env:"NETCODE_REFRESH_INTERVAL" envDefault:"0s"`
	Redundancy      int           `env:"NETCODE_REDUNDANCY"       envDefault:"2"`
	Epsilon         float64       `env:"NETCODE_EPSILON"          envDefault:"0.001"`
	Channels        []string      `env:"NETCODE_CHANNELS"         envSeparator:","`

	LogSinks    []string `env:"NETCODE_LOG_SINKS"     envDefault:"console" envSeparator:","`
	LogJSONPath string   `env:"NETCODE_LOG_JSON_PATH"`
	LogLevel    string   `env:"NETCODE_LOG_LEVEL"     envDefault:"info"`

	Metrics bool `env:"NETCODE_METRICS" envDefault:"true"`
	Pprof   bool `env:"NETCODE_PPROF"`
}

// Load parses the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects values the loop and fields cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.TickRate <= 0 {
		errs = append(errs, fmt.Errorf("NETCODE_TICK_RATE must be positive, got %d", c.TickRate))
	}
	if c.InboundCapacity <= 0 {
		errs = append(errs, fmt.Errorf("NETCODE_INBOUND_CAPACITY must be positive, got %d", c.InboundCapacity))
	}
	if c.MinInterval < 0 || c.RefreshInterval < 0 {
		errs = append(errs, errors.New("NETCODE_MIN_INTERVAL and NETCODE_REFRESH_INTERVAL must not be negative"))
	}
	if c.Redundancy < 0 {
		errs = append(errs, fmt.Errorf("NETCODE_REDUNDANCY must not be negative, got %d", c.Redundancy))
	}
	if c.Epsilon < 0 {
		errs = append(errs, fmt.Errorf("NETCODE_EPSILON must not be negative, got %v", c.Epsilon))
	}
	if _, err := c.channelSet(); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseSeverity(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	for _, sink := range c.LogSinks {
		switch sink {
		case "console", "json":
		default:
			errs = append(errs, fmt.Errorf("unknown log sink %q", sink))
		}
	}
	return errors.Join(errs...)
}

// Policy returns the default field policy.
func (c Config) Policy() netcode.Policy {
	policy := netcode.DefaultPolicy()
	policy.MinInterval = c.MinInterval
	policy.RefreshInterval = c.RefreshInterval
	policy.Redundancy = c.Redundancy
	policy.Channels, _ = c.channelSet()
	return policy
}

// Loop returns the tick loop configuration.
func (c Config) Loop() loop.Config {
	return loop.Config{TickRate: c.TickRate, InboundCapacity: c.InboundCapacity, MaxSeqLead: c.MaxSeqLead}
}

// Logging returns the router configuration.
func (c Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	if len(c.LogSinks) > 0 {
		cfg.EnabledSinks = append([]string(nil), c.LogSinks...)
	}
	cfg.JSON.FilePath = c.LogJSONPath
	if severity, err := logging.ParseSeverity(c.LogLevel); err == nil {
		cfg.MinimumSeverity = severity
	}
	return cfg
}

func (c Config) Observability() observability.Config {
	return observability.Config{EnableMetrics: c.Metrics, EnablePprof: c.Pprof}
}

func (c Config) channelSet() (netcode.ChannelSet, error) {
	var chs []netcode.Channel
	for _, name := range c.Channels {
		ch, ok := channelByName(strings.TrimSpace(name))
		if !ok {
			return 0, fmt.Errorf("unknown channel %q in NETCODE_CHANNELS", name)
		}
		chs = append(chs, ch)
	}
	return netcode.ChannelsOf(chs...), nil
}

func channelByName(name string) (netcode.Channel, bool) {
	for _, ch := range netcode.Channels {
		if ch.String() == name {
			return ch, true
		}
	}
	return 0, false
}
