// Package config loads the TOML file that describes one portald endpoint.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	RoleHost  = "host"
	RoleGuest = "guest"

	TransportTCP = "tcp"
	TransportNSQ = "nsq"
)

type Config struct {
	Name              string          `toml:"name"`
	Role              string          `toml:"role"`
	Scope             string          `toml:"scope"`
	CallTimeout       Duration        `toml:"call_timeout"`
	BroadcastDebounce Duration        `toml:"broadcast_debounce"`
	TickInterval      Duration        `toml:"tick_interval"` // Host only; 0 disables the tick event
	Transport         TransportConfig `toml:"transport"`
	Registry          RegistryConfig  `toml:"registry"`
	Log               LogConfig       `toml:"log"`
	Metrics           MetricsConfig   `toml:"metrics"`
}

type TransportConfig struct {
	Kind        string `toml:"kind"`
	Addr        string `toml:"addr"`  // tcp: listen address (host) or dial address (guest)
	Codec       string `toml:"codec"` // json | cbor
	NSQD        string `toml:"nsqd"`
	TopicPrefix string `toml:"topic_prefix"`
	Host        string `toml:"host"` // nsq guest: name of the host endpoint
}

type RegistryConfig struct {
	Endpoints   []string `toml:"endpoints"` // etcd; empty disables the registry
	TTL         int64    `toml:"ttl"`
	Balancer    string   `toml:"balancer"`
	DialTimeout Duration `toml:"dial_timeout"`
}

type LogConfig struct {
	Level   string `toml:"level"`
	NoColor bool   `toml:"no_color"`
}

type MetricsConfig struct {
	Addr string `toml:"addr"` // Empty disables the /metrics listener
}

// Duration reads TOML strings such as "250ms" or "5s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func Default() Config {
	return Config{
		Name:              "portald",
		Role:              RoleHost,
		CallTimeout:       Duration{5 * time.Second},
		BroadcastDebounce: Duration{50 * time.Millisecond},
		Transport: TransportConfig{
			Kind:        TransportTCP,
			Addr:        "127.0.0.1:7420",
			Codec:       "json",
			TopicPrefix: "portal",
		},
		Registry: RegistryConfig{
			TTL:         10,
			Balancer:    "round_robin",
			DialTimeout: Duration{5 * time.Second},
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("missing name")
	}
	if cfg.Role != RoleHost && cfg.Role != RoleGuest {
		return fmt.Errorf("role must be %q or %q, got %q", RoleHost, RoleGuest, cfg.Role)
	}
	if cfg.Scope == "_" {
		return fmt.Errorf("scope %q is reserved", cfg.Scope)
	}
	if cfg.CallTimeout.Duration <= 0 {
		return fmt.Errorf("call_timeout must be positive")
	}
	if cfg.BroadcastDebounce.Duration <= 0 {
		return fmt.Errorf("broadcast_debounce must be positive")
	}
	if cfg.TickInterval.Duration < 0 {
		return fmt.Errorf("tick_interval must not be negative")
	}
	if err := validateTransport(cfg); err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	if len(cfg.Registry.Endpoints) > 0 {
		if cfg.Transport.Kind != TransportTCP {
			return fmt.Errorf("registry: only supported with the tcp transport")
		}
		if cfg.Registry.TTL <= 0 {
			return fmt.Errorf("registry: ttl must be positive")
		}
	}
	return nil
}

func validateTransport(cfg Config) error {
	t := cfg.Transport
	switch t.Codec {
	case "json", "cbor":
	default:
		return fmt.Errorf("unknown codec %q", t.Codec)
	}
	switch t.Kind {
	case TransportTCP:
		if strings.TrimSpace(t.Addr) == "" && len(cfg.Registry.Endpoints) == 0 {
			return fmt.Errorf("addr is required")
		}
	case TransportNSQ:
		if strings.TrimSpace(t.NSQD) == "" {
			return fmt.Errorf("nsqd is required")
		}
		if cfg.Role == RoleGuest && strings.TrimSpace(t.Host) == "" {
			return fmt.Errorf("host is required for an nsq guest")
		}
	default:
		return fmt.Errorf("unknown kind %q", t.Kind)
	}
	return nil
}
