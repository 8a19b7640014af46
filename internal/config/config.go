// Package config loads the localboard server configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	EnvAddr      = "LOCALBOARD_ADDR"
	EnvLogLevel  = "LOCALBOARD_LOG_LEVEL"
	EnvLogFormat = "LOCALBOARD_LOG_FORMAT"
	EnvIdleTTL   = "LOCALBOARD_ROOM_IDLE_TTL"
	EnvMDNS      = "LOCALBOARD_MDNS"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Rooms     RoomsConfig     `yaml:"rooms" toml:"rooms"`
	Discovery DiscoveryConfig `yaml:"discovery" toml:"discovery"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

type ServerConfig struct {
	Addr   string `yaml:"addr" toml:"addr"`
	WSPath string `yaml:"ws_path" toml:"ws_path"`
	// ReadLimit caps a single inbound frame in bytes.
	ReadLimit int64 `yaml:"read_limit" toml:"read_limit"`
	// SendQueue is the per-session outbound frame buffer.
	SendQueue      int           `yaml:"send_queue" toml:"send_queue"`
	WriteWait      time.Duration `yaml:"write_wait" toml:"write_wait"`
	PongWait       time.Duration `yaml:"pong_wait" toml:"pong_wait"`
	PingPeriod     time.Duration `yaml:"ping_period" toml:"ping_period"`
	AllowedOrigins []string      `yaml:"allowed_origins" toml:"allowed_origins"`
}

type RoomsConfig struct {
	// IdleTTL evicts member-less rooms idle for this long. Zero keeps rooms
	// for the process lifetime.
	IdleTTL       time.Duration `yaml:"idle_ttl" toml:"idle_ttl"`
	SweepSchedule string        `yaml:"sweep_schedule" toml:"sweep_schedule"`
}

type DiscoveryConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	Instance string `yaml:"instance" toml:"instance"`
	Service  string `yaml:"service" toml:"service"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:       ":8888",
			WSPath:     "/ws",
			ReadLimit:  64 << 10,
			SendQueue:  256,
			WriteWait:  10 * time.Second,
			PongWait:   60 * time.Second,
			PingPeriod: 54 * time.Second,
		},
		Rooms: RoomsConfig{
			IdleTTL:       30 * time.Minute,
			SweepSchedule: "@every 1m",
		},
		Discovery: DiscoveryConfig{
			Enabled: true,
			Service: "_localboard._tcp",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads path (YAML or TOML by extension) over the defaults, applies
// environment overrides and validates the result. An empty path skips the
// file.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	data = []byte(os.ExpandEnv(string(data)))

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("config parse failed (%s): unknown key %q", path, undecoded[0].String())
		}
	default:
		return fmt.Errorf("config load failed (%s): unsupported extension %q", path, ext)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv(EnvAddr)); v != "" {
		cfg.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Logging.Format = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvIdleTTL)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, EnvIdleTTL, err)
		}
		cfg.Rooms.IdleTTL = d
	}
	if v := strings.TrimSpace(os.Getenv(EnvMDNS)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, EnvMDNS, err)
		}
		cfg.Discovery.Enabled = b
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	s := c.Server
	switch {
	case strings.TrimSpace(s.Addr) == "":
		return fmt.Errorf("%w: server.addr is required", ErrInvalid)
	case !strings.HasPrefix(s.WSPath, "/"):
		return fmt.Errorf("%w: server.ws_path must start with /", ErrInvalid)
	case s.ReadLimit <= 0:
		return fmt.Errorf("%w: server.read_limit must be positive", ErrInvalid)
	case s.SendQueue <= 0:
		return fmt.Errorf("%w: server.send_queue must be positive", ErrInvalid)
	case s.WriteWait <= 0 || s.PongWait <= 0 || s.PingPeriod <= 0:
		return fmt.Errorf("%w: server timeouts must be positive", ErrInvalid)
	case s.PingPeriod >= s.PongWait:
		return fmt.Errorf("%w: server.ping_period must be shorter than server.pong_wait", ErrInvalid)
	}

	if c.Rooms.IdleTTL < 0 {
		return fmt.Errorf("%w: rooms.idle_ttl must not be negative", ErrInvalid)
	}
	if c.Rooms.IdleTTL > 0 {
		if _, err := cron.ParseStandard(c.Rooms.SweepSchedule); err != nil {
			return fmt.Errorf("%w: rooms.sweep_schedule: %v", ErrInvalid, err)
		}
	}

	if c.Discovery.Enabled && !strings.HasPrefix(c.Discovery.Service, "_") {
		return fmt.Errorf("%w: discovery.service must look like _name._tcp", ErrInvalid)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "disabled", "off", "none":
	default:
		return fmt.Errorf("%w: logging.level %q", ErrInvalid, c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("%w: logging.format %q", ErrInvalid, c.Logging.Format)
	}
	return nil
}
