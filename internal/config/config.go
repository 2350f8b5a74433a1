// Package config loads voicebridge settings from TOML or YAML files with
// environment overrides.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the complete server configuration.
type Config struct {
	Host           string        `toml:"host" yaml:"host"`
	Port           int           `toml:"port" yaml:"port"`
	Path           string        `toml:"path" yaml:"path"`                       // WebSocket path clients connect to
	PingInterval   time.Duration `toml:"ping_interval" yaml:"ping_interval"`     // Transport ping period
	PingTimeout    time.Duration `toml:"ping_timeout" yaml:"ping_timeout"`       // Pong grace beyond PingInterval
	WriteTimeout   time.Duration `toml:"write_timeout" yaml:"write_timeout"`     // Per-frame write deadline
	MaxFrameSize   int64         `toml:"max_frame_size" yaml:"max_frame_size"`   // Inbound frame limit in bytes
	StatusInterval time.Duration `toml:"status_interval" yaml:"status_interval"` // status_update period
	LogLevel       string        `toml:"log_level" yaml:"log_level"`             // debug, info, warn, error
	LogFormat      string        `toml:"log_format" yaml:"log_format"`           // auto, text, json
	AllowedOrigins []string      `toml:"allowed_origins" yaml:"allowed_origins"` // Empty allows any origin
	IntakeToken    string        `toml:"intake_token" yaml:"intake_token"`       // Bearer token for HTTP intake
}

const (
	DefaultHost           = "0.0.0.0"
	DefaultPort           = 8765
	DefaultPath           = "/bridge"
	DefaultPingInterval   = 30 * time.Second
	DefaultPingTimeout    = 10 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
	DefaultMaxFrameSize   = 1 << 20
	DefaultStatusInterval = 60 * time.Second

	minFrameSize = 512
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Host:           DefaultHost,
		Port:           DefaultPort,
		Path:           DefaultPath,
		PingInterval:   DefaultPingInterval,
		PingTimeout:    DefaultPingTimeout,
		WriteTimeout:   DefaultWriteTimeout,
		MaxFrameSize:   DefaultMaxFrameSize,
		StatusInterval: DefaultStatusInterval,
		LogLevel:       "info",
		LogFormat:      "auto",
	}
}

// DefaultConfigPath returns the config file location:
// $VOICEBRIDGE_CONFIG, then $XDG_CONFIG_HOME/voicebridge/config.toml,
// then ~/.config/voicebridge/config.toml.
func DefaultConfigPath() string {
	if env := os.Getenv("VOICEBRIDGE_CONFIG"); env != "" {
		return ExpandHome(env)
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "voicebridge", "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		// Fallback to /tmp when home directory is unavailable (e.g., containers)
		home = os.TempDir()
	}
	return filepath.Join(home, ".config", "voicebridge", "config.toml")
}

// Load reads path over the defaults and applies environment overrides.
// A missing file is not an error. Files ending in .yaml or .yml are parsed
// as YAML, everything else as TOML.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	// 1. Initialize with defaults
	cfg := Default()

	// 2. Read and unmarshal over defaults
	if data, err := os.ReadFile(path); err == nil {
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	// 3. Apply Environment Variable Overrides (Env > File > Default)
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		_, err := toml.Decode(string(data), cfg)
		return err
	}
}

func applyEnv(cfg *Config) error {
	if host := os.Getenv("VOICEBRIDGE_HOST"); host != "" {
		cfg.Host = host
	}
	if raw := os.Getenv("VOICEBRIDGE_PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("VOICEBRIDGE_PORT: %w", err)
		}
		cfg.Port = port
	}
	if level := os.Getenv("VOICEBRIDGE_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if token := os.Getenv("VOICEBRIDGE_INTAKE_TOKEN"); token != "" {
		cfg.IntakeToken = token
	}
	return nil
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range 1-65535", c.Port)
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("path %q must start with /", c.Path)
	}
	for name, d := range map[string]time.Duration{
		"ping_interval":   c.PingInterval,
		"ping_timeout":    c.PingTimeout,
		"write_timeout":   c.WriteTimeout,
		"status_interval": c.StatusInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.MaxFrameSize < minFrameSize {
		return fmt.Errorf("max_frame_size must be at least %d bytes, got %d", minFrameSize, c.MaxFrameSize)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "auto", "text", "json":
	default:
		return fmt.Errorf("invalid log_format %q (valid: auto, text, json)", c.LogFormat)
	}
	return nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (valid: debug, info, warn, error)", raw)
	}
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			return home
		}
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}

	return path
}
