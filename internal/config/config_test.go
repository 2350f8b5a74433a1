package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Port != 8765 {
		t.Errorf("Port = %d, want 8765", cfg.Port)
	}
	if cfg.Path != "/bridge" {
		t.Errorf("Path = %q, want /bridge", cfg.Path)
	}
	if cfg.StatusInterval != 60*time.Second {
		t.Errorf("StatusInterval = %s, want 60s", cfg.StatusInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d, want default", cfg.Port)
	}
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
host = "127.0.0.1"
port = 9000
ping_interval = "15s"
status_interval = "5m"
max_frame_size = 65536
log_level = "debug"
allowed_origins = ["http://localhost:3000"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != "127.0.0.1" || cfg.Port != 9000 {
		t.Errorf("addr = %s", cfg.Addr())
	}
	if cfg.PingInterval != 15*time.Second {
		t.Errorf("PingInterval = %s", cfg.PingInterval)
	}
	if cfg.StatusInterval != 5*time.Minute {
		t.Errorf("StatusInterval = %s", cfg.StatusInterval)
	}
	if cfg.MaxFrameSize != 65536 {
		t.Errorf("MaxFrameSize = %d", cfg.MaxFrameSize)
	}
	if len(cfg.AllowedOrigins) != 1 {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	// Unset keys keep their defaults.
	if cfg.PingTimeout != DefaultPingTimeout {
		t.Errorf("PingTimeout = %s, want default", cfg.PingTimeout)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "port: 9100\npath: /voice\nwrite_timeout: 3s\nlog_format: json\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9100 || cfg.Path != "/voice" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.WriteTimeout != 3*time.Second {
		t.Errorf("WriteTimeout = %s", cfg.WriteTimeout)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q", cfg.LogFormat)
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("port = ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "parsing config") {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("port = 9000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VOICEBRIDGE_PORT", "9999")
	t.Setenv("VOICEBRIDGE_HOST", "localhost")
	t.Setenv("VOICEBRIDGE_INTAKE_TOKEN", "secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9999 || cfg.Host != "localhost" || cfg.IntakeToken != "secret" {
		t.Errorf("env overrides not applied: %+v", cfg)
	}

	t.Setenv("VOICEBRIDGE_PORT", "not-a-number")
	if _, err := Load(path); err == nil {
		t.Error("expected error for non-numeric VOICEBRIDGE_PORT")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errSub string
	}{
		{"port zero", func(c *Config) { c.Port = 0 }, "port"},
		{"port too large", func(c *Config) { c.Port = 70000 }, "port"},
		{"relative path", func(c *Config) { c.Path = "bridge" }, "path"},
		{"zero ping", func(c *Config) { c.PingInterval = 0 }, "ping_interval"},
		{"negative status", func(c *Config) { c.StatusInterval = -time.Second }, "status_interval"},
		{"tiny frames", func(c *Config) { c.MaxFrameSize = 10 }, "max_frame_size"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log level"},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.errSub) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.errSub)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	for raw, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(raw)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", raw, got, err, want)
		}
	}
}

func TestDefaultConfigPath(t *testing.T) {
	t.Setenv("VOICEBRIDGE_CONFIG", "/etc/voicebridge.toml")
	if got := DefaultConfigPath(); got != "/etc/voicebridge.toml" {
		t.Errorf("DefaultConfigPath = %q", got)
	}

	t.Setenv("VOICEBRIDGE_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := DefaultConfigPath(); got != filepath.Join("/xdg", "voicebridge", "config.toml") {
		t.Errorf("DefaultConfigPath = %q", got)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("Cannot get user home dir")
	}

	tests := []struct {
		input    string
		expected string
	}{
		{"~", home},
		{"~/foo", filepath.Join(home, "foo")},
		{"/abs/path", "/abs/path"},
		{"rel/path", "rel/path"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ExpandHome(tt.input)
			if got != tt.expected {
				t.Errorf("ExpandHome(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("log_level = \"info\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	errCh := make(chan error, 1)
	go func() {
		errCh <- Watch(ctx, path, func(c *Config) { changes <- c })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("log_level = \"debug\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changes:
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload within 3s")
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Errorf("Watch returned %v", err)
	}
}
