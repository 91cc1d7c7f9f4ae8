package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "INTERVIEWD_"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Storage   StorageConfig   `koanf:"storage"`
	Log       LogConfig       `koanf:"log"`
	Session   SessionConfig   `koanf:"session"`
	Auth      AuthConfig      `koanf:"auth"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	MCP       MCPConfig       `koanf:"mcp"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
	// AllowedOrigins lists Origin values accepted on websocket upgrades. Empty allows any.
	AllowedOrigins []string `koanf:"allowed_origins"`
}

type StorageConfig struct {
	DataDir string `koanf:"data_dir"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type SessionConfig struct {
	SendQueue     int           `koanf:"send_queue"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

type AuthConfig struct {
	CookieName   string        `koanf:"cookie_name"`
	CookieMaxAge time.Duration `koanf:"cookie_max_age"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

// MCPConfig configures the stdio MCP server, which acts on behalf of a single owner.
type MCPConfig struct {
	Owner string `koanf:"owner"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr: "127.0.0.1:8787",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Session: SessionConfig{
			SendQueue:     64,
			SweepInterval: 30 * time.Second,
		},
		Auth: AuthConfig{
			CookieName:   "username",
			CookieMaxAge: 7 * 24 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "interviewd",
		},
	}
}

// Load reads configuration in three layers: built-in defaults, the YAML file at path,
// then INTERVIEWD_* environment variables. An empty path means DefaultPath; a missing
// file is not an error.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	k := koanf.New(".")
	def := defaults()
	for _, s := range specs {
		if err := k.Set(s.key, s.extract(def)); err != nil {
			return Config{}, fmt.Errorf("setting default %s: %w", s.key, err)
		}
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return Config{}, fmt.Errorf("reading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Storage.DataDir) == "":
		return errors.New("invalid config: storage.data_dir must not be empty")
	case c.Server.Addr == "":
		return errors.New("invalid config: server.addr must not be empty")
	case c.Session.SendQueue <= 0:
		return fmt.Errorf("invalid config: session.send_queue must be positive, got %d", c.Session.SendQueue)
	case c.Session.SweepInterval <= 0:
		return fmt.Errorf("invalid config: session.sweep_interval must be positive, got %s", c.Session.SweepInterval)
	case c.Auth.CookieName == "":
		return errors.New("invalid config: auth.cookie_name must not be empty")
	case c.Auth.CookieMaxAge <= 0:
		return fmt.Errorf("invalid config: auth.cookie_max_age must be positive, got %s", c.Auth.CookieMaxAge)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		return fmt.Errorf("invalid config: log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// Logger builds the process logger described by c.Log.
func (c Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid config: log.level %q: %w", s, err)
	}
	return level, nil
}

// DefaultPath returns $XDG_CONFIG_HOME/interviewd/config.yaml.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "interviewd.yaml"
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "interviewd", "config.yaml")
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "interviewd-data"
		}
	}
	return filepath.Join(dir, "interviewd")
}
