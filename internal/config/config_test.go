package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestDefaults verifies all default values are applied when no config file exists.
func TestDefaults(t *testing.T) {
	dataHome := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dataHome)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Addr != "127.0.0.1:8787" {
		t.Errorf("Server.Addr = %q, want %q", cfg.Server.Addr, "127.0.0.1:8787")
	}
	if len(cfg.Server.AllowedOrigins) != 0 {
		t.Errorf("Server.AllowedOrigins = %v, want empty", cfg.Server.AllowedOrigins)
	}
	if want := filepath.Join(dataHome, "interviewd"); cfg.Storage.DataDir != want {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, want)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v, want info/text", cfg.Log)
	}
	if cfg.Session.SendQueue != 64 {
		t.Errorf("Session.SendQueue = %d, want 64", cfg.Session.SendQueue)
	}
	if cfg.Session.SweepInterval != 30*time.Second {
		t.Errorf("Session.SweepInterval = %s, want 30s", cfg.Session.SweepInterval)
	}
	if cfg.Auth.CookieName != "username" {
		t.Errorf("Auth.CookieName = %q, want username", cfg.Auth.CookieName)
	}
	if cfg.Auth.CookieMaxAge != 7*24*time.Hour {
		t.Errorf("Auth.CookieMaxAge = %s, want 168h", cfg.Auth.CookieMaxAge)
	}
	if cfg.Telemetry.Enabled {
		t.Error("Telemetry.Enabled = true, want false")
	}
	if cfg.Telemetry.ServiceName != "interviewd" {
		t.Errorf("Telemetry.ServiceName = %q, want interviewd", cfg.Telemetry.ServiceName)
	}
}

// TestYAMLParsing verifies that fields are read from the YAML file.
func TestYAMLParsing(t *testing.T) {
	path := writeTempConfig(t, `
server:
  addr: "0.0.0.0:9000"
  allowed_origins:
    - https://app.example.com
    - https://admin.example.com
storage:
  data_dir: /tmp/interviewd-test
log:
  level: debug
  format: json
session:
  send_queue: 16
  sweep_interval: 5s
auth:
  cookie_name: who
  cookie_max_age: 1h
telemetry:
  enabled: true
  service_name: interviewd-test
mcp:
  owner: alice
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "https://admin.example.com" {
		t.Errorf("Server.AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Storage.DataDir != "/tmp/interviewd-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Session.SendQueue != 16 {
		t.Errorf("Session.SendQueue = %d", cfg.Session.SendQueue)
	}
	if cfg.Session.SweepInterval != 5*time.Second {
		t.Errorf("Session.SweepInterval = %s", cfg.Session.SweepInterval)
	}
	if cfg.Auth.CookieName != "who" || cfg.Auth.CookieMaxAge != time.Hour {
		t.Errorf("Auth = %+v", cfg.Auth)
	}
	if !cfg.Telemetry.Enabled || cfg.Telemetry.ServiceName != "interviewd-test" {
		t.Errorf("Telemetry = %+v", cfg.Telemetry)
	}
	if cfg.MCP.Owner != "alice" {
		t.Errorf("MCP.Owner = %q", cfg.MCP.Owner)
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	path := writeTempConfig(t, `
server:
  addr: "127.0.0.1:1111"
session:
  send_queue: 8
`)

	t.Setenv("INTERVIEWD_SERVER_ADDR", "127.0.0.1:2222")
	t.Setenv("INTERVIEWD_SESSION_SWEEP_INTERVAL", "45s")
	t.Setenv("INTERVIEWD_SERVER_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("INTERVIEWD_UNRELATED", "ignored")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Addr != "127.0.0.1:2222" {
		t.Errorf("Server.Addr = %q, want env value", cfg.Server.Addr)
	}
	if cfg.Session.SendQueue != 8 {
		t.Errorf("Session.SendQueue = %d, want file value 8", cfg.Session.SendQueue)
	}
	if cfg.Session.SweepInterval != 45*time.Second {
		t.Errorf("Session.SweepInterval = %s, want 45s", cfg.Session.SweepInterval)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[0] != "https://a.example" ||
		cfg.Server.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("Server.AllowedOrigins = %v, want two entries", cfg.Server.AllowedOrigins)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"zero send queue", "session:\n  send_queue: 0\n", "session.send_queue"},
		{"negative sweep", "session:\n  sweep_interval: -1s\n", "session.sweep_interval"},
		{"empty data dir", "storage:\n  data_dir: \"\"\n", "storage.data_dir"},
		{"bad level", "log:\n  level: loud\n", "log.level"},
		{"bad format", "log:\n  format: xml\n", "log.format"},
		{"empty cookie", "auth:\n  cookie_name: \"\"\n", "auth.cookie_name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestMalformedFile(t *testing.T) {
	if _, err := Load(writeTempConfig(t, "server: [unterminated")); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestShowAll(t *testing.T) {
	cfg := defaults()
	cfg.MCP.Owner = "alice"

	infos := ShowAll(cfg)
	if len(infos) != len(ValidKeys()) {
		t.Fatalf("ShowAll returned %d keys, want %d", len(infos), len(ValidKeys()))
	}
	byKey := make(map[string]KeyInfo)
	for _, ki := range infos {
		if !strings.HasPrefix(ki.EnvVar, EnvPrefix) {
			t.Errorf("%s env var %q lacks prefix", ki.Key, ki.EnvVar)
		}
		byKey[ki.Key] = ki
	}
	if got := byKey["mcp.owner"].Value; got != "alice" {
		t.Errorf("mcp.owner = %q, want alice", got)
	}
	if got := byKey["session.sweep_interval"].Value; got != "30s" {
		t.Errorf("session.sweep_interval = %q, want 30s", got)
	}
}

func TestSetKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	if err := SetKey(path, "mcp.owner", "bob"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	if err := SetKey(path, "session.send_queue", "32"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MCP.Owner != "bob" {
		t.Errorf("MCP.Owner = %q, want bob", cfg.MCP.Owner)
	}
	if cfg.Session.SendQueue != 32 {
		t.Errorf("Session.SendQueue = %d, want 32", cfg.Session.SendQueue)
	}
}

func TestSetKeyRejects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	if err := SetKey(path, "no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
	if err := SetKey(path, "session.send_queue", "-3"); err == nil {
		t.Error("expected error for invalid value")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("config file written despite errors: %v", err)
	}
}

func TestSetKeyList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	if err := SetKey(path, "server.allowed_origins", "https://a.example, https://b.example,"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"https://a.example", "https://b.example"}
	if len(cfg.Server.AllowedOrigins) != len(want) {
		t.Fatalf("Server.AllowedOrigins = %v, want %v", cfg.Server.AllowedOrigins, want)
	}
	for i := range want {
		if cfg.Server.AllowedOrigins[i] != want[i] {
			t.Errorf("Server.AllowedOrigins[%d] = %q, want %q", i, cfg.Server.AllowedOrigins[i], want[i])
		}
	}
}
