package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatty.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsWithNoFileOrEnv(t *testing.T) {
	cfg, err := Load([]string{"-config", filepath.Join(t.TempDir(), "missing.toml")})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if cfg.Server.Bind != want.Server.Bind || cfg.Replay.Capacity != want.Replay.Capacity {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadFileOverlayOverridesDefault(t *testing.T) {
	path := writeTestConfig(t, `
[server]
bind = "0.0.0.0:9999"

[replay]
capacity = 512
`)
	cfg, err := Load([]string{"-config", path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Bind != "0.0.0.0:9999" {
		t.Fatalf("Server.Bind = %q, want file value", cfg.Server.Bind)
	}
	if cfg.Replay.Capacity != 512 {
		t.Fatalf("Replay.Capacity = %d, want 512", cfg.Replay.Capacity)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeTestConfig(t, `
[server]
bind = "0.0.0.0:9999"
`)
	t.Setenv("CHATTY_SERVER_BIND", "10.0.0.1:1111")

	cfg, err := Load([]string{"-config", path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Bind != "10.0.0.1:1111" {
		t.Fatalf("Server.Bind = %q, want env value to win over file", cfg.Server.Bind)
	}
}

func TestLoadFlagOverridesEnvAndFile(t *testing.T) {
	path := writeTestConfig(t, `
[server]
bind = "0.0.0.0:9999"
`)
	t.Setenv("CHATTY_SERVER_BIND", "10.0.0.1:1111")

	cfg, err := Load([]string{"-config", path, "-bind", "192.168.1.1:2222"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Bind != "192.168.1.1:2222" {
		t.Fatalf("Server.Bind = %q, want flag value to win over env and file", cfg.Server.Bind)
	}
}

func TestLoadSecretsAreRedacted(t *testing.T) {
	t.Setenv("CHATTY_SERVER_AUTH_TOKEN", "super-secret-token")
	cfg, err := Load([]string{"-config", filepath.Join(t.TempDir(), "missing.toml")})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.AuthToken.Reveal() != "super-secret-token" {
		t.Fatalf("expected the auth token to round-trip through redact.String, got %q", cfg.Server.AuthToken.Reveal())
	}
	if cfg.Server.AuthToken.String() != "***" {
		t.Fatalf("AuthToken.String() = %q, want ***", cfg.Server.AuthToken.String())
	}
}

func TestLoadLogJSONFlagIsSticky(t *testing.T) {
	cfg, err := Load([]string{"-config", filepath.Join(t.TempDir(), "missing.toml"), "-log-json"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Server.LogJSON {
		t.Fatal("expected -log-json to set Server.LogJSON")
	}
}
