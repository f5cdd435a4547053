package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "3001" {
		t.Errorf("expected default port 3001, got %q", cfg.Port)
	}
	if cfg.CacheTTL != 7200*time.Second {
		t.Errorf("expected default cache TTL 7200s, got %v", cfg.CacheTTL)
	}
	if cfg.CacheMaxSize != 5000 {
		t.Errorf("expected default cache size 5000, got %d", cfg.CacheMaxSize)
	}
	if cfg.HistoryCap != 10 {
		t.Errorf("expected default history cap 10, got %d", cfg.HistoryCap)
	}
	if cfg.CredentialCap != 20 {
		t.Errorf("expected default credential concurrency 20, got %d", cfg.CredentialCap)
	}
	if cfg.ReplayChunkSize != 3 || cfg.ReplayChunkDelay != 10*time.Millisecond {
		t.Errorf("unexpected replay defaults: size %d delay %v", cfg.ReplayChunkSize, cfg.ReplayChunkDelay)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("CACHE_TTL_SECONDS", "60")
	t.Setenv("HISTORY_CAP", "4")

	cfg := Load()

	if cfg.Port != "9999" {
		t.Errorf("expected PORT override, got %q", cfg.Port)
	}
	if cfg.CacheTTL != 60*time.Second {
		t.Errorf("expected 60s cache TTL, got %v", cfg.CacheTTL)
	}
	if cfg.HistoryCap != 4 {
		t.Errorf("expected history cap 4, got %d", cfg.HistoryCap)
	}
}

func TestLoad_YAMLFileWithEnvWinning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	yaml := "port: \"4000\"\nhistory_cap: 6\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("GATEWAY_CONFIG", path)
	t.Setenv("PORT", "5000")

	cfg := Load()

	if cfg.Port != "5000" {
		t.Errorf("env must win over file, got %q", cfg.Port)
	}
	if cfg.HistoryCap != 6 {
		t.Errorf("expected file value 6 for history cap, got %d", cfg.HistoryCap)
	}
}

func writeBots(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bots.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadBots_Valid(t *testing.T) {
	path := writeBots(t, `{
		"credentials": [{"key": "key-1", "base_url": "https://api.example.com", "api_key": "sk-x"}],
		"bots": [
			{"id": "bot-a", "name": "Alpha", "token_key": "key-1", "icon": "star", "color": "#fff"},
			{"id": "bot-b", "name": "Beta", "token_key": "key-1"}
		]
	}`)

	cfg, err := LoadBots(path)
	if err != nil {
		t.Fatalf("LoadBots: %v", err)
	}
	if len(cfg.Bots) != 2 || len(cfg.Credentials) != 1 {
		t.Fatalf("unexpected counts: %d bots, %d credentials", len(cfg.Bots), len(cfg.Credentials))
	}
	if cfg.Bots[0].Icon != "star" {
		t.Errorf("display metadata should round-trip, got %q", cfg.Bots[0].Icon)
	}
}

func TestLoadBots_NoBots(t *testing.T) {
	path := writeBots(t, `{"credentials": [{"key": "key-1"}], "bots": []}`)
	if _, err := LoadBots(path); err == nil {
		t.Fatal("expected error for empty bot list")
	}
}

func TestLoadBots_DanglingCredential(t *testing.T) {
	path := writeBots(t, `{
		"credentials": [{"key": "key-1"}],
		"bots": [{"id": "bot-a", "name": "Alpha", "token_key": "key-missing"}]
	}`)
	if _, err := LoadBots(path); err == nil {
		t.Fatal("expected error for unknown credential reference")
	}
}

func TestLoadBots_MissingFile(t *testing.T) {
	if _, err := LoadBots(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
