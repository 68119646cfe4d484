package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"basic_config": {"server_address": ":9000", "file_base_dir": "uploads"},
		"client": {"session_file": "session.json", "long_press_ms": 650},
		"databases": {"sqlite3": {"dsn": "chat.db"}},
		"providers": {"openai": {"model": "gpt-4o-mini", "api_key": "from-file"}}
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("OPENAI_API_KEY", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BasicConfig.ServerAddress != ":9000" {
		t.Fatalf("unexpected address %s", cfg.BasicConfig.ServerAddress)
	}
	if cfg.BasicConfig.FileBaseDir != filepath.Join(dir, "uploads") {
		t.Fatalf("file base dir not resolved: %s", cfg.BasicConfig.FileBaseDir)
	}
	if cfg.Databases["sqlite3"].DSN != filepath.Join(dir, "chat.db") {
		t.Fatalf("sqlite dsn not resolved: %s", cfg.Databases["sqlite3"].DSN)
	}
	if cfg.Client.SessionFile != filepath.Join(dir, "session.json") || cfg.Client.LongPressMillis != 650 {
		t.Fatalf("unexpected client config %+v", cfg.Client)
	}
	if cfg.Providers["openai"].APIKey != "from-file" {
		t.Fatalf("file key should win over env, got %s", cfg.Providers["openai"].APIKey)
	}
	if cfg.BasicConfig.HistoryLimit != 50 || cfg.BasicConfig.TokenTTLMinutes != 1440 {
		t.Fatalf("defaults not applied: %+v", cfg.BasicConfig)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestLoadRejectsUnknownDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{"basic_config": {"database": "mysql"}}`), 0o600)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for database without settings")
	}
}

func TestDefaultUsesEnv(t *testing.T) {
	t.Setenv("SECRETARIA_BASE_URL", "http://backend:8090")
	t.Setenv("GEMINI_API_KEY", "g-key")
	cfg := Default()
	if cfg.Client.BaseURL != "http://backend:8090" {
		t.Fatalf("unexpected base url %s", cfg.Client.BaseURL)
	}
	if cfg.Providers["gemini"].APIKey != "g-key" {
		t.Fatalf("expected gemini key from env")
	}
	if cfg.BasicConfig.DefaultProvider != "echo" {
		t.Fatalf("unexpected default provider %s", cfg.BasicConfig.DefaultProvider)
	}
}
