package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config represents runtime configuration for both the terminal client and
// the development backend.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Client      ClientConfig              `json:"client"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Search      SearchConfig              `json:"search"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

// BasicConfig holds backend settings.
type BasicConfig struct {
	ServerAddress           string `json:"server_address"`
	Database                string `json:"database"`
	FileBaseDir             string `json:"file_base_dir"`
	DefaultProvider         string `json:"default_provider"`
	TokenTTLMinutes         int    `json:"token_ttl_minutes"`
	OrphanFileTTLMinutes    int    `json:"orphan_file_ttl_minutes"`
	OrphanCleanIntervalMins int    `json:"orphan_clean_interval_minutes"`
	HistoryLimit            int    `json:"history_limit"`
}

// ClientConfig holds terminal client settings.
type ClientConfig struct {
	BaseURL               string `json:"base_url"`
	SessionStore          string `json:"session_store"`
	SessionFile           string `json:"session_file"`
	Profile               string `json:"profile"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
	LongPressMillis       int    `json:"long_press_ms"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type SearchConfig struct {
	GoogleAPIKey         string `json:"google_api_key"`
	GoogleSearchEngineID string `json:"google_search_engine_id"`
	Lang                 string `json:"lang"`
	DisableDuckDuckGo    bool   `json:"disable_duckduckgo"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	base := filepath.Dir(absPath)
	cfg.BasicConfig.FileBaseDir = resolve(base, cfg.BasicConfig.FileBaseDir)
	cfg.Client.SessionFile = resolve(base, cfg.Client.SessionFile)
	if db, ok := cfg.Databases["sqlite3"]; ok && db.DSN != ":memory:" && !strings.HasPrefix(db.DSN, "file:") {
		db.DSN = resolve(base, db.DSN)
		cfg.Databases["sqlite3"] = db
	}

	if _, ok := cfg.Databases[cfg.BasicConfig.Database]; !ok {
		return nil, fmt.Errorf("database %q has no entry under databases", cfg.BasicConfig.Database)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = ":8090"
	}
	if c.BasicConfig.Database == "" {
		c.BasicConfig.Database = "sqlite3"
	}
	if c.BasicConfig.FileBaseDir == "" {
		c.BasicConfig.FileBaseDir = "./data/uploads"
	}
	if c.BasicConfig.DefaultProvider == "" {
		c.BasicConfig.DefaultProvider = "echo"
	}
	if c.BasicConfig.TokenTTLMinutes <= 0 {
		c.BasicConfig.TokenTTLMinutes = 1440
	}
	if c.BasicConfig.HistoryLimit <= 0 {
		c.BasicConfig.HistoryLimit = 50
	}
	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	if _, ok := c.Databases["sqlite3"]; !ok {
		c.Databases["sqlite3"] = DatabaseConfig{DSN: "./data/secretaria.db"}
	}
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	if c.Client.BaseURL == "" {
		c.Client.BaseURL = "http://127.0.0.1:8090"
	}
	if c.Client.SessionStore == "" {
		c.Client.SessionStore = "file"
	}
	if c.Client.SessionFile == "" {
		c.Client.SessionFile = defaultSessionFile()
	}
	if c.Client.Profile == "" {
		c.Client.Profile = "default"
	}
	if c.Client.RequestTimeoutSeconds <= 0 {
		c.Client.RequestTimeoutSeconds = 30
	}
	if c.Client.LongPressMillis <= 0 {
		c.Client.LongPressMillis = 500
	}
	if c.Search.Lang == "" {
		c.Search.Lang = "en"
	}
}

// applyEnv fills secrets that are usually kept in .env rather than in the
// config file. Values already present in the file win.
func (c *Config) applyEnv() {
	for name, envKey := range map[string]string{
		"openai": "OPENAI_API_KEY",
		"claude": "ANTHROPIC_API_KEY",
		"gemini": "GEMINI_API_KEY",
	} {
		key := os.Getenv(envKey)
		if key == "" {
			continue
		}
		p := c.Providers[name]
		if p.APIKey == "" {
			p.APIKey = key
			c.Providers[name] = p
		}
	}
	if c.Search.GoogleAPIKey == "" {
		c.Search.GoogleAPIKey = os.Getenv("GOOGLE_API_KEY")
	}
	if c.Search.GoogleSearchEngineID == "" {
		c.Search.GoogleSearchEngineID = os.Getenv("GOOGLE_SEARCH_ENGINE_ID")
	}
	if v := os.Getenv("SECRETARIA_BASE_URL"); v != "" {
		c.Client.BaseURL = v
	}
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".secretaria-session.json"
	}
	return filepath.Join(dir, "secretaria", "session.json")
}
