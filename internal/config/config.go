package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store backends.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// Config holds the application configuration.
type Config struct {
	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	Model        string `env:"TT_MODEL" envDefault:"gemini-2.5-flash"`

	Store      string `env:"TT_STORE" envDefault:"file"`
	SaveDir    string `env:"TT_SAVE_DIR" envDefault:".saves"`
	SQLitePath string `env:"TT_SQLITE_PATH" envDefault:".saves/sessions.db"`
	ArchiveDir string `env:"TT_ARCHIVE_DIR"`

	CacheTTLHours    int    `env:"TT_CACHE_TTL_HOURS" envDefault:"24"`
	CacheMaxEntries  int    `env:"TT_CACHE_MAX_ENTRIES" envDefault:"50"`
	MemoryCacheSize  int    `env:"TT_MEMORY_CACHE_SIZE" envDefault:"1024"`
	DexBaseURL       string `env:"TT_DEX_BASE_URL" envDefault:"https://pokeapi.co/api/v2"`
	EncounterCatalog string `env:"TT_ENCOUNTER_CATALOG"`

	RetryMaxAttempts  uint          `env:"TT_RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryInitial      time.Duration `env:"TT_RETRY_INITIAL" envDefault:"500ms"`
	GenerationTimeout time.Duration `env:"TT_GENERATION_TIMEOUT" envDefault:"60s"`

	ListenAddr string `env:"TT_LISTEN_ADDR" envDefault:":8080"`
	LogLevel   string `env:"TT_LOG_LEVEL" envDefault:"info"`
	LogFormat  string `env:"TT_LOG_FORMAT" envDefault:"json"`
}

// LoadConfig loads the configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store {
	case StoreFile, StoreSQLite:
	default:
		return fmt.Errorf("TT_STORE must be %q or %q, got %q", StoreFile, StoreSQLite, c.Store)
	}
	if c.CacheTTLHours < 1 {
		return fmt.Errorf("TT_CACHE_TTL_HOURS must be at least 1")
	}
	if c.CacheMaxEntries < 1 {
		return fmt.Errorf("TT_CACHE_MAX_ENTRIES must be at least 1")
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("TT_RETRY_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

// RequireAPIKey reports an error when generation is needed but no key is set.
func (c *Config) RequireAPIKey() error {
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY environment variable is not set")
	}
	return nil
}
