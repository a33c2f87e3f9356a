package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/dgallion1/docpress/internal/diagram"
)

// MaxFileSize caps the YAML config file.
var MaxFileSize = 1 << 20

var ErrConfigTooLarge = errors.New("config file exceeds maximum size")

// Settings supplies the canonical public site URL used to classify links and
// resolve resource hints.
type Settings interface {
	SiteURL() *url.URL
}

type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	// Auth
	APIKey string `yaml:"api_key"`

	// Storage
	DatabasePath string `yaml:"database_path"`

	// Public site
	PublicURL string `yaml:"site_url"`

	// Worker pool
	WorkerCount  int           `yaml:"worker_count"`
	MaxQueueSize int           `yaml:"max_queue_size"`
	JobTTL       time.Duration `yaml:"job_ttl"`

	// Rendering
	HighlightTheme     string `yaml:"highlight_theme"`
	HighlightClasses   bool   `yaml:"highlight_classes"`
	SectionMinHeadings int    `yaml:"section_min_headings"`
	MaxSourceBytes     int64  `yaml:"max_source_bytes"`

	// Diagrams
	DiagramsEnabled  bool          `yaml:"diagrams_enabled"`
	BrowserBin       string        `yaml:"browser_bin"`
	MermaidScriptURL string        `yaml:"mermaid_script_url"`
	DiagramTimeout   time.Duration `yaml:"diagram_timeout"`
	DiagramPoolSize  int           `yaml:"diagram_pool_size"`

	siteURL *url.URL
}

// Defaults returns the configuration used when neither file nor env set a key.
func Defaults() Config {
	return Config{
		Port:               "8090",
		LogLevel:           "info",
		DatabasePath:       "docpress.db",
		PublicURL:          "http://localhost:8090",
		WorkerCount:        0,
		MaxQueueSize:       100,
		JobTTL:             1 * time.Hour,
		HighlightTheme:     "github",
		HighlightClasses:   true,
		SectionMinHeadings: 1,
		MaxSourceBytes:     5 << 20,
		DiagramsEnabled:    false,
		MermaidScriptURL:   diagram.DefaultScriptURL,
		DiagramTimeout:     20 * time.Second,
		DiagramPoolSize:    2,
	}
}

// Load builds the configuration from DOCPRESS_CONFIG (optional YAML file)
// overlaid with environment variables.
func Load() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv("DOCPRESS_CONFIG"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.Port = envOr("PORT", cfg.Port)
	cfg.LogLevel = envOr("LOG_LEVEL", cfg.LogLevel)
	cfg.APIKey = envOr("DOCPRESS_API_KEY", cfg.APIKey)
	cfg.DatabasePath = envOr("DATABASE_PATH", cfg.DatabasePath)
	cfg.PublicURL = envOr("SITE_URL", cfg.PublicURL)

	cfg.WorkerCount = envInt("WORKER_COUNT", cfg.WorkerCount)
	cfg.MaxQueueSize = envInt("MAX_QUEUE_SIZE", cfg.MaxQueueSize)
	cfg.JobTTL = envDuration("JOB_TTL", cfg.JobTTL)

	cfg.HighlightTheme = envOr("HIGHLIGHT_THEME", cfg.HighlightTheme)
	cfg.HighlightClasses = envBool("HIGHLIGHT_CLASSES", cfg.HighlightClasses)
	cfg.SectionMinHeadings = envInt("SECTION_MIN_HEADINGS", cfg.SectionMinHeadings)
	cfg.MaxSourceBytes = envInt64("MAX_SOURCE_BYTES", cfg.MaxSourceBytes)

	cfg.DiagramsEnabled = envBool("DIAGRAMS_ENABLED", cfg.DiagramsEnabled)
	cfg.BrowserBin = envOr("ROD_BROWSER_BIN", cfg.BrowserBin)
	cfg.MermaidScriptURL = envOr("MERMAID_SCRIPT_URL", cfg.MermaidScriptURL)
	cfg.DiagramTimeout = envDuration("DIAGRAM_TIMEOUT", cfg.DiagramTimeout)
	cfg.DiagramPoolSize = envInt("DIAGRAM_POOL_SIZE", cfg.DiagramPoolSize)

	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}
	if cfg.MaxSourceBytes <= 0 {
		cfg.MaxSourceBytes = 5 << 20
	}
	if cfg.DiagramTimeout <= 0 {
		cfg.DiagramTimeout = 20 * time.Second
	}
	if cfg.DiagramPoolSize <= 0 {
		cfg.DiagramPoolSize = 1
	}
	if cfg.SectionMinHeadings < 0 {
		cfg.SectionMinHeadings = 0
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if len(data) > MaxFileSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrConfigTooLarge, len(data), MaxFileSize)
	}
	if len(data) == 0 {
		return nil
	}
	if err := yaml.UnmarshalWithOptions(data, cfg, yaml.Strict()); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("DOCPRESS_API_KEY is required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	u, err := url.Parse(c.PublicURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("SITE_URL must be an absolute http(s) URL, got %q", c.PublicURL)
	}
	c.siteURL = u
	if c.WorkerCount < 0 {
		return fmt.Errorf("WORKER_COUNT must not be negative")
	}
	return nil
}

// SiteURL implements Settings. It parses PublicURL lazily when Validate was
// not called.
func (c *Config) SiteURL() *url.URL {
	if c.siteURL != nil {
		return c.siteURL
	}
	u, err := url.Parse(c.PublicURL)
	if err != nil {
		return &url.URL{}
	}
	c.siteURL = u
	return u
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// StaticSettings is a Settings backed by a fixed URL.
type StaticSettings struct {
	URL *url.URL
}

func (s StaticSettings) SiteURL() *url.URL {
	if s.URL == nil {
		return &url.URL{}
	}
	return s.URL
}

// MustStatic parses raw into StaticSettings and panics on error. Tests and
// CLI defaults only.
func MustStatic(raw string) StaticSettings {
	u, err := url.Parse(raw)
	if err != nil {
		panic(err)
	}
	return StaticSettings{URL: u}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
