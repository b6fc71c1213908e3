// Package config provides configuration management for the servers.
// This file contains the lightweight configuration for standalone operation.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/medreport-mcp-server/internal/domain"
)

// LiteConfig is a simplified configuration for standalone operation.
// It requires no external databases and uses sensible defaults.
type LiteConfig struct {
	// Data storage
	DataDir        string // Base directory for data files
	ArchiveEnabled bool   // Keep finished analyses in SQLite

	// Cache settings
	CacheMaxItems int           // Maximum results in memory cache
	CacheTTL      time.Duration // Default cache TTL

	// Analysis settings
	KnowledgeBasePath string // Optional knowledge base override
	CaseCorpusPath    string // Optional reference case corpus for similar-case lookup
	DefaultReportType string
	MaxReportBytes    int

	// Context scorer settings
	ModelProvider string // lexicon, openai or anthropic
	ModelAPIKey   string
	Model         string
	ModelTimeout  time.Duration

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".medreport-mcp")

	return &LiteConfig{
		DataDir:           dataDir,
		ArchiveEnabled:    true,
		CacheMaxItems:     1000,
		CacheTTL:          24 * time.Hour,
		DefaultReportType: "mammography",
		MaxReportBytes:    1 << 20,
		ModelProvider:     "lexicon",
		ModelTimeout:      5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	// Data directory
	if v := os.Getenv("MEDREPORT_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("MEDREPORT_ARCHIVE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ArchiveEnabled = b
		}
	}

	// Cache settings
	if v := os.Getenv("MEDREPORT_CACHE_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheMaxItems = n
		}
	}
	if v := os.Getenv("MEDREPORT_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}

	// Analysis
	cfg.KnowledgeBasePath = os.Getenv("MEDREPORT_KNOWLEDGE_BASE")
	cfg.CaseCorpusPath = os.Getenv("MEDREPORT_CASE_CORPUS")
	if v := os.Getenv("MEDREPORT_REPORT_TYPE"); v != "" {
		cfg.DefaultReportType = v
	}
	if v := os.Getenv("MEDREPORT_MAX_REPORT_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxReportBytes = n
		}
	}

	// Context scorer
	if v := os.Getenv("MEDREPORT_MODEL_PROVIDER"); v != "" {
		cfg.ModelProvider = strings.ToLower(v)
	}
	cfg.Model = os.Getenv("MEDREPORT_MODEL")
	cfg.ModelAPIKey = os.Getenv("MEDREPORT_MODEL_API_KEY")
	if cfg.ModelAPIKey == "" {
		switch cfg.ModelProvider {
		case "openai":
			cfg.ModelAPIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic":
			cfg.ModelAPIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
	if v := os.Getenv("MEDREPORT_MODEL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ModelTimeout = d
		}
	}

	// Logging
	if v := os.Getenv("MEDREPORT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MEDREPORT_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// ArchiveDBPath returns the path to the analysis archive SQLite database.
func (c *LiteConfig) ArchiveDBPath() string {
	return filepath.Join(c.DataDir, "analyses.db")
}

// ExportDir returns the directory for JSON exports.
func (c *LiteConfig) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.ExportDir(), 0755)
}

// AnalysisConfig returns the pipeline settings.
func (c *LiteConfig) AnalysisConfig() domain.AnalysisConfig {
	return domain.AnalysisConfig{
		KnowledgeBasePath: c.KnowledgeBasePath,
		CaseCorpusPath:    c.CaseCorpusPath,
		DefaultReportType: c.DefaultReportType,
		MaxReportBytes:    c.MaxReportBytes,
		ModelTimeout:      c.ModelTimeout,
	}
}

// ModelConfig returns the context scorer settings.
func (c *LiteConfig) ModelConfig() domain.ModelConfig {
	return domain.ModelConfig{
		Provider:       c.ModelProvider,
		APIKey:         c.ModelAPIKey,
		Model:          c.Model,
		Timeout:        c.ModelTimeout,
		RateLimit:      5,
		MaxFailures:    5,
		BreakerTimeout: time.Minute,
		CacheSize:      4096,
	}
}

// LoggingConfig returns logging settings. Stdio servers always log to stderr.
func (c *LiteConfig) LoggingConfig() domain.LoggingConfig {
	return domain.LoggingConfig{Level: c.LogLevel, Format: c.LogFormat, Output: "stderr"}
}
