package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var liteEnvVars = []string{
	"MEDREPORT_DATA_DIR",
	"MEDREPORT_ARCHIVE",
	"MEDREPORT_CACHE_MAX_ITEMS",
	"MEDREPORT_CACHE_TTL",
	"MEDREPORT_KNOWLEDGE_BASE",
	"MEDREPORT_REPORT_TYPE",
	"MEDREPORT_MAX_REPORT_BYTES",
	"MEDREPORT_MODEL_PROVIDER",
	"MEDREPORT_MODEL",
	"MEDREPORT_MODEL_API_KEY",
	"MEDREPORT_MODEL_TIMEOUT",
	"MEDREPORT_LOG_LEVEL",
	"MEDREPORT_LOG_FORMAT",
	"OPENAI_API_KEY",
	"ANTHROPIC_API_KEY",
}

// clearEnvVars blanks every variable for the duration of the test.
func clearEnvVars(t *testing.T) {
	t.Helper()
	for _, v := range liteEnvVars {
		t.Setenv(v, "")
	}
}

func TestDefaultLiteConfig(t *testing.T) {
	cfg := DefaultLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.True(t, cfg.ArchiveEnabled)
	assert.Equal(t, 1000, cfg.CacheMaxItems)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
	assert.Equal(t, "mammography", cfg.DefaultReportType)
	assert.Equal(t, 1<<20, cfg.MaxReportBytes)
	assert.Equal(t, "lexicon", cfg.ModelProvider)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadLiteConfig_Defaults(t *testing.T) {
	clearEnvVars(t)

	cfg := LoadLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, 1000, cfg.CacheMaxItems)
	assert.Equal(t, "lexicon", cfg.ModelProvider)
	assert.Empty(t, cfg.ModelAPIKey)
}

func TestLoadLiteConfig_EnvironmentOverrides(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("MEDREPORT_DATA_DIR", "/tmp/test-medreport")
	t.Setenv("MEDREPORT_ARCHIVE", "false")
	t.Setenv("MEDREPORT_CACHE_MAX_ITEMS", "500")
	t.Setenv("MEDREPORT_CACHE_TTL", "12h")
	t.Setenv("MEDREPORT_REPORT_TYPE", "generic")
	t.Setenv("MEDREPORT_MAX_REPORT_BYTES", "4096")
	t.Setenv("MEDREPORT_MODEL_PROVIDER", "Anthropic")
	t.Setenv("MEDREPORT_MODEL_TIMEOUT", "2s")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("MEDREPORT_LOG_LEVEL", "debug")

	cfg := LoadLiteConfig()

	assert.Equal(t, "/tmp/test-medreport", cfg.DataDir)
	assert.False(t, cfg.ArchiveEnabled)
	assert.Equal(t, 500, cfg.CacheMaxItems)
	assert.Equal(t, 12*time.Hour, cfg.CacheTTL)
	assert.Equal(t, "generic", cfg.DefaultReportType)
	assert.Equal(t, 4096, cfg.MaxReportBytes)
	assert.Equal(t, "anthropic", cfg.ModelProvider)
	assert.Equal(t, "sk-ant-test", cfg.ModelAPIKey)
	assert.Equal(t, 2*time.Second, cfg.ModelTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)

	model := cfg.ModelConfig()
	assert.Equal(t, "anthropic", model.Provider)
	assert.Equal(t, "sk-ant-test", model.APIKey)
	assert.Equal(t, 2*time.Second, model.Timeout)

	analysis := cfg.AnalysisConfig()
	assert.Equal(t, "generic", analysis.DefaultReportType)
	assert.Equal(t, 4096, analysis.MaxReportBytes)

	assert.Equal(t, "stderr", cfg.LoggingConfig().Output)
}

func TestLoadLiteConfig_InvalidValuesKeepDefaults(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("MEDREPORT_CACHE_MAX_ITEMS", "-3")
	t.Setenv("MEDREPORT_CACHE_TTL", "soon")
	t.Setenv("MEDREPORT_ARCHIVE", "maybe")

	cfg := LoadLiteConfig()

	assert.Equal(t, 1000, cfg.CacheMaxItems)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
	assert.True(t, cfg.ArchiveEnabled)
}

func TestLiteConfig_Paths(t *testing.T) {
	cfg := &LiteConfig{DataDir: "/home/user/.medreport-mcp"}

	assert.Equal(t, "/home/user/.medreport-mcp/analyses.db", cfg.ArchiveDBPath())
	assert.Equal(t, "/home/user/.medreport-mcp/exports", cfg.ExportDir())
}

func TestLiteConfig_EnsureDataDir(t *testing.T) {
	cfg := &LiteConfig{DataDir: filepath.Join(t.TempDir(), "medreport")}

	require.NoError(t, cfg.EnsureDataDir())

	_, err := os.Stat(cfg.DataDir)
	assert.NoError(t, err)
	_, err = os.Stat(cfg.ExportDir())
	assert.NoError(t, err)
}
