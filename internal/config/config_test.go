package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medreport-mcp-server/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestManager_Defaults(t *testing.T) {
	m, err := NewManagerFromFile(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	cfg := m.GetConfig()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "sqlite", cfg.Archive.Driver)
	assert.Equal(t, "mammography", cfg.Analysis.DefaultReportType)
	assert.Equal(t, 1<<20, cfg.Analysis.MaxReportBytes)
	assert.Equal(t, 5*time.Second, cfg.Analysis.ModelTimeout)
	assert.Equal(t, "lexicon", cfg.Model.Provider)
	assert.Equal(t, uint32(5), cfg.Model.MaxFailures)
	assert.Equal(t, 1000, cfg.Cache.MemoryMaxItems)

	assert.Same(t, &cfg.Server, m.GetServerConfig())
	assert.Same(t, &cfg.Analysis, m.GetAnalysisConfig())
	assert.Same(t, &cfg.Database, m.GetDatabaseConfig())
}

func TestManager_FileAndEnvironment(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  rate_limit: 2.5
archive:
  driver: postgres
database:
  host: db.internal
  database: reports
  username: svc
model:
  provider: openai
  api_key: sk-test
  timeout: 3s
logging:
  level: debug
`)
	t.Setenv("MEDREPORT_SERVER_PORT", "7070")
	t.Setenv("MEDREPORT_ANALYSIS_DEFAULT_REPORT_TYPE", "generic")

	m, err := NewManagerFromFile(path)
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	cfg := m.GetConfig()
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 2.5, cfg.Server.RateLimit)
	assert.Equal(t, "postgres", cfg.Archive.Driver)
	assert.Equal(t, "generic", cfg.Analysis.DefaultReportType)
	assert.Equal(t, "openai", cfg.Model.Provider)
	assert.Equal(t, 3*time.Second, cfg.Model.Timeout)
	assert.Equal(t, "host=db.internal port=5432 user=svc password= dbname=reports sslmode=disable",
		m.GetDatabaseConnectionString())
}

func TestManager_Validate(t *testing.T) {
	tests := []struct {
		name   string
		config string
	}{
		{name: "bad port", config: "server:\n  port: 70000\n"},
		{name: "bad archive driver", config: "archive:\n  driver: mongo\n"},
		{name: "postgres without host", config: "archive:\n  driver: postgres\ndatabase:\n  host: \"\"\n"},
		{name: "unknown provider", config: "model:\n  provider: llama\n"},
		{name: "remote provider without key", config: "model:\n  provider: anthropic\n"},
		{name: "bad log level", config: "logging:\n  level: loud\n"},
		{name: "zero report size", config: "analysis:\n  max_report_bytes: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManagerFromFile(writeConfig(t, tt.config))
			require.NoError(t, err)
			assert.Error(t, m.Validate())
		})
	}
}

func TestManager_Reload(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8081\n")
	m, err := NewManagerFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 8081, m.GetServerConfig().Port)

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8082\n"), 0644))
	require.NoError(t, m.Reload())
	assert.Equal(t, 8082, m.GetServerConfig().Port)
}

func TestManager_MalformedFile(t *testing.T) {
	_, err := NewManagerFromFile(writeConfig(t, "server: [unclosed\n"))
	assert.Error(t, err)
}

func TestManager_Environment(t *testing.T) {
	t.Setenv("MEDREPORT_ENVIRONMENT", "production")
	m, err := NewManagerFromFile(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.True(t, m.IsProduction())
	assert.False(t, m.IsDevelopment())
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger(domain.LoggingConfig{Level: "debug", Format: "text"})
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)

	logger = NewLogger(domain.LoggingConfig{Level: "nonsense"})
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
	assert.Equal(t, os.Stderr, logger.Out)

	logger = NewLogger(domain.LoggingConfig{Output: "stdout"})
	assert.Equal(t, os.Stdout, logger.Out)
}
