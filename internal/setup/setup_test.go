package setup

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medreport-mcp-server/internal/config"
	"github.com/medreport-mcp-server/internal/domain"
	"github.com/medreport-mcp-server/internal/evaluation"
)

// isolate points the Claude Desktop config at a temp dir and returns it.
func isolate(t *testing.T) string {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("config path isolation relies on XDG_CONFIG_HOME")
	}
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	return dir
}

func fakeBinary(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "mcp-server-lite")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0755))
	return path
}

func testCLI(t *testing.T, dataDir, input string) (*CLI, *bytes.Buffer) {
	t.Helper()
	cfg := config.DefaultLiteConfig()
	cfg.DataDir = dataDir
	cfg.LogLevel = "error"
	out := &bytes.Buffer{}
	return newCLI("lite", cfg, strings.NewReader(input), out), out
}

func TestConfigureClaudeDesktop_PreservesOtherServers(t *testing.T) {
	dir := isolate(t)
	configPath, err := GetClaudeDesktopConfigPath()
	require.NoError(t, err)

	existing := &ClaudeDesktopConfig{MCPServers: map[string]MCPServerConfig{
		"other": {Command: "/usr/bin/other"},
	}}
	require.NoError(t, SaveClaudeDesktopConfig(configPath, existing))

	bin := fakeBinary(t, dir)
	require.NoError(t, ConfigureClaudeDesktop(SetupOptions{
		BinaryPath: bin,
		DataDir:    filepath.Join(dir, "data"),
		ReportType: "ultrasound",
	}))

	cfg, err := LoadClaudeDesktopConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/other", cfg.MCPServers["other"].Command)

	entry := cfg.MCPServers[ServerName]
	assert.Equal(t, bin, entry.Command)
	assert.Equal(t, filepath.Join(dir, "data"), entry.Env[DataDirEnv])
	assert.Equal(t, "ultrasound", entry.Env["MEDREPORT_REPORT_TYPE"])
}

func TestLoadClaudeDesktopConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadClaudeDesktopConfig(filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	assert.Empty(t, cfg.MCPServers)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0644))
	_, err = LoadClaudeDesktopConfig(bad)
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`{}`), 0644))
	cfg, err = LoadClaudeDesktopConfig(empty)
	require.NoError(t, err)
	assert.NotNil(t, cfg.MCPServers)
}

func TestGetStatus(t *testing.T) {
	dir := isolate(t)
	dataDir := filepath.Join(dir, "data")
	require.NoError(t, EnsureDataDir(dataDir))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "analyses.db"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "exports", "a.json"), []byte("[]"), 0644))

	require.NoError(t, ConfigureClaudeDesktop(SetupOptions{BinaryPath: fakeBinary(t, dir), DataDir: dataDir}))

	status, err := GetStatus("lite")
	require.NoError(t, err)
	assert.True(t, status.ClaudeDesktopConfigured)
	assert.Equal(t, dataDir, status.DataDir)
	assert.True(t, status.ArchivePresent)
	assert.Equal(t, 1, status.ExportCount)
	assert.Empty(t, status.Issues)
}

func TestValidate(t *testing.T) {
	dir := isolate(t)

	valid, issues := Validate("lite")
	assert.False(t, valid)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0], "not configured")

	dataDir := filepath.Join(dir, "not-yet")
	require.NoError(t, ConfigureClaudeDesktop(SetupOptions{BinaryPath: fakeBinary(t, dir), DataDir: dataDir}))
	valid, issues = Validate("lite")
	assert.True(t, valid)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0], "will be created")

	require.NoError(t, ConfigureClaudeDesktop(SetupOptions{BinaryPath: filepath.Join(dir, "gone"), DataDir: dataDir}))
	valid, issues = Validate("lite")
	assert.False(t, valid)
	assert.Contains(t, issues[0], "Server binary not found")
}

func TestCLI_ClaudeDesktop(t *testing.T) {
	dir := isolate(t)
	bin := fakeBinary(t, dir)

	t.Run("cancelled", func(t *testing.T) {
		cli, out := testCLI(t, dir, "n\n")
		require.NoError(t, cli.Run([]string{"claude-desktop", "--binary", bin}))
		assert.Contains(t, out.String(), "Configuration cancelled.")

		valid, _ := Validate("lite")
		assert.False(t, valid)
	})

	t.Run("auto", func(t *testing.T) {
		cli, out := testCLI(t, dir, "")
		require.NoError(t, cli.Run([]string{"claude-desktop", "-b", bin, "-d", dir, "--auto"}))
		assert.Contains(t, out.String(), "configured successfully")

		status, err := GetStatus("lite")
		require.NoError(t, err)
		assert.True(t, status.ClaudeDesktopConfigured)
		assert.Equal(t, bin, status.ServerPath)
	})
}

func TestCLI_Validate(t *testing.T) {
	dir := isolate(t)
	cli, out := testCLI(t, dir, "")

	require.NoError(t, cli.Run([]string{"validate"}))
	output := out.String()
	assert.Contains(t, output, "registration has issues")
	assert.Contains(t, output, "Evaluation over 5 reports")
	assert.Contains(t, output, "Category accuracy:   1.000")
	assert.Contains(t, output, "Pipeline matches every labelled case")
}

func sampleText(t *testing.T, id string) string {
	t.Helper()
	cases, err := evaluation.SampleCorpus()
	require.NoError(t, err)
	for _, c := range cases {
		if c.ID == id {
			return c.Text
		}
	}
	t.Fatalf("case %s not in sample corpus", id)
	return ""
}

func TestCLI_ValidateReportsMismatches(t *testing.T) {
	dir := isolate(t)

	var body strings.Builder
	body.WriteString("cases:\n  - id: wrong\n    report_type: mammography\n")
	body.WriteString("    expected: {category: BIRADS_5, biopsy: false, findings: 0}\n    text: |\n")
	for _, line := range strings.Split(strings.TrimRight(sampleText(t, "example004"), "\n"), "\n") {
		body.WriteString("      " + line + "\n")
	}
	corpus := filepath.Join(dir, "corpus.yaml")
	require.NoError(t, os.WriteFile(corpus, []byte(body.String()), 0644))

	cli, out := testCLI(t, dir, "")
	err := cli.Run([]string{"validate", "--corpus", corpus})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 mismatches")
	assert.Contains(t, out.String(), "wrong category: expected BIRADS_5, got BIRADS_1")
}

func TestCLI_Analyze(t *testing.T) {
	dir := t.TempDir()
	text := sampleText(t, "example003")

	path := filepath.Join(dir, "report.txt")
	require.NoError(t, os.WriteFile(path, []byte(text), 0644))

	t.Run("json", func(t *testing.T) {
		cli, out := testCLI(t, dir, "")
		require.NoError(t, cli.Run([]string{"analyze", path, "--type", "mammography"}))

		var result domain.AnalysisResult
		require.NoError(t, json.Unmarshal(out.Bytes(), &result))
		assert.Equal(t, domain.BIRADS_5, result.Classification.Category)
		assert.True(t, result.HasAction(domain.ActionBiopsy))
	})

	t.Run("markdown from stdin", func(t *testing.T) {
		cli, out := testCLI(t, dir, text)
		require.NoError(t, cli.Run([]string{"analyze", "-", "-f", "markdown"}))
		assert.True(t, strings.HasPrefix(out.String(), "# Report analysis"))
	})

	t.Run("errors", func(t *testing.T) {
		cli, _ := testCLI(t, dir, "")
		assert.Error(t, cli.Run([]string{"analyze"}))
		assert.Error(t, cli.Run([]string{"analyze", path, "--format", "pdf"}))
		assert.Error(t, cli.Run([]string{"analyze", filepath.Join(dir, "missing.txt")}))

		blank := filepath.Join(dir, "blank.txt")
		require.NoError(t, os.WriteFile(blank, []byte("   \n"), 0644))
		err := cli.Run([]string{"analyze", blank})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrEmptyReport)
	})
}

func TestCLI_Help(t *testing.T) {
	cli, out := testCLI(t, t.TempDir(), "")
	require.NoError(t, cli.Run([]string{"bogus"}))
	assert.Contains(t, out.String(), "Unknown command: bogus")
	assert.Contains(t, out.String(), "claude-desktop")
}
