package setup

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/medreport-mcp-server/internal/app"
	"github.com/medreport-mcp-server/internal/config"
	"github.com/medreport-mcp-server/internal/domain"
	"github.com/medreport-mcp-server/internal/evaluation"
	"github.com/medreport-mcp-server/internal/knowledge"
	"github.com/medreport-mcp-server/internal/report"
	"github.com/medreport-mcp-server/internal/service"
	"github.com/medreport-mcp-server/pkg/external"
)

// CLI provides command-line interface for setup operations.
type CLI struct {
	ServerType string // "lite" or "full"
	config     *config.LiteConfig
	reader     *bufio.Reader
	out        io.Writer
}

// NewCLI creates a new setup CLI instance reading stdin and writing stdout.
func NewCLI(serverType string) *CLI {
	return newCLI(serverType, config.LoadLiteConfig(), os.Stdin, os.Stdout)
}

func newCLI(serverType string, cfg *config.LiteConfig, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		ServerType: serverType,
		config:     cfg,
		reader:     bufio.NewReader(in),
		out:        out,
	}
}

// Run executes the setup command based on the provided arguments.
func (c *CLI) Run(args []string) error {
	if len(args) == 0 {
		return c.showHelp()
	}

	switch args[0] {
	case "claude-desktop":
		return c.setupClaudeDesktop(args[1:])
	case "status":
		return c.showStatus()
	case "validate":
		return c.validate(args[1:])
	case "analyze":
		return c.analyze(args[1:])
	case "wizard":
		return c.runWizard()
	case "help", "--help", "-h":
		return c.showHelp()
	default:
		c.printf("Unknown command: %s\n\n", args[0])
		return c.showHelp()
	}
}

func (c *CLI) printf(format string, a ...interface{}) {
	fmt.Fprintf(c.out, format, a...)
}

func (c *CLI) println(a ...interface{}) {
	fmt.Fprintln(c.out, a...)
}

func (c *CLI) confirm(prompt string, defaultYes bool) bool {
	c.printf("%s", prompt)
	response, _ := c.reader.ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	if response == "" {
		return defaultYes
	}
	return response == "y" || response == "yes"
}

func (c *CLI) showHelp() error {
	c.println(`
Medical Report MCP Server Setup

Usage:
  mcp-server-lite setup <command> [options]

Commands:
  wizard          Interactive setup wizard
  claude-desktop  Configure Claude Desktop integration
  status          Show current setup status
  validate        Validate configuration and score the labelled corpus
  analyze         Analyze a report file and print the result

Examples:
  mcp-server-lite setup claude-desktop --binary /path/to/mcp-server-lite --auto
  mcp-server-lite setup validate --corpus ./my-corpus.yaml
  mcp-server-lite setup analyze report.txt --type mammography --format markdown
  cat report.txt | mcp-server-lite setup analyze -`)
	return nil
}

func (c *CLI) setupClaudeDesktop(args []string) error {
	opts := SetupOptions{ServerType: c.ServerType}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--binary", "-b":
			if i+1 < len(args) {
				opts.BinaryPath = args[i+1]
				i++
			}
		case "--data-dir", "-d":
			if i+1 < len(args) {
				opts.DataDir = args[i+1]
				i++
			}
		case "--type", "-t":
			if i+1 < len(args) {
				opts.ReportType = args[i+1]
				i++
			}
		case "--auto", "-y":
			opts.AutoConfirm = true
		}
	}

	if opts.BinaryPath == "" {
		if execPath, err := os.Executable(); err == nil {
			opts.BinaryPath = execPath
		}
	}

	configPath, _ := GetClaudeDesktopConfigPath()
	c.println("Claude Desktop Configuration")
	c.println("============================")
	c.printf("Config file: %s\n", configPath)
	c.printf("Server binary: %s\n", opts.BinaryPath)
	if opts.DataDir != "" {
		c.printf("Data directory: %s\n", opts.DataDir)
	}
	c.println()

	if !opts.AutoConfirm && !c.confirm("Proceed with configuration? [Y/n]: ", true) {
		c.println("Configuration cancelled.")
		return nil
	}

	if err := ConfigureClaudeDesktop(opts); err != nil {
		return fmt.Errorf("failed to configure Claude Desktop: %w", err)
	}

	c.println()
	c.println("✓ Claude Desktop configured successfully!")
	c.println()
	c.println("Next steps:")
	c.println("  1. Restart Claude Desktop to load the new configuration")
	c.println("  2. Ask Claude: \"What MCP tools do you have available?\"")
	c.println("  3. Paste a mammography report and ask for its BI-RADS category")
	c.println()
	return nil
}

func (c *CLI) showStatus() error {
	status, err := GetStatus(c.ServerType)
	if err != nil {
		return err
	}

	c.println("Medical Report MCP Server Status")
	c.println("================================")
	c.println()

	c.println("Claude Desktop:")
	c.printf("  Config path: %s\n", status.ClaudeDesktopPath)
	if status.ClaudeDesktopConfigured {
		c.println("  Status: ✓ Configured")
		c.printf("  Binary: %s\n", status.ServerPath)
	} else {
		c.println("  Status: ✗ Not configured")
	}
	c.println()

	c.println("Data Directory:")
	c.printf("  Path: %s\n", status.DataDir)
	if status.ArchivePresent {
		c.println("  Archive DB: ✓ Present")
	} else {
		c.println("  Archive DB: - Not created yet")
	}
	c.printf("  Exports: %d\n", status.ExportCount)
	c.println()

	if len(status.Issues) > 0 {
		c.println("Issues:")
		for _, issue := range status.Issues {
			c.printf("  ⚠ %s\n", issue)
		}
		c.println()
	}
	return nil
}

// validate checks the registration, loads the knowledge base and runs the
// labelled corpus through the configured pipeline. Registration issues are
// reported but only pipeline failures make the command fail.
func (c *CLI) validate(args []string) error {
	corpusPath := ""
	for i := 0; i < len(args); i++ {
		if (args[i] == "--corpus" || args[i] == "-c") && i+1 < len(args) {
			corpusPath = args[i+1]
			i++
		}
	}

	c.println("Validating configuration...")
	c.println()

	if valid, issues := Validate(c.ServerType); valid {
		c.println("✓ Claude Desktop registration is valid")
	} else {
		c.println("✗ Claude Desktop registration has issues:")
		for _, issue := range issues {
			c.printf("  - %s\n", issue)
		}
	}

	logger := c.logger()
	kb, analyzer, err := c.pipeline(logger)
	if err != nil {
		return err
	}
	c.printf("✓ Knowledge base %s loaded (%d profiles)\n", kb.Version(), len(kb.Profiles()))

	cases, err := evaluation.LoadCorpus(corpusPath)
	if err != nil {
		return fmt.Errorf("failed to load corpus: %w", err)
	}

	rep, err := evaluation.NewEvaluator(analyzer, logger).Run(context.Background(), cases)
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	m := rep.Metrics
	c.println()
	c.printf("Evaluation over %d reports (%s)\n", m.NumReports, rep.Duration)
	c.printf("  Category accuracy:   %.3f\n", m.CategoryAccuracy)
	c.printf("  Findings count diff: %.3f\n", m.FindingsCountDiff)
	c.printf("  Biopsy accuracy:     %.3f\n", m.BiopsyAccuracy)
	c.printf("  Biopsy precision:    %.3f\n", m.BiopsyPrecision)
	c.printf("  Biopsy recall:       %.3f\n", m.BiopsyRecall)
	c.printf("  Biopsy F1:           %.3f\n", m.BiopsyF1)
	c.printf("  Confusion: tn=%d fp=%d fn=%d tp=%d\n",
		m.Confusion.TrueNegative, m.Confusion.FalsePositive, m.Confusion.FalseNegative, m.Confusion.TruePositive)

	if !rep.Passed() {
		c.println()
		c.println("Mismatches:")
		for _, mm := range rep.Mismatches {
			c.printf("  - %s %s: expected %s, got %s\n", mm.CaseID, mm.Field, mm.Expected, mm.Got)
		}
		return fmt.Errorf("evaluation found %d mismatches", len(rep.Mismatches))
	}

	c.println()
	c.println("✓ Pipeline matches every labelled case")
	return nil
}

// analyze runs one report through the pipeline. A path of "-" reads stdin.
func (c *CLI) analyze(args []string) error {
	var path, reportType string
	format := "json"
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--type", "-t":
			if i+1 < len(args) {
				reportType = args[i+1]
				i++
			}
		case "--format", "-f":
			if i+1 < len(args) {
				format = strings.ToLower(args[i+1])
				i++
			}
		default:
			path = args[i]
		}
	}
	if path == "" {
		return fmt.Errorf("usage: analyze <file|-> [--type T] [--format json|markdown]")
	}
	if format != "json" && format != "markdown" {
		return fmt.Errorf("unsupported format %q", format)
	}

	var (
		text []byte
		err  error
	)
	if path == "-" {
		text, err = io.ReadAll(c.reader)
	} else {
		text, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("failed to read report: %w", err)
	}

	kb, analyzer, err := c.pipeline(c.logger())
	if err != nil {
		return err
	}

	result, err := analyzer.Analyze(context.Background(), domain.RawReport{Text: string(text), ReportType: reportType})
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	if format == "markdown" {
		c.printf("%s", report.NewRenderer().Markdown(result, kb.Profile(result.ReportType)))
		return nil
	}

	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func (c *CLI) logger() *logrus.Logger {
	logger := config.NewLogger(c.config.LoggingConfig())
	if logger.GetLevel() > logrus.WarnLevel {
		logger.SetLevel(logrus.WarnLevel)
	}
	return logger
}

func (c *CLI) pipeline(logger *logrus.Logger) (*knowledge.Base, *service.Analyzer, error) {
	kb, err := knowledge.Load(c.config.KnowledgeBasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load knowledge base: %w", err)
	}
	scorer, err := external.NewContextScorer(c.config.ModelConfig(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create context scorer: %w", err)
	}
	return kb, app.NewAnalyzer(logger, kb, scorer, c.config.AnalysisConfig()), nil
}

func (c *CLI) runWizard() error {
	c.println()
	c.println("Medical Report MCP Server - Interactive Setup Wizard")
	c.println("====================================================")
	c.println()

	c.println("Step 1: Checking current setup...")
	status, _ := GetStatus(c.ServerType)
	if status != nil && status.ClaudeDesktopConfigured {
		c.println("✓ Claude Desktop is already configured!")
		if !c.confirm("Would you like to reconfigure? [y/N]: ", false) {
			c.println()
			c.println("Setup complete. Your server is ready to use!")
			return nil
		}
	}

	c.println()
	c.println("Step 2: Configure Claude Desktop")
	c.println("--------------------------------")

	execPath, _ := os.Executable()
	binaryPath := c.ask("Server binary path", execPath)
	if _, err := os.Stat(binaryPath); os.IsNotExist(err) {
		c.printf("⚠ Warning: Binary not found at %s\n", binaryPath)
		if !c.confirm("Continue anyway? [y/N]: ", false) {
			return fmt.Errorf("setup cancelled")
		}
	}
	dataDir := c.ask("Data directory", GetDefaultDataDir())
	reportType := c.ask("Default report type", c.config.DefaultReportType)

	c.println()
	c.println("Step 3: Applying configuration...")
	opts := SetupOptions{
		ServerType: c.ServerType,
		BinaryPath: binaryPath,
		DataDir:    dataDir,
		ReportType: reportType,
	}
	if err := ConfigureClaudeDesktop(opts); err != nil {
		return fmt.Errorf("failed to configure: %w", err)
	}
	if err := EnsureDataDir(dataDir); err != nil {
		c.printf("⚠ Warning: Could not create data directory: %v\n", err)
	}

	c.println()
	c.println("Setup complete ✓")
	c.println("Restart Claude Desktop, then run: mcp-server-lite setup validate")
	return nil
}

func (c *CLI) ask(prompt, def string) string {
	c.printf("%s [%s]: ", prompt, def)
	answer, _ := c.reader.ReadString('\n')
	if answer = strings.TrimSpace(answer); answer != "" {
		return answer
	}
	return def
}
