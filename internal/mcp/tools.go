package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/medreport-mcp-server/internal/domain"
	"github.com/medreport-mcp-server/internal/service"
)

// Tool names exposed over MCP.
const (
	ToolAnalyzeReport  = "analyze_report"
	ToolGetAnalysis    = "get_analysis"
	ToolListAnalyses   = "list_analyses"
	ToolRenderReport   = "render_report"
	ToolListProfiles   = "list_profiles"
	ToolExportAnalyses = "export_analyses"
	ToolSimilarCases   = "find_similar_cases"
)

// AnalyzeReportParams defines parameters for analyze_report tool
type AnalyzeReportParams struct {
	Text       string `json:"text"`
	ReportType string `json:"report_type,omitempty"`
	// Format additionally renders the result as "markdown" or "html".
	Format string `json:"format,omitempty"`
}

// GetAnalysisParams defines parameters for get_analysis tool
type GetAnalysisParams struct {
	ID string `json:"id"`
}

// ListAnalysesParams defines parameters for list_analyses tool
type ListAnalysesParams struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// RenderReportParams defines parameters for render_report tool
type RenderReportParams struct {
	ID     string `json:"id"`
	Format string `json:"format,omitempty"`
}

// FindSimilarCasesParams defines parameters for find_similar_cases tool
type FindSimilarCasesParams struct {
	Text       string `json:"text"`
	ReportType string `json:"report_type,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// ListProfilesParams defines parameters for list_profiles tool
type ListProfilesParams struct{}

// ExportAnalysesParams defines parameters for export_analyses tool
type ExportAnalysesParams struct{}

// AnalyzeReportResult defines the result structure for analyze_report tool
type AnalyzeReportResult struct {
	*service.AnalyzeOutcome
	Rendered string `json:"rendered,omitempty"`
}

// AnalysisSummary is one row of list_analyses.
type AnalysisSummary struct {
	ID         string          `json:"id"`
	ReportType string          `json:"report_type"`
	Category   domain.Category `json:"category"`
	Confidence float64         `json:"confidence"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ListAnalysesResult defines the result structure for list_analyses tool
type ListAnalysesResult struct {
	Analyses []AnalysisSummary `json:"analyses"`
	Total    int               `json:"total"`
}

// ProfileInfo describes a report profile for list_profiles.
type ProfileInfo struct {
	Key         string               `json:"key"`
	Description string               `json:"description"`
	Aliases     []string             `json:"aliases"`
	Sections    []domain.SectionName `json:"sections"`
}

// ToolHandlers implements the MCP tools on top of the analysis service.
type ToolHandlers struct {
	service   *service.AnalysisService
	logger    *logrus.Logger
	exportDir string
	clock     func() time.Time
}

// NewToolHandlers creates the tool handlers. A non-empty exportDir enables
// the export_analyses tool.
func NewToolHandlers(svc *service.AnalysisService, logger *logrus.Logger, exportDir string) *ToolHandlers {
	return &ToolHandlers{service: svc, logger: logger, exportDir: exportDir, clock: time.Now}
}

// Register adds every tool to the MCP server.
func (h *ToolHandlers) Register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name: ToolAnalyzeReport,
		Description: "Analyze a free-text radiology report (English or French). Returns sections, " +
			"recognized entities, an advisory BI-RADS category with evidence, follow-up recommendations " +
			"and, for BI-RADS 5 or 6, indicative treatment options. " +
			"report_type selects a profile such as mammography or generic. Output is advisory, not a diagnosis.",
	}, h.AnalyzeReport)

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolGetAnalysis,
		Description: "Fetch an archived analysis by its id.",
	}, h.GetAnalysis)

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolListAnalyses,
		Description: "List archived analyses, newest first. limit defaults to 20 (max 100).",
	}, h.ListAnalyses)

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolRenderReport,
		Description: "Render an archived analysis as a markdown (default) or html review summary.",
	}, h.RenderReport)

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolListProfiles,
		Description: "List the report profiles and the section headers each one recognizes.",
	}, h.ListProfiles)

	mcp.AddTool(server, &mcp.Tool{
		Name: ToolSimilarCases,
		Description: "Analyze a report and return the labelled reference cases that resemble it most, " +
			"ranked by shared findings, category and lesion size. limit defaults to 3.",
	}, h.FindSimilarCases)

	count := 6
	if h.exportDir != "" {
		mcp.AddTool(server, &mcp.Tool{
			Name:        ToolExportAnalyses,
			Description: "Export every archived analysis to a JSON file in the server's export directory and return its path.",
		}, h.ExportAnalyses)
		count++
	}

	h.logger.WithField("tool_count", count).Info("Registered MCP tools")
}

// AnalyzeReport handles the analyze_report tool invocation
func (h *ToolHandlers) AnalyzeReport(ctx context.Context, _ *mcp.CallToolRequest, params AnalyzeReportParams) (*mcp.CallToolResult, any, error) {
	h.logger.WithField("tool", ToolAnalyzeReport).Info("Tool invoked")

	outcome, err := h.service.Analyze(ctx, domain.RawReport{Text: params.Text, ReportType: params.ReportType})
	if err != nil {
		return h.errorResult(err), nil, nil
	}

	result := AnalyzeReportResult{AnalyzeOutcome: outcome}
	if params.Format != "" {
		rendered, err := h.service.RenderResult(outcome.Result, params.Format)
		if err != nil {
			return h.errorResult(err), nil, nil
		}
		result.Rendered = rendered
	}
	return jsonResult(result)
}

// GetAnalysis handles the get_analysis tool invocation
func (h *ToolHandlers) GetAnalysis(ctx context.Context, _ *mcp.CallToolRequest, params GetAnalysisParams) (*mcp.CallToolResult, any, error) {
	h.logger.WithField("tool", ToolGetAnalysis).Info("Tool invoked")

	record, err := h.service.GetAnalysis(ctx, params.ID)
	if err != nil {
		return h.errorResult(err), nil, nil
	}
	return jsonResult(record)
}

// ListAnalyses handles the list_analyses tool invocation
func (h *ToolHandlers) ListAnalyses(ctx context.Context, _ *mcp.CallToolRequest, params ListAnalysesParams) (*mcp.CallToolResult, any, error) {
	h.logger.WithField("tool", ToolListAnalyses).Info("Tool invoked")

	records, total, err := h.service.ListAnalyses(ctx, params.Limit, params.Offset)
	if err != nil {
		return h.errorResult(err), nil, nil
	}

	result := ListAnalysesResult{Analyses: make([]AnalysisSummary, 0, len(records)), Total: total}
	for _, r := range records {
		result.Analyses = append(result.Analyses, AnalysisSummary{
			ID:         r.ID,
			ReportType: r.ReportType,
			Category:   r.Category,
			Confidence: r.Confidence,
			CreatedAt:  r.CreatedAt,
		})
	}
	return jsonResult(result)
}

// RenderReport handles the render_report tool invocation
func (h *ToolHandlers) RenderReport(ctx context.Context, _ *mcp.CallToolRequest, params RenderReportParams) (*mcp.CallToolResult, any, error) {
	h.logger.WithField("tool", ToolRenderReport).Info("Tool invoked")

	out, err := h.service.RenderReport(ctx, params.ID, params.Format)
	if err != nil {
		return h.errorResult(err), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: out}},
	}, nil, nil
}

// FindSimilarCases handles the find_similar_cases tool invocation
func (h *ToolHandlers) FindSimilarCases(ctx context.Context, _ *mcp.CallToolRequest, params FindSimilarCasesParams) (*mcp.CallToolResult, any, error) {
	h.logger.WithField("tool", ToolSimilarCases).Info("Tool invoked")

	outcome, err := h.service.FindSimilarCases(ctx, domain.RawReport{Text: params.Text, ReportType: params.ReportType}, params.Limit)
	if err != nil {
		return h.errorResult(err), nil, nil
	}
	return jsonResult(outcome)
}

// ListProfiles handles the list_profiles tool invocation
func (h *ToolHandlers) ListProfiles(_ context.Context, _ *mcp.CallToolRequest, _ ListProfilesParams) (*mcp.CallToolResult, any, error) {
	h.logger.WithField("tool", ToolListProfiles).Info("Tool invoked")

	profiles := h.service.Profiles()
	out := make([]ProfileInfo, 0, len(profiles))
	for _, p := range profiles {
		info := ProfileInfo{Key: p.Key, Description: p.Description, Aliases: p.Aliases}
		for _, entry := range p.Taxonomy {
			info.Sections = append(info.Sections, entry.Section)
		}
		out = append(out, info)
	}
	return jsonResult(map[string]interface{}{
		"pipeline_version": h.service.Version(),
		"profiles":         out,
	})
}

// ExportAnalyses handles the export_analyses tool invocation
func (h *ToolHandlers) ExportAnalyses(ctx context.Context, _ *mcp.CallToolRequest, _ ExportAnalysesParams) (*mcp.CallToolResult, any, error) {
	h.logger.WithField("tool", ToolExportAnalyses).Info("Tool invoked")

	if err := os.MkdirAll(h.exportDir, 0755); err != nil {
		return h.errorResult(fmt.Errorf("failed to create export directory: %w", err)), nil, nil
	}
	path := filepath.Join(h.exportDir, fmt.Sprintf("analyses-%s.json", h.clock().UTC().Format("20060102T150405Z")))
	f, err := os.Create(path)
	if err != nil {
		return h.errorResult(fmt.Errorf("failed to create export file: %w", err)), nil, nil
	}
	defer f.Close()

	if err := h.service.ExportAnalyses(ctx, f); err != nil {
		return h.errorResult(err), nil, nil
	}
	return jsonResult(map[string]string{"path": path})
}

// errorResult converts a service error into a tool-level error result so
// the calling agent can see and correct it.
func (h *ToolHandlers) errorResult(err error) *mcp.CallToolResult {
	se := domain.ServiceErrorFrom(err, "")
	if se.Code == domain.ErrCodeInternalServer || se.Code == domain.ErrCodeIntegrityViolation {
		h.logger.WithError(err).Error("Tool execution failed")
	}

	text := fmt.Sprintf("Error: %s", se.Message)
	if se.Details != "" {
		text += fmt.Sprintf(" - %s", se.Details)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}

func jsonResult(v interface{}) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}
