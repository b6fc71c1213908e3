package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/medreport-mcp-server/internal/domain"
)

// Report output formats.
const (
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
)

// AnalysisService is the application facade shared by the HTTP and MCP
// surfaces. It adds result caching and archiving around the Analyzer; both
// collaborators are optional and their failures never fail an analysis.
type AnalysisService struct {
	logger   *logrus.Logger
	analyzer *Analyzer
	cache    domain.ResultCache
	archive  domain.AnalysisArchive
	renderer domain.ReportRenderer
	cases    domain.CaseFinder
}

// NewAnalysisService wires the facade. cache, archive and renderer may be nil.
func NewAnalysisService(
	logger *logrus.Logger,
	analyzer *Analyzer,
	cache domain.ResultCache,
	archive domain.AnalysisArchive,
	renderer domain.ReportRenderer,
) *AnalysisService {
	return &AnalysisService{
		logger:   logger,
		analyzer: analyzer,
		cache:    cache,
		archive:  archive,
		renderer: renderer,
	}
}

// SetCaseFinder enables similar-case lookup.
func (s *AnalysisService) SetCaseFinder(finder domain.CaseFinder) {
	s.cases = finder
}

// AnalyzeOutcome is an analysis result plus its archive id.
type AnalyzeOutcome struct {
	ID     string                 `json:"id,omitempty"`
	Cached bool                   `json:"cached"`
	Result *domain.AnalysisResult `json:"result"`
}

// Analyze analyzes a report, serving repeated inputs from the cache.
func (s *AnalysisService) Analyze(ctx context.Context, raw domain.RawReport) (*AnalyzeOutcome, error) {
	result, cached, err := s.analyzeCached(ctx, raw)
	if err != nil {
		return nil, err
	}

	outcome := &AnalyzeOutcome{Cached: cached, Result: result}
	if s.archive != nil {
		record := &domain.AnalysisRecord{
			ID:         uuid.NewString(),
			ReportType: outcome.Result.ReportType,
			Category:   outcome.Result.Classification.Category,
			Confidence: outcome.Result.Classification.Confidence,
			CreatedAt:  outcome.Result.GeneratedAt,
			Result:     outcome.Result,
		}
		if err := s.archive.Save(ctx, record); err != nil {
			s.logger.WithError(err).Warn("Failed to archive analysis result")
		} else {
			outcome.ID = record.ID
		}
	}

	s.logger.WithFields(logrus.Fields{
		"analysis_id": outcome.ID,
		"cached":      outcome.Cached,
		"category":    outcome.Result.Classification.Category,
	}).Debug("Analysis served")
	return outcome, nil
}

// analyzeCached runs the pipeline unless the cache already holds the result.
func (s *AnalysisService) analyzeCached(ctx context.Context, raw domain.RawReport) (*domain.AnalysisResult, bool, error) {
	if err := s.analyzer.validateInput(raw); err != nil {
		return nil, false, err
	}
	profile := s.analyzer.Profile(raw.ReportType)
	key := s.cacheKey(profile.Key, s.analyzer.normalizer.Normalize(raw, profile))

	if s.cache != nil {
		cached, found, err := s.cache.GetResult(ctx, key)
		if err != nil {
			s.logger.WithError(err).Warn("Result cache lookup failed")
		} else if found {
			return cached, true, nil
		}
	}

	result, err := s.analyzer.Analyze(ctx, raw)
	if err != nil {
		return nil, false, err
	}
	if s.cache != nil {
		if err := s.cache.SetResult(ctx, key, result); err != nil {
			s.logger.WithError(err).Warn("Failed to cache analysis result")
		}
	}
	return result, false, nil
}

// SimilarOutcome is the classification of a report and the reference cases
// that resemble it.
type SimilarOutcome struct {
	Category domain.Category      `json:"category"`
	Cases    []domain.SimilarCase `json:"cases"`
}

// FindSimilarCases analyzes a report without archiving it and returns the
// closest reference cases, best first.
func (s *AnalysisService) FindSimilarCases(ctx context.Context, raw domain.RawReport, limit int) (*SimilarOutcome, error) {
	if s.cases == nil {
		return nil, fmt.Errorf("similar case lookup is not configured")
	}
	if limit < 0 {
		return nil, domain.NewValidationError("limit", "must be a non-negative integer", limit)
	}

	result, _, err := s.analyzeCached(ctx, raw)
	if err != nil {
		return nil, err
	}
	cases, err := s.cases.FindSimilar(ctx, result, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find similar cases: %w", err)
	}
	return &SimilarOutcome{Category: result.Classification.Category, Cases: cases}, nil
}

// cacheKey hashes the pipeline version, profile and normalized input.
func (s *AnalysisService) cacheKey(profileKey, normalized string) string {
	h := sha256.New()
	h.Write([]byte(s.analyzer.Version()))
	h.Write([]byte{0})
	h.Write([]byte(profileKey))
	h.Write([]byte{0})
	h.Write([]byte(normalized))
	return "analysis:" + hex.EncodeToString(h.Sum(nil))
}

// GetAnalysis returns an archived analysis.
func (s *AnalysisService) GetAnalysis(ctx context.Context, id string) (*domain.AnalysisRecord, error) {
	if s.archive == nil {
		return nil, fmt.Errorf("archive is disabled: %w", domain.ErrAnalysisNotFound)
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid analysis id %q: %w", id, domain.ErrAnalysisNotFound)
	}
	return s.archive.Get(ctx, id)
}

// ListAnalyses returns a page of archived analyses, newest first, and the total count.
func (s *AnalysisService) ListAnalyses(ctx context.Context, limit, offset int) ([]*domain.AnalysisRecord, int, error) {
	if s.archive == nil {
		return []*domain.AnalysisRecord{}, 0, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	records, err := s.archive.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list analyses: %w", err)
	}
	total, err := s.archive.Count(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count analyses: %w", err)
	}
	return records, total, nil
}

// ExportAnalyses writes the whole archive as JSON.
func (s *AnalysisService) ExportAnalyses(ctx context.Context, w io.Writer) error {
	if s.archive == nil {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(&domain.AnalysisExport{
			Version:    domain.ExportFormatVersion,
			ExportedAt: s.analyzer.clock().UTC(),
			Analyses:   []*domain.AnalysisRecord{},
		})
	}
	return s.archive.ExportJSON(ctx, w)
}

// Profiles lists the configured report profiles.
func (s *AnalysisService) Profiles() []*domain.Profile {
	return s.analyzer.kb.Profiles()
}

// Version returns the pipeline version stamped on results.
func (s *AnalysisService) Version() string {
	return s.analyzer.Version()
}

// RenderReport renders an archived analysis as markdown or HTML.
func (s *AnalysisService) RenderReport(ctx context.Context, id, format string) (string, error) {
	record, err := s.GetAnalysis(ctx, id)
	if err != nil {
		return "", err
	}
	return s.RenderResult(record.Result, format)
}

// RenderResult renders a result with the guidelines of its profile.
func (s *AnalysisService) RenderResult(result *domain.AnalysisResult, format string) (string, error) {
	if s.renderer == nil {
		return "", fmt.Errorf("report rendering is not configured")
	}
	profile := s.analyzer.Profile(result.ReportType)
	switch format {
	case "", FormatMarkdown:
		return s.renderer.Markdown(result, profile), nil
	case FormatHTML:
		return s.renderer.HTML(result, profile)
	default:
		return "", domain.NewValidationError("format", "must be markdown or html", format)
	}
}
