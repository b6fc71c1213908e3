package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/medreport-mcp-server/internal/domain"
	"github.com/medreport-mcp-server/internal/middleware"
	"github.com/medreport-mcp-server/internal/service"
)

// AnalyzeRequest is the body of POST /api/v1/analyze.
type AnalyzeRequest struct {
	Text       string `json:"text"`
	ReportType string `json:"report_type"`
}

// SimilarCasesRequest is the body of POST /api/v1/similar-cases.
type SimilarCasesRequest struct {
	Text       string `json:"text"`
	ReportType string `json:"report_type"`
	Limit      int    `json:"limit"`
}

// ListResponse is a page of archived analyses.
type ListResponse struct {
	Analyses []*domain.AnalysisRecord `json:"analyses"`
	Total    int                      `json:"total"`
	Limit    int                      `json:"limit"`
	Offset   int                      `json:"offset"`
}

// ProfileSummary describes a report profile without its rule tables.
type ProfileSummary struct {
	Key                   string               `json:"key"`
	Description           string               `json:"description"`
	Aliases               []string             `json:"aliases"`
	Sections              []domain.SectionName `json:"sections"`
	ClassificationRules   int                  `json:"classification_rules"`
	RecommendationRules   int                  `json:"recommendation_rules"`
	ManualReviewThreshold float64              `json:"manual_review_threshold"`
}

func summarizeProfile(p *domain.Profile) ProfileSummary {
	sections := make([]domain.SectionName, 0, len(p.Taxonomy))
	for _, h := range p.Taxonomy {
		sections = append(sections, h.Section)
	}
	return ProfileSummary{
		Key:                   p.Key,
		Description:           p.Description,
		Aliases:               p.Aliases,
		Sections:              sections,
		ClassificationRules:   len(p.ClassificationRules),
		RecommendationRules:   len(p.RecommendationRules),
		ManualReviewThreshold: p.ManualReviewThreshold,
	}
}

func (s *Server) handleAnalyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if middleware.IsBodyTooLarge(err) {
			middleware.AbortWithError(c, http.StatusRequestEntityTooLarge, domain.ErrCodeValidation, "Request body too large", err.Error())
			return
		}
		middleware.AbortWithError(c, http.StatusBadRequest, domain.ErrCodeValidation, "Invalid request body", err.Error())
		return
	}

	outcome, err := s.service.Analyze(c.Request.Context(), domain.RawReport{Text: req.Text, ReportType: req.ReportType})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (s *Server) handleSimilarCases(c *gin.Context) {
	var req SimilarCasesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if middleware.IsBodyTooLarge(err) {
			middleware.AbortWithError(c, http.StatusRequestEntityTooLarge, domain.ErrCodeValidation, "Request body too large", err.Error())
			return
		}
		middleware.AbortWithError(c, http.StatusBadRequest, domain.ErrCodeValidation, "Invalid request body", err.Error())
		return
	}

	outcome, err := s.service.FindSimilarCases(c.Request.Context(), domain.RawReport{Text: req.Text, ReportType: req.ReportType}, req.Limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (s *Server) handleListAnalyses(c *gin.Context) {
	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		s.respondError(c, err)
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		s.respondError(c, err)
		return
	}

	records, total, err := s.service.ListAnalyses(c.Request.Context(), limit, offset)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ListResponse{Analyses: records, Total: total, Limit: limit, Offset: offset})
}

func (s *Server) handleGetAnalysis(c *gin.Context) {
	record, err := s.service.GetAnalysis(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) handleRenderReport(c *gin.Context) {
	format := c.DefaultQuery("format", service.FormatMarkdown)
	out, err := s.service.RenderReport(c.Request.Context(), c.Param("id"), format)
	if err != nil {
		s.respondError(c, err)
		return
	}

	contentType := "text/markdown; charset=utf-8"
	if format == service.FormatHTML {
		contentType = "text/html; charset=utf-8"
	}
	c.Data(http.StatusOK, contentType, []byte(out))
}

func (s *Server) handleExport(c *gin.Context) {
	c.Header("Content-Type", "application/json; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="analyses.json"`)
	if err := s.service.ExportAnalyses(c.Request.Context(), c.Writer); err != nil {
		// Headers may already be written; log and stop.
		s.logger.WithError(err).WithField("correlation_id", c.GetString(middleware.CorrelationIDKey)).Error("Export failed")
		_ = c.Error(err)
		c.Abort()
	}
}

func (s *Server) handleProfiles(c *gin.Context) {
	profiles := s.service.Profiles()
	out := make([]ProfileSummary, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, summarizeProfile(p))
	}
	c.JSON(http.StatusOK, gin.H{"profiles": out})
}

// respondError maps service errors onto HTTP statuses.
func (s *Server) respondError(c *gin.Context, err error) {
	se := domain.ServiceErrorFrom(err, c.GetString(middleware.CorrelationIDKey))
	if se.RequestID == "" {
		se.RequestID = c.GetString(middleware.CorrelationIDKey)
	}

	status := http.StatusInternalServerError
	switch se.Code {
	case domain.ErrCodeValidation:
		status = http.StatusBadRequest
	case domain.ErrCodeInputError:
		status = http.StatusUnprocessableEntity
		if errors.Is(err, domain.ErrReportTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
	case domain.ErrCodeNotFound:
		status = http.StatusNotFound
	}

	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("correlation_id", se.RequestID).Error("Request failed")
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, se)
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, domain.NewValidationError(name, "must be a non-negative integer", raw)
	}
	return v, nil
}
