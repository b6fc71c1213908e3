package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"

	"github.com/medreport-mcp-server/internal/domain"
	"github.com/medreport-mcp-server/internal/knowledge"
)

// PipelineVersion identifies the analysis algorithm. Results carry it
// together with the knowledge base version.
const PipelineVersion = "1.0.0"

const (
	defaultMaxReportBytes = 1 << 20
	defaultModelTimeout   = 5 * time.Second
	maxControlRatio       = 0.05
)

// Analyzer runs Normalizer, Segmenter, Extractor, Classifier, Recommender and
// Aggregator for one report. The treatment planner runs beside the
// Recommender. It holds only immutable configuration and is safe for
// concurrent use.
type Analyzer struct {
	logger      *logrus.Logger
	kb          *knowledge.Base
	normalizer  domain.Normalizer
	segmenter   domain.Segmenter
	extractor   *EntityExtractor
	classifier  domain.Classifier
	recommender domain.Recommender
	planner     domain.TreatmentPlanner
	aggregator  *ResultAggregator

	recognizers       []domain.Recognizer
	clock             func() time.Time
	maxReportBytes    int
	defaultReportType string
	modelTimeout      time.Duration
}

// AnalyzerOption customizes an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithClock sets the clock used for generated_at.
func WithClock(clock func() time.Time) AnalyzerOption {
	return func(a *Analyzer) { a.clock = clock }
}

// WithMaxReportBytes bounds the accepted input size.
func WithMaxReportBytes(n int) AnalyzerOption {
	return func(a *Analyzer) {
		if n > 0 {
			a.maxReportBytes = n
		}
	}
}

// WithDefaultReportType sets the profile used when a report carries no type.
func WithDefaultReportType(reportType string) AnalyzerOption {
	return func(a *Analyzer) { a.defaultReportType = reportType }
}

// WithModelTimeout bounds each recognizer's work on one report.
func WithModelTimeout(d time.Duration) AnalyzerOption {
	return func(a *Analyzer) { a.modelTimeout = d }
}

// WithRecognizers replaces the default recognizer set.
func WithRecognizers(recognizers ...domain.Recognizer) AnalyzerOption {
	return func(a *Analyzer) { a.recognizers = recognizers }
}

// NewAnalyzer creates the pipeline. scorer backs the context-based
// recognizers; nil selects the in-process LexiconScorer.
func NewAnalyzer(logger *logrus.Logger, kb *knowledge.Base, scorer domain.ContextScorer, opts ...AnalyzerOption) *Analyzer {
	if scorer == nil {
		scorer = NewLexiconScorer()
	}
	a := &Analyzer{
		logger:            logger,
		kb:                kb,
		normalizer:        NewTextNormalizer(kb),
		segmenter:         NewSectionSegmenter(),
		classifier:        NewRuleClassifier(logger),
		recommender:       NewRuleRecommender(logger),
		planner:           NewTableTreatmentPlanner(logger),
		clock:             time.Now,
		maxReportBytes:    defaultMaxReportBytes,
		defaultReportType: "mammography",
		modelTimeout:      defaultModelTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.recognizers == nil {
		a.recognizers = DefaultRecognizers(scorer)
	}
	a.extractor = NewEntityExtractor(logger, a.recognizers, a.modelTimeout)
	a.aggregator = NewResultAggregator(a.Version(), a.clock)
	return a
}

// Version returns the pipeline and knowledge base version stamped on results.
func (a *Analyzer) Version() string {
	return PipelineVersion + "+kb." + a.kb.Version()
}

// Profile returns the profile selected for a report type hint.
func (a *Analyzer) Profile(reportType string) *domain.Profile {
	if strings.TrimSpace(reportType) == "" {
		reportType = a.defaultReportType
	}
	return a.kb.Profile(reportType)
}

// Analyze implements domain.ReportAnalyzer.
func (a *Analyzer) Analyze(ctx context.Context, raw domain.RawReport) (*domain.AnalysisResult, error) {
	startTime := time.Now()

	// Step 1: Reject unusable input before any stage runs
	if err := a.validateInput(raw); err != nil {
		return nil, err
	}
	profile := a.Profile(raw.ReportType)

	// Step 2: Normalize and segment
	text := a.normalizer.Normalize(raw, profile)
	if text == "" {
		return nil, domain.NewInputError(domain.ErrEmptyReport, "no text left after normalization")
	}
	sections := a.segmenter.Segment(text, profile)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("analysis cancelled after segmentation: %w", err)
	}

	// Step 3: Extract entities; degraded recognizers become warnings
	entities, warnings := a.extractor.Extract(ctx, sections)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("analysis cancelled after extraction: %w", err)
	}
	warnings = append(warnings, Ambiguities(entities)...)

	// Step 4: Classify, recommend and list treatment options
	classification := a.classifier.Classify(entities, sections, profile.ClassificationRules)
	if !classification.IsUnknown() && classification.Confidence < profile.ManualReviewThreshold {
		warnings = append(warnings, domain.Warning{
			Code:    domain.WarningLowConfidence,
			Message: fmt.Sprintf("classification confidence %.2f is below the manual review threshold %.2f", classification.Confidence, profile.ManualReviewThreshold),
			Source:  "classifier",
		})
	}
	recommendations := a.recommender.Recommend(classification, entities, profile)
	treatment := a.planner.Plan(classification, entities, profile)

	// Step 5: Aggregate and verify cross-references
	result, err := a.aggregator.Aggregate(AggregateInput{
		ReportType:      profile.Key,
		Sections:        sections,
		Entities:        entities,
		Classification:  classification,
		Recommendations: recommendations,
		Treatment:       treatment,
		Warnings:        warnings,
	})
	if err != nil {
		a.logger.WithError(err).Error("Analysis aborted by integrity check")
		return nil, fmt.Errorf("failed to aggregate analysis result: %w", err)
	}

	a.logger.WithFields(logrus.Fields{
		"report_type":     result.ReportType,
		"sections":        len(result.Sections),
		"entities":        len(result.Entities),
		"category":        result.Classification.Category,
		"confidence":      result.Classification.Confidence,
		"recommendations": len(result.Recommendations),
		"warnings":        len(result.Warnings),
		"processing_time": time.Since(startTime),
	}).Info("Report analysis completed")

	return result, nil
}

func (a *Analyzer) validateInput(raw domain.RawReport) error {
	if len(raw.Text) > a.maxReportBytes {
		return domain.NewInputError(domain.ErrReportTooLarge, fmt.Sprintf("%d bytes exceeds the %d byte limit", len(raw.Text), a.maxReportBytes))
	}
	if strings.TrimFunc(raw.Text, func(r rune) bool { return unicode.IsSpace(r) || r == '\uFEFF' }) == "" {
		return domain.NewInputError(domain.ErrEmptyReport, "")
	}
	if strings.ContainsRune(raw.Text, 0) {
		return domain.NewInputError(domain.ErrNotText, "contains NUL bytes")
	}
	var control, total int
	for _, r := range raw.Text {
		total++
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			control++
		}
	}
	if float64(control)/float64(total) > maxControlRatio {
		return domain.NewInputError(domain.ErrNotText, "too many control characters")
	}
	return nil
}
