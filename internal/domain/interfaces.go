package domain

import (
	"context"
	"io"
)

// Normalizer canonicalizes raw report text.
type Normalizer interface {
	Normalize(raw RawReport, profile *Profile) string
}

// Segmenter splits normalized text into sections using a profile taxonomy.
type Segmenter interface {
	Segment(text string, profile *Profile) []Section
}

// Recognizer finds entities of one family in a single section. Pattern
// recognizers never fail; context recognizers may return an error when their
// scorer fails or times out, in which case none of their entities are used.
type Recognizer interface {
	Name() string
	Recognize(ctx context.Context, section Section, index int) ([]Entity, error)
}

// ScoreRequest asks a scorer how strongly a term is asserted in its context.
type ScoreRequest struct {
	EntityType EntityType  `json:"entity_type"`
	Term       string      `json:"term"`
	Canonical  string      `json:"canonical"`
	Weight     float64     `json:"weight"`
	Sentence   string      `json:"sentence"`
	Offset     int         `json:"offset"` // byte offset of Term within Sentence
	Section    SectionName `json:"section"`
	// Negatable is false for terms that are themselves negative statements,
	// such as "no evidence of malignancy".
	Negatable bool `json:"negatable"`
}

// ScoreResult is the scorer's verdict. Negated mentions are not entities.
type ScoreResult struct {
	Confidence float64 `json:"confidence"`
	Negated    bool    `json:"negated"`
}

// ContextScorer scores descriptive mentions for context-based recognizers.
type ContextScorer interface {
	Score(ctx context.Context, req ScoreRequest) (ScoreResult, error)
}

// Classifier maps entities and sections to a single category.
type Classifier interface {
	Classify(entities []Entity, sections []Section, rules []ClassificationRule) Classification
}

// Recommender maps a classification and entities to follow-up actions.
type Recommender interface {
	Recommend(classification Classification, entities []Entity, profile *Profile) []Recommendation
}

// TreatmentPlanner derives indicative treatment options for a classification.
// It returns nil when the profile has none for the category.
type TreatmentPlanner interface {
	Plan(classification Classification, entities []Entity, profile *Profile) *TreatmentPlan
}

// ReportAnalyzer runs the full pipeline for one report.
type ReportAnalyzer interface {
	Analyze(ctx context.Context, raw RawReport) (*AnalysisResult, error)
}

// ResultCache stores serialized analysis results keyed by a content hash.
type ResultCache interface {
	GetResult(ctx context.Context, key string) (*AnalysisResult, bool, error)
	SetResult(ctx context.Context, key string, result *AnalysisResult) error
}

// AnalysisArchive persists analysis records for later retrieval. It lives
// outside the pipeline and only ever sees finished results.
type AnalysisArchive interface {
	Save(ctx context.Context, record *AnalysisRecord) error
	Get(ctx context.Context, id string) (*AnalysisRecord, error)
	List(ctx context.Context, limit, offset int) ([]*AnalysisRecord, error)
	Count(ctx context.Context) (int, error)
	ExportJSON(ctx context.Context, w io.Writer) error
	Close() error
}

// CaseFinder looks up reference cases that resemble an analysis result.
type CaseFinder interface {
	FindSimilar(ctx context.Context, result *AnalysisResult, limit int) ([]SimilarCase, error)
}

// ReportRenderer formats analysis results for human review.
type ReportRenderer interface {
	Markdown(result *AnalysisResult, profile *Profile) string
	HTML(result *AnalysisResult, profile *Profile) (string, error)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	GetAnalysisConfig() *AnalysisConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
