package domain

import (
	"time"
)

// RawReport is the opaque input of one analysis request.
type RawReport struct {
	Text string `json:"text"`
	// ReportType selects a taxonomy and rule-table profile, e.g. "mammography".
	ReportType string `json:"report_type,omitempty"`
}

// Section is a contiguous span of the normalized text tagged with a taxonomy name.
// Start and End are byte offsets into the normalized text, End exclusive.
type Section struct {
	Name  SectionName `json:"name"`
	Text  string      `json:"text"`
	Start int         `json:"start"`
	End   int         `json:"end"`
}

// Contains reports whether the half-open span [start,end) lies within the section.
func (s Section) Contains(start, end int) bool {
	return start >= s.Start && end <= s.End && start <= end
}

// Entity is a typed medical fact recognized in a section.
type Entity struct {
	Type  EntityType `json:"type"`
	Value string     `json:"value"`
	// Section is the index of the source section in AnalysisResult.Sections.
	Section    int     `json:"section"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`

	// Magnitude is the numeric form of AGE (years) and MEASUREMENT (largest
	// dimension in millimetres) values. Zero for other types.
	Magnitude float64 `json:"-"`
}

// Classification is the single advisory category of an analysis.
type Classification struct {
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`
	// Evidence holds indices into AnalysisResult.Entities.
	Evidence []int `json:"evidence"`
}

// IsUnknown reports whether no classification rule matched.
func (c Classification) IsUnknown() bool {
	return c.Category == CategoryUnknown
}

// Recommendation is one follow-up action with the entities that justify it.
type Recommendation struct {
	Action   Action `json:"action"`
	Priority int    `json:"priority"`
	// Rationale holds indices into AnalysisResult.Entities.
	Rationale []int  `json:"rationale"`
	Detail    string `json:"detail,omitempty"`
}

// TreatmentPlan lists indicative treatment options for a category that
// warrants them. The options must be confirmed after histology and a
// multidisciplinary review.
type TreatmentPlan struct {
	Stage         string              `json:"stage"`
	Modalities    []TreatmentModality `json:"modalities"`
	Justification string              `json:"justification"`
	// Rationale holds indices into AnalysisResult.Entities.
	Rationale []int `json:"rationale"`
}

// Warning codes attached to a result. Warnings are data, never failures.
const (
	WarningRecognitionDegraded = "RECOGNITION_DEGRADED"
	WarningAmbiguousEntity     = "AMBIGUOUS_ENTITY"
	WarningLowConfidence       = "LOW_CONFIDENCE"
)

// Warning is a non-blocking diagnostic attached to an AnalysisResult.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Source  string `json:"source,omitempty"`
}

// AnalysisResult is the aggregate root of one analysis and the only unit that
// is serialized or handed to callers.
type AnalysisResult struct {
	ReportType      string           `json:"report_type"`
	Sections        []Section        `json:"sections"`
	Entities        []Entity         `json:"entities"`
	Classification  Classification   `json:"classification"`
	Recommendations []Recommendation `json:"recommendations"`
	Treatment       *TreatmentPlan   `json:"treatment,omitempty"`
	Warnings        []Warning        `json:"warnings,omitempty"`
	PipelineVersion string           `json:"pipeline_version"`
	GeneratedAt     time.Time        `json:"generated_at"`
}

// EntitiesOf returns the indices of entities with the given type, in order.
func (r *AnalysisResult) EntitiesOf(t EntityType) []int {
	var out []int
	for i, e := range r.Entities {
		if e.Type == t {
			out = append(out, i)
		}
	}
	return out
}

// HasAction reports whether any recommendation carries the action.
func (r *AnalysisResult) HasAction(a Action) bool {
	for _, rec := range r.Recommendations {
		if rec.Action == a {
			return true
		}
	}
	return false
}

// SimilarCase is a reference case that resembles an analyzed report. Shared
// lists the features both reports have, e.g. "LESION_DESCRIPTOR:spiculated".
type SimilarCase struct {
	ID         string   `json:"id"`
	Category   Category `json:"category"`
	Assessment string   `json:"assessment,omitempty"`
	Score      float64  `json:"score"`
	Shared     []string `json:"shared"`
}

// AnalysisRecord is an archived analysis as stored by an archive adapter.
type AnalysisRecord struct {
	ID         string          `json:"id"`
	ReportType string          `json:"report_type"`
	Category   Category        `json:"category"`
	Confidence float64         `json:"confidence"`
	CreatedAt  time.Time       `json:"created_at"`
	Result     *AnalysisResult `json:"result"`
}

// ExportFormatVersion is the version stamped on archive exports.
const ExportFormatVersion = "1.0"

// AnalysisExport is the JSON document written by archive exports.
type AnalysisExport struct {
	Version    string            `json:"version"`
	ExportedAt time.Time         `json:"exported_at"`
	Count      int               `json:"count"`
	Analyses   []*AnalysisRecord `json:"analyses"`
}
