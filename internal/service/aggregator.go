package service

import (
	"fmt"
	"time"

	"github.com/medreport-mcp-server/internal/domain"
)

// ResultAggregator assembles the AnalysisResult and enforces its structural
// invariants. Any violation is an IntegrityViolation and aborts the analysis.
type ResultAggregator struct {
	version string
	clock   func() time.Time
}

// NewResultAggregator creates an aggregator stamping results with version.
func NewResultAggregator(version string, clock func() time.Time) *ResultAggregator {
	if clock == nil {
		clock = time.Now
	}
	return &ResultAggregator{version: version, clock: clock}
}

// AggregateInput carries the stage outputs of one analysis.
type AggregateInput struct {
	ReportType      string
	Sections        []domain.Section
	Entities        []domain.Entity
	Classification  domain.Classification
	Recommendations []domain.Recommendation
	Treatment       *domain.TreatmentPlan
	Warnings        []domain.Warning
}

// Aggregate validates every cross-reference and returns an independent copy.
func (a *ResultAggregator) Aggregate(in AggregateInput) (*domain.AnalysisResult, error) {
	if err := validateSections(in.Sections); err != nil {
		return nil, err
	}
	if err := validateEntities(in.Entities, in.Sections); err != nil {
		return nil, err
	}
	if err := validateIndices("classification.evidence", in.Classification.Evidence, len(in.Entities)); err != nil {
		return nil, err
	}
	if in.Classification.IsUnknown() != (in.Classification.Confidence == 0) {
		return nil, &domain.IntegrityViolation{Field: "classification.confidence", Index: 0, Ref: -1}
	}
	for i, rec := range in.Recommendations {
		if err := validateIndices(fmt.Sprintf("recommendations[%d].rationale", i), rec.Rationale, len(in.Entities)); err != nil {
			return nil, err
		}
	}

	if in.Treatment != nil {
		if err := validateIndices("treatment.rationale", in.Treatment.Rationale, len(in.Entities)); err != nil {
			return nil, err
		}
	}

	result := &domain.AnalysisResult{
		ReportType: in.ReportType,
		Sections:   append(make([]domain.Section, 0, len(in.Sections)), in.Sections...),
		Entities:   append(make([]domain.Entity, 0, len(in.Entities)), in.Entities...),
		Classification: domain.Classification{
			Category:   in.Classification.Category,
			Confidence: in.Classification.Confidence,
			Evidence:   copyInts(in.Classification.Evidence),
		},
		Recommendations: make([]domain.Recommendation, 0, len(in.Recommendations)),
		PipelineVersion: a.version,
		GeneratedAt:     a.clock().UTC(),
	}
	for _, rec := range in.Recommendations {
		rec.Rationale = copyInts(rec.Rationale)
		result.Recommendations = append(result.Recommendations, rec)
	}
	if in.Treatment != nil {
		plan := *in.Treatment
		plan.Modalities = make([]domain.TreatmentModality, 0, len(in.Treatment.Modalities))
		for _, m := range in.Treatment.Modalities {
			m.Options = append([]string{}, m.Options...)
			plan.Modalities = append(plan.Modalities, m)
		}
		plan.Rationale = copyInts(plan.Rationale)
		result.Treatment = &plan
	}
	if len(in.Warnings) > 0 {
		result.Warnings = append([]domain.Warning{}, in.Warnings...)
	}
	return result, nil
}

func validateSections(sections []domain.Section) error {
	prevEnd := 0
	for i, s := range sections {
		if s.Start < prevEnd || s.End < s.Start || len(s.Text) != s.End-s.Start {
			return &domain.IntegrityViolation{Field: "sections", Index: i, Ref: s.Start}
		}
		prevEnd = s.End
	}
	return nil
}

func validateEntities(entities []domain.Entity, sections []domain.Section) error {
	for i, e := range entities {
		if e.Section < 0 || e.Section >= len(sections) {
			return &domain.IntegrityViolation{Field: "entities.section", Index: i, Ref: e.Section}
		}
		if e.Start >= e.End || !sections[e.Section].Contains(e.Start, e.End) {
			return &domain.IntegrityViolation{Field: "entities.span", Index: i, Ref: e.Section}
		}
	}
	return nil
}

func validateIndices(field string, indices []int, n int) error {
	for i, idx := range indices {
		if idx < 0 || idx >= n {
			return &domain.IntegrityViolation{Field: field, Index: i, Ref: idx}
		}
	}
	return nil
}

func copyInts(in []int) []int {
	return append(make([]int, 0, len(in)), in...)
}
