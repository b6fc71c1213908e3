package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medreport-mcp-server/internal/domain"
)

func validAggregateInput() AggregateInput {
	text := "FINDINGS: mass 12mm"
	return AggregateInput{
		ReportType: "mammography",
		Sections:   []domain.Section{{Name: domain.SectionFindings, Text: text, Start: 0, End: len(text)}},
		Entities: []domain.Entity{
			{Type: domain.EntityAnomalyFlag, Value: "mass", Section: 0, Start: 10, End: 14, Confidence: 0.9},
			{Type: domain.EntityMeasurement, Value: "12mm", Section: 0, Start: 15, End: 19, Confidence: 0.99, Magnitude: 12},
		},
		Classification:  domain.Classification{Category: domain.BIRADS_4, Confidence: 1, Evidence: []int{0, 1}},
		Recommendations: []domain.Recommendation{{Action: domain.ActionBiopsy, Priority: 2, Rationale: []int{0, 1}}},
	}
}

func TestResultAggregator_Aggregate(t *testing.T) {
	a := NewResultAggregator("1.0.0+kb.test", fixedClock)
	in := validAggregateInput()

	result, err := a.Aggregate(in)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0+kb.test", result.PipelineVersion)
	assert.Equal(t, fixedClock(), result.GeneratedAt)
	assert.Nil(t, result.Warnings)

	// The result does not alias stage outputs.
	in.Classification.Evidence[0] = 99
	in.Recommendations[0].Rationale[0] = 99
	in.Entities[0].Value = "changed"
	assert.Equal(t, []int{0, 1}, result.Classification.Evidence)
	assert.Equal(t, []int{0, 1}, result.Recommendations[0].Rationale)
	assert.Equal(t, "mass", result.Entities[0].Value)
}

func TestResultAggregator_CopiesTreatment(t *testing.T) {
	a := NewResultAggregator("v", fixedClock)
	in := validAggregateInput()
	in.Treatment = &domain.TreatmentPlan{
		Stage:      domain.StageEarly,
		Modalities: []domain.TreatmentModality{{Modality: "surgery", Options: []string{"Lumpectomy"}}},
		Rationale:  []int{1},
	}

	result, err := a.Aggregate(in)
	require.NoError(t, err)
	require.NotNil(t, result.Treatment)

	in.Treatment.Rationale[0] = 99
	in.Treatment.Modalities[0].Options[0] = "changed"
	in.Treatment.Modalities[0] = domain.TreatmentModality{Modality: "changed"}
	assert.Equal(t, []int{1}, result.Treatment.Rationale)
	assert.Equal(t, "surgery", result.Treatment.Modalities[0].Modality)
	assert.Equal(t, []string{"Lumpectomy"}, result.Treatment.Modalities[0].Options)

	in = validAggregateInput()
	result, err = a.Aggregate(in)
	require.NoError(t, err)
	assert.Nil(t, result.Treatment)
}

func TestResultAggregator_IntegrityViolations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AggregateInput)
	}{
		{"dangling evidence", func(in *AggregateInput) { in.Classification.Evidence = []int{2} }},
		{"dangling rationale", func(in *AggregateInput) { in.Recommendations[0].Rationale = []int{-1} }},
		{"dangling treatment rationale", func(in *AggregateInput) {
			in.Treatment = &domain.TreatmentPlan{Stage: domain.StageEarly, Rationale: []int{0, 5}}
		}},
		{"entity section out of range", func(in *AggregateInput) { in.Entities[1].Section = 1 }},
		{"entity outside its section", func(in *AggregateInput) { in.Entities[1].End = 40 }},
		{"overlapping sections", func(in *AggregateInput) {
			in.Sections = append(in.Sections, domain.Section{Name: domain.SectionImpression, Text: "mm", Start: 17, End: 19})
		}},
		{"unknown with confidence", func(in *AggregateInput) {
			in.Classification = domain.Classification{Category: domain.CategoryUnknown, Confidence: 0.4, Evidence: []int{}}
		}},
		{"known without confidence", func(in *AggregateInput) { in.Classification.Confidence = 0 }},
	}

	a := NewResultAggregator("v", fixedClock)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validAggregateInput()
			tt.mutate(&in)

			result, err := a.Aggregate(in)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.True(t, domain.IsIntegrityViolation(err))
			assert.True(t, errors.Is(err, domain.ErrDanglingReference))
		})
	}
}
