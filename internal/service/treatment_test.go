package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medreport-mcp-server/internal/domain"
)

func modalityNames(plan *domain.TreatmentPlan) []string {
	names := make([]string, 0, len(plan.Modalities))
	for _, m := range plan.Modalities {
		names = append(names, m.Modality)
	}
	return names
}

func TestTableTreatmentPlanner_Stages(t *testing.T) {
	planner := NewTableTreatmentPlanner(testLogger())
	profile := testKnowledge(t).Profile("mammography")

	tests := []struct {
		name      string
		sizes     []float64
		stage     string
		first     string
		rationale []int
		reason    string
	}{
		{"no measurement", nil, domain.StageEarly, "surgery", []int{0}, "No measured lesion"},
		{"small lesion", []float64{12}, domain.StageEarly, "surgery", []int{0, 1}, "Largest lesion 12 mm is within 20 mm"},
		{"at threshold", []float64{20}, domain.StageEarly, "surgery", []int{0, 1}, "within 20 mm"},
		{"large lesion", []float64{8, 25}, domain.StageLocallyAdvanced, "chemotherapy", []int{0, 2}, "Largest lesion 25 mm exceeds 20 mm"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entities := []domain.Entity{{Type: domain.EntityLesionDescriptor, Value: "spiculated", Confidence: 0.9}}
			for _, size := range tt.sizes {
				entities = append(entities, domain.Entity{Type: domain.EntityMeasurement, Confidence: 0.95, Magnitude: size})
			}
			classification := domain.Classification{Category: domain.BIRADS_5, Confidence: 0.8, Evidence: []int{0}}

			plan := planner.Plan(classification, entities, profile)
			require.NotNil(t, plan)
			assert.Equal(t, tt.stage, plan.Stage)
			assert.Equal(t, tt.first, plan.Modalities[0].Modality)
			assert.Contains(t, modalityNames(plan), "targeted_therapy")
			assert.Equal(t, tt.rationale, plan.Rationale)
			assert.Contains(t, plan.Justification, "BI-RADS 5 (Highly suggestive of malignancy) with malignancy risk >= 95%.")
			assert.Contains(t, plan.Justification, tt.reason)
			assert.Contains(t, plan.Justification, "multidisciplinary")
		})
	}
}

func TestTableTreatmentPlanner_CategoriesWithoutOptions(t *testing.T) {
	planner := NewTableTreatmentPlanner(testLogger())
	profile := testKnowledge(t).Profile("mammography")
	entities := []domain.Entity{{Type: domain.EntityMeasurement, Confidence: 0.95, Magnitude: 30}}

	for _, c := range []domain.Category{domain.CategoryUnknown, domain.BIRADS_0, domain.BIRADS_3, domain.BIRADS_4} {
		assert.Nil(t, planner.Plan(domain.Classification{Category: c, Confidence: 0.5, Evidence: []int{0}}, entities, profile), c)
	}

	noTable := *profile
	noTable.Treatment = nil
	assert.Nil(t, planner.Plan(domain.Classification{Category: domain.BIRADS_6, Confidence: 1, Evidence: []int{}}, entities, &noTable))
}

func TestTableTreatmentPlanner_CopiesOptions(t *testing.T) {
	planner := NewTableTreatmentPlanner(testLogger())
	profile := testKnowledge(t).Profile("generic")

	plan := planner.Plan(domain.Classification{Category: domain.BIRADS_6, Confidence: 1, Evidence: []int{}}, nil, profile)
	require.NotNil(t, plan)
	plan.Modalities[0].Options[0] = "changed"

	stage, ok := profile.Treatment.Stage(domain.StageEarly)
	require.True(t, ok)
	assert.Equal(t, "Lumpectomy", stage.Modalities[0].Options[0])
}

func TestAnalyzer_TreatmentOptions(t *testing.T) {
	analyzer := newTestAnalyzer(t)

	result, err := analyzer.Analyze(context.Background(), domain.RawReport{
		Text: "FINDINGS: Irregular spiculated mass measuring 25 mm in the left breast.\nIMPRESSION: BI-RADS 5.",
	})
	require.NoError(t, err)
	require.Equal(t, domain.BIRADS_5, result.Classification.Category)
	require.NotNil(t, result.Treatment)

	measurement := findEntity(result, domain.EntityMeasurement, "25mm")
	require.GreaterOrEqual(t, measurement, 0)
	assert.Equal(t, domain.StageLocallyAdvanced, result.Treatment.Stage)
	assert.Contains(t, result.Treatment.Rationale, measurement)

	suspicious, err := analyzer.Analyze(context.Background(), domain.RawReport{Text: suspiciousMassReport})
	require.NoError(t, err)
	assert.Nil(t, suspicious.Treatment)
}
