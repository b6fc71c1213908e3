package domain

import (
	"errors"
	"testing"
)

func ptr(v float64) *float64 { return &v }

func TestConditionMatches(t *testing.T) {
	measurement := Entity{Type: EntityMeasurement, Value: "1.2cm", Magnitude: 12, Confidence: 0.99}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"type only", Condition{Entity: EntityMeasurement}, true},
		{"wrong type", Condition{Entity: EntityAge}, false},
		{"min satisfied", Condition{Entity: EntityMeasurement, Min: ptr(10)}, true},
		{"min not satisfied", Condition{Entity: EntityMeasurement, Min: ptr(20)}, false},
		{"max exclusive", Condition{Entity: EntityMeasurement, Max: ptr(12)}, false},
		{"value case-insensitive", Condition{Entity: EntityMeasurement, Values: []string{"1.2CM"}}, true},
		{"confidence floor", Condition{Entity: EntityMeasurement, MinConfidence: 0.995}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cond.Matches(measurement); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}

	zero := Entity{Type: EntityMeasurement, Confidence: 0}
	if (Condition{Entity: EntityMeasurement}).Matches(zero) {
		t.Errorf("zero-confidence entities never match")
	}
}

func treatmentTable() *TreatmentTable {
	return &TreatmentTable{
		Categories:      []Category{BIRADS_5, BIRADS_6},
		SizeThresholdMM: 20,
		Stages: []TreatmentStage{
			{Stage: StageEarly, Modalities: []TreatmentModality{{Modality: "surgery", Options: []string{"Lumpectomy"}}}},
			{Stage: StageLocallyAdvanced, Modalities: []TreatmentModality{{Modality: "chemotherapy", Options: []string{"Neoadjuvant chemotherapy"}}}},
		},
	}
}

func TestProfileValidate(t *testing.T) {
	valid := func() *Profile {
		return &Profile{
			Key:      "test",
			Taxonomy: []HeaderEntry{{Section: SectionFindings, Phrases: []string{"findings"}}},
			ClassificationRules: []ClassificationRule{{
				ID: "c1", Category: BIRADS_4, Weight: 1,
				Conditions: []Condition{{Entity: EntityAnomalyFlag, Values: []string{"suspicious"}}},
			}},
			RecommendationRules: []RecommendationRule{{
				ID: "r1", Categories: []Category{BIRADS_4}, Action: ActionBiopsy, Priority: 1,
			}},
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("expected valid profile, got %v", err)
	}
	withTreatment := valid()
	withTreatment.Treatment = treatmentTable()
	if err := withTreatment.Validate(); err != nil {
		t.Fatalf("expected valid treatment table, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(p *Profile)
	}{
		{"missing key", func(p *Profile) { p.Key = "" }},
		{"unknown section", func(p *Profile) { p.Taxonomy[0].Section = SectionUnknown }},
		{"zero weight", func(p *Profile) { p.ClassificationRules[0].Weight = 0 }},
		{"unknown category", func(p *Profile) { p.ClassificationRules[0].Category = CategoryUnknown }},
		{"bad entity", func(p *Profile) { p.ClassificationRules[0].Conditions[0].Entity = "ORGAN" }},
		{"manual review in table", func(p *Profile) { p.RecommendationRules[0].Action = ActionManualReview }},
		{"zero priority", func(p *Profile) { p.RecommendationRules[0].Priority = 0 }},
		{"duplicate id", func(p *Profile) { p.RecommendationRules[0].ID = "c1" }},
		{"threshold out of range", func(p *Profile) { p.ManualReviewThreshold = 2 }},
		{"treatment without categories", func(p *Profile) { p.Treatment = treatmentTable(); p.Treatment.Categories = nil }},
		{"treatment for unknown", func(p *Profile) {
			p.Treatment = treatmentTable()
			p.Treatment.Categories = []Category{CategoryUnknown}
		}},
		{"treatment without threshold", func(p *Profile) { p.Treatment = treatmentTable(); p.Treatment.SizeThresholdMM = 0 }},
		{"treatment stage missing", func(p *Profile) { p.Treatment = treatmentTable(); p.Treatment.Stages = p.Treatment.Stages[:1] }},
		{"treatment modality empty", func(p *Profile) {
			p.Treatment = treatmentTable()
			p.Treatment.Stages[1].Modalities[0].Options = nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid()
			tt.mutate(p)
			err := p.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !errors.Is(err, ErrInvalidKnowledge) {
				t.Errorf("expected ErrInvalidKnowledge, got %v", err)
			}
		})
	}
}

func TestRecommendationRuleAppliesTo(t *testing.T) {
	anyKnown := RecommendationRule{ID: "flag", Action: ActionAdditionalImaging, Priority: 2,
		Conditions: []Condition{{Entity: EntityAnomalyFlag}}}
	keyed := RecommendationRule{ID: "cat", Categories: []Category{BIRADS_5}, Action: ActionBiopsy, Priority: 1}

	if !anyKnown.AppliesTo(BIRADS_2) {
		t.Errorf("rule without categories applies to every known category")
	}
	if anyKnown.AppliesTo(CategoryUnknown) || keyed.AppliesTo(CategoryUnknown) {
		t.Errorf("no table rule applies to UNKNOWN")
	}
	if keyed.AppliesTo(BIRADS_4) {
		t.Errorf("keyed rule must not apply to other categories")
	}
}

func TestTreatmentTable(t *testing.T) {
	table := treatmentTable()
	if !table.AppliesTo(BIRADS_6) || table.AppliesTo(BIRADS_4) {
		t.Errorf("AppliesTo must follow the listed categories")
	}
	var none *TreatmentTable
	if none.AppliesTo(BIRADS_5) {
		t.Errorf("a missing table applies to nothing")
	}
	stage, ok := table.Stage(StageLocallyAdvanced)
	if !ok || stage.Modalities[0].Modality != "chemotherapy" {
		t.Errorf("Stage(%s) = %+v, %v", StageLocallyAdvanced, stage, ok)
	}
	if _, ok := table.Stage("metastatic"); ok {
		t.Errorf("unknown stage must not be found")
	}
}
