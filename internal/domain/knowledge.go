package domain

import (
	"fmt"
	"strings"
)

// HeaderEntry maps header phrases to a section tag. Entries are declared in
// priority order: on an equal-length match the earlier entry wins.
type HeaderEntry struct {
	Section SectionName `yaml:"section" json:"section"`
	Phrases []string    `yaml:"phrases" json:"phrases"`
}

// Condition selects entities of one type, optionally restricted by value,
// magnitude and confidence.
type Condition struct {
	Entity        EntityType `yaml:"entity" json:"entity"`
	Values        []string   `yaml:"values,omitempty" json:"values,omitempty"`
	Min           *float64   `yaml:"min,omitempty" json:"min,omitempty"`
	Max           *float64   `yaml:"max,omitempty" json:"max,omitempty"`
	MinConfidence float64    `yaml:"min_confidence,omitempty" json:"min_confidence,omitempty"`
}

// Matches reports whether the entity satisfies the condition.
func (c Condition) Matches(e Entity) bool {
	if e.Type != c.Entity || e.Confidence <= 0 || e.Confidence < c.MinConfidence {
		return false
	}
	if c.Min != nil && e.Magnitude < *c.Min {
		return false
	}
	if c.Max != nil && e.Magnitude >= *c.Max {
		return false
	}
	if len(c.Values) == 0 {
		return true
	}
	for _, v := range c.Values {
		if strings.EqualFold(v, e.Value) {
			return true
		}
	}
	return false
}

func (c Condition) validate() error {
	if !c.Entity.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidEntityType, c.Entity)
	}
	if c.Min != nil && c.Max != nil && *c.Min >= *c.Max {
		return fmt.Errorf("empty magnitude range [%v,%v)", *c.Min, *c.Max)
	}
	return nil
}

// ClassificationRule adds Weight to Category when every condition selects an entity.
type ClassificationRule struct {
	ID          string      `yaml:"id" json:"id"`
	Description string      `yaml:"description" json:"description"`
	Category    Category    `yaml:"category" json:"category"`
	Weight      float64     `yaml:"weight" json:"weight"`
	Conditions  []Condition `yaml:"when" json:"when"`
}

// Validate checks the rule against the enumerations.
func (r ClassificationRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("classification rule: id is required")
	}
	if !r.Category.IsValid() || r.Category == CategoryUnknown {
		return fmt.Errorf("classification rule %s: %w: %q", r.ID, ErrInvalidCategory, r.Category)
	}
	if r.Weight <= 0 {
		return fmt.Errorf("classification rule %s: weight must be positive", r.ID)
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("classification rule %s: at least one condition is required", r.ID)
	}
	for _, c := range r.Conditions {
		if err := c.validate(); err != nil {
			return fmt.Errorf("classification rule %s: %w", r.ID, err)
		}
	}
	return nil
}

// RecommendationRule emits Action when the category matches (any known
// category when Categories is empty) and every condition selects an entity.
type RecommendationRule struct {
	ID         string      `yaml:"id" json:"id"`
	Categories []Category  `yaml:"categories,omitempty" json:"categories,omitempty"`
	Conditions []Condition `yaml:"when,omitempty" json:"when,omitempty"`
	Action     Action      `yaml:"action" json:"action"`
	Priority   int         `yaml:"priority" json:"priority"`
	Detail     string      `yaml:"detail" json:"detail"`
}

// AppliesTo reports whether the rule is keyed to the category.
func (r RecommendationRule) AppliesTo(c Category) bool {
	if c == CategoryUnknown {
		return false
	}
	if len(r.Categories) == 0 {
		return true
	}
	for _, rc := range r.Categories {
		if rc == c {
			return true
		}
	}
	return false
}

// Validate checks the rule against the enumerations.
func (r RecommendationRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("recommendation rule: id is required")
	}
	if !r.Action.IsValid() || r.Action == ActionManualReview {
		return fmt.Errorf("recommendation rule %s: %w: %q", r.ID, ErrInvalidAction, r.Action)
	}
	if r.Priority < 1 {
		return fmt.Errorf("recommendation rule %s: priority must be >= 1", r.ID)
	}
	if len(r.Categories) == 0 && len(r.Conditions) == 0 {
		return fmt.Errorf("recommendation rule %s: needs categories or conditions", r.ID)
	}
	for _, c := range r.Categories {
		if !c.IsValid() || c == CategoryUnknown {
			return fmt.Errorf("recommendation rule %s: %w: %q", r.ID, ErrInvalidCategory, c)
		}
	}
	for _, c := range r.Conditions {
		if err := c.validate(); err != nil {
			return fmt.Errorf("recommendation rule %s: %w", r.ID, err)
		}
	}
	return nil
}

// Guideline is reference text for one category.
type Guideline struct {
	Description    string `yaml:"description" json:"description"`
	FollowUp       string `yaml:"follow_up" json:"follow_up"`
	MalignancyRisk string `yaml:"malignancy_risk" json:"malignancy_risk"`
}

// Treatment stages selected by lesion size.
const (
	StageEarly           = "early_stage"
	StageLocallyAdvanced = "locally_advanced"
)

// TreatmentModality lists the indicative options of one modality, e.g. surgery.
type TreatmentModality struct {
	Modality string   `yaml:"modality" json:"modality"`
	Options  []string `yaml:"options" json:"options"`
}

// TreatmentStage groups the modalities offered at one disease stage.
type TreatmentStage struct {
	Stage      string              `yaml:"stage" json:"stage"`
	Modalities []TreatmentModality `yaml:"modalities" json:"modalities"`
}

// TreatmentTable holds indicative treatment options for the categories that
// warrant them. A measured lesion larger than SizeThresholdMM selects the
// locally advanced stage.
type TreatmentTable struct {
	Categories      []Category       `yaml:"categories" json:"categories"`
	SizeThresholdMM float64          `yaml:"size_threshold_mm" json:"size_threshold_mm"`
	Note            string           `yaml:"note" json:"note"`
	Stages          []TreatmentStage `yaml:"stages" json:"stages"`
}

// AppliesTo reports whether the table covers the category.
func (t *TreatmentTable) AppliesTo(c Category) bool {
	if t == nil {
		return false
	}
	for _, tc := range t.Categories {
		if tc == c {
			return true
		}
	}
	return false
}

// Stage returns the options of the named stage.
func (t *TreatmentTable) Stage(name string) (TreatmentStage, bool) {
	for _, s := range t.Stages {
		if s.Stage == name {
			return s, true
		}
	}
	return TreatmentStage{}, false
}

func (t *TreatmentTable) validate() error {
	if len(t.Categories) == 0 {
		return fmt.Errorf("treatment table: at least one category is required")
	}
	for _, c := range t.Categories {
		if !c.IsValid() || c == CategoryUnknown {
			return fmt.Errorf("treatment table: %w: %q", ErrInvalidCategory, c)
		}
	}
	if t.SizeThresholdMM <= 0 {
		return fmt.Errorf("treatment table: size_threshold_mm must be positive")
	}
	for _, name := range []string{StageEarly, StageLocallyAdvanced} {
		stage, ok := t.Stage(name)
		if !ok {
			return fmt.Errorf("treatment table: stage %s is missing", name)
		}
		for _, m := range stage.Modalities {
			if strings.TrimSpace(m.Modality) == "" || len(m.Options) == 0 {
				return fmt.Errorf("treatment table: stage %s has an empty modality", name)
			}
		}
	}
	return nil
}

// Profile is the immutable taxonomy and rule-table configuration for one report type.
type Profile struct {
	Key                   string                 `yaml:"key" json:"key"`
	Description           string                 `yaml:"description" json:"description"`
	Aliases               []string               `yaml:"aliases" json:"aliases"`
	Taxonomy              []HeaderEntry          `yaml:"taxonomy" json:"taxonomy"`
	ClassificationRules   []ClassificationRule   `yaml:"classification_rules" json:"classification_rules"`
	RecommendationRules   []RecommendationRule   `yaml:"recommendation_rules" json:"recommendation_rules"`
	Guidelines            map[Category]Guideline `yaml:"guidelines" json:"guidelines"`
	Treatment             *TreatmentTable        `yaml:"treatment,omitempty" json:"treatment,omitempty"`
	ManualReviewThreshold float64                `yaml:"manual_review_threshold" json:"manual_review_threshold"`
}

// HeaderPhrases returns every header phrase of the taxonomy.
func (p *Profile) HeaderPhrases() []string {
	var out []string
	for _, h := range p.Taxonomy {
		out = append(out, h.Phrases...)
	}
	return out
}

// Validate checks the taxonomy and rule tables.
func (p *Profile) Validate() error {
	if p.Key == "" {
		return fmt.Errorf("%w: profile key is required", ErrInvalidKnowledge)
	}
	if len(p.Taxonomy) == 0 {
		return fmt.Errorf("%w: profile %s has an empty taxonomy", ErrInvalidKnowledge, p.Key)
	}
	for _, h := range p.Taxonomy {
		if !h.Section.IsValid() || h.Section == SectionUnknown {
			return fmt.Errorf("%w: profile %s: %w: %q", ErrInvalidKnowledge, p.Key, ErrInvalidSection, h.Section)
		}
		for _, phrase := range h.Phrases {
			if strings.TrimSpace(phrase) == "" {
				return fmt.Errorf("%w: profile %s: blank header phrase for %s", ErrInvalidKnowledge, p.Key, h.Section)
			}
		}
	}
	seen := make(map[string]bool)
	for _, r := range p.ClassificationRules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("%w: profile %s: %w", ErrInvalidKnowledge, p.Key, err)
		}
		if seen[r.ID] {
			return fmt.Errorf("%w: profile %s: duplicate rule id %s", ErrInvalidKnowledge, p.Key, r.ID)
		}
		seen[r.ID] = true
	}
	for _, r := range p.RecommendationRules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("%w: profile %s: %w", ErrInvalidKnowledge, p.Key, err)
		}
		if seen[r.ID] {
			return fmt.Errorf("%w: profile %s: duplicate rule id %s", ErrInvalidKnowledge, p.Key, r.ID)
		}
		seen[r.ID] = true
	}
	if p.Treatment != nil {
		if err := p.Treatment.validate(); err != nil {
			return fmt.Errorf("%w: profile %s: %w", ErrInvalidKnowledge, p.Key, err)
		}
	}
	if p.ManualReviewThreshold < 0 || p.ManualReviewThreshold > 1 {
		return fmt.Errorf("%w: profile %s: manual_review_threshold must be in [0,1]", ErrInvalidKnowledge, p.Key)
	}
	return nil
}
