// Package domain contains the core entities and enumerations for structured
// analysis of free-text medical imaging reports.
//
// The severity scale is the ACR Breast Imaging Reporting and Data System
// (BI-RADS), 5th edition. Analysis output is advisory: categories carry an
// explicit confidence and are never a diagnosis.
package domain

import (
	"errors"
)

// SectionName is the canonical tag of a report section.
type SectionName string

const (
	SectionPatientInfo     SectionName = "PATIENT_INFO"
	SectionClinicalHistory SectionName = "CLINICAL_HISTORY"
	SectionTechnique       SectionName = "TECHNIQUE"
	SectionComparison      SectionName = "COMPARISON"
	SectionFindings        SectionName = "FINDINGS"
	SectionImpression      SectionName = "IMPRESSION"
	SectionConclusion      SectionName = "CONCLUSION"
	SectionRecommendation  SectionName = "RECOMMENDATION"
	SectionUnknown         SectionName = "UNKNOWN"
)

// EntityType identifies the kind of medical entity a recognizer produces.
type EntityType string

const (
	EntityPatientID        EntityType = "PATIENT_ID"
	EntityAge              EntityType = "AGE"
	EntitySex              EntityType = "SEX"
	EntityDate             EntityType = "DATE"
	EntityLaterality       EntityType = "LATERALITY"
	EntityLocation         EntityType = "LOCATION"
	EntityMeasurement      EntityType = "MEASUREMENT"
	EntityDensity          EntityType = "DENSITY"
	EntityLesionDescriptor EntityType = "LESION_DESCRIPTOR"
	EntityCalcification    EntityType = "CALCIFICATION"
	EntityAnomalyFlag      EntityType = "ANOMALY_FLAG"
	EntityAssessment       EntityType = "BIRADS_ASSESSMENT"
	EntityProcedure        EntityType = "PROCEDURE"
)

// Category is the standardized severity category of a report.
type Category string

const (
	BIRADS_0        Category = "BIRADS_0"
	BIRADS_1        Category = "BIRADS_1"
	BIRADS_2        Category = "BIRADS_2"
	BIRADS_3        Category = "BIRADS_3"
	BIRADS_4        Category = "BIRADS_4"
	BIRADS_5        Category = "BIRADS_5"
	BIRADS_6        Category = "BIRADS_6"
	CategoryUnknown Category = "UNKNOWN"
)

// Action is a follow-up action produced by the recommendation engine.
type Action string

const (
	ActionNone              Action = "NONE"
	ActionRoutineFollowup   Action = "ROUTINE_FOLLOWUP"
	ActionShortTermFollowup Action = "SHORT_TERM_FOLLOWUP"
	ActionAdditionalImaging Action = "ADDITIONAL_IMAGING"
	ActionBiopsy            Action = "BIOPSY"
	ActionUrgentReferral    Action = "URGENT_REFERRAL"
	// ActionManualReview is advisory only; it requests human review instead of a clinical action.
	ActionManualReview Action = "MANUAL_REVIEW"
)

// Validation errors for knowledge base and model integrity
var (
	ErrInvalidSection    = errors.New("invalid section name")
	ErrInvalidEntityType = errors.New("invalid entity type")
	ErrInvalidCategory   = errors.New("invalid category")
	ErrInvalidAction     = errors.New("invalid action")
)

// IsValid reports whether the section name belongs to the taxonomy.
func (s SectionName) IsValid() bool {
	switch s {
	case SectionPatientInfo, SectionClinicalHistory, SectionTechnique, SectionComparison,
		SectionFindings, SectionImpression, SectionConclusion, SectionRecommendation, SectionUnknown:
		return true
	default:
		return false
	}
}

func (s SectionName) String() string {
	return string(s)
}

// IsValid reports whether the entity type is known.
func (t EntityType) IsValid() bool {
	switch t {
	case EntityPatientID, EntityAge, EntitySex, EntityDate, EntityLaterality, EntityLocation,
		EntityMeasurement, EntityDensity, EntityLesionDescriptor, EntityCalcification,
		EntityAnomalyFlag, EntityAssessment, EntityProcedure:
		return true
	default:
		return false
	}
}

func (t EntityType) String() string {
	return string(t)
}

// IsSingular reports whether a report is expected to carry at most one value
// of this type. Conflicting values of a singular type are flagged as ambiguous.
func (t EntityType) IsSingular() bool {
	switch t {
	case EntityPatientID, EntityAge, EntitySex, EntityDensity, EntityAssessment:
		return true
	default:
		return false
	}
}

// IsValid validates the category against the BI-RADS scale.
func (c Category) IsValid() bool {
	switch c {
	case BIRADS_0, BIRADS_1, BIRADS_2, BIRADS_3, BIRADS_4, BIRADS_5, BIRADS_6, CategoryUnknown:
		return true
	default:
		return false
	}
}

// String returns the string representation of the category.
func (c Category) String() string {
	return string(c)
}

// Severity ranks categories for tie-breaking. BIRADS_0 requires a recall for
// additional imaging, so it ranks above probably benign findings. UNKNOWN has
// the lowest rank and never wins a tie against a scored category.
func (c Category) Severity() int {
	switch c {
	case BIRADS_1:
		return 1
	case BIRADS_2:
		return 2
	case BIRADS_3:
		return 3
	case BIRADS_0:
		return 4
	case BIRADS_4:
		return 5
	case BIRADS_5:
		return 6
	case BIRADS_6:
		return 7
	default:
		return 0
	}
}

// MoreSevereThan reports whether c ranks strictly above other.
func (c Category) MoreSevereThan(other Category) bool {
	return c.Severity() > other.Severity()
}

// Description returns a short human-readable description of the category.
func (c Category) Description() string {
	switch c {
	case BIRADS_0:
		return "Incomplete - Need additional imaging evaluation"
	case BIRADS_1:
		return "Negative"
	case BIRADS_2:
		return "Benign"
	case BIRADS_3:
		return "Probably benign"
	case BIRADS_4:
		return "Suspicious"
	case BIRADS_5:
		return "Highly suggestive of malignancy"
	case BIRADS_6:
		return "Known biopsy-proven malignancy"
	default:
		return "Undetermined - manual review required"
	}
}

// LogFields returns structured logging fields for audit trails.
func (c Category) LogFields() map[string]any {
	return map[string]any{
		"category":        string(c),
		"description":     c.Description(),
		"severity":        c.Severity(),
		"is_valid":        c.IsValid(),
		"requires_action": c.RequiresClinicalAction(),
	}
}

// RequiresClinicalAction reports whether the category calls for more than routine screening.
func (c Category) RequiresClinicalAction() bool {
	switch c {
	case BIRADS_1, BIRADS_2:
		return false
	default:
		return true // UNKNOWN needs a human
	}
}

// IsValid reports whether the action is known.
func (a Action) IsValid() bool {
	switch a {
	case ActionNone, ActionRoutineFollowup, ActionShortTermFollowup, ActionAdditionalImaging,
		ActionBiopsy, ActionUrgentReferral, ActionManualReview:
		return true
	default:
		return false
	}
}

func (a Action) String() string {
	return string(a)
}

// IsAdvisory reports whether the action is a review request rather than a clinical action.
func (a Action) IsAdvisory() bool {
	return a == ActionManualReview
}
