package service

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/medreport-mcp-server/internal/domain"
)

// TableTreatmentPlanner selects the stage of the profile's treatment table
// from the largest measured lesion.
type TableTreatmentPlanner struct {
	logger *logrus.Logger
}

// NewTableTreatmentPlanner creates a planner.
func NewTableTreatmentPlanner(logger *logrus.Logger) *TableTreatmentPlanner {
	return &TableTreatmentPlanner{logger: logger}
}

// Plan implements domain.TreatmentPlanner. A lesion strictly larger than the
// table threshold selects the locally advanced stage; no measurement or a
// smaller one selects the early stage.
func (p *TableTreatmentPlanner) Plan(classification domain.Classification, entities []domain.Entity, profile *domain.Profile) *domain.TreatmentPlan {
	table := profile.Treatment
	if !table.AppliesTo(classification.Category) {
		return nil
	}

	largest := -1
	for i, e := range entities {
		if e.Type != domain.EntityMeasurement || e.Confidence <= 0 {
			continue
		}
		if largest < 0 || e.Magnitude > entities[largest].Magnitude {
			largest = i
		}
	}

	stageName := domain.StageEarly
	if largest >= 0 && entities[largest].Magnitude > table.SizeThresholdMM {
		stageName = domain.StageLocallyAdvanced
	}
	stage, ok := table.Stage(stageName)
	if !ok {
		return nil
	}

	rationale := make(map[int]bool)
	for _, idx := range classification.Evidence {
		rationale[idx] = true
	}
	if largest >= 0 {
		rationale[largest] = true
	}

	modalities := make([]domain.TreatmentModality, 0, len(stage.Modalities))
	for _, m := range stage.Modalities {
		modalities = append(modalities, domain.TreatmentModality{
			Modality: m.Modality,
			Options:  append([]string{}, m.Options...),
		})
	}

	plan := &domain.TreatmentPlan{
		Stage:         stage.Stage,
		Modalities:    modalities,
		Justification: treatmentJustification(classification.Category, profile, entities, largest),
		Rationale:     sortedIndices(rationale),
	}
	p.logger.WithFields(logrus.Fields{
		"category": classification.Category,
		"stage":    plan.Stage,
	}).Debug("Treatment options selected")
	return plan
}

// treatmentJustification cites the category guideline and the size that
// selected the stage.
func treatmentJustification(category domain.Category, profile *domain.Profile, entities []domain.Entity, largest int) string {
	var b strings.Builder
	label := strings.Replace(string(category), "BIRADS_", "BI-RADS ", 1)
	if g, ok := profile.Guidelines[category]; ok {
		fmt.Fprintf(&b, "%s (%s) with malignancy risk %s.", label, g.Description, g.MalignancyRisk)
	} else {
		fmt.Fprintf(&b, "%s (%s).", label, category.Description())
	}

	threshold := profile.Treatment.SizeThresholdMM
	switch {
	case largest < 0:
		b.WriteString(" No measured lesion: early stage options.")
	case entities[largest].Magnitude > threshold:
		fmt.Fprintf(&b, " Largest lesion %g mm exceeds %g mm: locally advanced options.", entities[largest].Magnitude, threshold)
	default:
		fmt.Fprintf(&b, " Largest lesion %g mm is within %g mm: early stage options.", entities[largest].Magnitude, threshold)
	}

	if note := profile.Treatment.Note; note != "" {
		b.WriteString(" ")
		b.WriteString(note)
	}
	return b.String()
}
