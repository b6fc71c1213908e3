package evaluation

import (
	"fmt"
	"math"

	"github.com/medreport-mcp-server/internal/domain"
)

// Prediction is what the pipeline produced for one case.
type Prediction struct {
	CaseID     string          `json:"case_id"`
	Category   domain.Category `json:"category"`
	Confidence float64         `json:"confidence"`
	Biopsy     bool            `json:"biopsy"`
	Findings   int             `json:"findings"`
}

// PredictionFrom reduces an analysis result to the fields that are scored.
// A finding is a measured lesion, so the findings count is the number of
// MEASUREMENT entities.
func PredictionFrom(caseID string, result *domain.AnalysisResult) Prediction {
	return Prediction{
		CaseID:     caseID,
		Category:   result.Classification.Category,
		Confidence: result.Classification.Confidence,
		Biopsy:     result.HasAction(domain.ActionBiopsy),
		Findings:   len(result.EntitiesOf(domain.EntityMeasurement)),
	}
}

// ConfusionMatrix counts biopsy recommendation outcomes.
type ConfusionMatrix struct {
	TrueNegative  int `json:"tn"`
	FalsePositive int `json:"fp"`
	FalseNegative int `json:"fn"`
	TruePositive  int `json:"tp"`
}

// Metrics summarises a run over a labelled corpus.
type Metrics struct {
	NumReports        int             `json:"num_reports"`
	CategoryAccuracy  float64         `json:"category_accuracy"`
	FindingsCountDiff float64         `json:"findings_count_diff"`
	BiopsyAccuracy    float64         `json:"biopsy_accuracy"`
	BiopsyPrecision   float64         `json:"biopsy_precision"`
	BiopsyRecall      float64         `json:"biopsy_recall"`
	BiopsyF1          float64         `json:"biopsy_f1"`
	Confusion         ConfusionMatrix `json:"confusion_matrix"`
}

// Compute scores predictions against cases, pairing them by position.
// Ratios with a zero denominator are reported as 0.
func Compute(cases []Case, predictions []Prediction) (*Metrics, error) {
	if len(cases) != len(predictions) {
		return nil, fmt.Errorf("have %d cases but %d predictions", len(cases), len(predictions))
	}
	m := &Metrics{NumReports: len(cases)}
	if len(cases) == 0 {
		return m, nil
	}

	var correct int
	var diff float64
	for i, c := range cases {
		p := predictions[i]
		if p.Category == c.Expected.Category {
			correct++
		}
		diff += math.Abs(float64(p.Findings - c.Expected.Findings))

		switch {
		case p.Biopsy && c.Expected.Biopsy:
			m.Confusion.TruePositive++
		case p.Biopsy:
			m.Confusion.FalsePositive++
		case c.Expected.Biopsy:
			m.Confusion.FalseNegative++
		default:
			m.Confusion.TrueNegative++
		}
	}

	n := float64(len(cases))
	cm := m.Confusion
	m.CategoryAccuracy = float64(correct) / n
	m.FindingsCountDiff = diff / n
	m.BiopsyAccuracy = float64(cm.TruePositive+cm.TrueNegative) / n
	m.BiopsyPrecision = ratio(cm.TruePositive, cm.TruePositive+cm.FalsePositive)
	m.BiopsyRecall = ratio(cm.TruePositive, cm.TruePositive+cm.FalseNegative)
	if m.BiopsyPrecision+m.BiopsyRecall > 0 {
		m.BiopsyF1 = 2 * m.BiopsyPrecision * m.BiopsyRecall / (m.BiopsyPrecision + m.BiopsyRecall)
	}
	return m, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
