package evaluation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/medreport-mcp-server/internal/domain"
)

// Mismatch is one scored field where the pipeline disagreed with the label.
type Mismatch struct {
	CaseID   string `json:"case_id"`
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Got      string `json:"got"`
}

// Report is the outcome of an evaluation run.
type Report struct {
	Metrics     *Metrics     `json:"metrics"`
	Predictions []Prediction `json:"predictions"`
	Mismatches  []Mismatch   `json:"mismatches"`
	Duration    string       `json:"duration"`
}

// Passed reports whether every case matched its label.
func (r *Report) Passed() bool {
	return len(r.Mismatches) == 0
}

// Evaluator runs an analyzer over a labelled corpus.
type Evaluator struct {
	analyzer domain.ReportAnalyzer
	logger   *logrus.Logger
}

// NewEvaluator creates an evaluator.
func NewEvaluator(analyzer domain.ReportAnalyzer, logger *logrus.Logger) *Evaluator {
	return &Evaluator{analyzer: analyzer, logger: logger}
}

// Run analyzes every case in order. An analysis error aborts the run since
// labelled cases are expected to be valid input.
func (e *Evaluator) Run(ctx context.Context, cases []Case) (*Report, error) {
	start := time.Now()
	report := &Report{
		Predictions: make([]Prediction, 0, len(cases)),
		Mismatches:  []Mismatch{},
	}

	for _, c := range cases {
		result, err := e.analyzer.Analyze(ctx, domain.RawReport{Text: c.Text, ReportType: c.ReportType})
		if err != nil {
			return nil, fmt.Errorf("case %s: %w", c.ID, err)
		}
		p := PredictionFrom(c.ID, result)
		report.Predictions = append(report.Predictions, p)
		report.Mismatches = append(report.Mismatches, compare(c, p)...)

		e.logger.WithFields(logrus.Fields{
			"case_id":    c.ID,
			"expected":   c.Expected.Category,
			"category":   p.Category,
			"confidence": p.Confidence,
			"biopsy":     p.Biopsy,
		}).Debug("Evaluated case")
	}

	metrics, err := Compute(cases, report.Predictions)
	if err != nil {
		return nil, err
	}
	report.Metrics = metrics
	report.Duration = time.Since(start).String()

	e.logger.WithFields(logrus.Fields{
		"reports":           metrics.NumReports,
		"category_accuracy": metrics.CategoryAccuracy,
		"biopsy_f1":         metrics.BiopsyF1,
		"mismatches":        len(report.Mismatches),
	}).Info("Evaluation completed")
	return report, nil
}

func compare(c Case, p Prediction) []Mismatch {
	var out []Mismatch
	if p.Category != c.Expected.Category {
		out = append(out, Mismatch{CaseID: c.ID, Field: "category", Expected: string(c.Expected.Category), Got: string(p.Category)})
	}
	if p.Biopsy != c.Expected.Biopsy {
		out = append(out, Mismatch{CaseID: c.ID, Field: "biopsy", Expected: strconv.FormatBool(c.Expected.Biopsy), Got: strconv.FormatBool(p.Biopsy)})
	}
	if p.Findings != c.Expected.Findings {
		out = append(out, Mismatch{CaseID: c.ID, Field: "findings", Expected: strconv.Itoa(c.Expected.Findings), Got: strconv.Itoa(p.Findings)})
	}
	return out
}
