// Package casebase finds labelled reference cases that resemble an analyzed
// report. Each case is analyzed once and reduced to a bag of features; lookups
// rank cases by the cosine similarity of their bags.
package casebase

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/medreport-mcp-server/internal/domain"
	"github.com/medreport-mcp-server/internal/evaluation"
)

// DefaultLimit is the number of cases returned when the caller asks for none.
const DefaultLimit = 3

// MaxLimit bounds the number of cases one lookup returns.
const MaxLimit = 20

// Size buckets of the largest measured lesion.
const (
	smallLesionMM = 10
	largeLesionMM = 20
)

var featureTypes = map[domain.EntityType]bool{
	domain.EntityLaterality:       true,
	domain.EntityLocation:         true,
	domain.EntityDensity:          true,
	domain.EntityLesionDescriptor: true,
	domain.EntityCalcification:    true,
	domain.EntityAnomalyFlag:      true,
}

type entry struct {
	id         string
	category   domain.Category
	assessment string
	features   map[string]bool
}

// Index holds the feature bags of the analyzed reference cases. It is
// immutable after Build and safe for concurrent use.
type Index struct {
	entries []entry
	logger  *logrus.Logger
}

// Build analyzes every case and indexes its features. Cases are labelled
// reference data, so an analysis error fails the build.
func Build(ctx context.Context, analyzer domain.ReportAnalyzer, cases []evaluation.Case, logger *logrus.Logger) (*Index, error) {
	ix := &Index{entries: make([]entry, 0, len(cases)), logger: logger}
	for _, c := range cases {
		result, err := analyzer.Analyze(ctx, domain.RawReport{Text: c.Text, ReportType: c.ReportType})
		if err != nil {
			return nil, fmt.Errorf("failed to index case %s: %w", c.ID, err)
		}
		ix.entries = append(ix.entries, entry{
			id:         c.ID,
			category:   c.Expected.Category,
			assessment: c.Expected.Assessment,
			features:   Features(result),
		})
	}

	logger.WithField("cases", len(ix.entries)).Info("Reference case index built")
	return ix, nil
}

// Len returns the number of indexed cases.
func (ix *Index) Len() int {
	return len(ix.entries)
}

// FindSimilar implements domain.CaseFinder. Cases sharing no feature with
// the result are never returned. Ties keep corpus order.
func (ix *Index) FindSimilar(ctx context.Context, result *domain.AnalysisResult, limit int) ([]domain.SimilarCase, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	query := Features(result)
	out := []domain.SimilarCase{}
	if len(query) == 0 {
		return out, nil
	}

	for _, e := range ix.entries {
		shared := sharedFeatures(query, e.features)
		if len(shared) == 0 {
			continue
		}
		score := float64(len(shared)) / math.Sqrt(float64(len(query)*len(e.features)))
		out = append(out, domain.SimilarCase{
			ID:         e.id,
			Category:   e.category,
			Assessment: e.assessment,
			Score:      math.Round(score*10000) / 10000,
			Shared:     shared,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}

	ix.logger.WithFields(logrus.Fields{
		"category": result.Classification.Category,
		"features": len(query),
		"matches":  len(out),
	}).Debug("Similar cases ranked")
	return out, nil
}

// Features reduces a result to its comparable facts: the category, the
// descriptive entities and a size bucket for the largest measured lesion.
func Features(result *domain.AnalysisResult) map[string]bool {
	features := make(map[string]bool)
	if result == nil {
		return features
	}
	if !result.Classification.IsUnknown() {
		features["category:"+string(result.Classification.Category)] = true
	}

	largest := 0.0
	for _, e := range result.Entities {
		if e.Confidence <= 0 {
			continue
		}
		if featureTypes[e.Type] {
			features[string(e.Type)+":"+strings.ToLower(e.Value)] = true
		}
		if e.Type == domain.EntityMeasurement && e.Magnitude > largest {
			largest = e.Magnitude
		}
	}

	switch {
	case largest <= 0:
	case largest < smallLesionMM:
		features["size:<10mm"] = true
	case largest <= largeLesionMM:
		features["size:10-20mm"] = true
	default:
		features["size:>20mm"] = true
	}
	return features
}

func sharedFeatures(a, b map[string]bool) []string {
	var shared []string
	for f := range a {
		if b[f] {
			shared = append(shared, f)
		}
	}
	sort.Strings(shared)
	return shared
}
