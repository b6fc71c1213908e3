package service

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/medreport-mcp-server/internal/domain"
)

const unknownCategoryDetail = "No classification rule matched; manual review of the report is required"

// RuleRecommender maps a classification to follow-up actions using the
// profile's recommendation table.
type RuleRecommender struct {
	logger *logrus.Logger
}

// NewRuleRecommender creates a recommender.
func NewRuleRecommender(logger *logrus.Logger) *RuleRecommender {
	return &RuleRecommender{logger: logger}
}

// Recommend implements domain.Recommender. An UNKNOWN classification always
// yields exactly one manual-review advisory. Otherwise the table rules fire
// and a manual-review advisory is added when confidence is below the
// profile threshold. Actions are collapsed and sorted by priority, then name.
func (r *RuleRecommender) Recommend(classification domain.Classification, entities []domain.Entity, profile *domain.Profile) []domain.Recommendation {
	if classification.IsUnknown() {
		return []domain.Recommendation{{
			Action:    domain.ActionManualReview,
			Priority:  1,
			Rationale: []int{},
			Detail:    unknownCategoryDetail,
		}}
	}

	var recs []domain.Recommendation
	for _, rule := range profile.RecommendationRules {
		rationale, ok := r.fire(rule, classification, entities)
		if !ok {
			continue
		}
		recs = append(recs, domain.Recommendation{
			Action:    rule.Action,
			Priority:  rule.Priority,
			Rationale: rationale,
			Detail:    rule.Detail,
		})
	}

	if classification.Confidence < profile.ManualReviewThreshold {
		recs = append(recs, domain.Recommendation{
			Action:    domain.ActionManualReview,
			Priority:  1,
			Rationale: append([]int{}, classification.Evidence...),
			Detail:    fmt.Sprintf("Classification confidence %.2f is below %.2f; confirm with a radiologist", classification.Confidence, profile.ManualReviewThreshold),
		})
	}

	recs = collapseRecommendations(recs)
	r.logger.WithFields(logrus.Fields{
		"category":        classification.Category,
		"recommendations": len(recs),
	}).Debug("Recommendations generated")
	return recs
}

// fire checks one rule. Category-keyed rules cite the classification
// evidence; condition rules cite every entity matching their conditions.
func (r *RuleRecommender) fire(rule domain.RecommendationRule, classification domain.Classification, entities []domain.Entity) ([]int, bool) {
	if !rule.AppliesTo(classification.Category) {
		return nil, false
	}
	rationale := make(map[int]bool)
	if len(rule.Categories) > 0 {
		for _, idx := range classification.Evidence {
			rationale[idx] = true
		}
	}
	for _, cond := range rule.Conditions {
		found := false
		for i, e := range entities {
			if cond.Matches(e) {
				rationale[i] = true
				found = true
			}
		}
		if !found {
			return nil, false
		}
	}
	return sortedIndices(rationale), true
}

// collapseRecommendations merges recommendations with the same action: the
// lowest priority wins, its detail is kept and rationales are unioned.
func collapseRecommendations(recs []domain.Recommendation) []domain.Recommendation {
	byAction := make(map[domain.Action]int)
	var out []domain.Recommendation
	var rationale []map[int]bool
	for _, rec := range recs {
		i, ok := byAction[rec.Action]
		if !ok {
			byAction[rec.Action] = len(out)
			out = append(out, rec)
			set := make(map[int]bool)
			for _, idx := range rec.Rationale {
				set[idx] = true
			}
			rationale = append(rationale, set)
			continue
		}
		if rec.Priority < out[i].Priority {
			out[i].Priority = rec.Priority
			out[i].Detail = rec.Detail
		}
		for _, idx := range rec.Rationale {
			rationale[i][idx] = true
		}
	}
	for i := range out {
		out[i].Rationale = sortedIndices(rationale[i])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Action < out[j].Action
	})
	if out == nil {
		out = []domain.Recommendation{}
	}
	return out
}
