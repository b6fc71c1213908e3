package service

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/medreport-mcp-server/internal/domain"
)

// scoreEpsilon is the tolerance under which two category scores are tied.
const scoreEpsilon = 1e-9

// categoryOrder fixes the iteration order so scoring is deterministic.
var categoryOrder = []domain.Category{
	domain.BIRADS_0, domain.BIRADS_1, domain.BIRADS_2, domain.BIRADS_3,
	domain.BIRADS_4, domain.BIRADS_5, domain.BIRADS_6,
}

// RuleClassifier scores categories with weighted rules. Each rule whose
// conditions all select an entity adds weight x mean(selected confidence) to
// its category. The highest score wins; a tie goes to the more severe category.
type RuleClassifier struct {
	logger *logrus.Logger
}

// NewRuleClassifier creates a classifier.
func NewRuleClassifier(logger *logrus.Logger) *RuleClassifier {
	return &RuleClassifier{logger: logger}
}

// RuleScore is the contribution of one fired rule.
type RuleScore struct {
	RuleID       string
	Category     domain.Category
	Contribution float64
	Selected     []int
}

// Classify implements domain.Classifier.
func (c *RuleClassifier) Classify(entities []domain.Entity, _ []domain.Section, rules []domain.ClassificationRule) domain.Classification {
	fired := c.Evaluate(entities, rules)

	scores := make(map[domain.Category]float64)
	var total float64
	for _, f := range fired {
		scores[f.Category] += f.Contribution
		total += f.Contribution
	}
	if total <= 0 {
		return domain.Classification{Category: domain.CategoryUnknown, Confidence: 0, Evidence: []int{}}
	}

	winner := domain.CategoryUnknown
	best := 0.0
	for _, cat := range categoryOrder {
		s, ok := scores[cat]
		if !ok {
			continue
		}
		switch {
		case winner == domain.CategoryUnknown || s > best+scoreEpsilon:
			winner, best = cat, s
		case math.Abs(s-best) <= scoreEpsilon && cat.MoreSevereThan(winner):
			winner = cat
		}
	}

	evidence := make(map[int]bool)
	for _, f := range fired {
		if f.Category != winner {
			continue
		}
		for _, idx := range f.Selected {
			evidence[idx] = true
		}
	}

	confidence := roundConfidence(best / total)
	if confidence <= 0 {
		confidence = 0.0001
	}

	c.logger.WithFields(logrus.Fields{
		"rules_fired": len(fired),
		"category":    winner,
		"score":       best,
		"total":       total,
	}).Debug("Classification completed")

	return domain.Classification{
		Category:   winner,
		Confidence: confidence,
		Evidence:   sortedIndices(evidence),
	}
}

// Evaluate returns the rules that fired, in rule-table order.
func (c *RuleClassifier) Evaluate(entities []domain.Entity, rules []domain.ClassificationRule) []RuleScore {
	var fired []RuleScore
	for _, rule := range rules {
		selected, ok := selectAll(entities, rule.Conditions)
		if !ok {
			continue
		}
		var sum float64
		for _, idx := range selected {
			sum += entities[idx].Confidence
		}
		fired = append(fired, RuleScore{
			RuleID:       rule.ID,
			Category:     rule.Category,
			Contribution: rule.Weight * sum / float64(len(selected)),
			Selected:     selected,
		})
	}
	return fired
}

// selectAll picks one entity per condition; ok is false when any condition
// selects nothing.
func selectAll(entities []domain.Entity, conditions []domain.Condition) ([]int, bool) {
	if len(conditions) == 0 {
		return nil, false
	}
	selected := make([]int, 0, len(conditions))
	for _, cond := range conditions {
		idx := selectEntity(entities, cond)
		if idx < 0 {
			return nil, false
		}
		selected = append(selected, idx)
	}
	return selected, true
}

// selectEntity returns the best entity satisfying cond: highest confidence,
// then larger magnitude, then lower index. It returns -1 when none matches.
func selectEntity(entities []domain.Entity, cond domain.Condition) int {
	best := -1
	for i, e := range entities {
		if !cond.Matches(e) {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		b := entities[best]
		switch {
		case e.Confidence > b.Confidence:
			best = i
		case e.Confidence == b.Confidence && e.Magnitude > b.Magnitude:
			best = i
		}
	}
	return best
}

// Ambiguities reports singular entity types that carry conflicting values.
// All conflicting entities stay in the result.
func Ambiguities(entities []domain.Entity) []domain.Warning {
	values := make(map[domain.EntityType][]string)
	var order []domain.EntityType
	for _, e := range entities {
		if !e.Type.IsSingular() {
			continue
		}
		seen := values[e.Type]
		if seen == nil {
			order = append(order, e.Type)
		}
		dup := false
		for _, v := range seen {
			if strings.EqualFold(v, e.Value) {
				dup = true
				break
			}
		}
		if !dup {
			values[e.Type] = append(seen, e.Value)
		}
	}

	var warnings []domain.Warning
	for _, t := range order {
		if len(values[t]) < 2 {
			continue
		}
		warnings = append(warnings, domain.Warning{
			Code:    domain.WarningAmbiguousEntity,
			Message: fmt.Sprintf("%s has conflicting values: %s", t, strings.Join(values[t], ", ")),
			Source:  string(t),
		})
	}
	return warnings
}

func sortedIndices(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for idx := range set {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}
