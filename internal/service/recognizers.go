package service

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/medreport-mcp-server/internal/domain"
	"github.com/medreport-mcp-server/pkg/reporttext"
)

// match is a candidate span relative to the section text.
type match struct {
	start, end int
	value      string
	magnitude  float64
	confidence float64
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// atWordBoundary reports whether text[start:end] is not glued to a
// neighbouring letter or digit. Go's \b only understands ASCII words.
func atWordBoundary(text string, start, end int) bool {
	if start > 0 {
		if r, _ := utf8.DecodeLastRuneInString(text[:start]); isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		if r, _ := utf8.DecodeRuneInString(text[end:]); isWordRune(r) {
			return false
		}
	}
	return true
}

// findAll returns the word-bounded matches of re. The span is capture group
// `group` (0 for the whole match); convert maps the submatches to a value.
func findAll(re *regexp.Regexp, text string, group int, convert func(groups []string) (string, float64, bool)) []match {
	var out []match
	for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
		if !atWordBoundary(text, loc[0], loc[1]) {
			continue
		}
		groups := make([]string, len(loc)/2)
		for i := range groups {
			if loc[2*i] >= 0 {
				groups[i] = text[loc[2*i]:loc[2*i+1]]
			}
		}
		value, magnitude, ok := convert(groups)
		if !ok {
			continue
		}
		start, end := loc[2*group], loc[2*group+1]
		if start < 0 {
			start, end = loc[0], loc[1]
		}
		out = append(out, match{start: start, end: end, value: value, magnitude: magnitude})
	}
	return out
}

// constant returns a converter that always yields value.
func constant(value string) func([]string) (string, float64, bool) {
	return func([]string) (string, float64, bool) { return value, 0, true }
}

// resolveOverlaps keeps the longest of overlapping candidates (earlier start
// on equal length) and returns the survivors in text order.
func resolveOverlaps(ms []match) []match {
	if len(ms) < 2 {
		return ms
	}
	byLength := make([]match, len(ms))
	copy(byLength, ms)
	sort.SliceStable(byLength, func(i, j int) bool {
		li, lj := byLength[i].end-byLength[i].start, byLength[j].end-byLength[j].start
		if li != lj {
			return li > lj
		}
		return byLength[i].start < byLength[j].start
	})
	var kept []match
	for _, m := range byLength {
		overlaps := false
		for _, k := range kept {
			if m.start < k.end && k.start < m.end {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, m)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].start < kept[j].start })
	return kept
}

// sentenceBounds returns the clause around pos: terminators are . ; ! : and
// newlines, except a decimal point between digits. A question mark queries the
// finding instead of ending the clause, so the scorer sees the words after it.
func sentenceBounds(text string, pos int) (int, int) {
	start := pos
	for start > 0 && !isTerminator(text, start-1) {
		start--
	}
	end := pos
	for end < len(text) && !isTerminator(text, end) {
		end++
	}
	return start, end
}

func isTerminator(text string, i int) bool {
	switch text[i] {
	case ';', '!', ':', '\n':
		return true
	case '.':
		if i > 0 && i+1 < len(text) && isDigit(text[i-1]) && isDigit(text[i+1]) {
			return false
		}
		return true
	}
	return false
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// PatternRecognizer finds one entity type with deterministic patterns and a
// fixed confidence. It never fails.
type PatternRecognizer struct {
	name       string
	entityType domain.EntityType
	confidence float64
	sections   []domain.SectionName // empty means every section
	find       func(text string) []match
}

// Name implements domain.Recognizer.
func (r *PatternRecognizer) Name() string { return r.name }

// EntityType returns the type this recognizer emits.
func (r *PatternRecognizer) EntityType() domain.EntityType { return r.entityType }

// Recognize implements domain.Recognizer.
func (r *PatternRecognizer) Recognize(_ context.Context, section domain.Section, index int) ([]domain.Entity, error) {
	if !appliesTo(r.sections, section.Name) {
		return nil, nil
	}
	ms := resolveOverlaps(r.find(section.Text))
	entities := make([]domain.Entity, 0, len(ms))
	for _, m := range ms {
		confidence := m.confidence
		if confidence == 0 {
			confidence = r.confidence
		}
		entities = append(entities, domain.Entity{
			Type:       r.entityType,
			Value:      m.value,
			Section:    index,
			Start:      section.Start + m.start,
			End:        section.Start + m.end,
			Confidence: confidence,
			Magnitude:  m.magnitude,
		})
	}
	return entities, nil
}

func appliesTo(sections []domain.SectionName, name domain.SectionName) bool {
	if len(sections) == 0 {
		return true
	}
	for _, s := range sections {
		if s == name {
			return true
		}
	}
	return false
}

var (
	patientIDPattern = regexp.MustCompile(`(?i)(?:patient id|patient no\.?|patient number|mrn|medical record(?: number)?|id patient|n° patient|num[ée]ro patient|identifiant(?: patient)?|n° dossier|dossier n°)[ ]*[:#]?[ ]*([a-z0-9][a-z0-9-]{2,})`)
	agePatterns      = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(\d{1,3})[ -]?(?:years?[ -]old|year-old|y/o|yo|ans)`),
		regexp.MustCompile(`(?i)(?:aged?|âge|âg[ée]e?(?: de)?)[ ]*:?[ ]*(\d{1,3})(?:[ ]*(?:ans|years?))?`),
	}
	sexPattern        = regexp.MustCompile(`(?i)(female|woman|femme|f[ée]minin|male|man|homme|masculin)`)
	lateralityPattern = regexp.MustCompile(`(?i)(bilateral(?:ly)?|bilat[ée]ral(?:e|es|aux)?|right|left|droite?s?|gauches?)`)
	assessmentPattern = regexp.MustCompile(`(?i)(?:bi-?rads|acr)(?:[ ]*(?:category|cat[ée]gorie|classification|assessment))?[ ]*:?[ ]*([0-6])([abc])?`)
)

type valuePattern struct {
	re    *regexp.Regexp
	value func(groups []string) (string, float64, bool)
}

var quadrantAbbreviations = map[string]string{
	"uoq": "upper_outer", "uiq": "upper_inner", "loq": "lower_outer", "liq": "lower_inner",
	"qse": "upper_outer", "qsi": "upper_inner", "qie": "lower_outer", "qii": "lower_inner",
}

func quadrant(vertical, side string) string {
	v, s := "upper", "outer"
	if strings.HasPrefix(vertical, "low") || strings.HasPrefix(vertical, "inf") {
		v = "lower"
	}
	if strings.HasPrefix(side, "in") {
		s = "inner"
	}
	return v + "_" + s
}

func clockPosition(groups []string) (string, float64, bool) {
	h, err := strconv.Atoi(groups[1])
	if err != nil || h < 1 || h > 12 {
		return "", 0, false
	}
	return fmt.Sprintf("clock_%d", h), 0, true
}

var locationPatterns = []valuePattern{
	{regexp.MustCompile(`(?i)(uoq|uiq|loq|liq|qse|qsi|qie|qii)`), func(g []string) (string, float64, bool) {
		return quadrantAbbreviations[strings.ToLower(g[1])], 0, true
	}},
	{regexp.MustCompile(`(?i)(upper|lower)[ -](outer|inner)(?: quadrant)?`), func(g []string) (string, float64, bool) {
		return quadrant(strings.ToLower(g[1]), strings.ToLower(g[2])), 0, true
	}},
	{regexp.MustCompile(`(?i)(?:quadrant )?(sup[ée]ro|inf[ée]ro)[ -](externe|interne)`), func(g []string) (string, float64, bool) {
		return quadrant(strings.ToLower(g[1]), strings.ToLower(g[2])), 0, true
	}},
	{regexp.MustCompile(`(?i)retro-?areolar|r[ée]tro-?ar[ée]olaire|sub-?areolar|sous-ar[ée]olaire`), constant("retroareolar")},
	{regexp.MustCompile(`(?i)axillary tail|prolongement axillaire`), constant("axillary_tail")},
	{regexp.MustCompile(`(?i)(\d{1,2})(?::00)?[ ]?o'?clock`), clockPosition},
	{regexp.MustCompile(`(?i)à (\d{1,2})[ ]?h(?:eures?)?`), clockPosition},
}

var procedurePatterns = []valuePattern{
	{regexp.MustCompile(`(?i)biops(?:y|ies)|biopsies?|core needle|tissue sampling|pr[ée]l[èe]vements?|microbiopsies?`), constant("biopsy")},
	{regexp.MustCompile(`(?i)ultrasound|sonograph(?:y|ic)|[ée]chographi(?:e|que)|[ée]cho`), constant("ultrasound")},
	{regexp.MustCompile(`(?i)mri|irm|magnetic resonance`), constant("mri")},
	{regexp.MustCompile(`(?i)follow-?up|surveillance|suivi|contr[ôo]le`), constant("followup")},
	{regexp.MustCompile(`(?i)oncolog(?:y|ist|ie|ue)|multidisciplinary|pluridisciplinaire|rcp`), constant("oncology_referral")},
}

func findPatterns(patterns []valuePattern, text string) []match {
	var out []match
	for _, p := range patterns {
		out = append(out, findAll(p.re, text, 0, p.value)...)
	}
	return out
}

// NewPatternRecognizers returns the deterministic recognizers.
func NewPatternRecognizers() []domain.Recognizer {
	return []domain.Recognizer{
		&PatternRecognizer{name: "patient_id", entityType: domain.EntityPatientID, confidence: 0.98, find: findPatientIDs},
		&PatternRecognizer{name: "age", entityType: domain.EntityAge, confidence: 0.95, find: findAges},
		&PatternRecognizer{name: "sex", entityType: domain.EntitySex, confidence: 0.9, find: findSex},
		&PatternRecognizer{name: "date", entityType: domain.EntityDate, confidence: 0.98, find: findDates},
		&PatternRecognizer{name: "laterality", entityType: domain.EntityLaterality, confidence: 0.97, find: findLaterality},
		&PatternRecognizer{name: "location", entityType: domain.EntityLocation, confidence: 0.95, find: func(text string) []match {
			return findPatterns(locationPatterns, text)
		}},
		&PatternRecognizer{name: "measurement", entityType: domain.EntityMeasurement, confidence: 0.99, find: findMeasurements},
		&PatternRecognizer{name: "birads_assessment", entityType: domain.EntityAssessment, confidence: 0.99, find: findAssessments},
		&PatternRecognizer{
			name:       "procedure",
			entityType: domain.EntityProcedure,
			confidence: 0.9,
			sections:   []domain.SectionName{domain.SectionImpression, domain.SectionConclusion, domain.SectionRecommendation},
			find:       findProcedures,
		},
	}
}

func findPatientIDs(text string) []match {
	return findAll(patientIDPattern, text, 1, func(g []string) (string, float64, bool) {
		if !strings.ContainsAny(g[1], "0123456789") {
			return "", 0, false
		}
		return strings.ToUpper(g[1]), 0, true
	})
}

func findAges(text string) []match {
	var out []match
	for _, re := range agePatterns {
		out = append(out, findAll(re, text, 0, func(g []string) (string, float64, bool) {
			age, err := strconv.Atoi(g[1])
			if err != nil || age <= 0 || age > 120 {
				return "", 0, false
			}
			return strconv.Itoa(age), float64(age), true
		})...)
	}
	return out
}

func findSex(text string) []match {
	return findAll(sexPattern, text, 0, func(g []string) (string, float64, bool) {
		switch strings.ToLower(g[1]) {
		case "male", "man", "homme", "masculin":
			return "M", 0, true
		default:
			return "F", 0, true
		}
	})
}

func findDates(text string) []match {
	var out []match
	for _, d := range reporttext.FindDates(text) {
		m := match{start: d.Start, end: d.End, value: d.ISO()}
		if d.Ambiguous {
			m.confidence = 0.9
		}
		out = append(out, m)
	}
	return out
}

func findLaterality(text string) []match {
	return findAll(lateralityPattern, text, 0, func(g []string) (string, float64, bool) {
		v := strings.ToLower(g[1])
		switch {
		case strings.HasPrefix(v, "bilat"):
			return "bilateral", 0, true
		case v == "right" || strings.HasPrefix(v, "droit"):
			return "right", 0, true
		default:
			return "left", 0, true
		}
	})
}

func findMeasurements(text string) []match {
	var out []match
	for _, m := range reporttext.FindMeasurements(text) {
		out = append(out, match{
			start:     m.Start,
			end:       m.End,
			value:     m.Measurement.Canonical(),
			magnitude: m.Measurement.Millimetres(),
		})
	}
	return out
}

func findAssessments(text string) []match {
	return findAll(assessmentPattern, text, 0, func(g []string) (string, float64, bool) {
		value := g[1]
		if value == "4" && g[2] != "" {
			value += strings.ToUpper(g[2])
		} else if g[2] != "" {
			return "", 0, false
		}
		n, _ := strconv.Atoi(g[1])
		return value, float64(n), true
	})
}

// findProcedures drops explicitly negated requests such as "no biopsy needed".
func findProcedures(text string) []match {
	var out []match
	for _, m := range findPatterns(procedurePatterns, text) {
		start, _ := sentenceBounds(text, m.start)
		if negatedBefore(clauseTail(text[start:m.start])) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// ContextRecognizer finds descriptive mentions from a lexicon and asks a
// ContextScorer how strongly each one is asserted. Negated mentions are dropped.
type ContextRecognizer struct {
	name       string
	entityType domain.EntityType
	terms      []lexiconTerm
	scorer     domain.ContextScorer
}

// Name implements domain.Recognizer.
func (r *ContextRecognizer) Name() string { return r.name }

// EntityType returns the type this recognizer emits.
func (r *ContextRecognizer) EntityType() domain.EntityType { return r.entityType }

// Recognize implements domain.Recognizer. Any scorer error fails the whole
// call so that the extractor can discard this recognizer's output.
func (r *ContextRecognizer) Recognize(ctx context.Context, section domain.Section, index int) ([]domain.Entity, error) {
	text := section.Text
	var candidates []match
	terms := make(map[[2]int]lexiconTerm)
	for _, t := range r.terms {
		for _, loc := range t.pattern.FindAllStringSubmatchIndex(text, -1) {
			if !atWordBoundary(text, loc[0], loc[1]) {
				continue
			}
			value := t.canonical
			if t.group > 0 {
				if loc[2*t.group] < 0 {
					continue
				}
				value = strings.ToUpper(text[loc[2*t.group]:loc[2*t.group+1]])
			}
			candidates = append(candidates, match{start: loc[0], end: loc[1], value: value})
			if _, seen := terms[[2]int{loc[0], loc[1]}]; !seen {
				terms[[2]int{loc[0], loc[1]}] = t
			}
		}
	}

	var entities []domain.Entity
	for _, m := range resolveOverlaps(candidates) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t := terms[[2]int{m.start, m.end}]
		start, end := sentenceBounds(text, m.start)
		res, err := r.scorer.Score(ctx, domain.ScoreRequest{
			EntityType: r.entityType,
			Term:       text[m.start:m.end],
			Canonical:  m.value,
			Weight:     t.weight,
			Sentence:   text[start:end],
			Offset:     m.start - start,
			Section:    section.Name,
			Negatable:  t.negatable,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: score %q: %w", r.name, m.value, err)
		}
		if res.Negated || res.Confidence <= 0 {
			continue
		}
		entities = append(entities, domain.Entity{
			Type:       r.entityType,
			Value:      m.value,
			Section:    index,
			Start:      section.Start + m.start,
			End:        section.Start + m.end,
			Confidence: roundConfidence(res.Confidence),
		})
	}
	return entities, nil
}

// NewContextRecognizers returns the lexicon recognizers bound to scorer.
func NewContextRecognizers(scorer domain.ContextScorer) []domain.Recognizer {
	return []domain.Recognizer{
		&ContextRecognizer{name: "density", entityType: domain.EntityDensity, terms: densityTerms, scorer: scorer},
		&ContextRecognizer{name: "lesion_descriptor", entityType: domain.EntityLesionDescriptor, terms: descriptorTerms, scorer: scorer},
		&ContextRecognizer{name: "calcification", entityType: domain.EntityCalcification, terms: calcificationTerms, scorer: scorer},
		&ContextRecognizer{name: "anomaly_flag", entityType: domain.EntityAnomalyFlag, terms: anomalyTerms, scorer: scorer},
	}
}

// DefaultRecognizers returns every recognizer, pattern-based first.
func DefaultRecognizers(scorer domain.ContextScorer) []domain.Recognizer {
	return append(NewPatternRecognizers(), NewContextRecognizers(scorer)...)
}
