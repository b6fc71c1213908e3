package service

import (
	"context"
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/medreport-mcp-server/internal/domain"
)

// lexiconTerm is one surface form of a descriptive entity. When group is set,
// the canonical value is the upper-cased capture group.
type lexiconTerm struct {
	pattern   *regexp.Regexp
	canonical string
	group     int
	weight    float64
	negatable bool
}

func term(pattern, canonical string, weight float64) lexiconTerm {
	return compileTerm(`(?i)`+pattern, canonical, 0, weight)
}

// groupTerm patterns carry their own case flags so that a single-letter
// capture can stay case-sensitive.
func groupTerm(pattern string, group int, weight float64) lexiconTerm {
	return compileTerm(pattern, "", group, weight)
}

func compileTerm(pattern, canonical string, group int, weight float64) lexiconTerm {
	re := regexp.MustCompile(pattern)
	re.Longest()
	return lexiconTerm{pattern: re, canonical: canonical, group: group, weight: weight, negatable: true}
}

func assertion(pattern, canonical string, weight float64) lexiconTerm {
	t := term(pattern, canonical, weight)
	t.negatable = false
	return t
}

var densityTerms = []lexiconTerm{
	groupTerm(`(?i:densit[ée](?: mammaire)?(?: de)?(?: type| category| catégorie)?)[ ]?:?[ ]?([A-D])`, 1, 0.95),
	groupTerm(`(?i:acr(?: density| densité| type)?)[ ]?([A-D])`, 1, 0.95),
	groupTerm(`(?i:breast composition(?: category)?)[ ]?:?[ ]?([A-D])`, 1, 0.95),
	term(`almost entirely fatty|(?:seins? )?graisseux|involution adipeuse`, "A", 0.85),
	term(`scattered (?:areas of )?fibroglandular(?: density| tissue)?|fibroglandulaire dispersée?`, "B", 0.85),
	term(`heterogeneously dense|hétérogène`, "C", 0.8),
	term(`extremely dense|extrêmement dense`, "D", 0.85),
}

var descriptorTerms = []lexiconTerm{
	term(`spiculated|spiculations?|spicul[ée]e?s?`, "spiculated", 0.9),
	term(`irregular(?: shape| margins?)?|irr[ée]guli[èe]re?s?`, "irregular", 0.85),
	term(`indistinct|ill[- ]defined|mal d[ée]finie?s?|mal limit[ée]e?s?`, "indistinct", 0.85),
	term(`microlobulated|microlobul[ée]e?s?`, "microlobulated", 0.85),
	term(`angular margins?|anguleu(?:x|se)s?`, "angular", 0.8),
	term(`obscured|masqu[ée]e?s?`, "obscured", 0.7),
	term(`(?:well[- ])?circumscribed|(?:bien )?circonscrite?s?|bien limit[ée]e?s?`, "circumscribed", 0.85),
	term(`oval|ovale?s?`, "oval", 0.8),
	term(`round|ronde?s?`, "round", 0.75),
}

var calcificationTerms = []lexiconTerm{
	term(`fine linear(?: branching)?(?: calcifications?)?|fines? lin[ée]aires?(?: branch[ée]es?)?`, "fine_linear", 0.9),
	term(`fine pleomorphic|pleomorphic|polymorph(?:e|es|ic)|pl[ée]omorphes?`, "pleomorphic", 0.9),
	term(`amorphous|amorphes?`, "amorphous", 0.85),
	term(`coarse heterogeneous|grossi[èe]res? h[ée]t[ée]rog[èe]nes?`, "coarse_heterogeneous", 0.85),
	term(`punctate|ponctu[ée]e?s?`, "punctate", 0.8),
	term(`(?:benign|vascular|dystrophic|popcorn|rim|milk of calcium)[- ](?:appearing )?calcifications?|calcifications? (?:b[ée]nignes?|vasculaires)|macrocalcifications?`, "benign", 0.85),
	term(`micro-?calcifications?`, "microcalcifications", 0.8),
}

var anomalyTerms = []lexiconTerm{
	term(`biopsy[- ]proven(?: malignancy| carcinoma| cancer)?|known (?:malignancy|carcinoma|breast cancer)|malignit[ée] prouv[ée]e|cancer (?:connu|prouv[ée])|carcinome prouv[ée]`, "known_malignancy", 0.95),
	term(`highly suspicious|highly suggestive of malignancy|hautement suspecte?s?|haute suspicion|fortement suspecte?`, "highly_suspicious", 0.9),
	term(`probably benign|likely benign|probablement b[ée]nigne?s?`, "probably_benign", 0.9),
	term(`architectural distortion|distorsion architecturale`, "architectural_distortion", 0.9),
	term(`(?:focal |global |developing )?asymmetry|asym[ée]trie(?: focale)?`, "asymmetry", 0.85),
	term(`(?:axillary )?(?:lymph)?adenopathy|(?:enlarged|abnormal|suspicious) axillary (?:lymph )?nodes?|ad[ée]nopathies?(?: axillaires?)?(?: (?:droite|gauche))?`, "axillary_adenopathy", 0.85),
	term(`skin thickening|[ée]paississement cutan[ée]`, "skin_thickening", 0.85),
	term(`nipple retraction|r[ée]traction (?:du )?mamelon`, "nipple_retraction", 0.85),
	term(`opacit[ée] nodulaire|mass(?:es)?|masse?s?|nodules?|nodular opacity|opacit(?:y|ies|[ée]s?)|lesions?|l[ée]sions?`, "mass", 0.9),
	term(`incomplete(?: assessment| evaluation)?|additional (?:imaging|evaluation) (?:is )?(?:needed|required)|examen incomplet|bilan compl[ée]mentaire n[ée]cessaire`, "incomplete", 0.85),
	term(`suspicious|suspect(?:e|s|es)?|suspicion|[ée]vocat(?:eur|rice) d'(?:un )?(?:cancer|malignit[ée])|suggestive of malignancy`, "suspicious", 0.85),
	term(`benign(?: findings?| appearing)?|b[ée]nigne?s?|simple cysts?|kystes? simples?|fibroadenomas?|fibroad[ée]nomes?`, "benign", 0.85),
	assertion(`no evidence of malignancy|no (?:suspicious )?(?:masses|mass|abnormality|abnormalities)|unremarkable|normal(?: study| examination| exam| mammogram)?|examen normal|aucune anomalie|pas d'anomalie|n[ée]gati(?:f|ve)`, "negative", 0.9),
}

// Clause terminators limit the scope of negation and hedging cues.
var (
	scopeTerminator = regexp.MustCompile(`(?i)(?:^|[^\p{L}])(?:but|however|although|except|mais|toutefois|cependant|sauf)(?:[^\p{L}]|$)`)
	pseudoNegation  = regexp.MustCompile(`(?i)no (?:significant |interval )?change|not only|sans (?:changement|modification)|pas de (?:changement|modification)`)
	preNegation     = regexp.MustCompile(`(?i)(?:^|[^\p{L}'])((?:absence|pas) d'|(?:no evidence of|negative for|free of|absence of|absence de|pas de|without|aucune?|sans|ni|ruled out|no|not|non)(?:[^\p{L}]|$))`)
	postNegation    = regexp.MustCompile(`(?i)^[^\p{L}]*(?:(?:is|are|was|were) )?(?:not (?:seen|identified|visualized|present)|absent|excluded|non (?:retrouv[ée]e?s?|visibles?)|n'est pas)`)
	// A comma outside a decimal number or a coordinator also closes a
	// negation: "no calcifications, irregular mass" still asserts the mass.
	negationBreak   = regexp.MustCompile(`(?i)(?:^|[^\p{L}])(?:and|with|et|avec)(?:[^\p{L}]|$)|[^0-9],|,[^0-9]`)
	hedgeCue        = regexp.MustCompile(`(?i)(?:^|[^\p{L}])(possible|possibly|questionable|equivocal|may represent|might represent|cannot (?:be )?exclude[d]?|[ée]quivoque|peut-[êe]tre|[ée]ventuel(?:le)?|douteu(?:x|se))(?:[^\p{L}]|$)`)
)

const (
	negationWindowWords = 6
	hedgeFactor         = 0.7
)

var sectionFactors = map[domain.SectionName]float64{
	domain.SectionFindings:        1.0,
	domain.SectionImpression:      1.0,
	domain.SectionConclusion:      1.0,
	domain.SectionRecommendation:  0.9,
	domain.SectionTechnique:       0.9,
	domain.SectionPatientInfo:     0.8,
	domain.SectionUnknown:         0.85,
	domain.SectionComparison:      0.7,
	domain.SectionClinicalHistory: 0.6,
}

// LexiconScorer is the in-process ContextScorer. It detects negation and
// hedging cues in the surrounding clause and attenuates the term weight by
// the section it appears in. It is deterministic and holds no state.
type LexiconScorer struct{}

// NewLexiconScorer creates the default context scorer.
func NewLexiconScorer() *LexiconScorer {
	return &LexiconScorer{}
}

// Score implements domain.ContextScorer.
func (s *LexiconScorer) Score(_ context.Context, req domain.ScoreRequest) (domain.ScoreResult, error) {
	end := req.Offset + len(req.Term)
	if req.Offset < 0 || end > len(req.Sentence) {
		return domain.ScoreResult{}, nil
	}
	pre := clauseTail(req.Sentence[:req.Offset])
	post := req.Sentence[end:]

	if req.Negatable && (negatedBefore(pre) || postNegation.MatchString(post)) {
		return domain.ScoreResult{Negated: true}, nil
	}

	confidence := req.Weight
	if hedgeCue.MatchString(pre) || queried(post) || strings.Contains(strings.ToLower(post), "cannot be excluded") {
		confidence *= hedgeFactor
	}
	if f, ok := sectionFactors[req.Section]; ok {
		confidence *= f
	}
	return domain.ScoreResult{Confidence: roundConfidence(confidence)}, nil
}

// queried reports whether the term's clause ends in a question mark, as in
// "spiculated mass?".
func queried(post string) bool {
	if i := strings.IndexByte(post, ','); i >= 0 {
		post = post[:i]
	}
	return strings.Contains(post, "?")
}

// clauseTail drops everything up to the last scope terminator.
func clauseTail(pre string) string {
	locs := scopeTerminator.FindAllStringIndex(pre, -1)
	if len(locs) == 0 {
		return pre
	}
	return pre[locs[len(locs)-1][1]:]
}

// negatedBefore reports whether a negation cue precedes the term within the
// window and no comma or coordinator separates the two.
func negatedBefore(pre string) bool {
	if locs := negationBreak.FindAllStringIndex(pre, -1); len(locs) > 0 {
		last := locs[len(locs)-1]
		cut := last[1]
		if i := strings.IndexByte(pre[last[0]:last[1]], ','); i >= 0 {
			cut = last[0] + i + 1
		}
		pre = pre[cut:]
	}
	pre = pseudoNegation.ReplaceAllStringFunc(pre, func(m string) string {
		return strings.Repeat("~", len(m))
	})
	locs := preNegation.FindAllStringSubmatchIndex(pre, -1)
	if len(locs) == 0 {
		return false
	}
	last := locs[len(locs)-1]
	return countWords(pre[last[3]:]) <= negationWindowWords
}

func countWords(s string) int {
	return len(strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}))
}

func roundConfidence(v float64) float64 {
	if v <= 0 {
		return 0
	}
	if v > 1 {
		v = 1
	}
	return math.Round(v*1e4) / 1e4
}
