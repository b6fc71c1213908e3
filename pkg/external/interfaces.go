package external

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/medreport-mcp-server/internal/domain"
)

// Model providers accepted by NewContextScorer.
const (
	ProviderLexicon   = "lexicon"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// ScorerConfig configures a remote model scorer.
type ScorerConfig struct {
	APIKey  string        `json:"-"`
	Model   string        `json:"model"`
	BaseURL string        `json:"base_url"`
	Timeout time.Duration `json:"timeout"`
}

const scoringSystemPrompt = `You assess how strongly a term from a radiology report is asserted in its sentence.
Answer with a single JSON object and nothing else:
{"negated": <bool>, "hedged": <bool>, "confidence": <number between 0 and 1>}
"negated" is true when the sentence states the finding is absent or excluded.
"hedged" is true when the finding is only possible, probable or cannot be excluded.
"confidence" is how certain the sentence is that the finding is present.`

// scoreVerdict is the JSON object a model returns for one ScoreRequest.
type scoreVerdict struct {
	Negated    bool     `json:"negated"`
	Hedged     bool     `json:"hedged"`
	Confidence *float64 `json:"confidence"`
}

func scoringUserPrompt(req domain.ScoreRequest) string {
	return fmt.Sprintf("Section: %s\nEntity type: %s\nTerm: %q\nSentence: %q",
		req.Section, req.EntityType, req.Term, req.Sentence)
}

// parseVerdict decodes a model answer, tolerating markdown code fences.
func parseVerdict(raw string) (scoreVerdict, error) {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```") {
		if idx := strings.Index(cleaned[3:], "\n"); idx >= 0 {
			cleaned = cleaned[3+idx+1:]
		}
		cleaned = strings.TrimSpace(strings.TrimSuffix(cleaned, "```"))
	}
	if cleaned == "" {
		return scoreVerdict{}, fmt.Errorf("empty model response")
	}

	var v scoreVerdict
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		return scoreVerdict{}, fmt.Errorf("failed to parse model response as JSON: %w", err)
	}
	if v.Confidence == nil {
		return scoreVerdict{}, fmt.Errorf("model response has no confidence")
	}
	if *v.Confidence < 0 || *v.Confidence > 1 || math.IsNaN(*v.Confidence) {
		return scoreVerdict{}, fmt.Errorf("model confidence %v is outside [0,1]", *v.Confidence)
	}
	return v, nil
}

// toResult scales the model verdict by the lexicon weight of the term.
// Non-negatable terms are negative statements themselves and are never
// reported as negated.
func toResult(req domain.ScoreRequest, v scoreVerdict) domain.ScoreResult {
	if v.Negated && req.Negatable {
		return domain.ScoreResult{Negated: true}
	}
	conf := *v.Confidence * req.Weight
	if conf > 1 {
		conf = 1
	}
	return domain.ScoreResult{Confidence: math.Round(conf*10000) / 10000}
}

// NewContextScorer builds the scorer selected by cfg. The lexicon provider
// returns a nil scorer, which the analyzer replaces with its in-process
// lexicon. Remote scorers are wrapped with a timeout, a rate limiter and a
// circuit breaker, and memoized when cfg.CacheSize is positive.
func NewContextScorer(cfg domain.ModelConfig, logger *logrus.Logger) (domain.ContextScorer, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" || provider == ProviderLexicon {
		return nil, nil
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("model provider %s requires an API key", provider)
	}

	sc := ScorerConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL, Timeout: cfg.Timeout}
	var base domain.ContextScorer
	switch provider {
	case ProviderOpenAI:
		base = NewOpenAIScorer(sc)
	case ProviderAnthropic:
		base = NewAnthropicScorer(sc)
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}

	var scorer domain.ContextScorer = NewResilientScorer(provider, base, ResilienceConfig{
		Timeout:        cfg.Timeout,
		RateLimit:      cfg.RateLimit,
		MaxFailures:    cfg.MaxFailures,
		BreakerTimeout: cfg.BreakerTimeout,
	}, logger)

	if cfg.CacheSize > 0 {
		cached, err := NewCachedScorer(scorer, cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create scorer cache: %w", err)
		}
		scorer = cached
	}

	logger.WithFields(logrus.Fields{
		"provider":   provider,
		"model":      cfg.Model,
		"cache_size": cfg.CacheSize,
	}).Info("Remote context scorer configured")

	return scorer, nil
}
