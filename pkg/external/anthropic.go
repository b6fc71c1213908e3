package external

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/medreport-mcp-server/internal/domain"
)

const defaultAnthropicModel = anthropic.ModelClaudeSonnet4_20250514

// AnthropicMessager is the subset of the Anthropic client the scorer uses.
type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicScorer scores descriptive mentions with a Claude model.
type AnthropicScorer struct {
	messages AnthropicMessager
	model    anthropic.Model
}

// NewAnthropicScorer creates a scorer backed by the Anthropic messages API.
func NewAnthropicScorer(cfg ScorerConfig) *AnthropicScorer {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	client := anthropic.NewClient(opts...)
	return newAnthropicScorer(&client.Messages, cfg.Model)
}

func newAnthropicScorer(messages AnthropicMessager, model string) *AnthropicScorer {
	m := anthropic.Model(model)
	if model == "" {
		m = defaultAnthropicModel
	}
	return &AnthropicScorer{messages: messages, model: m}
}

// Score implements domain.ContextScorer.
func (s *AnthropicScorer) Score(ctx context.Context, req domain.ScoreRequest) (domain.ScoreResult, error) {
	resp, err := s.messages.New(ctx, anthropic.MessageNewParams{
		Model:       s.model,
		MaxTokens:   128,
		Temperature: anthropic.Float(0),
		System: []anthropic.TextBlockParam{
			{Text: scoringSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(scoringUserPrompt(req))),
		},
	})
	if err != nil {
		return domain.ScoreResult{}, fmt.Errorf("claude API call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	verdict, err := parseVerdict(text.String())
	if err != nil {
		return domain.ScoreResult{}, fmt.Errorf("claude: %w", err)
	}
	return toResult(req, verdict), nil
}
