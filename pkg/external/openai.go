package external

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/medreport-mcp-server/internal/domain"
)

const defaultOpenAIModel = openai.GPT4oMini

// OpenAIScorer scores descriptive mentions with an OpenAI chat model.
type OpenAIScorer struct {
	client *openai.Client
	model  string
}

// NewOpenAIScorer creates a scorer backed by the OpenAI chat completions API.
func NewOpenAIScorer(cfg ScorerConfig) *OpenAIScorer {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIScorer{client: openai.NewClientWithConfig(clientCfg), model: model}
}

// Score implements domain.ContextScorer.
func (s *OpenAIScorer) Score(ctx context.Context, req domain.ScoreRequest) (domain.ScoreResult, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: 0,
		MaxTokens:   64,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: scoringSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: scoringUserPrompt(req)},
		},
	})
	if err != nil {
		return domain.ScoreResult{}, fmt.Errorf("openai chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return domain.ScoreResult{}, fmt.Errorf("openai returned no choices")
	}

	verdict, err := parseVerdict(resp.Choices[0].Message.Content)
	if err != nil {
		return domain.ScoreResult{}, fmt.Errorf("openai: %w", err)
	}
	return toResult(req, verdict), nil
}
