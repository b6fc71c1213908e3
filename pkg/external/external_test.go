package external

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medreport-mcp-server/internal/domain"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func spiculatedRequest() domain.ScoreRequest {
	return domain.ScoreRequest{
		EntityType: domain.EntityLesionDescriptor,
		Term:       "spiculated",
		Canonical:  "spiculated",
		Weight:     0.9,
		Sentence:   "Irregular spiculated mass in the upper outer quadrant.",
		Offset:     10,
		Section:    domain.SectionFindings,
		Negatable:  true,
	}
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    float64
		negated bool
		wantErr bool
	}{
		{name: "plain json", raw: `{"negated":false,"hedged":false,"confidence":0.8}`, want: 0.8},
		{name: "fenced json", raw: "```json\n{\"negated\":true,\"confidence\":0.1}\n```", want: 0.1, negated: true},
		{name: "missing confidence", raw: `{"negated":false}`, wantErr: true},
		{name: "confidence above one", raw: `{"confidence":1.5}`, wantErr: true},
		{name: "not json", raw: "The finding is present.", wantErr: true},
		{name: "empty", raw: "  ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := parseVerdict(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, *v.Confidence, 1e-9)
			assert.Equal(t, tt.negated, v.Negated)
		})
	}
}

func TestToResult(t *testing.T) {
	conf := 0.8
	req := spiculatedRequest()

	assert.Equal(t, domain.ScoreResult{Confidence: 0.72}, toResult(req, scoreVerdict{Confidence: &conf}))
	assert.Equal(t, domain.ScoreResult{Negated: true}, toResult(req, scoreVerdict{Negated: true, Confidence: &conf}))

	req.Negatable = false
	req.Weight = 1
	assert.Equal(t, domain.ScoreResult{Confidence: 0.8}, toResult(req, scoreVerdict{Negated: true, Confidence: &conf}))
}

func TestOpenAIScorer_Score(t *testing.T) {
	var body map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"message": {"role": "assistant", "content": "{\"negated\": false, \"hedged\": false, \"confidence\": 0.9}"},
				"finish_reason": "stop"
			}]
		}`))
	}))
	defer server.Close()

	scorer := NewOpenAIScorer(ScorerConfig{APIKey: "test-key", BaseURL: server.URL + "/v1", Timeout: 5 * time.Second})
	result, err := scorer.Score(context.Background(), spiculatedRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.ScoreResult{Confidence: 0.81}, result)
	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.Equal(t, map[string]interface{}{"type": "json_object"}, body["response_format"])
}

func TestOpenAIScorer_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": {"message": "overloaded", "type": "server_error"}}`))
	}))
	defer server.Close()

	scorer := NewOpenAIScorer(ScorerConfig{APIKey: "test-key", BaseURL: server.URL + "/v1"})
	_, err := scorer.Score(context.Background(), spiculatedRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai chat completion failed")
}

type fakeMessager struct {
	response *anthropic.Message
	err      error
	params   anthropic.MessageNewParams
}

func (f *fakeMessager) New(_ context.Context, params anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	f.params = params
	return f.response, f.err
}

func textMessage(text string) *anthropic.Message {
	return &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: text},
		},
	}
}

func TestAnthropicScorer_Score(t *testing.T) {
	t.Run("hedged mention", func(t *testing.T) {
		fake := &fakeMessager{response: textMessage("```json\n{\"negated\": false, \"hedged\": true, \"confidence\": 0.5}\n```")}
		scorer := newAnthropicScorer(fake, "")

		result, err := scorer.Score(context.Background(), spiculatedRequest())
		require.NoError(t, err)
		assert.Equal(t, domain.ScoreResult{Confidence: 0.45}, result)
		assert.Equal(t, defaultAnthropicModel, fake.params.Model)
		require.Len(t, fake.params.System, 1)
		assert.Equal(t, scoringSystemPrompt, fake.params.System[0].Text)
	})

	t.Run("negated mention", func(t *testing.T) {
		fake := &fakeMessager{response: textMessage(`{"negated": true, "hedged": false, "confidence": 0.05}`)}
		result, err := newAnthropicScorer(fake, "claude-test").Score(context.Background(), spiculatedRequest())
		require.NoError(t, err)
		assert.True(t, result.Negated)
		assert.Equal(t, anthropic.Model("claude-test"), fake.params.Model)
	})

	t.Run("api failure", func(t *testing.T) {
		fake := &fakeMessager{err: errors.New("connection refused")}
		_, err := newAnthropicScorer(fake, "").Score(context.Background(), spiculatedRequest())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "claude API call failed")
	})

	t.Run("empty answer", func(t *testing.T) {
		fake := &fakeMessager{response: &anthropic.Message{}}
		_, err := newAnthropicScorer(fake, "").Score(context.Background(), spiculatedRequest())
		assert.Error(t, err)
	})
}

type countingScorer struct {
	calls  int64
	result domain.ScoreResult
	err    error
	block  bool
}

func (c *countingScorer) Score(ctx context.Context, _ domain.ScoreRequest) (domain.ScoreResult, error) {
	atomic.AddInt64(&c.calls, 1)
	if c.block {
		<-ctx.Done()
		return domain.ScoreResult{}, ctx.Err()
	}
	return c.result, c.err
}

func TestResilientScorer_Success(t *testing.T) {
	next := &countingScorer{result: domain.ScoreResult{Confidence: 0.7}}
	scorer := NewResilientScorer("test", next, ResilienceConfig{Timeout: time.Second}, testLogger())

	result, err := scorer.Score(context.Background(), spiculatedRequest())
	require.NoError(t, err)
	assert.Equal(t, 0.7, result.Confidence)
	assert.Equal(t, gobreaker.StateClosed, scorer.State())
}

func TestResilientScorer_OpensAfterConsecutiveFailures(t *testing.T) {
	next := &countingScorer{err: errors.New("upstream down")}
	scorer := NewResilientScorer("test", next, ResilienceConfig{
		Timeout:        time.Second,
		MaxFailures:    2,
		BreakerTimeout: time.Minute,
	}, testLogger())

	for i := 0; i < 2; i++ {
		_, err := scorer.Score(context.Background(), spiculatedRequest())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "upstream down")
	}
	assert.Equal(t, gobreaker.StateOpen, scorer.State())

	_, err := scorer.Score(context.Background(), spiculatedRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int64(2), atomic.LoadInt64(&next.calls))
}

func TestResilientScorer_Timeout(t *testing.T) {
	next := &countingScorer{block: true}
	scorer := NewResilientScorer("slow", next, ResilienceConfig{Timeout: 20 * time.Millisecond}, testLogger())

	start := time.Now()
	_, err := scorer.Score(context.Background(), spiculatedRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCachedScorer(t *testing.T) {
	next := &countingScorer{result: domain.ScoreResult{Confidence: 0.6}}
	scorer, err := NewCachedScorer(next, 8)
	require.NoError(t, err)

	req := spiculatedRequest()
	for i := 0; i < 3; i++ {
		result, err := scorer.Score(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, 0.6, result.Confidence)
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&next.calls))

	other := req
	other.Sentence = "No spiculated mass."
	_, err = scorer.Score(context.Background(), other)
	require.NoError(t, err)

	stats := scorer.Stats()
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
	assert.InDelta(t, 0.5, stats.Ratio, 1e-9)
}

func TestCachedScorer_DoesNotCacheErrors(t *testing.T) {
	next := &countingScorer{err: errors.New("boom")}
	scorer, err := NewCachedScorer(next, 8)
	require.NoError(t, err)

	_, err = scorer.Score(context.Background(), spiculatedRequest())
	require.Error(t, err)
	_, err = scorer.Score(context.Background(), spiculatedRequest())
	require.Error(t, err)
	assert.Equal(t, int64(2), atomic.LoadInt64(&next.calls))
	assert.Equal(t, 0, scorer.Stats().Size)
}

func TestNewContextScorer(t *testing.T) {
	logger := testLogger()

	scorer, err := NewContextScorer(domain.ModelConfig{Provider: "lexicon"}, logger)
	require.NoError(t, err)
	assert.Nil(t, scorer)

	scorer, err = NewContextScorer(domain.ModelConfig{}, logger)
	require.NoError(t, err)
	assert.Nil(t, scorer)

	_, err = NewContextScorer(domain.ModelConfig{Provider: "openai"}, logger)
	assert.Error(t, err)

	_, err = NewContextScorer(domain.ModelConfig{Provider: "mystery", APIKey: "k"}, logger)
	assert.Error(t, err)

	scorer, err = NewContextScorer(domain.ModelConfig{Provider: "OpenAI", APIKey: "k"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &ResilientScorer{}, scorer)

	scorer, err = NewContextScorer(domain.ModelConfig{Provider: "anthropic", APIKey: "k", CacheSize: 16}, logger)
	require.NoError(t, err)
	assert.IsType(t, &CachedScorer{}, scorer)
}
