package external

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/medreport-mcp-server/internal/domain"
)

// ResilienceConfig represents timeout, rate limit and circuit breaker settings
type ResilienceConfig struct {
	Timeout        time.Duration `json:"timeout"`
	RateLimit      float64       `json:"rate_limit"` // calls per second, 0 disables limiting
	Burst          int           `json:"burst"`
	MaxFailures    uint32        `json:"max_failures"`
	BreakerTimeout time.Duration `json:"breaker_timeout"`
}

func (c ResilienceConfig) withDefaults() ResilienceConfig {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.Burst <= 0 {
		c.Burst = 1
		if c.RateLimit > 1 {
			c.Burst = int(c.RateLimit)
		}
	}
	if c.MaxFailures == 0 {
		c.MaxFailures = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 60 * time.Second
	}
	return c
}

// ResilientScorer wraps a remote scorer with a per-call timeout, a rate
// limiter and a circuit breaker.
type ResilientScorer struct {
	name    string
	next    domain.ContextScorer
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	timeout time.Duration
	logger  *logrus.Logger
}

// NewResilientScorer creates a resilient scorer around next.
func NewResilientScorer(name string, next domain.ContextScorer, cfg ResilienceConfig, logger *logrus.Logger) *ResilientScorer {
	cfg = cfg.withDefaults()

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"scorer": name,
				"from":   from.String(),
				"to":     to.String(),
			}).Warn("Context scorer circuit breaker changed state")
		},
	})

	return &ResilientScorer{
		name:    name,
		next:    next,
		breaker: breaker,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// Score implements domain.ContextScorer.
func (r *ResilientScorer) Score(ctx context.Context, req domain.ScoreRequest) (domain.ScoreResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.limiter.Wait(ctx); err != nil {
		return domain.ScoreResult{}, fmt.Errorf("%s scorer rate limit wait: %w", r.name, err)
	}

	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.next.Score(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.ScoreResult{}, fmt.Errorf("%s scorer unavailable (circuit breaker open): %w", r.name, err)
		}
		return domain.ScoreResult{}, fmt.Errorf("%s scorer failed: %w", r.name, err)
	}

	return result.(domain.ScoreResult), nil
}

// State returns the current circuit breaker state.
func (r *ResilientScorer) State() gobreaker.State {
	return r.breaker.State()
}

// Counts returns the circuit breaker counters of the current interval.
func (r *ResilientScorer) Counts() gobreaker.Counts {
	return r.breaker.Counts()
}
