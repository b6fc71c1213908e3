package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/medreport-mcp-server/internal/domain"
)

// RateLimitConfig configures per-client request limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	// MaxClients bounds the number of tracked clients; idle clients expire.
	MaxClients int
	ClientTTL  time.Duration
}

// ClientRateLimiter keeps one token bucket per client IP.
type ClientRateLimiter struct {
	config  RateLimitConfig
	clients *expirable.LRU[string, *rate.Limiter]
	logger  *logrus.Logger
}

// NewClientRateLimiter creates a limiter. A non-positive rate disables limiting.
func NewClientRateLimiter(config RateLimitConfig, logger *logrus.Logger) *ClientRateLimiter {
	if config.Burst <= 0 {
		config.Burst = 1
	}
	if config.MaxClients <= 0 {
		config.MaxClients = 10000
	}
	if config.ClientTTL <= 0 {
		config.ClientTTL = 10 * time.Minute
	}
	return &ClientRateLimiter{
		config:  config,
		clients: expirable.NewLRU[string, *rate.Limiter](config.MaxClients, nil, config.ClientTTL),
		logger:  logger,
	}
}

// Allow reports whether the client may make a request now.
func (l *ClientRateLimiter) Allow(clientID string) bool {
	if l.config.RequestsPerSecond <= 0 {
		return true
	}
	limiter, ok := l.clients.Get(clientID)
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.Burst)
		l.clients.Add(clientID, limiter)
	}
	return limiter.Allow()
}

// Middleware rejects requests over the client's limit with 429.
func (l *ClientRateLimiter) Middleware() gin.HandlerFunc {
	retryAfter := "1"
	if l.config.RequestsPerSecond > 0 && l.config.RequestsPerSecond < 1 {
		retryAfter = strconv.Itoa(int(1/l.config.RequestsPerSecond + 0.5))
	}

	return func(c *gin.Context) {
		clientID := c.ClientIP()
		if l.Allow(clientID) {
			c.Next()
			return
		}

		l.logger.WithFields(logrus.Fields{
			"client_ip":      clientID,
			"correlation_id": c.GetString(CorrelationIDKey),
		}).Warn("Rate limit exceeded")
		c.Header("Retry-After", retryAfter)
		AbortWithError(c, http.StatusTooManyRequests, domain.ErrCodeRateLimit, "Too many requests", "")
	}
}

// BodyLimit caps request bodies at maxBytes. Oversized bodies declared by
// Content-Length are rejected up front; others fail when read.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes <= 0 {
			c.Next()
			return
		}
		if c.Request.ContentLength > maxBytes {
			AbortWithError(c, http.StatusRequestEntityTooLarge, domain.ErrCodeValidation,
				"Request body too large", fmt.Sprintf("limit is %d bytes", maxBytes))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// IsBodyTooLarge reports whether err came from a body exceeding BodyLimit.
func IsBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}
