package external

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"

	"github.com/medreport-mcp-server/internal/domain"
)

// CachedScorer memoizes successful verdicts of another scorer.
type CachedScorer struct {
	next   domain.ContextScorer
	cache  *lru.Cache
	hits   int64
	misses int64
}

// CacheStats represents memoization statistics
type CacheStats struct {
	Size   int     `json:"size"`
	Hits   int64   `json:"hits"`
	Misses int64   `json:"misses"`
	Ratio  float64 `json:"hit_ratio"`
}

// NewCachedScorer creates a memoizing scorer holding up to size verdicts.
func NewCachedScorer(next domain.ContextScorer, size int) (*CachedScorer, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	return &CachedScorer{next: next, cache: cache}, nil
}

// Score implements domain.ContextScorer. Errors are never cached.
func (c *CachedScorer) Score(ctx context.Context, req domain.ScoreRequest) (domain.ScoreResult, error) {
	key := scoreKey(req)
	if v, ok := c.cache.Get(key); ok {
		atomic.AddInt64(&c.hits, 1)
		return v.(domain.ScoreResult), nil
	}
	atomic.AddInt64(&c.misses, 1)

	result, err := c.next.Score(ctx, req)
	if err != nil {
		return domain.ScoreResult{}, err
	}
	c.cache.Add(key, result)
	return result, nil
}

// Stats returns memoization statistics.
func (c *CachedScorer) Stats() CacheStats {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	stats := CacheStats{Size: c.cache.Len(), Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		stats.Ratio = float64(hits) / float64(total)
	}
	return stats
}

func scoreKey(req domain.ScoreRequest) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%g\x00%s\x00%d\x00%s\x00%t",
		req.EntityType, req.Term, req.Canonical, req.Weight, req.Sentence, req.Offset, req.Section, req.Negatable)
	return hex.EncodeToString(h.Sum(nil))
}
