package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/medreport-mcp-server/internal/domain"
)

// MemoryCache is an in-process result cache with LRU eviction and a TTL.
// Results are stored serialized so callers never share mutable state.
type MemoryCache struct {
	lru    *expirable.LRU[string, []byte]
	hits   int64
	misses int64
}

// Stats represents cache statistics
type Stats struct {
	Backend string  `json:"backend"`
	Size    int     `json:"size"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Ratio   float64 `json:"hit_ratio"`
}

// NewMemoryCache creates a memory cache holding up to maxItems results.
// A zero ttl keeps entries until they are evicted.
func NewMemoryCache(maxItems int, ttl time.Duration) (*MemoryCache, error) {
	if maxItems <= 0 {
		return nil, fmt.Errorf("memory cache size must be positive, got %d", maxItems)
	}
	return &MemoryCache{lru: expirable.NewLRU[string, []byte](maxItems, nil, ttl)}, nil
}

// GetResult implements domain.ResultCache.
func (c *MemoryCache) GetResult(_ context.Context, key string) (*domain.AnalysisResult, bool, error) {
	data, ok := c.lru.Get(key)
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, false, nil
	}
	atomic.AddInt64(&c.hits, 1)

	var result domain.AnalysisResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.lru.Remove(key)
		return nil, false, fmt.Errorf("failed to decode cached result: %w", err)
	}
	return &result, true, nil
}

// SetResult implements domain.ResultCache.
func (c *MemoryCache) SetResult(_ context.Context, key string, result *domain.AnalysisResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	c.lru.Add(key, data)
	return nil
}

// Purge removes every cached result.
func (c *MemoryCache) Purge() {
	c.lru.Purge()
}

// Stats returns cache statistics.
func (c *MemoryCache) Stats() Stats {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	stats := Stats{Backend: "memory", Size: c.lru.Len(), Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		stats.Ratio = float64(hits) / float64(total)
	}
	return stats
}
