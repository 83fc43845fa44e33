// Package detectcache implements the two-level detection cache from §4.11:
// an exact hash-addressed L1 ring with frequency-weighted LRU eviction, and
// a pattern/n-gram similarity L2 used when the exact cache misses.
package detectcache

import (
	"hash/fnv"
	"sync"

	"github.com/bridgify-labs/tclcore/core/domain"
)

// Clock abstracts wall-clock time in milliseconds, mirroring entrystore's.
type Clock interface {
	NowMS() int64
}

// ExactConfig configures the L1 exact-match detection cache.
type ExactConfig struct {
	Capacity        int
	FrequencyWeight float64 // W in adjusted_time = last_access + access_count*W
	DefaultTTLMS    int64
}

// Exact is the L1 hash-addressed detection cache. Unlike the translation
// entry store, a text hash collision is resolved by storing the raw text
// alongside the hash and comparing on lookup.
type Exact struct {
	mu      sync.Mutex
	cfg     ExactConfig
	clock   Clock
	entries map[uint32]*domain.DetectionCacheEntry
}

func NewExact(cfg ExactConfig, clock Clock) *Exact {
	return &Exact{
		cfg:     cfg,
		clock:   clock,
		entries: make(map[uint32]*domain.DetectionCacheEntry),
	}
}

func textHash(text string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	return h.Sum32()
}

// Get looks up text by its hash. A hash hit whose stored text differs
// (collision) is treated as a miss. Expired entries are purged on access.
func (c *Exact) Get(text string) (domain.DetectionResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := textHash(text)
	e, ok := c.entries[h]
	if !ok || e.Text != text {
		return domain.DetectionResult{}, false
	}

	now := c.clock.NowMS()
	if c.cfg.DefaultTTLMS > 0 && now-e.LastAccess > c.cfg.DefaultTTLMS {
		delete(c.entries, h)
		return domain.DetectionResult{}, false
	}

	e.AccessCount++
	e.LastAccess = now
	result := e.Result
	result.Source = domain.SourceCacheExact
	return result, true
}

// Put inserts or overwrites a detection result, evicting the least
// frequency-weighted-recent entry first if the cache is at capacity.
func (c *Exact) Put(text string, result domain.DetectionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := textHash(text)
	now := c.clock.NowMS()

	if _, exists := c.entries[h]; !exists && len(c.entries) >= c.cfg.Capacity {
		c.evictOneLocked()
	}

	c.entries[h] = &domain.DetectionCacheEntry{
		TextHash:    h,
		Text:        text,
		Result:      result,
		AccessCount: 1,
		LastAccess:  now,
	}
}

func (c *Exact) evictOneLocked() {
	var victimHash uint32
	var victimScore float64
	first := true

	for h, e := range c.entries {
		score := e.AdjustedTime(c.cfg.FrequencyWeight)
		if first || score < victimScore {
			victimHash = h
			victimScore = score
			first = false
		}
	}
	if !first {
		delete(c.entries, victimHash)
	}
}

// Len returns the number of entries currently held, for tests and metrics.
func (c *Exact) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
