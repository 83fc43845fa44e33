// Package entrystore implements the L1, in-memory tier: the authoritative,
// non-blocking (save for its own mutex) container of entries that every
// other tier promotes into and writes through from.
package entrystore

import (
	"sort"
	"sync"

	"github.com/bridgify-labs/tclcore/core/domain"
	"github.com/bridgify-labs/tclcore/core/entrystore/eviction"
	"github.com/bridgify-labs/tclcore/pkg/apperr"
)

// Clock abstracts wall-clock time so tests can control expiry without
// sleeping. Time is expressed in milliseconds since epoch throughout, to
// match the data model's Entry.Timestamp unit.
type Clock interface {
	NowMS() int64
}

// Config configures the store's capacity, eviction policy, and TTL rules.
type Config struct {
	MaxEntries          int
	EvictionBatchSize   int
	EvictionPolicy      eviction.Policy
	AutoExtendTTL       bool
	AutoExtendThreshold int64 // residual TTL, in ms, below which a hit triggers extend_ttl
	TTLExtensionMS      int64
	MaxTTLExtensionMS   int64 // per-entry cap on cumulative extension; 0 = unbounded
	DefaultTTLMS        int64
}

// Result codes for Add/Remove/Update/ExtendTTL, matching the spec's
// Ok|Full|AlreadyExists|NotFound outcomes without allocating an error for
// the common, expected non-error paths.
type Result int

const (
	Ok Result = iota
	Full
	AlreadyExists
	NotFound
	// Collision reports that key already names a live entry whose
	// source_text differs from the one being added — two different
	// requests landed on the same fingerprint. The store never silently
	// overwrites another request's cached translation.
	Collision
)

// Store is the L1 entry container.
type Store struct {
	mu      sync.RWMutex
	clock   Clock
	cfg     Config
	entries map[string]*domain.Entry
	ttlExt  map[string]int64 // key -> cumulative ttl extension granted so far
	metrics domain.Metrics
}

// New constructs a Store. cfg.EvictionPolicy and clock must both be
// non-nil; a nil policy means eviction can never make room and Add returns
// Full once at capacity, which is a legitimate (if degenerate) configuration.
func New(cfg Config, clock Clock) *Store {
	if cfg.EvictionBatchSize <= 0 {
		cfg.EvictionBatchSize = 1
	}
	return &Store{
		clock:   clock,
		cfg:     cfg,
		entries: make(map[string]*domain.Entry),
		ttlExt:  make(map[string]int64),
	}
}

// Add inserts a new entry, evicting a batch first if the store is at
// capacity. Returns AlreadyExists if the key is already present for the
// same source_text — callers that want upsert semantics should use Update
// or call Remove first. Returns Collision if the key is present but its
// stored source_text differs: the fingerprint collided across two distinct
// requests, and the existing entry belongs to the other one.
func (s *Store) Add(e *domain.Entry) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, exists := s.entries[e.Key]; exists {
		if existing.SourceText == e.SourceText {
			return AlreadyExists
		}
		return Collision
	}

	if len(s.entries) >= s.cfg.MaxEntries {
		s.evictLocked(s.cfg.EvictionBatchSize)
		if len(s.entries) >= s.cfg.MaxEntries {
			return Full
		}
	}

	stored := e.Clone()
	if stored.Metadata.UsageCount < 1 {
		stored.Metadata.UsageCount = 1
	}
	if stored.Metadata.LastUsed < stored.Timestamp {
		stored.Metadata.LastUsed = stored.Timestamp
	}
	if stored.TTL == 0 {
		stored.TTL = s.cfg.DefaultTTLMS
	}

	s.entries[stored.Key] = stored
	s.metrics.SetSize(int64(len(s.entries)))
	return Ok
}

// Find looks up a key against the source_text the caller derived it from.
// A stored entry whose source_text differs is a fingerprint collision, not
// a hit, and is reported as NotFound without disturbing the entry that
// actually owns the key — mirroring the exact-match detection cache's
// hash-then-compare lookup. A live, matching hit increments usage_count,
// bumps last_used to now, and — if auto_extend_ttl is configured and the
// entry's residual TTL has fallen under the extension threshold — extends
// its TTL. An expired entry is removed and reported as NotFound rather than
// returned.
func (s *Store) Find(key, sourceText string) (*domain.Entry, Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		s.metrics.RecordMiss(0)
		return nil, NotFound
	}

	now := s.clock.NowMS()
	if e.ExpiredAt(now) {
		delete(s.entries, key)
		delete(s.ttlExt, key)
		s.metrics.SetSize(int64(len(s.entries)))
		s.metrics.RecordMiss(0)
		return nil, NotFound
	}

	if e.SourceText != sourceText {
		s.metrics.RecordMiss(0)
		return nil, NotFound
	}

	e.Metadata.UsageCount++
	e.Metadata.LastUsed = now

	if s.cfg.AutoExtendTTL && e.RemainingTTL(now) < s.cfg.AutoExtendThreshold {
		s.extendTTLLocked(e, s.cfg.TTLExtensionMS)
	}

	s.metrics.RecordHit(0)
	return e.Clone(), Ok
}

// Remove deletes a key. Idempotent: removing an absent key is a no-op that
// reports NotFound rather than an error.
func (s *Store) Remove(key string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return NotFound
	}
	delete(s.entries, key)
	delete(s.ttlExt, key)
	s.metrics.SetSize(int64(len(s.entries)))
	return Ok
}

// Delta is the set of fields Update may overwrite on an existing entry.
// Zero-value fields are left untouched; to clear a field, set it via a
// fresh Add/Remove pair instead.
type Delta struct {
	Translation *string
	Confidence  *float64
	TTL         *int64
	Flags       *domain.Flag
}

// Update applies delta to an existing entry in place, upserting its
// last-modified bookkeeping. Returns NotFound if the key is absent.
func (s *Store) Update(key string, delta Delta) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return NotFound
	}

	if delta.Translation != nil {
		e.Translation = *delta.Translation
	}
	if delta.Confidence != nil {
		e.Confidence = *delta.Confidence
	}
	if delta.TTL != nil {
		e.TTL = *delta.TTL
	}
	if delta.Flags != nil {
		e.Flags = *delta.Flags
	}
	e.Metadata.LastUsed = s.clock.NowMS()
	return Ok
}

// ExtendTTL extends an entry's TTL by deltaMS, subject to the store's
// per-entry cumulative extension cap (if configured).
func (s *Store) ExtendTTL(key string, deltaMS int64) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return NotFound
	}
	s.extendTTLLocked(e, deltaMS)
	return Ok
}

func (s *Store) extendTTLLocked(e *domain.Entry, deltaMS int64) {
	if deltaMS <= 0 {
		return
	}
	applied := s.ttlExt[e.Key]
	if s.cfg.MaxTTLExtensionMS > 0 {
		remaining := s.cfg.MaxTTLExtensionMS - applied
		if remaining <= 0 {
			return
		}
		if deltaMS > remaining {
			deltaMS = remaining
		}
	}
	e.TTL += deltaMS
	s.ttlExt[e.Key] = applied + deltaMS
}

// Evict removes up to n entries: expired entries are harvested first at
// zero policy cost, and only the shortfall is filled by the configured
// eviction policy. Returns the number of entries actually removed.
func (s *Store) Evict(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictLocked(n)
}

func (s *Store) evictLocked(n int) int {
	if n <= 0 {
		return 0
	}

	removed := s.harvestExpiredLocked(n)
	shortfall := n - removed
	if shortfall <= 0 {
		s.metrics.RecordEviction(int64(removed))
		s.metrics.SetSize(int64(len(s.entries)))
		return removed
	}

	if s.cfg.EvictionPolicy == nil {
		s.metrics.RecordEviction(int64(removed))
		s.metrics.SetSize(int64(len(s.entries)))
		return removed
	}

	candidates := make([]eviction.Candidate, 0, len(s.entries))
	for k, e := range s.entries {
		candidates = append(candidates, eviction.Candidate{
			Key:        k,
			Timestamp:  e.Timestamp,
			LastUsed:   e.Metadata.LastUsed,
			UsageCount: e.Metadata.UsageCount,
		})
	}

	victims := s.cfg.EvictionPolicy.PickVictims(candidates, shortfall)
	for _, k := range victims {
		delete(s.entries, k)
		delete(s.ttlExt, k)
		removed++
	}

	s.metrics.RecordEviction(int64(removed))
	s.metrics.SetSize(int64(len(s.entries)))
	return removed
}

// harvestExpiredLocked removes up to limit expired entries and returns the
// count removed. Expired entries cost nothing to identify (a timestamp
// compare) so they are always evicted before consulting the policy.
func (s *Store) harvestExpiredLocked(limit int) int {
	now := s.clock.NowMS()
	removed := 0
	for k, e := range s.entries {
		if removed >= limit {
			break
		}
		if e.ExpiredAt(now) {
			delete(s.entries, k)
			delete(s.ttlExt, k)
			removed++
		}
	}
	return removed
}

// ClearExpired sweeps the whole store removing every expired entry,
// independent of any eviction batch size. This is what the background TTL
// sweep calls at cleanup_interval.
func (s *Store) ClearExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.NowMS()
	removed := 0
	for k, e := range s.entries {
		if e.ExpiredAt(now) {
			delete(s.entries, k)
			delete(s.ttlExt, k)
			removed++
		}
	}
	s.metrics.SetSize(int64(len(s.entries)))
	return removed
}

// Count returns the current number of live (not-yet-expired-and-swept)
// entries in the store. Expired-but-not-yet-swept entries still count
// until Find or a sweep removes them, matching §4.4's lazy expiry model.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// FreeSpace returns how many more entries can be added before Add starts
// returning Full (ignoring the possibility that eviction makes room).
func (s *Store) FreeSpace() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	free := s.cfg.MaxEntries - len(s.entries)
	if free < 0 {
		return 0
	}
	return free
}

// UsagePercent returns the fraction of capacity currently occupied, in
// [0, 1].
func (s *Store) UsagePercent() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg.MaxEntries == 0 {
		return 0
	}
	return float64(len(s.entries)) / float64(s.cfg.MaxEntries)
}

// Metrics returns a point-in-time snapshot of this tier's counters.
func (s *Store) Metrics() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics.Snapshot()
}

// Keys returns a sorted snapshot of all live keys, used by the
// coordinator's DeleteAll.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Entries returns a clone of every live entry, for callers that need to
// report on cache composition (size, per-language-pair breakdown) without
// affecting usage_count/last_used the way Find does.
func (s *Store) Entries() []*domain.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Clone())
	}
	return out
}

// errNotFound is returned by callers in this package that need an error
// value rather than a Result code (e.g. to satisfy a port interface).
var errNotFound = apperr.NotFound("entry")

// ErrNotFound exposes the canonical not-found error for callers outside
// this package that need to compare against it with errors.Is.
func ErrNotFound() error { return errNotFound }
