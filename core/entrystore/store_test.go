package entrystore

import (
	"testing"

	"github.com/bridgify-labs/tclcore/core/domain"
	"github.com/bridgify-labs/tclcore/core/entrystore/eviction"
)

func newTestEntry(key string, ts, ttl int64) *domain.Entry {
	return &domain.Entry{
		Key:         key,
		SourceText:  "hello",
		SourceLang:  "en",
		TargetLang:  "fr",
		Translation: "bonjour",
		Confidence:  0.9,
		Timestamp:   ts,
		TTL:         ttl,
	}
}

func TestAddFindRoundTrip(t *testing.T) {
	clock := NewFakeClock(1000)
	s := New(Config{MaxEntries: 10, EvictionPolicy: eviction.LRU{}}, clock)

	e := newTestEntry("en:fr:aa", 1000, 60000)
	if res := s.Add(e); res != Ok {
		t.Fatalf("Add returned %v, want Ok", res)
	}

	got, res := s.Find("en:fr:aa", "hello")
	if res != Ok {
		t.Fatalf("Find returned %v, want Ok", res)
	}
	if !got.EqualObservable(e) {
		t.Fatalf("round-tripped entry does not match: %+v vs %+v", got, e)
	}
}

func TestFind_ExpiredReturnsNotFoundAndRemoves(t *testing.T) {
	clock := NewFakeClock(0)
	s := New(Config{MaxEntries: 10, EvictionPolicy: eviction.LRU{}}, clock)

	s.Add(newTestEntry("en:de:xx", 0, 100))
	clock.Set(251) // now - timestamp = 251 > ttl 100

	if _, res := s.Find("en:de:xx", "hello"); res != NotFound {
		t.Fatalf("expected NotFound for expired entry, got %v", res)
	}
	if s.Count() != 0 {
		t.Fatalf("expected expired entry to be removed, count=%d", s.Count())
	}
}

func TestAdd_AlreadyExists(t *testing.T) {
	clock := NewFakeClock(0)
	s := New(Config{MaxEntries: 10, EvictionPolicy: eviction.LRU{}}, clock)

	e := newTestEntry("k", 0, 1000)
	s.Add(e)
	if res := s.Add(e); res != AlreadyExists {
		t.Fatalf("expected AlreadyExists on duplicate add, got %v", res)
	}
}

func TestCapacity_NeverExceedsMaxEntries(t *testing.T) {
	clock := NewFakeClock(0)
	s := New(Config{MaxEntries: 2, EvictionBatchSize: 1, EvictionPolicy: eviction.LRU{}}, clock)

	s.Add(newTestEntry("e1", 100, 1_000_000))
	clock.Advance(10)
	s.Add(newTestEntry("e2", 110, 1_000_000))
	clock.Advance(10)
	s.Add(newTestEntry("e3", 120, 1_000_000))

	if s.Count() > 2 {
		t.Fatalf("expected count <= 2, got %d", s.Count())
	}
}

func TestLRUEviction_EvictsLeastRecentlyUsed(t *testing.T) {
	clock := NewFakeClock(0)
	s := New(Config{MaxEntries: 2, EvictionBatchSize: 1, EvictionPolicy: eviction.LRU{}}, clock)

	s.Add(newTestEntry("e1", 0, 1_000_000))
	s.entries["e1"].Metadata.LastUsed = 100
	s.Add(newTestEntry("e2", 0, 1_000_000))
	s.entries["e2"].Metadata.LastUsed = 200

	// Forces eviction of the entry with smallest LastUsed (e1).
	s.Add(newTestEntry("e3", 0, 1_000_000))
	s.entries["e3"].Metadata.LastUsed = 300

	if _, res := s.Find("e1", "hello"); res != NotFound {
		t.Errorf("expected e1 evicted, got %v", res)
	}
	if _, res := s.Find("e2", "hello"); res != Ok {
		t.Errorf("expected e2 still present, got %v", res)
	}
	if _, res := s.Find("e3", "hello"); res != Ok {
		t.Errorf("expected e3 present, got %v", res)
	}
}

func TestIdempotentDelete(t *testing.T) {
	clock := NewFakeClock(0)
	s := New(Config{MaxEntries: 10, EvictionPolicy: eviction.LRU{}}, clock)

	s.Add(newTestEntry("k", 0, 1000))
	if res := s.Remove("k"); res != Ok {
		t.Fatalf("expected Ok on first remove, got %v", res)
	}
	if res := s.Remove("k"); res != NotFound {
		t.Fatalf("expected NotFound on second remove, got %v", res)
	}
}

func TestMetricsMonotonicity(t *testing.T) {
	clock := NewFakeClock(0)
	s := New(Config{MaxEntries: 10, EvictionPolicy: eviction.LRU{}}, clock)

	s.Add(newTestEntry("k", 0, 1000))
	s.Find("k", "hello")
	s.Find("missing", "hello")

	m1 := s.Metrics()
	s.Find("k", "hello")
	s.Find("missing-2", "hello")
	m2 := s.Metrics()

	if m2.Hits < m1.Hits || m2.Misses < m1.Misses {
		t.Fatalf("metrics must be non-decreasing: %+v -> %+v", m1, m2)
	}
}

func TestClearExpired(t *testing.T) {
	clock := NewFakeClock(0)
	s := New(Config{MaxEntries: 10, EvictionPolicy: eviction.LRU{}}, clock)

	s.Add(newTestEntry("expired", 0, 10))
	s.Add(newTestEntry("fresh", 0, 1_000_000))
	clock.Set(100)

	removed := s.ClearExpired()
	if removed != 1 {
		t.Fatalf("expected 1 expired entry removed, got %d", removed)
	}
	if s.Count() != 1 {
		t.Fatalf("expected 1 entry remaining, got %d", s.Count())
	}
}

func TestExtendTTL_RespectsCap(t *testing.T) {
	clock := NewFakeClock(0)
	s := New(Config{MaxEntries: 10, EvictionPolicy: eviction.LRU{}, MaxTTLExtensionMS: 100}, clock)
	s.Add(newTestEntry("k", 0, 1000))

	s.ExtendTTL("k", 60)
	s.ExtendTTL("k", 60) // should be capped to 40 more, total extension 100

	got, _ := s.Find("k", "hello")
	if got.TTL != 1100 {
		t.Fatalf("expected ttl capped at +100, got %d", got.TTL)
	}
}

func TestAdd_CollisionOnDifferentSourceText(t *testing.T) {
	clock := NewFakeClock(0)
	s := New(Config{MaxEntries: 10, EvictionPolicy: eviction.LRU{}}, clock)

	s.Add(newTestEntry("shared-key", 0, 60_000))

	other := newTestEntry("shared-key", 0, 60_000)
	other.SourceText = "goodbye"
	if res := s.Add(other); res != Collision {
		t.Fatalf("expected Collision for differing source_text on the same key, got %v", res)
	}

	// The original entry must be untouched by the rejected collision.
	got, res := s.Find("shared-key", "hello")
	if res != Ok {
		t.Fatalf("expected original entry still present, got %v", res)
	}
	if got.Translation != "bonjour" {
		t.Fatalf("expected original translation preserved, got %q", got.Translation)
	}
}

func TestFind_CollisionOnDifferentSourceTextIsNotFound(t *testing.T) {
	clock := NewFakeClock(0)
	s := New(Config{MaxEntries: 10, EvictionPolicy: eviction.LRU{}}, clock)
	s.Add(newTestEntry("shared-key", 0, 60_000))

	if _, res := s.Find("shared-key", "goodbye"); res != NotFound {
		t.Fatalf("expected NotFound when source_text does not match the stored entry, got %v", res)
	}

	// The collision must not have evicted the entry that does belong here.
	if _, res := s.Find("shared-key", "hello"); res != Ok {
		t.Fatalf("expected original entry to survive a colliding lookup, got %v", res)
	}
}

func TestFind_AutoExtendsTTLWhenResidualBelowThreshold(t *testing.T) {
	clock := NewFakeClock(0)
	s := New(Config{
		MaxEntries:          10,
		EvictionPolicy:      eviction.LRU{},
		AutoExtendTTL:       true,
		AutoExtendThreshold: 500, // extend once less than 500ms remain
		TTLExtensionMS:      1000,
	}, clock)

	s.Add(newTestEntry("k", 0, 600)) // 600ms TTL, no extension due yet
	clock.Set(200)                   // 400ms remain: under the 500ms threshold

	got, res := s.Find("k", "hello")
	if res != Ok {
		t.Fatalf("Find: %v", res)
	}
	if got.TTL != 1600 {
		t.Fatalf("expected ttl extended by 1000ms to 1600, got %d", got.TTL)
	}
}

func TestFind_DoesNotAutoExtendWhenResidualAboveThreshold(t *testing.T) {
	clock := NewFakeClock(0)
	s := New(Config{
		MaxEntries:          10,
		EvictionPolicy:      eviction.LRU{},
		AutoExtendTTL:       true,
		AutoExtendThreshold: 500,
		TTLExtensionMS:      1000,
	}, clock)

	s.Add(newTestEntry("k", 0, 10_000)) // 10s TTL, far above the threshold
	clock.Set(200)

	got, res := s.Find("k", "hello")
	if res != Ok {
		t.Fatalf("Find: %v", res)
	}
	if got.TTL != 10_000 {
		t.Fatalf("expected ttl left untouched, got %d", got.TTL)
	}
}

// TestFind_AccessCountAloneDoesNotTriggerExtension guards against
// regressing to the access-count-based trigger this store used to have:
// many hits with plenty of residual TTL remaining must not extend it.
func TestFind_AccessCountAloneDoesNotTriggerExtension(t *testing.T) {
	clock := NewFakeClock(0)
	s := New(Config{
		MaxEntries:          10,
		EvictionPolicy:      eviction.LRU{},
		AutoExtendTTL:       true,
		AutoExtendThreshold: 500,
		TTLExtensionMS:      1000,
	}, clock)

	s.Add(newTestEntry("k", 0, 10_000))
	for i := 0; i < 20; i++ {
		s.Find("k", "hello")
	}

	got, _ := s.Find("k", "hello")
	if got.TTL != 10_000 {
		t.Fatalf("expected ttl unaffected by repeated access with high residual TTL, got %d", got.TTL)
	}
}

func TestUsagePercentAndFreeSpace(t *testing.T) {
	clock := NewFakeClock(0)
	s := New(Config{MaxEntries: 4, EvictionPolicy: eviction.LRU{}}, clock)
	s.Add(newTestEntry("a", 0, 1_000_000))
	s.Add(newTestEntry("b", 0, 1_000_000))

	if got := s.UsagePercent(); got != 0.5 {
		t.Fatalf("expected usage 0.5, got %f", got)
	}
	if got := s.FreeSpace(); got != 2 {
		t.Fatalf("expected free space 2, got %d", got)
	}
}
