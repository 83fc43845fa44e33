package detectcache

import (
	"testing"

	"github.com/bridgify-labs/tclcore/core/domain"
)

type fakeClock struct{ ms int64 }

func (c *fakeClock) NowMS() int64 { return c.ms }

func TestExact_PutGetRoundTrip(t *testing.T) {
	clock := &fakeClock{ms: 1000}
	c := NewExact(ExactConfig{Capacity: 10, FrequencyWeight: 1000}, clock)

	result := domain.DetectionResult{Language: "eng", Confidence: 0.9}
	c.Put("hello world", result)

	got, ok := c.Get("hello world")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.Language != "eng" || got.Source != domain.SourceCacheExact {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestExact_MissOnCollisionTextMismatch(t *testing.T) {
	clock := &fakeClock{ms: 1000}
	c := NewExact(ExactConfig{Capacity: 10, FrequencyWeight: 1000}, clock)
	c.Put("abc", domain.DetectionResult{Language: "eng"})

	// Directly tamper with stored text to simulate a hash collision.
	for _, e := range c.entries {
		e.Text = "different text"
	}
	if _, ok := c.Get("abc"); ok {
		t.Fatal("expected miss when stored text differs from query (collision)")
	}
}

func TestExact_EvictsAtCapacity(t *testing.T) {
	clock := &fakeClock{ms: 0}
	c := NewExact(ExactConfig{Capacity: 2, FrequencyWeight: 1000}, clock)

	c.Put("a", domain.DetectionResult{Language: "eng"})
	clock.ms = 10
	c.Put("b", domain.DetectionResult{Language: "fra"})
	clock.ms = 20
	c.Put("c", domain.DetectionResult{Language: "deu"})

	if c.Len() > 2 {
		t.Fatalf("expected capacity respected, got %d entries", c.Len())
	}
}

func TestExact_ExpiresOldEntries(t *testing.T) {
	clock := &fakeClock{ms: 0}
	c := NewExact(ExactConfig{Capacity: 10, FrequencyWeight: 1000, DefaultTTLMS: 100}, clock)
	c.Put("stale", domain.DetectionResult{Language: "eng"})

	clock.ms = 500
	if _, ok := c.Get("stale"); ok {
		t.Fatal("expected expired entry to miss")
	}
}

func TestPattern_LearnAndQuery(t *testing.T) {
	p := NewPattern(PatternConfig{MatchThreshold: 0.5, MinTextLengthForMatch: 5, MinConfidenceToInsert: 0.5})

	p.Learn("eng", "the quick brown fox jumps over the lazy dog repeatedly every single day")
	p.Learn("fra", "le rapide renard brun saute par dessus le chien paresseux chaque jour")

	result, ok := p.Query("the quick brown fox runs over the lazy dog again")
	if !ok {
		t.Fatal("expected a pattern match")
	}
	if result.Confidence > 0.8 {
		t.Fatalf("expected confidence capped at 0.8, got %f", result.Confidence)
	}
}

func TestPattern_TooShortSkipsMatch(t *testing.T) {
	p := NewPattern(PatternConfig{MatchThreshold: 0.1, MinTextLengthForMatch: 50, MinConfidenceToInsert: 0.5})
	p.Learn("eng", "some reasonably long sample of english text for training purposes")

	if _, ok := p.Query("short"); ok {
		t.Fatal("expected no match below minimum text length")
	}
}

func TestPattern_ShouldInsert(t *testing.T) {
	p := NewPattern(PatternConfig{MinConfidenceToInsert: 0.55})
	if !p.ShouldInsert(0.6) {
		t.Error("expected 0.6 to clear the insert threshold")
	}
	if p.ShouldInsert(0.4) {
		t.Error("expected 0.4 to not clear the insert threshold")
	}
}
