// Package eviction implements the four victim-selection strategies the
// entry store can be configured with. Each policy is a stateless function
// over a snapshot of candidate entries; the entry store owns all locking
// and simply asks the configured policy which keys to remove.
package eviction

import "sort"

// Candidate is the minimal view of an entry a policy needs to rank it.
// The entry store fills this in from its live entries when eviction runs.
type Candidate struct {
	Key        string
	Timestamp  int64
	LastUsed   int64
	UsageCount int64
}

// Policy selects victims from a set of candidates.
type Policy interface {
	// PickVictims returns up to n keys to evict, in eviction order.
	PickVictims(candidates []Candidate, n int) []string
	// Name identifies the policy for logging and config round-tripping.
	Name() string
}

// ByName constructs the named policy, or nil if the name is unrecognized.
func ByName(name string) Policy {
	switch name {
	case "lru":
		return LRU{}
	case "lfu":
		return LFU{}
	case "fifo":
		return FIFO{}
	case "random":
		return Random{}
	default:
		return nil
	}
}

// LRU evicts the entry with the smallest LastUsed; ties break on smallest
// Timestamp, then lexicographically on key.
type LRU struct{}

func (LRU) Name() string { return "lru" }

func (LRU) PickVictims(candidates []Candidate, n int) []string {
	ordered := append([]Candidate(nil), candidates...)
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.LastUsed != b.LastUsed {
			return a.LastUsed < b.LastUsed
		}
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		return a.Key < b.Key
	})
	return firstKeys(ordered, n)
}

// LFU evicts the entry with the smallest UsageCount; ties break as LRU
// would (smallest LastUsed, then smallest Timestamp, then key).
type LFU struct{}

func (LFU) Name() string { return "lfu" }

func (LFU) PickVictims(candidates []Candidate, n int) []string {
	ordered := append([]Candidate(nil), candidates...)
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.UsageCount != b.UsageCount {
			return a.UsageCount < b.UsageCount
		}
		if a.LastUsed != b.LastUsed {
			return a.LastUsed < b.LastUsed
		}
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		return a.Key < b.Key
	})
	return firstKeys(ordered, n)
}

// FIFO evicts the entry with the smallest Timestamp; ties break
// lexicographically on key.
type FIFO struct{}

func (FIFO) Name() string { return "fifo" }

func (FIFO) PickVictims(candidates []Candidate, n int) []string {
	ordered := append([]Candidate(nil), candidates...)
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		return a.Key < b.Key
	})
	return firstKeys(ordered, n)
}

// Random samples victims uniformly without replacement. It takes an
// explicit rand source rather than reaching for the global one, so
// eviction behavior under test is reproducible.
type Random struct {
	Source RandSource
}

// RandSource is satisfied by *rand.Rand; kept as a narrow interface so this
// package doesn't force a particular PRNG on callers that seed their own.
type RandSource interface {
	Intn(n int) int
}

func (r Random) Name() string { return "random" }

func (r Random) PickVictims(candidates []Candidate, n int) []string {
	pool := append([]Candidate(nil), candidates...)
	if n > len(pool) {
		n = len(pool)
	}
	if r.Source == nil {
		// Deterministic fallback for a nil source: behaves like FIFO so
		// callers that forget to seed still get well-defined behavior
		// rather than a panic.
		return FIFO{}.PickVictims(candidates, n)
	}

	victims := make([]string, 0, n)
	for i := 0; i < n && len(pool) > 0; i++ {
		idx := r.Source.Intn(len(pool))
		victims = append(victims, pool[idx].Key)
		pool[idx] = pool[len(pool)-1]
		pool = pool[:len(pool)-1]
	}
	return victims
}

func firstKeys(ordered []Candidate, n int) []string {
	if n > len(ordered) {
		n = len(ordered)
	}
	keys := make([]string, n)
	for i := 0; i < n; i++ {
		keys[i] = ordered[i].Key
	}
	return keys
}
