package domain

// Metrics tracks monotonic counters and response-time statistics for one
// tier (or the aggregate across tiers). Counters only move forward; callers
// reset a Metrics value wholesale, never by decrementing a field.
type Metrics struct {
	Hits            int64
	Misses          int64
	Evictions       int64
	Requests        int64
	TotalLatencyMS  float64
	CurrentSize     int64
	PeakSize        int64
}

// AvgResponseTime returns the mean latency across all requests recorded on
// this tier, or zero if none have been recorded.
func (m *Metrics) AvgResponseTime() float64 {
	if m.Requests == 0 {
		return 0
	}
	return m.TotalLatencyMS / float64(m.Requests)
}

// RecordHit increments hits and the shared request/latency counters.
func (m *Metrics) RecordHit(latencyMS float64) {
	m.Hits++
	m.recordLatency(latencyMS)
}

// RecordMiss increments misses and the shared request/latency counters.
func (m *Metrics) RecordMiss(latencyMS float64) {
	m.Misses++
	m.recordLatency(latencyMS)
}

func (m *Metrics) recordLatency(latencyMS float64) {
	m.Requests++
	m.TotalLatencyMS += latencyMS
}

// RecordEviction increments the eviction counter.
func (m *Metrics) RecordEviction(n int64) {
	m.Evictions += n
}

// SetSize updates the current size and advances the peak high-water mark.
func (m *Metrics) SetSize(n int64) {
	m.CurrentSize = n
	if n > m.PeakSize {
		m.PeakSize = n
	}
}

// Snapshot is a point-in-time, read-only copy of Metrics safe to hand to a
// caller outside the lock that protects the live counters.
type Snapshot struct {
	Hits            int64   `json:"hits"`
	Misses          int64   `json:"misses"`
	Evictions       int64   `json:"evictions"`
	AvgResponseTime float64 `json:"avg_response_time_ms"`
	CurrentSize     int64   `json:"current_size"`
	PeakSize        int64   `json:"peak_size"`
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Hits:            m.Hits,
		Misses:          m.Misses,
		Evictions:       m.Evictions,
		AvgResponseTime: m.AvgResponseTime(),
		CurrentSize:     m.CurrentSize,
		PeakSize:        m.PeakSize,
	}
}

// AggregateSnapshot combines per-tier snapshots into one weighted result.
// avg_response_time is a request-count-weighted mean across tiers, not a
// plain arithmetic mean of per-tier averages — an unweighted mean treats a
// tier that served one slow request the same as one that served a million
// fast ones. Each tier's request count is recovered from hits+misses: a
// Snapshot has already folded Requests and TotalLatencyMS down into
// AvgResponseTime, so hits+misses and avg*requests recover exactly what a
// live Metrics would have reported at the moment it was snapshotted.
func AggregateSnapshot(tiers map[string]Snapshot) Snapshot {
	var agg Snapshot
	var weightedLatency, totalRequests float64

	for _, s := range tiers {
		agg.Hits += s.Hits
		agg.Misses += s.Misses
		agg.Evictions += s.Evictions
		agg.CurrentSize += s.CurrentSize
		if s.PeakSize > agg.PeakSize {
			agg.PeakSize = s.PeakSize
		}
		requests := float64(s.Hits + s.Misses)
		weightedLatency += s.AvgResponseTime * requests
		totalRequests += requests
	}

	if totalRequests > 0 {
		agg.AvgResponseTime = weightedLatency / totalRequests
	}
	return agg
}
