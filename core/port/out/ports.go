// Package out declares the contracts the coordinator depends on instead of
// concrete adapter types: a remote (L2) cache, a durable (L3) store, an
// external translation backend, and the usage-frequency stream warm_cache
// consumes. Concrete adapters live under adapter/out.
package out

import (
	"context"
	"errors"

	"github.com/bridgify-labs/tclcore/core/domain"
)

// ErrMiss is the sentinel every RemoteCache implementation returns from Get
// on a cache miss, distinct from a connectivity or parse failure. It lives
// on the port, not a concrete adapter, so the coordinator can branch on it
// without importing an adapter package.
var ErrMiss = errors.New("remote cache: miss")

// RemoteCache is the L2 tier contract: an opaque key/value store with
// native TTL, per §4.5.
type RemoteCache interface {
	Get(ctx context.Context, key string) (*domain.Entry, error) // returns (nil, ErrMiss) on miss
	Set(ctx context.Context, key string, e *domain.Entry, ttlMS int64) error
	Delete(ctx context.Context, key string) error
	Metrics() domain.Snapshot
}

// DurableStore is the L3 tier contract: crash-safe batch snapshots, per
// §4.6/§4.7.
type DurableStore interface {
	Get(ctx context.Context, key string) (*domain.Entry, error)
	Set(ctx context.Context, key string, e *domain.Entry) error
	Delete(ctx context.Context, key string) error
	Flush(ctx context.Context) error
	LoadAll(ctx context.Context) ([]*domain.Entry, error)
	Metrics() domain.Snapshot
}

// TranslationBackend is the external collaborator invoked on a cache miss.
// It is out of scope per the spec's own Non-goals, but the coordinator and
// HTTP surface need a typed contract to call through, so this is the
// narrow shape they depend on.
type TranslationBackend interface {
	Translate(ctx context.Context, sourceText, sourceLang, targetLang string) (translatedText string, confidence float64, err error)
}

// UsageRecord is one candidate entry offered to warm_cache, ordered by
// descending frequency by the stream's producer.
type UsageRecord struct {
	Entry     *domain.Entry
	Frequency int64
}

// UsageStream is an iterator over frequency-sorted candidate entries, the
// "usage-data stream" warm_cache consumes per §4.8.
type UsageStream interface {
	// Next returns the next record, or ok=false when the stream is exhausted.
	Next() (rec UsageRecord, ok bool)
}

// JobStore persists preload job lifecycle state for the async
// POST /cache/preload flow, per §6.
type JobStore interface {
	Create(ctx context.Context, job *domain.PreloadJob) error
	Get(ctx context.Context, id int64) (*domain.PreloadJob, error)
	UpdateStatus(ctx context.Context, id int64, status domain.JobStatus, completedCount int, errMsg string) error
	ListPending(ctx context.Context, limit int) ([]*domain.PreloadJob, error)
}

// SliceUsageStream adapts an in-memory, pre-sorted slice to UsageStream —
// the common case for tests and for a preload job that has already gathered
// and sorted its candidates from the durable store or L1.
type SliceUsageStream struct {
	records []UsageRecord
	pos     int
}

func NewSliceUsageStream(records []UsageRecord) *SliceUsageStream {
	return &SliceUsageStream{records: records}
}

func (s *SliceUsageStream) Next() (UsageRecord, bool) {
	if s.pos >= len(s.records) {
		return UsageRecord{}, false
	}
	rec := s.records[s.pos]
	s.pos++
	return rec, true
}
