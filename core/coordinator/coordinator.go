// Package coordinator implements the multi-tier read-through/write-through
// protocol of §4.8: L1 (authoritative, in-memory) backed by L2 (distributed,
// native TTL) backed by L3 (durable, crash-safe), with promotion on every
// tier miss-then-hit and best-effort write-through to the slower tiers.
package coordinator

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/bridgify-labs/tclcore/core/domain"
	"github.com/bridgify-labs/tclcore/core/entrystore"
	out "github.com/bridgify-labs/tclcore/core/port/out"
	"github.com/bridgify-labs/tclcore/pkg/apperr"
	"github.com/bridgify-labs/tclcore/pkg/logger"
)

// Outcome mirrors the spec's get() result shape without forcing every
// caller through error-typed control flow for the expected Miss case.
type Outcome int

const (
	Hit Outcome = iota
	Miss
)

// Clock abstracts wall-clock time, shared with entrystore's notion of "now"
// so promotion's TTL math lines up with L1 expiry.
type Clock interface {
	NowMS() int64
}

// Coordinator wires the three tiers together. L2 and L3 are optional: a nil
// RemoteCache or DurableStore degrades gracefully to an L1-only cache
// rather than requiring every deployment to run Redis and a disk store.
type Coordinator struct {
	l1    *entrystore.Store
	l2    out.RemoteCache
	l3    out.DurableStore
	clock Clock
	log   *logger.Logger

	// l3Flight collapses concurrent L3 lookups for the same key into one
	// disk read: an L1+L2 miss stampede (many requests for the same
	// fingerprint landing in the same instant) would otherwise all fall
	// through to L3 independently.
	l3Flight singleflight.Group
}

func New(l1 *entrystore.Store, l2 out.RemoteCache, l3 out.DurableStore, clock Clock, log *logger.Logger) *Coordinator {
	return &Coordinator{l1: l1, l2: l2, l3: l3, clock: clock, log: log}
}

// Get implements the §4.8 read protocol: L1, then L2 (promoting to L1 on
// hit), then L3 (promoting to L2 and L1 on hit), then Miss. sourceText is
// the text the caller fingerprinted key from; every tier's hit is checked
// against it before being trusted, since key is a hash and a hash collision
// must surface as a miss rather than someone else's cached translation
// (§4.1).
func (c *Coordinator) Get(ctx context.Context, key, sourceText string) (*domain.Entry, Outcome, error) {
	if e, res := c.l1.Find(key, sourceText); res == entrystore.Ok {
		return e, Hit, nil
	}

	if c.l2 != nil {
		e, err := c.l2.Get(ctx, key)
		switch {
		case err == nil && e.SourceText == sourceText:
			c.promoteToL1(e)
			return e, Hit, nil
		case err == nil:
			c.warnf("l2 key collision, source_text mismatch", key, nil)
		case apperr.IsAppError(err) && !errIsMiss(err):
			c.warnf("l2 get failed, falling through to l3", key, err)
		}
	}

	if c.l3 != nil {
		// A cache-miss stampede means many goroutines reach here for the
		// same key in the same instant; singleflight collapses them into
		// one disk read and hands every waiter the same result.
		v, err, _ := c.l3Flight.Do(key, func() (interface{}, error) {
			return c.l3.Get(ctx, key)
		})
		e, _ := v.(*domain.Entry)
		switch {
		case err == nil && e.SourceText == sourceText:
			c.promoteToL2(ctx, e)
			c.promoteToL1(e)
			return e, Hit, nil
		case err == nil:
			c.warnf("l3 key collision, source_text mismatch", key, nil)
		case !apperr.IsAppError(err) || apperr.AsAppError(err).Code != apperr.CodeNotFound:
			c.warnf("l3 get failed", key, err)
		}
	}

	return nil, Miss, nil
}

// Set writes L1 first — authoritative for the caller's return — then
// best-effort writes through to L2 and L3. Failures on the slower tiers are
// logged, never surfaced: a degraded Redis must not make the cache appear
// to be failing writes.
func (c *Coordinator) Set(ctx context.Context, e *domain.Entry) error {
	res := c.l1.Add(e)
	if res == entrystore.AlreadyExists {
		res = c.l1.Update(e.Key, entrystore.Delta{
			Translation: &e.Translation,
			Confidence:  &e.Confidence,
			TTL:         &e.TTL,
		})
	}
	if res == entrystore.Collision {
		// A different request already owns this fingerprint. Evicting it
		// in favor of the newer request is still better than leaving the
		// caller's translation uncached entirely; the colliding key still
		// only ever serves one source_text at a time downstream in Get.
		c.warnf("l1 set collided with an existing entry, replacing it", e.Key, nil)
		c.l1.Remove(e.Key)
		res = c.l1.Add(e)
	}
	if res == entrystore.Full {
		return apperr.Full("L1 entry store")
	}

	c.writeThrough(ctx, e)
	return nil
}

// Update applies to tiers that do upsert-on-write: functionally Set for
// this coordinator, since neither L2 nor L3 distinguishes insert from
// overwrite.
func (c *Coordinator) Update(ctx context.Context, e *domain.Entry) error {
	return c.Set(ctx, e)
}

// Delete removes the key from all three tiers. Absence on any tier is not
// an error — delete is idempotent everywhere.
func (c *Coordinator) Delete(ctx context.Context, key string) error {
	c.l1.Remove(key)
	if c.l2 != nil {
		if err := c.l2.Delete(ctx, key); err != nil {
			c.warnf("l2 delete failed", key, err)
		}
	}
	if c.l3 != nil {
		if err := c.l3.Delete(ctx, key); err != nil {
			c.warnf("l3 delete failed", key, err)
		}
	}
	return nil
}

// Warm consumes a frequency-sorted usage stream and calls Set for up to
// count of them, stopping early on exhaustion — resolves the open
// question the original left as a TODO.
func (c *Coordinator) Warm(ctx context.Context, source out.UsageStream, count int) (int, error) {
	warmed := 0
	for warmed < count {
		rec, ok := source.Next()
		if !ok {
			break
		}
		if err := c.Set(ctx, rec.Entry); err != nil {
			return warmed, err
		}
		warmed++
	}
	return warmed, nil
}

// Entries returns a clone of every live L1 entry, for reporting endpoints
// that need to summarize cache composition (GET /cache/status).
func (c *Coordinator) Entries() []*domain.Entry {
	return c.l1.Entries()
}

// DeleteAll removes every key currently held in L1 from all tiers,
// returning the number of keys it attempted to remove. Used by
// DELETE /cache's scope=all case.
func (c *Coordinator) DeleteAll(ctx context.Context) int {
	keys := c.l1.Keys()
	for _, k := range keys {
		c.Delete(ctx, k)
	}
	return len(keys)
}

// EvictExpiredAll sweeps L1 for expired entries. L2 relies on native TTL
// and needs no sweep; L3 is not swept by this call.
func (c *Coordinator) EvictExpiredAll() int {
	return c.l1.ClearExpired()
}

// Metrics aggregates every tier this coordinator actually has wired, per
// §3's per-tier-and-aggregate data model: L1 always, L2/L3 whenever they
// are configured. The per-tier breakdown is lost in the aggregate, same as
// the rest of this type's return shape — callers that need it can call
// l2/l3's Metrics() directly through their own references.
func (c *Coordinator) Metrics() domain.Snapshot {
	tiers := map[string]domain.Snapshot{"l1": c.l1.Metrics()}
	if c.l2 != nil {
		tiers["l2"] = c.l2.Metrics()
	}
	if c.l3 != nil {
		tiers["l3"] = c.l3.Metrics()
	}
	return domain.AggregateSnapshot(tiers)
}

func (c *Coordinator) promoteToL1(e *domain.Entry) {
	promoted := e.Clone()
	promoted.TTL = e.RemainingTTL(c.clock.NowMS())
	res := c.l1.Add(promoted)
	if res == entrystore.AlreadyExists {
		c.l1.Update(promoted.Key, entrystore.Delta{
			Translation: &promoted.Translation,
			Confidence:  &promoted.Confidence,
			TTL:         &promoted.TTL,
		})
	}
}

func (c *Coordinator) promoteToL2(ctx context.Context, e *domain.Entry) {
	if c.l2 == nil {
		return
	}
	ttl := e.RemainingTTL(c.clock.NowMS())
	if err := c.l2.Set(ctx, e.Key, e, ttl); err != nil {
		c.warnf("l2 promotion failed", e.Key, err)
	}
}

func (c *Coordinator) writeThrough(ctx context.Context, e *domain.Entry) {
	if c.l2 != nil {
		ttl := e.TTL
		if ttl == 0 {
			ttl = e.RemainingTTL(c.clock.NowMS())
		}
		if err := c.l2.Set(ctx, e.Key, e, ttl); err != nil {
			c.warnf("l2 write-through failed", e.Key, err)
		}
	}
	if c.l3 != nil {
		if err := c.l3.Set(ctx, e.Key, e); err != nil {
			c.warnf("l3 write-through failed", e.Key, err)
		}
	}
}

func (c *Coordinator) warnf(msg, key string, err error) {
	if c.log == nil {
		return
	}
	c.log.WithField("key", key).WithError(err).Warn("coordinator: " + msg)
}

func errIsMiss(err error) bool {
	return err == out.ErrMiss
}
