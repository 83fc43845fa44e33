package remotecache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/bridgify-labs/tclcore/core/domain"
	out "github.com/bridgify-labs/tclcore/core/port/out"
	"github.com/bridgify-labs/tclcore/pkg/apperr"
	"github.com/bridgify-labs/tclcore/pkg/logger"
	"github.com/bridgify-labs/tclcore/pkg/ratelimit"
)

// ErrMiss re-exports the port's miss sentinel so existing callers of this
// package need not import core/port/out directly.
var ErrMiss = out.ErrMiss

// Config configures the Redis-backed L2 adapter.
type Config struct {
	KeyPrefix      string
	PoolSize       int           // bounded-pool gate capacity
	QueueDeadline  time.Duration // how long Acquire waits for a free slot
	CommandTimeout time.Duration
	MaxConsecutiveErrors uint32 // trips the breaker after this many failures
}

// Adapter implements core/port/out.RemoteCache against a real Redis
// client, guarded by a bounded-acquisition gate and a circuit breaker so a
// degraded Redis never blocks the coordinator's read path indefinitely.
type Adapter struct {
	client  *redis.Client
	cfg     Config
	gate    *ratelimit.Gate
	breaker *gobreaker.CircuitBreaker
	log     *logger.Logger

	metricsMu sync.Mutex
	metrics   domain.Metrics
}

func New(client *redis.Client, cfg Config, log *logger.Logger) *Adapter {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 10
	}
	if cfg.QueueDeadline <= 0 {
		cfg.QueueDeadline = 500 * time.Millisecond
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 500 * time.Millisecond
	}
	if cfg.MaxConsecutiveErrors == 0 {
		cfg.MaxConsecutiveErrors = 5
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "remotecache",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxConsecutiveErrors
		},
	})

	return &Adapter{
		client:  client,
		cfg:     cfg,
		gate:    ratelimit.NewGate(cfg.PoolSize),
		breaker: breaker,
		log:     log,
	}
}

func (a *Adapter) prefixed(key string) string {
	return a.cfg.KeyPrefix + key
}

// Get implements §4.5's read path: GET, parse, and treat a parse failure
// exactly like a miss (logged, not surfaced as data corruption to the
// caller) since the coordinator will fall through to L3 regardless.
func (a *Adapter) Get(ctx context.Context, key string) (*domain.Entry, error) {
	start := time.Now()
	raw, err := guardedCall(a, ctx, func(cctx context.Context) (string, error) {
		return a.client.Get(cctx, a.prefixed(key)).Result()
	})
	latencyMS := float64(time.Since(start).Milliseconds())

	if errors.Is(err, redis.Nil) {
		a.recordMiss(latencyMS)
		return nil, ErrMiss
	}
	if err != nil {
		a.recordMiss(latencyMS)
		return nil, a.classifyError(err)
	}

	entry, perr := deserialize(raw)
	if perr != nil {
		if a.log != nil {
			a.log.WithField("key", key).WithError(perr).Warn("remotecache: discarding unparseable entry")
		}
		a.recordMiss(latencyMS)
		return nil, ErrMiss
	}
	a.recordHit(latencyMS)
	return entry, nil
}

func (a *Adapter) recordHit(latencyMS float64) {
	a.metricsMu.Lock()
	defer a.metricsMu.Unlock()
	a.metrics.RecordHit(latencyMS)
}

func (a *Adapter) recordMiss(latencyMS float64) {
	a.metricsMu.Lock()
	defer a.metricsMu.Unlock()
	a.metrics.RecordMiss(latencyMS)
}

// Metrics reports this tier's hit/miss counters and average command
// latency, folded into the coordinator's aggregate snapshot.
func (a *Adapter) Metrics() domain.Snapshot {
	a.metricsMu.Lock()
	defer a.metricsMu.Unlock()
	return a.metrics.Snapshot()
}

// Set implements §4.5's write path: an overwrite with native TTL, never a
// read-modify-write.
func (a *Adapter) Set(ctx context.Context, key string, e *domain.Entry, ttlMS int64) error {
	ttl := time.Duration(ttlMS) * time.Millisecond
	_, err := guardedCall(a, ctx, func(cctx context.Context) (struct{}, error) {
		return struct{}{}, a.client.Set(cctx, a.prefixed(key), serialize(e), ttl).Err()
	})
	if err != nil {
		return a.classifyError(err)
	}
	return nil
}

// Delete is idempotent: deleting an absent key is not an error.
func (a *Adapter) Delete(ctx context.Context, key string) error {
	_, err := guardedCall(a, ctx, func(cctx context.Context) (struct{}, error) {
		return struct{}{}, a.client.Del(cctx, a.prefixed(key)).Err()
	})
	if err != nil {
		return a.classifyError(err)
	}
	return nil
}

// guardedCall acquires a pool slot, runs fn under the circuit breaker with
// a per-command deadline, and always releases the slot.
func guardedCall[T any](a *Adapter, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	release, err := a.gate.Acquire(ctx, a.cfg.QueueDeadline)
	if err != nil {
		return zero, err
	}
	defer release()

	cctx, cancel := context.WithTimeout(ctx, a.cfg.CommandTimeout)
	defer cancel()

	result, err := a.breaker.Execute(func() (interface{}, error) {
		return fn(cctx)
	})
	if err != nil {
		return zero, err
	}
	return result.(T), nil
}

func (a *Adapter) classifyError(err error) error {
	if errors.Is(err, ratelimit.ErrBusy) {
		return apperr.RemoteUnavailable("connection pool exhausted", err)
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperr.RemoteUnavailable("circuit open", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Timeout("remote cache command")
	}
	return apperr.RemoteUnavailable("command failed", err)
}
