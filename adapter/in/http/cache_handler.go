package http

import (
	"context"
	"sort"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/bridgify-labs/tclcore/core/coordinator"
	"github.com/bridgify-labs/tclcore/core/domain"
	out "github.com/bridgify-labs/tclcore/core/port/out"
	"github.com/bridgify-labs/tclcore/pkg/apperr"
	"github.com/bridgify-labs/tclcore/pkg/cache"
	"github.com/bridgify-labs/tclcore/pkg/logger"
	"github.com/bridgify-labs/tclcore/pkg/metrics"
	"github.com/bridgify-labs/tclcore/pkg/response"
)

// avgEntryBytes is a rough per-entry size estimate used to translate a
// size_limit_kb budget into a warm candidate count. It is deliberately
// coarse: entries vary in text length, and the goal is only to keep a
// preload request from pulling the whole durable store into L1.
const avgEntryBytes = 512

// CacheHandler serves POST /cache/preload, GET /cache/preload/:id, GET
// /cache/status, and DELETE /cache.
type CacheHandler struct {
	coord     *coordinator.Coordinator
	jobs      out.JobStore
	durable   out.DurableStore  // optional; nil means preload only draws from L1
	jobStatus *cache.RedisCache // optional; nil disables job-status caching
	clock     Clock
	log       *logger.Logger
}

func NewCacheHandler(coord *coordinator.Coordinator, jobs out.JobStore, durable out.DurableStore, jobStatus *cache.RedisCache, clock Clock, log *logger.Logger) *CacheHandler {
	return &CacheHandler{coord: coord, jobs: jobs, durable: durable, jobStatus: jobStatus, clock: clock, log: log}
}

func (h *CacheHandler) Register(router fiber.Router) {
	router.Post("/cache/preload", h.Preload)
	router.Get("/cache/preload/:id", h.PreloadStatus)
	router.Get("/cache/status", h.Status)
	router.Delete("/cache", h.Delete)
}

type preloadRequest struct {
	SourceLang  string `json:"source_lang"`
	TargetLang  string `json:"target_lang"`
	Domain      string `json:"domain"`
	SizeLimitKB int    `json:"size_limit_kb"`
}

type preloadJobResponse struct {
	ID             int64  `json:"id"`
	Status         string `json:"status"`
	RequestedCount int    `json:"requested_count"`
	CompletedCount int    `json:"completed_count"`
	Error          string `json:"error,omitempty"`
}

func jobToResponse(job *domain.PreloadJob) preloadJobResponse {
	return preloadJobResponse{
		ID:             job.ID,
		Status:         string(job.Status),
		RequestedCount: job.RequestedCount,
		CompletedCount: job.CompletedCount,
		Error:          job.Error,
	}
}

// Preload creates a pending job and hands it a job ID synchronously, then
// warms the cache in the background, matching the async job-handle flow
// of §6: the caller polls GET /cache/preload/{id} rather than blocking on
// a potentially large warm.
func (h *CacheHandler) Preload(c *fiber.Ctx) error {
	var req preloadRequest
	if err := c.BodyParser(&req); err != nil {
		return response.Err(c, apperr.InvalidInput("body", "malformed JSON"))
	}
	if req.TargetLang == "" {
		return response.Err(c, apperr.InvalidInput("target_lang", "must be present"))
	}
	if h.jobs == nil {
		return response.Err(c, apperr.NotInitialized("job store"))
	}

	requestedCount := req.SizeLimitKB * 1024 / avgEntryBytes
	if requestedCount <= 0 {
		requestedCount = 100
	}

	job := &domain.PreloadJob{
		Status:         domain.JobPending,
		RequestedCount: requestedCount,
		SourceLang:     req.SourceLang,
		TargetLang:     req.TargetLang,
	}
	if err := h.jobs.Create(c.Context(), job); err != nil {
		return response.Err(c, apperr.StorageError("create preload job", err))
	}

	go h.runPreload(job.ID, req, requestedCount)

	return response.Accepted(c, jobToResponse(job))
}

// runPreload drives one job through Running -> Completed|Failed. It runs
// detached from the request's context: the HTTP handler has already
// returned 202 by the time this executes. The job_id is stamped onto the
// detached context so logger.WithContext can pull it back out — the same
// correlation mechanism WithContext already offers for request_id.
func (h *CacheHandler) runPreload(jobID int64, req preloadRequest, requestedCount int) {
	ctx := context.WithValue(context.Background(), "job_id", jobID)
	log := h.log.WithContext(ctx)

	if err := h.jobs.UpdateStatus(ctx, jobID, domain.JobRunning, 0, ""); err != nil {
		log.WithError(err).Warn("preload: failed to mark job running")
	}
	h.invalidateJobStatusCache(jobID)

	candidates, err := h.candidatesFor(ctx, req.SourceLang, req.TargetLang, req.Domain)
	if err != nil {
		h.failJob(ctx, jobID, err)
		return
	}

	records := make([]out.UsageRecord, len(candidates))
	for i, e := range candidates {
		records[i] = out.UsageRecord{Entry: e, Frequency: e.Metadata.UsageCount}
	}

	warmed, err := h.coord.Warm(ctx, out.NewSliceUsageStream(records), requestedCount)
	if err != nil {
		h.failJob(ctx, jobID, err)
		return
	}

	if err := h.jobs.UpdateStatus(ctx, jobID, domain.JobCompleted, warmed, ""); err != nil {
		log.WithError(err).Warn("preload: failed to mark job completed")
	}
	h.invalidateJobStatusCache(jobID)
}

func (h *CacheHandler) failJob(ctx context.Context, jobID int64, err error) {
	if uerr := h.jobs.UpdateStatus(ctx, jobID, domain.JobFailed, 0, err.Error()); uerr != nil {
		h.log.WithContext(ctx).WithError(uerr).Warn("preload: failed to mark job failed")
	}
	h.invalidateJobStatusCache(jobID)
}

// invalidateJobStatusCache drops any cached status so the next poll reads
// through to Postgres instead of returning a stale terminal state.
func (h *CacheHandler) invalidateJobStatusCache(jobID int64) {
	if h.jobStatus == nil {
		return
	}
	if err := h.jobStatus.DeleteJobStatus(context.Background(), jobID); err != nil {
		h.log.WithError(err).Warn("preload: job status cache invalidation failed")
	}
}

// candidatesFor gathers warm candidates from the durable store when one is
// configured (the full population a preload is meant to draw from),
// falling back to whatever L1 already holds otherwise. Candidates are
// filtered by language pair/domain and sorted by descending usage count so
// Warm's count cutoff keeps the hottest entries.
func (h *CacheHandler) candidatesFor(ctx context.Context, sourceLang, targetLang, domainFilter string) ([]*domain.Entry, error) {
	var all []*domain.Entry
	if h.durable != nil {
		loaded, err := h.durable.LoadAll(ctx)
		if err != nil {
			return nil, apperr.StorageError("load preload candidates", err)
		}
		all = loaded
	} else {
		all = h.coord.Entries()
	}

	filtered := all[:0]
	for _, e := range all {
		if sourceLang != "" && e.SourceLang != sourceLang {
			continue
		}
		if targetLang != "" && e.TargetLang != targetLang {
			continue
		}
		if domainFilter != "" && e.Metadata.Domain != domainFilter {
			continue
		}
		filtered = append(filtered, e)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].Metadata.UsageCount > filtered[j].Metadata.UsageCount
	})
	return filtered, nil
}

// PreloadStatus serves a job-status poll. When a job status cache is
// configured it is consulted first: preload jobs are typically polled
// every second or two by the caller, and that rate doesn't need to hit
// Postgres on every request.
func (h *CacheHandler) PreloadStatus(c *fiber.Ctx) error {
	if h.jobs == nil {
		return response.Err(c, apperr.NotInitialized("job store"))
	}
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return response.Err(c, apperr.InvalidInput("id", "must be a numeric job ID"))
	}

	if h.jobStatus != nil {
		var cached preloadJobResponse
		if hit, err := h.jobStatus.GetJobStatus(c.Context(), id, &cached); err != nil {
			h.log.WithError(err).Warn("preload: job status cache read failed")
		} else if hit {
			return response.OK(c, cached)
		}
	}

	job, err := h.jobs.Get(c.Context(), id)
	if err != nil {
		return response.Err(c, apperr.StorageError("get preload job", err))
	}
	if job == nil {
		return response.Err(c, apperr.NotFound("preload job"))
	}

	resp := jobToResponse(job)
	if h.jobStatus != nil {
		if err := h.jobStatus.SetJobStatus(c.Context(), id, resp); err != nil {
			h.log.WithError(err).Warn("preload: job status cache write failed")
		}
	}
	return response.OK(c, resp)
}

type cacheStatusResponse struct {
	SizeKB         float64                         `json:"size_kb"`
	Count          int                             `json:"count"`
	HitRate        float64                         `json:"hit_rate"`
	PerPair        map[string]int                  `json:"per_pair"`
	BackendLatency map[string]metrics.LatencyStats `json:"backend_latency,omitempty"`
}

// Status reports composition of the L1 tier: total entry count, an
// estimated size, the running hit rate, and a per-language-pair
// breakdown parsed off each entry's source/target fields directly
// (cheaper and more reliable than re-deriving it from the fingerprint key).
// BackendLatency surfaces the sliding-window P50/P95/P99 the translation
// backend adapters record on every call, so an operator can see whether a
// slow backend is the reason the cache's hit rate matters.
func (h *CacheHandler) Status(c *fiber.Ctx) error {
	entries := h.coord.Entries()
	perPair := make(map[string]int)
	for _, e := range entries {
		pair := e.SourceLang + ":" + e.TargetLang
		perPair[pair]++
	}

	snap := h.coord.Metrics()
	var hitRate float64
	if total := snap.Hits + snap.Misses; total > 0 {
		hitRate = float64(snap.Hits) / float64(total)
	}

	return response.OK(c, cacheStatusResponse{
		SizeKB:         float64(len(entries)*avgEntryBytes) / 1024,
		Count:          len(entries),
		HitRate:        hitRate,
		PerPair:        perPair,
		BackendLatency: metrics.GetAllLatencyStats(),
	})
}

// Delete implements DELETE /cache: scope=all clears every tier, scope=pair
// restricts the clear to the given source_lang/target_lang combination.
func (h *CacheHandler) Delete(c *fiber.Ctx) error {
	scope := c.Query("scope")
	sourceLang := c.Query("source_lang")
	targetLang := c.Query("target_lang")

	switch scope {
	case "all":
		h.coord.DeleteAll(c.Context())
	case "pair":
		if sourceLang == "" || targetLang == "" {
			return response.Err(c, apperr.InvalidInput("source_lang/target_lang", "both required for scope=pair"))
		}
		for _, e := range h.coord.Entries() {
			if e.SourceLang == sourceLang && e.TargetLang == targetLang {
				if err := h.coord.Delete(c.Context(), e.Key); err != nil {
					h.log.WithError(err).Warn("cache delete: pair entry delete failed")
				}
			}
		}
	default:
		return response.Err(c, apperr.InvalidInput("scope", "must be one of: all, pair"))
	}

	return response.NoContent(c)
}
