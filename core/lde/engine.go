package lde

import (
	"github.com/bridgify-labs/tclcore/core/domain"
	"github.com/bridgify-labs/tclcore/core/lde/detectcache"
	"github.com/bridgify-labs/tclcore/pkg/apperr"
)

// Clock abstracts wall-clock time for the engine's cache-insertion
// timestamps, mirroring entrystore's and the coordinator's notion of "now".
type Clock interface {
	NowMS() int64
}

// Engine orchestrates the full detection pipeline described across
// §4.9-4.11: the exact cache, then the pattern cache, then the Primary
// detector, falling back to the Fallback detector when Primary is
// unavailable or insufficiently confident. A hit confident enough to be
// worth remembering is folded back into both cache tiers.
type Engine struct {
	exact                 *detectcache.Exact
	pattern               *detectcache.Pattern
	primary               *Primary
	fallback              *Fallback
	clock                 Clock
	minConfidenceForCache float64
}

func NewEngine(exact *detectcache.Exact, pattern *detectcache.Pattern, primary *Primary, fallback *Fallback, clock Clock, minConfidenceForCache float64) *Engine {
	return &Engine{
		exact:                 exact,
		pattern:               pattern,
		primary:               primary,
		fallback:              fallback,
		clock:                 clock,
		minConfidenceForCache: minConfidenceForCache,
	}
}

// Detect runs the pipeline and returns the first sufficiently confident
// result, preferring cheaper tiers over the statistical detectors.
func (e *Engine) Detect(text string, opts domain.DetectionOptions) (domain.DetectionResult, error) {
	if r, ok := e.exact.Get(text); ok && r.Confidence >= opts.MinConfidence {
		return r, nil
	}

	if r, ok := e.pattern.Query(text); ok && r.Confidence >= opts.MinConfidence {
		r.Timestamp = e.clock.NowMS()
		e.rememberLocked(text, r)
		return r, nil
	}

	now := e.clock.NowMS()
	result, err := e.primary.Detect(text, opts, now)
	if err == nil {
		e.rememberLocked(text, result)
		return result, nil
	}
	if !isLowConfidenceOrInternal(err) {
		return domain.DetectionResult{}, err
	}

	fallbackResult, ferr := e.fallback.Detect(text, now)
	if ferr != nil {
		return domain.DetectionResult{}, ferr
	}
	if fallbackResult.Confidence < opts.MinConfidence {
		return domain.DetectionResult{}, apperr.LowConfidence(fallbackResult.Confidence, opts.MinConfidence)
	}

	e.rememberLocked(text, fallbackResult)
	return fallbackResult, nil
}

// rememberLocked inserts a result into both cache tiers when its confidence
// clears the caching threshold, per §4.11's "only results with confidence
// >= min_confidence_for_cache are inserted" rule.
func (e *Engine) rememberLocked(text string, r domain.DetectionResult) {
	if r.Confidence < e.minConfidenceForCache {
		return
	}
	e.exact.Put(text, r)
	if e.pattern.ShouldInsert(r.Confidence) {
		e.pattern.Learn(r.Language, text)
	}
}

func isLowConfidenceOrInternal(err error) bool {
	appErr := apperr.AsAppError(err)
	return appErr.Code == apperr.CodeLowConfidence || appErr.Code == apperr.CodeInternalError
}
