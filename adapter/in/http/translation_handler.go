package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/singleflight"

	"github.com/bridgify-labs/tclcore/core/coordinator"
	"github.com/bridgify-labs/tclcore/core/domain"
	"github.com/bridgify-labs/tclcore/core/fingerprint"
	"github.com/bridgify-labs/tclcore/core/lde"
	out "github.com/bridgify-labs/tclcore/core/port/out"
	"github.com/bridgify-labs/tclcore/pkg/apperr"
	"github.com/bridgify-labs/tclcore/pkg/logger"
	"github.com/bridgify-labs/tclcore/pkg/response"
)

// Clock abstracts wall-clock time for entries this handler constructs.
type Clock interface {
	NowMS() int64
}

// TranslationHandler serves POST /translation/text and POST
// /translation/batch: fingerprint the request, consult the coordinator,
// and fall through to the translation backend and the detection engine on
// a cache miss.
type TranslationHandler struct {
	coord           *coordinator.Coordinator
	engine          *lde.Engine
	backend         out.TranslationBackend
	backendName     string
	clock           Clock
	fpOpts          fingerprint.Options
	defaultTTL      int64 // ms
	minConfForCache float64
	log             *logger.Logger

	// backendFlight collapses concurrent backend.Translate calls for the
	// same fingerprint into one remote call: a cache-miss stampede would
	// otherwise send the translation backend one request per waiting
	// request instead of one request per distinct text.
	backendFlight singleflight.Group
}

func NewTranslationHandler(
	coord *coordinator.Coordinator,
	engine *lde.Engine,
	backend out.TranslationBackend,
	backendName string,
	clock Clock,
	fpOpts fingerprint.Options,
	defaultTTLMS int64,
	minConfidenceForCache float64,
	log *logger.Logger,
) *TranslationHandler {
	return &TranslationHandler{
		coord:           coord,
		engine:          engine,
		backend:         backend,
		backendName:     backendName,
		clock:           clock,
		fpOpts:          fpOpts,
		defaultTTL:      defaultTTLMS,
		minConfForCache: minConfidenceForCache,
		log:             log,
	}
}

func (h *TranslationHandler) Register(router fiber.Router) {
	router.Post("/translation/text", h.TranslateText)
	router.Post("/translation/batch", h.TranslateBatch)
}

type translateTextRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
	Domain     string `json:"domain"`
	Quality    string `json:"quality"`
}

type translateTextResponse struct {
	TranslatedText   string  `json:"translated_text"`
	DetectedLanguage string  `json:"detected_language"`
	Confidence       float64 `json:"confidence"`
	Cached           bool    `json:"cached"`
	ModelUsed        string  `json:"model_used"`
	ProcessingTimeMS int64   `json:"processing_time_ms"`
}

func (h *TranslationHandler) TranslateText(c *fiber.Ctx) error {
	var req translateTextRequest
	if err := c.BodyParser(&req); err != nil {
		return response.Err(c, apperr.InvalidInput("body", "malformed JSON"))
	}

	start := time.Now()
	result, err := h.translateOne(c.Context(), req)
	if err != nil {
		return response.Err(c, err)
	}
	result.ProcessingTimeMS = time.Since(start).Milliseconds()
	return response.OK(c, result)
}

type translateBatchRequest struct {
	Texts      []string `json:"texts"`
	SourceLang string   `json:"source_lang"`
	TargetLang string   `json:"target_lang"`
}

func (h *TranslationHandler) TranslateBatch(c *fiber.Ctx) error {
	var req translateBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return response.Err(c, apperr.InvalidInput("body", "malformed JSON"))
	}
	if len(req.Texts) == 0 {
		return response.Err(c, apperr.InvalidInput("texts", "must be non-empty"))
	}

	start := time.Now()
	results := make([]translateTextResponse, 0, len(req.Texts))
	for _, text := range req.Texts {
		one, err := h.translateOne(c.Context(), translateTextRequest{
			Text:       text,
			SourceLang: req.SourceLang,
			TargetLang: req.TargetLang,
		})
		if err != nil {
			return response.Err(c, err)
		}
		results = append(results, one)
	}
	elapsed := time.Since(start).Milliseconds()
	for i := range results {
		results[i].ProcessingTimeMS = elapsed
	}
	return response.OK(c, fiber.Map{"results": results})
}

// backendResult bundles backend.Translate's two return values so a single
// singleflight.Do call can carry both to every waiter.
type backendResult struct {
	text       string
	confidence float64
}

// translateOne runs the fingerprint -> coordinator -> (detect ->) backend
// pipeline for a single source text, matching the read-through semantics
// the coordinator already implements for the cache tiers.
func (h *TranslationHandler) translateOne(ctx context.Context, req translateTextRequest) (translateTextResponse, error) {
	if req.Text == "" {
		return translateTextResponse{}, apperr.InvalidInput("text", "must be non-empty")
	}
	if req.TargetLang == "" {
		return translateTextResponse{}, apperr.InvalidInput("target_lang", "must be present")
	}
	if err := fingerprint.ValidateLangCode(req.TargetLang); err != nil {
		return translateTextResponse{}, err
	}

	detectedLang := req.SourceLang
	var detectConfidence float64 = 1.0
	if detectedLang == "" {
		result, err := h.engine.Detect(req.Text, domain.DetectionOptions{Preprocess: h.fpOpts.NormalizeText})
		if err != nil {
			return translateTextResponse{}, err
		}
		detectedLang = result.Language
		detectConfidence = result.Confidence
	} else if err := fingerprint.ValidateLangCode(detectedLang); err != nil {
		return translateTextResponse{}, err
	}

	key, err := fingerprint.Derive(h.fpOpts, req.Text, detectedLang, req.TargetLang, false, 0)
	if err != nil {
		return translateTextResponse{}, err
	}

	if entry, outcome, err := h.coord.Get(ctx, key, req.Text); err == nil && outcome == coordinator.Hit {
		return translateTextResponse{
			TranslatedText:   entry.Translation,
			DetectedLanguage: detectedLang,
			Confidence:       entry.Confidence,
			Cached:           true,
			ModelUsed:        "cache",
		}, nil
	}

	v, err, _ := h.backendFlight.Do(key, func() (interface{}, error) {
		text, confidence, terr := h.backend.Translate(ctx, req.Text, detectedLang, req.TargetLang)
		if terr != nil {
			return nil, terr
		}
		return backendResult{text: text, confidence: confidence}, nil
	})
	if err != nil {
		return translateTextResponse{}, apperr.RemoteUnavailable("translation backend", err)
	}
	result := v.(backendResult)
	translatedText, confidence := result.text, result.confidence

	now := h.clock.NowMS()
	entry := &domain.Entry{
		Key:         key,
		SourceText:  req.Text,
		SourceLang:  detectedLang,
		TargetLang:  req.TargetLang,
		Translation: translatedText,
		Confidence:  confidence,
		Timestamp:   now,
		TTL:         h.defaultTTL,
		Flags:       domain.FlagCloudOrigin,
		Metadata:    domain.Metadata{Domain: req.Domain, Context: req.Quality, Origin: h.backendName},
	}

	if confidence >= h.minConfForCache {
		if err := h.coord.Set(ctx, entry); err != nil {
			h.log.WithError(err).Warn("translation: cache set failed")
		}
	}

	reportedConfidence := confidence
	if detectedLang != req.SourceLang && req.SourceLang == "" {
		reportedConfidence = confidence * detectConfidence
	}

	return translateTextResponse{
		TranslatedText:   translatedText,
		DetectedLanguage: detectedLang,
		Confidence:       reportedConfidence,
		Cached:           false,
		ModelUsed:        h.backendName,
	}, nil
}
