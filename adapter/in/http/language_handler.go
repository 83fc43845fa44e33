package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/bridgify-labs/tclcore/core/domain"
	"github.com/bridgify-labs/tclcore/core/lde"
	"github.com/bridgify-labs/tclcore/pkg/apperr"
	"github.com/bridgify-labs/tclcore/pkg/response"
)

// LanguageHandler serves POST /language/detect and GET /language/supported.
type LanguageHandler struct {
	engine *lde.Engine
}

func NewLanguageHandler(engine *lde.Engine) *LanguageHandler {
	return &LanguageHandler{engine: engine}
}

func (h *LanguageHandler) Register(router fiber.Router) {
	router.Post("/language/detect", h.Detect)
	router.Get("/language/supported", h.Supported)
}

type detectRequest struct {
	Text                string  `json:"text"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
}

type detectResponse struct {
	DetectedLanguage string   `json:"detected_language"`
	Confidence       float64  `json:"confidence"`
	Alternatives     []string `json:"alternatives,omitempty"`
}

func (h *LanguageHandler) Detect(c *fiber.Ctx) error {
	var req detectRequest
	if err := c.BodyParser(&req); err != nil {
		return response.Err(c, apperr.InvalidInput("body", "malformed JSON"))
	}
	if req.Text == "" {
		return response.Err(c, apperr.InvalidInput("text", "must be non-empty"))
	}

	result, err := h.engine.Detect(req.Text, domain.DetectionOptions{
		MinConfidence: req.ConfidenceThreshold,
		Preprocess:    true,
	})
	if err != nil {
		return response.Err(c, err)
	}

	return response.OK(c, detectResponse{
		DetectedLanguage: result.Language,
		Confidence:       result.Confidence,
	})
}

// supportedLanguages lists the ISO 639-3 codes the Fallback detector's
// script table and the Primary detector's script-default map can
// recognize without a dedicated language model — the set this engine can
// plausibly return from either detector.
var supportedLanguages = []string{
	"eng", "fra", "deu", "spa", "ita", "por", "nld",
	"rus", "ukr", "bul", "srp",
	"jpn", "kor", "cmn",
	"ara", "urd", "fas",
	"hin", "tha",
}

func (h *LanguageHandler) Supported(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{
		"languages": supportedLanguages,
		"total":     len(supportedLanguages),
	})
}
