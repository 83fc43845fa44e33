package http

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/bridgify-labs/tclcore/core/lde"
	"github.com/bridgify-labs/tclcore/core/lde/detectcache"
	"github.com/bridgify-labs/tclcore/infra/middleware"
	"github.com/bridgify-labs/tclcore/pkg/logger"
)

func newTestEngineForHTTP() *lde.Engine {
	clock := &fakeClock{ms: 1000}
	exact := detectcache.NewExact(detectcache.ExactConfig{Capacity: 16, FrequencyWeight: 1000}, clock)
	pattern := detectcache.NewPattern(detectcache.PatternConfig{
		MatchThreshold:        0.8,
		MinTextLengthForMatch: 5,
		MinConfidenceToInsert: 0.55,
	})
	return lde.NewEngine(exact, pattern, lde.NewPrimary(), lde.NewFallback(), clock, 0.55)
}

func newLanguageTestApp() *fiber.App {
	log := logger.New(logger.Config{})
	h := NewLanguageHandler(newTestEngineForHTTP())
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(log)})
	api := app.Group("/api/v1")
	h.Register(api)
	return app
}

func TestLanguageHandler_DetectRejectsEmptyText(t *testing.T) {
	app := newLanguageTestApp()

	req := httptest.NewRequest("POST", "/api/v1/language/detect", jsonBody(`{"text":""}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestLanguageHandler_DetectReturnsLanguage(t *testing.T) {
	app := newLanguageTestApp()

	req := httptest.NewRequest("POST", "/api/v1/language/detect", jsonBody(`{"text":"Hello, how are you doing today?"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestLanguageHandler_SupportedListsLanguages(t *testing.T) {
	app := newLanguageTestApp()

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/language/supported", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
