package http

import (
	"context"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/bridgify-labs/tclcore/core/fingerprint"
	"github.com/bridgify-labs/tclcore/infra/middleware"
	"github.com/bridgify-labs/tclcore/pkg/logger"
)

type fakeBackend struct {
	translation string
	confidence  float64
	err         error
	calls       int32

	// delay and maxInflight let a test observe that concurrent callers
	// were actually coalesced into one in-flight backend call rather
	// than just happening to race to the same fast result.
	delay       time.Duration
	inflight    int32
	maxInflight int32
}

func (b *fakeBackend) Translate(ctx context.Context, sourceText, sourceLang, targetLang string) (string, float64, error) {
	n := atomic.AddInt32(&b.inflight, 1)
	for {
		max := atomic.LoadInt32(&b.maxInflight)
		if n <= max || atomic.CompareAndSwapInt32(&b.maxInflight, max, n) {
			break
		}
	}
	defer atomic.AddInt32(&b.inflight, -1)

	atomic.AddInt32(&b.calls, 1)
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	if b.err != nil {
		return "", 0, b.err
	}
	return b.translation, b.confidence, nil
}

func newTranslationTestApp(backend *fakeBackend, clock *fakeClock) *fiber.App {
	log := logger.New(logger.Config{})
	coord := newTestCoordinatorForHTTP(clock)
	engine := newTestEngineForHTTP()
	h := NewTranslationHandler(coord, engine, backend, "test-backend", clock, fingerprint.Options{MaxKeyLength: fingerprint.MaxKeyLength}, 60_000, 0.5, log)
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(log)})
	api := app.Group("/api/v1")
	h.Register(api)
	return app
}

func TestTranslationHandler_TranslateTextRejectsMissingTargetLang(t *testing.T) {
	app := newTranslationTestApp(&fakeBackend{translation: "bonjour", confidence: 0.9}, &fakeClock{ms: 1000})

	req := httptest.NewRequest("POST", "/api/v1/translation/text", jsonBody(`{"text":"hello","source_lang":"eng"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestTranslationHandler_TranslateTextCallsBackendOnMiss(t *testing.T) {
	backend := &fakeBackend{translation: "bonjour", confidence: 0.9}
	app := newTranslationTestApp(backend, &fakeClock{ms: 1000})

	req := httptest.NewRequest("POST", "/api/v1/translation/text", jsonBody(`{"text":"hello","source_lang":"eng","target_lang":"fra"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&backend.calls); got != 1 {
		t.Fatalf("expected backend called once, got %d", got)
	}
}

func TestTranslationHandler_TranslateTextSecondCallHitsCache(t *testing.T) {
	backend := &fakeBackend{translation: "bonjour", confidence: 0.9}
	app := newTranslationTestApp(backend, &fakeClock{ms: 1000})

	makeReq := func() {
		req := httptest.NewRequest("POST", "/api/v1/translation/text", jsonBody(`{"text":"hello","source_lang":"eng","target_lang":"fra"}`))
		req.Header.Set("Content-Type", "application/json")
		if _, err := app.Test(req); err != nil {
			t.Fatalf("request failed: %v", err)
		}
	}

	makeReq()
	makeReq()

	if got := atomic.LoadInt32(&backend.calls); got != 1 {
		t.Fatalf("expected backend called only once across both requests, got %d", got)
	}
}

func TestTranslationHandler_ConcurrentRequestsForSameTextCoalesceIntoOneBackendCall(t *testing.T) {
	backend := &fakeBackend{translation: "bonjour", confidence: 0.9, delay: 20 * time.Millisecond}
	app := newTranslationTestApp(backend, &fakeClock{ms: 1000})

	const n = 8
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			req := httptest.NewRequest("POST", "/api/v1/translation/text", jsonBody(`{"text":"hello","source_lang":"eng","target_lang":"fra"}`))
			req.Header.Set("Content-Type", "application/json")
			if _, err := app.Test(req, -1); err != nil {
				t.Errorf("request failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&backend.maxInflight); got > 1 {
		t.Fatalf("expected at most one backend call in flight at once, observed %d concurrent", got)
	}
	if got := atomic.LoadInt32(&backend.calls); got != 1 {
		t.Fatalf("expected the stampede to collapse into a single backend call, got %d", got)
	}
}

func TestTranslationHandler_BatchRejectsEmptyTexts(t *testing.T) {
	app := newTranslationTestApp(&fakeBackend{translation: "bonjour", confidence: 0.9}, &fakeClock{ms: 1000})

	req := httptest.NewRequest("POST", "/api/v1/translation/batch", jsonBody(`{"texts":[],"source_lang":"eng","target_lang":"fra"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestTranslationHandler_BatchTranslatesEachText(t *testing.T) {
	backend := &fakeBackend{translation: "bonjour", confidence: 0.9}
	app := newTranslationTestApp(backend, &fakeClock{ms: 1000})

	req := httptest.NewRequest("POST", "/api/v1/translation/batch", jsonBody(`{"texts":["hello","goodbye"],"source_lang":"eng","target_lang":"fra"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&backend.calls); got != 2 {
		t.Fatalf("expected backend called once per text, got %d", got)
	}
}
