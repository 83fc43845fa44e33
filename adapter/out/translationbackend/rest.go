package translationbackend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/bridgify-labs/tclcore/pkg/httputil"
	"github.com/bridgify-labs/tclcore/pkg/metrics"
	"github.com/bridgify-labs/tclcore/pkg/resilience"
)

// RESTConfig configures the generic REST backend.
type RESTConfig struct {
	BaseURL string // e.g. https://translate.internal/v1
	APIKey  string
	Timeout time.Duration
}

type restRequest struct {
	SourceText string `json:"source_text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

type restResponse struct {
	Translation string  `json:"translation"`
	Confidence  float64 `json:"confidence"`
}

// RESTBackend calls any service that accepts {source_text, source_lang,
// target_lang} and replies {translation, confidence} — the shape a
// self-hosted or proxied translation service is expected to expose.
type RESTBackend struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *resilience.CircuitBreaker
}

func NewRESTBackend(cfg RESTConfig) *RESTBackend {
	client := httputil.TranslationBackendClient()
	if cfg.Timeout > 0 {
		clientCfg := httputil.TranslationBackendClientConfig()
		clientCfg.ResponseTimeout = cfg.Timeout
		client = httputil.NewOptimizedClient(clientCfg)
	}
	return &RESTBackend{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  client,
		breaker: resilience.NewCircuitBreaker(restBreakerConfig()),
	}
}

// Translate is gated by a circuit breaker independent of the L2 remote
// cache's gobreaker instance: a struggling translation backend shouldn't
// wait out Redis's breaker timings, and vice versa.
func (b *RESTBackend) Translate(ctx context.Context, sourceText, sourceLang, targetLang string) (string, float64, error) {
	var translation string
	var confidence float64

	start := time.Now()
	err := b.breaker.Execute(func() error {
		var innerErr error
		translation, confidence, innerErr = b.doTranslate(ctx, sourceText, sourceLang, targetLang)
		return innerErr
	})
	metrics.RecordLatency("translation_backend_rest", time.Since(start))

	if errors.Is(err, resilience.ErrCircuitOpen) {
		return "", 0, fmt.Errorf("translationbackend: %w", err)
	}
	return translation, confidence, err
}

// restBreakerConfig only trips on faults that originate past this process's
// boundary — a request that could not be encoded or built never reached the
// remote backend and doesn't tell us anything about whether it is healthy.
// A failed round trip, a non-200 status, or an undecodable response body
// does count toward the threshold.
func restBreakerConfig() *resilience.CircuitBreakerConfig {
	cfg := resilience.DefaultCircuitBreakerConfig("translation-backend-rest")
	cfg.TripOn = tripOnRemoteFault
	return cfg
}

func (b *RESTBackend) doTranslate(ctx context.Context, sourceText, sourceLang, targetLang string) (string, float64, error) {
	body, err := json.Marshal(restRequest{SourceText: sourceText, SourceLang: sourceLang, TargetLang: targetLang})
	if err != nil {
		return "", 0, localErrorf("translationbackend: encode request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, b.baseURL+"/translate", bytes.NewReader(body))
	if err != nil {
		return "", 0, localErrorf("translationbackend: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := httputil.DoWithContext(ctx, b.client, req)
	if err != nil {
		return "", 0, fmt.Errorf("translationbackend: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", 0, fmt.Errorf("translationbackend: unexpected status %d: %s", resp.StatusCode, payload)
	}

	var parsed restResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", 0, fmt.Errorf("translationbackend: decode response: %w", err)
	}
	return parsed.Translation, parsed.Confidence, nil
}
