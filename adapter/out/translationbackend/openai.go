// Package translationbackend provides the two concrete
// core/port/out.TranslationBackend implementations a deployment can pick
// between at bootstrap: an OpenAI-backed adapter and a generic REST
// adapter for any proxy or self-hosted service speaking a compatible
// translate-and-score contract.
package translationbackend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/bridgify-labs/tclcore/pkg/httputil"
	"github.com/bridgify-labs/tclcore/pkg/metrics"
	"github.com/bridgify-labs/tclcore/pkg/resilience"
)

// OpenAIConfig configures the chat-completion-driven backend.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string // optional, for an OpenAI-compatible proxy
	Model       string
	Temperature float32
}

// OpenAIBackend asks a chat model to translate and self-report a
// confidence, then parses the two out of its response. It is a coarser
// confidence signal than a dedicated translation API would give, which is
// why MinConfidenceForCache exists downstream to gate what actually lands
// in the cache.
type OpenAIBackend struct {
	client  *openai.Client
	model   string
	temp    float32
	breaker *resilience.CircuitBreaker
}

const defaultOpenAIModel = "gpt-4o-mini"

func NewOpenAIBackend(cfg OpenAIConfig) *OpenAIBackend {
	oaiCfg := openai.DefaultConfig(cfg.APIKey)
	oaiCfg.HTTPClient = httputil.OpenAIClient()
	if cfg.BaseURL != "" {
		oaiCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	temp := cfg.Temperature
	if temp == 0 {
		temp = 0.2 // translation wants determinism, not creativity
	}

	return &OpenAIBackend{
		client:  openai.NewClientWithConfig(oaiCfg),
		model:   model,
		temp:    temp,
		breaker: resilience.NewCircuitBreaker(openaiBreakerConfig()),
	}
}

// openaiBreakerConfig trips on a failed chat-completion call or an empty
// response — both indicate the model endpoint itself is struggling — but
// not on a reply that came back and simply didn't parse into the expected
// shape, which is this process's prompt contract breaking, not the
// backend's availability.
func openaiBreakerConfig() *resilience.CircuitBreakerConfig {
	cfg := resilience.DefaultCircuitBreakerConfig("translation-backend-openai")
	cfg.TripOn = tripOnRemoteFault
	return cfg
}

func (b *OpenAIBackend) Translate(ctx context.Context, sourceText, sourceLang, targetLang string) (string, float64, error) {
	var translation string
	var confidence float64

	start := time.Now()
	err := b.breaker.Execute(func() error {
		var innerErr error
		translation, confidence, innerErr = b.doTranslate(ctx, sourceText, sourceLang, targetLang)
		return innerErr
	})
	metrics.RecordLatency("translation_backend_openai", time.Since(start))

	if errors.Is(err, resilience.ErrCircuitOpen) {
		return "", 0, fmt.Errorf("translationbackend: %w", err)
	}
	return translation, confidence, err
}

func (b *OpenAIBackend) doTranslate(ctx context.Context, sourceText, sourceLang, targetLang string) (string, float64, error) {
	prompt := fmt.Sprintf(
		"Translate the following text from %s to %s. "+
			"Reply with exactly two lines: the translation, then a line "+
			"starting with \"CONFIDENCE:\" followed by a number between 0 and 1 "+
			"expressing how confident you are in the translation's accuracy.\n\n%s",
		sourceLang, targetLang, sourceText,
	)

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       b.model,
		Temperature: b.temp,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You are a precise translation engine."},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", 0, err
	}
	if len(resp.Choices) == 0 {
		return "", 0, fmt.Errorf("translationbackend: empty response from model")
	}

	return parseTranslationReply(resp.Choices[0].Message.Content)
}

// parseTranslationReply splits the model's "translation\nCONFIDENCE: x"
// shape, tolerating the confidence line being absent (treated as 0.5, a
// neutral default that MinConfidenceForCache can still filter out).
func parseTranslationReply(content string) (string, float64, error) {
	lines := strings.Split(strings.TrimSpace(content), "\n")
	if len(lines) == 0 {
		return "", 0, localErrorf("translationbackend: unparseable reply")
	}

	confidence := 0.5
	translationLines := lines
	last := strings.TrimSpace(lines[len(lines)-1])
	if strings.HasPrefix(strings.ToUpper(last), "CONFIDENCE:") {
		var parsed float64
		if _, err := fmt.Sscanf(last, "CONFIDENCE: %f", &parsed); err == nil {
			confidence = parsed
		} else if _, err := fmt.Sscanf(strings.TrimPrefix(last, "CONFIDENCE:"), "%f", &parsed); err == nil {
			confidence = parsed
		}
		translationLines = lines[:len(lines)-1]
	}

	translation := strings.TrimSpace(strings.Join(translationLines, "\n"))
	if translation == "" {
		return "", 0, localErrorf("translationbackend: empty translation in reply")
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return translation, confidence, nil
}
