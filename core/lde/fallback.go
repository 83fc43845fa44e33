package lde

import (
	"strings"
	"unicode"

	"github.com/bridgify-labs/tclcore/core/domain"
	"github.com/bridgify-labs/tclcore/pkg/apperr"
)

// Fallback classifies text by its dominant Unicode script range, per §4.10.
// It is invoked when the Primary detector is unavailable or returns a
// confidence below the caller's threshold.
type Fallback struct{}

func NewFallback() *Fallback { return &Fallback{} }

func (f *Fallback) Detect(text string, nowMS int64) (domain.DetectionResult, error) {
	if strings.TrimSpace(text) == "" {
		return domain.DetectionResult{}, apperr.InvalidInput("text", "must be non-empty")
	}

	counts := make(map[scriptClass]int)
	total := 0
	onlyDigitsOrPunct := true

	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if !unicode.IsDigit(r) && !unicode.IsPunct(r) {
			onlyDigitsOrPunct = false
		}
		counts[classifyRune(r)]++
	}

	if total == 0 {
		return domain.DetectionResult{}, apperr.InvalidInput("text", "contains no classifiable characters")
	}

	if onlyDigitsOrPunct {
		confidence := 0.5
		return domain.DetectionResult{
			Language:   "eng",
			Confidence: confidence,
			Source:     domain.SourceFallback,
			Timestamp:  nowMS,
		}, nil
	}

	dominant, dominantCount, distinctScripts := dominantScript(counts)
	language := scriptDefaultLanguage[dominant]
	if language == "" {
		language = "eng"
	}

	lengthFactor := lengthFactor(total)
	ratio := float64(dominantCount) / float64(total)
	confidence := ratio * lengthFactor

	if distinctScripts > 1 {
		if confidence > 0.80 {
			confidence = 0.80
		}
	} else if confidence > 0.95 {
		confidence = 0.95
	}

	return domain.DetectionResult{
		Language:   language,
		Confidence: confidence,
		Source:     domain.SourceFallback,
		Timestamp:  nowMS,
	}, nil
}

// lengthFactor grows with text length, asymptoting toward 1.0: short
// samples are inherently less trustworthy regardless of how uniform their
// script composition looks.
func lengthFactor(totalChars int) float64 {
	switch {
	case totalChars < 5:
		return 0.5
	case totalChars < 10:
		return 0.7
	case totalChars < 20:
		return 0.85
	case totalChars < 50:
		return 0.92
	default:
		return 1.0
	}
}
