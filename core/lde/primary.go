// Package lde implements the Language Detection Engine: a statistical
// Primary detector backed by length/script heuristics, and a Unicode
// script-range Fallback used when the primary is unavailable or
// insufficiently confident.
package lde

import (
	"strings"
	"unicode"

	"github.com/bridgify-labs/tclcore/core/domain"
	"github.com/bridgify-labs/tclcore/core/fingerprint"
	"github.com/bridgify-labs/tclcore/pkg/apperr"
)

// scriptClass is the script a rune belongs to. Languages are scored from
// script composition; a production system would plug in a real n-gram model here. This keeps the scoring function's
// shape (base/script/penalty) spec-accurate while staying self-contained.
type scriptClass int

const (
	scriptLatin scriptClass = iota
	scriptCyrillic
	scriptHiraganaKatakana
	scriptHangul
	scriptCJK
	scriptArabic
	scriptDevanagari
	scriptThai
	scriptOther
)

var scriptDefaultLanguage = map[scriptClass]string{
	scriptLatin:            "eng",
	scriptCyrillic:         "rus",
	scriptHiraganaKatakana: "jpn",
	scriptHangul:           "kor",
	scriptCJK:              "cmn",
	scriptArabic:           "ara",
	scriptDevanagari:       "hin",
	scriptThai:             "tha",
}

// scriptCandidateLanguages lists the languages a script plausibly carries,
// beyond its bare default, so a caller's preferred_languages can break the
// tie for scripts several languages share (Latin, Cyrillic, Arabic).
var scriptCandidateLanguages = map[scriptClass][]string{
	scriptLatin:    {"eng", "fra", "deu", "spa", "ita", "por", "nld"},
	scriptCyrillic: {"rus", "ukr", "bul", "srp"},
	scriptArabic:   {"ara", "urd", "fas"},
}

func classifyRune(r rune) scriptClass {
	switch {
	case r >= 0x0041 && r <= 0x007A:
		return scriptLatin
	case r >= 0x0400 && r <= 0x04FF:
		return scriptCyrillic
	case r >= 0x3040 && r <= 0x30FF:
		return scriptHiraganaKatakana
	case r >= 0xAC00 && r <= 0xD7AF:
		return scriptHangul
	case r >= 0x4E00 && r <= 0x9FFF:
		return scriptCJK
	case r >= 0x0600 && r <= 0x06FF:
		return scriptArabic
	case r >= 0x0900 && r <= 0x097F:
		return scriptDevanagari
	case r >= 0x0E00 && r <= 0x0E7F:
		return scriptThai
	default:
		return scriptOther
	}
}

// Primary is the statistical detector described in §4.9: a length-based
// base confidence, a script-match factor, and a short-text penalty,
// combined multiplicatively and capped below 1.0.
type Primary struct{}

func NewPrimary() *Primary { return &Primary{} }

// Detect implements the Primary detector's contract. If one of
// opts.PreferredLanguages is among the candidate languages of the dominant
// script, it replaces that script's default language; it never changes
// which script counts as dominant.
func (p *Primary) Detect(text string, opts domain.DetectionOptions, nowMS int64) (domain.DetectionResult, error) {
	if strings.TrimSpace(text) == "" {
		return domain.DetectionResult{}, apperr.InvalidInput("text", "must be non-empty")
	}

	body := text
	if opts.Preprocess {
		body = fingerprint.Normalize(body)
	}

	counts := make(map[scriptClass]int)
	total := 0
	for _, r := range body {
		if unicode.IsSpace(r) {
			continue
		}
		counts[classifyRune(r)]++
		total++
	}

	if total == 0 {
		return domain.DetectionResult{}, apperr.InvalidInput("text", "contains no classifiable characters")
	}

	dominant, dominantCount, distinctScripts := dominantScript(counts)
	language := scriptDefaultLanguage[dominant]
	if language == "" {
		language = "eng"
	}
	language = preferLanguage(dominant, language, opts.PreferredLanguages)

	base := baseConfidence(len([]rune(body)))

	var script float64
	switch {
	case distinctScripts > 1:
		script = 0.7
	case dominantCount == total:
		script = 1.0
	default:
		script = 0.8
	}

	penalty := lengthPenalty(len([]rune(body)))

	final := base * script * (1 - penalty)
	if final > 0.99 {
		final = 0.99
	}

	if final < opts.MinConfidence {
		return domain.DetectionResult{}, apperr.LowConfidence(final, opts.MinConfidence)
	}

	return domain.DetectionResult{
		Language:   language,
		Confidence: final,
		Source:     domain.SourcePrimary,
		Timestamp:  nowMS,
	}, nil
}

// preferLanguage swaps in a caller-preferred language when the dominant
// script is ambiguous across several languages and one of the preferences
// is among its candidates; otherwise the script's default stands.
func preferLanguage(dominant scriptClass, defaultLang string, preferred []string) string {
	candidates, ok := scriptCandidateLanguages[dominant]
	if !ok {
		return defaultLang
	}
	for _, pref := range preferred {
		for _, c := range candidates {
			if pref == c {
				return pref
			}
		}
	}
	return defaultLang
}

func dominantScript(counts map[scriptClass]int) (scriptClass, int, int) {
	var best scriptClass
	bestCount := -1
	distinct := 0
	for sc, c := range counts {
		if c > 0 {
			distinct++
		}
		if c > bestCount {
			best = sc
			bestCount = c
		}
	}
	return best, bestCount, distinct
}

// baseConfidence implements the stepwise thresholds at 5/10/20/50/100
// characters producing 0.60/0.65/0.75/0.85/0.90/0.95.
func baseConfidence(length int) float64 {
	switch {
	case length < 5:
		return 0.60
	case length < 10:
		return 0.65
	case length < 20:
		return 0.75
	case length < 50:
		return 0.85
	case length < 100:
		return 0.90
	default:
		return 0.95
	}
}

// lengthPenalty implements the 0.3/0.2/0 penalty for <5/<10/>=10 characters.
func lengthPenalty(length int) float64 {
	switch {
	case length < 5:
		return 0.3
	case length < 10:
		return 0.2
	default:
		return 0
	}
}
