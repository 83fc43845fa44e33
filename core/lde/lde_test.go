package lde

import (
	"errors"
	"testing"

	"github.com/bridgify-labs/tclcore/core/domain"
	"github.com/bridgify-labs/tclcore/pkg/apperr"
)

func TestPrimary_EnglishText(t *testing.T) {
	p := NewPrimary()
	result, err := p.Detect("This is a sample English text for testing purposes.", domain.DetectionOptions{}, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Language != "eng" {
		t.Errorf("expected eng, got %s", result.Language)
	}
	if result.Confidence <= 0.5 {
		t.Errorf("expected confidence > 0.5, got %f", result.Confidence)
	}
	if result.Source != domain.SourcePrimary {
		t.Errorf("expected source primary, got %s", result.Source)
	}
}

func TestPrimary_MixedScriptLowConfidence(t *testing.T) {
	p := NewPrimary()
	_, err := p.Detect("漢字とEnglishの Mixed Text", domain.DetectionOptions{MinConfidence: 0.9}, 1000)
	if err == nil {
		t.Fatal("expected LowConfidence error")
	}
	var appErr *apperr.AppError
	if !errors.As(err, &appErr) || appErr.Code != apperr.CodeLowConfidence {
		t.Fatalf("expected LowConfidence app error, got %v", err)
	}
}

func TestPrimary_EmptyTextInvalid(t *testing.T) {
	p := NewPrimary()
	if _, err := p.Detect("", domain.DetectionOptions{}, 1000); err == nil {
		t.Fatal("expected InvalidInput error for empty text")
	}
}

func TestFallback_Japanese(t *testing.T) {
	f := NewFallback()
	result, err := f.Detect("これは日本語のテストです", 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Language != "jpn" {
		t.Errorf("expected jpn, got %s", result.Language)
	}
	if result.Confidence < 0.3 {
		t.Errorf("expected confidence >= 0.3, got %f", result.Confidence)
	}
}

func TestFallback_MixedScriptCapped(t *testing.T) {
	f := NewFallback()
	result, err := f.Detect("漢字とEnglishの Mixed Text", 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Confidence > 0.8 {
		t.Errorf("expected confidence <= 0.8 for mixed script, got %f", result.Confidence)
	}
}

func TestFallback_DigitsOnlyReturnsEnglishLowConfidence(t *testing.T) {
	f := NewFallback()
	result, err := f.Detect("123456!!!", 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Language != "eng" {
		t.Errorf("expected eng, got %s", result.Language)
	}
	if result.Confidence > 0.5 {
		t.Errorf("expected confidence <= 0.5, got %f", result.Confidence)
	}
}

func TestFallback_SingleScriptUniversalProperty(t *testing.T) {
	cases := map[string]string{
		"привет мир это тест": "rus",
		"안녕하세요 테스트입니다":         "kor",
		"مرحبا بكم في هذا": "ara",
	}
	f := NewFallback()
	for text, wantLang := range cases {
		result, err := f.Detect(text, 1000)
		if err != nil {
			t.Errorf("unexpected error for %q: %v", text, err)
			continue
		}
		if result.Language != wantLang {
			t.Errorf("Detect(%q) language = %s, want %s", text, result.Language, wantLang)
		}
		if result.Confidence < 0.3 {
			t.Errorf("Detect(%q) confidence = %f, want >= 0.3", text, result.Confidence)
		}
	}
}
