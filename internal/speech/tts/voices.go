package tts

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultLanguage is used when no voice exists for the requested language.
const DefaultLanguage = "en"

var ErrUnsupportedRate = errors.New("tts: unsupported speech rate")

// Rates is the discrete set of speed multipliers offered to readers.
var Rates = []float64{0.5, 0.75, 1, 1.25, 1.5, 1.75, 2}

// ValidRate reports whether r is one of Rates.
func ValidRate(r float64) bool {
	d := decimal.NewFromFloat(r)
	for _, rate := range Rates {
		if d.Equal(decimal.NewFromFloat(rate)) {
			return true
		}
	}
	return false
}

// ParseRate accepts "1.25", "1.25x" or "1.25×".
func ParseRate(s string) (float64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimSuffix(strings.TrimSuffix(s, "x"), "×")

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse rate %q: %w", s, err)
	}
	for _, rate := range Rates {
		if d.Equal(decimal.NewFromFloat(rate)) {
			return rate, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedRate, d.String())
}

// SelectVoice picks the default voice for lang. A voice of the requested
// gender wins, then the first voice of the language, then the same search in
// DefaultLanguage.
func SelectVoice(voices []Voice, lang, gender string) (Voice, bool) {
	if v, ok := selectForLanguage(voices, lang, gender); ok {
		return v, true
	}
	return selectForLanguage(voices, DefaultLanguage, gender)
}

func selectForLanguage(voices []Voice, lang, gender string) (Voice, bool) {
	var first *Voice
	for i := range voices {
		v := &voices[i]
		if !MatchesLanguage(v.Language, lang) {
			continue
		}
		if gender != "" && strings.EqualFold(v.Gender, gender) {
			return *v, true
		}
		if first == nil {
			first = v
		}
	}
	if first == nil {
		return Voice{}, false
	}
	return *first, true
}

// MatchesLanguage treats "en" as matching "en-US" and "en_GB".
func MatchesLanguage(voiceLang, lang string) bool {
	v := normalizeLanguage(voiceLang)
	l := normalizeLanguage(lang)
	if v == "" || l == "" {
		return false
	}
	return v == l || strings.HasPrefix(v, l+"-")
}

func normalizeLanguage(lang string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(lang)), "_", "-")
}
