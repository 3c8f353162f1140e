package ingest

import (
	"strings"
	"unicode"
)

// LanguageUnknown is recorded when no signal is strong enough to call a
// language. Detection always runs; unknown is an explicit outcome, not a
// fallback.
const LanguageUnknown = "unknown"

// stopwords per language, chosen for being common and distinctive.
var stopwords = map[string][]string{
	"en": {"the", "and", "is", "of", "to", "in", "that", "it", "with", "for", "was", "are"},
	"de": {"der", "die", "das", "und", "ist", "nicht", "ein", "eine", "mit", "für", "auf", "werden"},
	"fr": {"le", "la", "les", "et", "est", "une", "des", "dans", "que", "pour", "pas", "sur"},
	"es": {"el", "la", "los", "las", "y", "es", "una", "en", "que", "por", "con", "para"},
	"pt": {"o", "a", "os", "as", "e", "é", "uma", "em", "que", "não", "com", "para"},
	"it": {"il", "la", "gli", "e", "è", "una", "che", "di", "non", "con", "per", "sono"},
	"nl": {"de", "het", "een", "en", "is", "van", "niet", "met", "voor", "dat", "zijn", "aan"},
}

// DetectLanguage classifies text by script first, then by stopword
// frequency for Latin-script languages. Returns LanguageUnknown when
// nothing scores.
func DetectLanguage(text string) string {
	if byScript := detectScript(text); byScript != "" {
		return byScript
	}

	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return LanguageUnknown
	}
	seen := make(map[string]int, len(words))
	for _, w := range words {
		seen[strings.Trim(w, ".,;:!?\"'()")]++
	}

	best, bestScore := LanguageUnknown, 0
	for lang, list := range stopwords {
		score := 0
		for _, sw := range list {
			score += seen[sw]
		}
		if score > bestScore {
			best, bestScore = lang, score
		}
	}
	if bestScore == 0 {
		return LanguageUnknown
	}
	return best
}

// detectScript returns a language for scripts that identify one
// directly; empty string means Latin or mixed.
func detectScript(text string) string {
	var han, hiragana, hangul, cyrillic, arabic, total int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		total++
		switch {
		case unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r):
			hiragana++
		case unicode.Is(unicode.Han, r):
			han++
		case unicode.Is(unicode.Hangul, r):
			hangul++
		case unicode.Is(unicode.Cyrillic, r):
			cyrillic++
		case unicode.Is(unicode.Arabic, r):
			arabic++
		}
	}
	if total == 0 {
		return ""
	}
	switch {
	case hiragana*5 > total:
		return "ja"
	case hangul*2 > total:
		return "ko"
	case han*2 > total:
		return "zh"
	case cyrillic*2 > total:
		return "ru"
	case arabic*2 > total:
		return "ar"
	}
	return ""
}
