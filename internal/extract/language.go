package extract

import "strings"

// Stopword sets for the two languages the index carries dedicated analyzers
// for. Tiny on purpose: the heuristic only has to separate English from
// French prose, anything else falls back to the configured default.
var (
	englishStopwords = map[string]bool{
		"the": true, "and": true, "of": true, "to": true, "in": true,
		"is": true, "that": true, "it": true, "for": true, "with": true,
		"was": true, "are": true, "this": true, "not": true, "have": true,
	}
	frenchStopwords = map[string]bool{
		"le": true, "la": true, "les": true, "de": true, "des": true,
		"et": true, "est": true, "une": true, "que": true, "pour": true,
		"dans": true, "qui": true, "pas": true, "sur": true, "avec": true,
	}
)

// minStopwordHits is the score a language needs before the heuristic
// commits to it. Below that the text is treated as undetermined.
const minStopwordHits = 3

// DetectLanguage guesses "en" or "fr" from stopword frequency. Returns ""
// when the text carries too little signal to decide.
func DetectLanguage(text string) string {
	var en, fr int
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?'\"()[]")
		if englishStopwords[word] {
			en++
		}
		if frenchStopwords[word] {
			fr++
		}
		if en+fr > 200 {
			break
		}
	}

	switch {
	case en >= minStopwordHits && en > fr:
		return "en"
	case fr >= minStopwordHits && fr > en:
		return "fr"
	default:
		return ""
	}
}

// resolveLanguage applies the precedence order: extractor-reported language
// wins, then the stopword heuristic, then the configured default. A default
// of "auto" means "trust the heuristic", so it never overrides.
func resolveLanguage(reported, text, fallback string) string {
	if reported != "" {
		return normalizeLanguage(reported)
	}
	if detected := DetectLanguage(text); detected != "" {
		return detected
	}
	if fallback != "" && fallback != "auto" {
		return normalizeLanguage(fallback)
	}
	return ""
}

func normalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}
