package tts

import (
	"strings"

	"golang.org/x/text/language"
)

// NormalizeLanguage canonicalizes a BCP 47 tag ("en_us" → "en-US").
// It returns false for tags that cannot be parsed.
func NormalizeLanguage(lang string) (string, bool) {
	tag, err := language.Parse(strings.ReplaceAll(strings.TrimSpace(lang), "_", "-"))
	if err != nil || tag == language.Und {
		return "", false
	}
	return tag.String(), true
}

// BaseLanguage returns the primary language subtag ("en-US" → "en").
func BaseLanguage(lang string) string {
	tag, err := language.Parse(strings.ReplaceAll(lang, "_", "-"))
	if err != nil {
		return strings.ToLower(lang)
	}
	base, _ := tag.Base()
	return base.String()
}
