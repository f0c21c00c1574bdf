package textutil

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

const maxFreeTextLength = 2000

var strictPolicy = bluemonday.StrictPolicy()

// SanitizeFreeText strips markup from operator-entered text such as status notes and adjustment
// reasons, unescapes the entities bluemonday produces and caps the length.
func SanitizeFreeText(value string) string {
	cleaned := strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(value)))
	if runes := []rune(cleaned); len(runes) > maxFreeTextLength {
		cleaned = string(runes[:maxFreeTextLength])
	}
	return cleaned
}
