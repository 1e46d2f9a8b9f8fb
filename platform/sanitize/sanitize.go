// Package sanitize cleans free text taken from intake forms and model output
// before it is stored and echoed into emails and SMS.
package sanitize

import (
	"regexp"
	"strings"
)

var (
	htmlTagRegex    = regexp.MustCompile(`<[^>]*>`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

var entityReplacer = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&amp;", "&",
	"&quot;", "\"",
	"&#39;", "'",
	"&nbsp;", " ",
)

// StripHTML removes tags, decodes common entities and strips again so encoded tags don't survive.
func StripHTML(s string) string {
	result := htmlTagRegex.ReplaceAllString(s, "")
	result = entityReplacer.Replace(result)
	result = htmlTagRegex.ReplaceAllString(result, "")
	return strings.TrimSpace(result)
}

// Text strips markup and collapses runs of whitespace, including newlines, to one space.
func Text(s string) string {
	return whitespaceRegex.ReplaceAllString(StripHTML(s), " ")
}

// Field is Text capped at max runes. max <= 0 means no cap.
func Field(s string, max int) string {
	out := Text(s)
	if max <= 0 {
		return out
	}
	if r := []rune(out); len(r) > max {
		return strings.TrimSpace(string(r[:max]))
	}
	return out
}
