package usecase

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

// HTMLFilter is the default domain.TextFilter: it strips control characters,
// caps the rune count and HTML-escapes the result.
type HTMLFilter struct{}

// controlChars matches control characters except tab and newline
var controlChars = regexp.MustCompile(`[\x00-\x08\x0B-\x1F\x7F]`)

var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*/?\s*(script|iframe|object|embed|svg|style)\b`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)vbscript\s*:`),
	regexp.MustCompile(`(?i)data\s*:\s*text/html`),
	regexp.MustCompile(`(?i)\bon[a-z]+\s*=`),
}

// Sanitize trims text, removes control characters, caps it at maxLen runes
// and escapes HTML metacharacters
func (HTMLFilter) Sanitize(text string, maxLen int) string {
	text = controlChars.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)

	if maxLen > 0 && utf8.RuneCountInString(text) > maxLen {
		text = strings.TrimSpace(string([]rune(text)[:maxLen]))
	}

	return html.EscapeString(text)
}

// IsSuspicious flags markup and URL schemes that are never legitimate chat
func (HTMLFilter) IsSuspicious(text string) bool {
	for _, re := range suspiciousPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
