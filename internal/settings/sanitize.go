package settings

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/freegpt4/webapi/internal/apperr"
)

// Length limits for free-text input.
const (
	MaxFieldLength    = 1000
	MaxUsernameLength = 50
	MaxQuestionLength = 10000
	MaxModelLength    = 100
)

var strictPolicy = bluemonday.StrictPolicy()

// StripControl removes C0 and C1 control characters except tab, newline
// and carriage return, then truncates to max runes and trims space.
func StripControl(s string, max int) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	n := 0
	for _, r := range s {
		if r == utf8.RuneError || isControl(r) {
			continue
		}
		if max > 0 && n >= max {
			break
		}
		b.WriteRune(r)
		n++
	}
	return strings.TrimSpace(b.String())
}

func isControl(r rune) bool {
	switch {
	case r == '\t' || r == '\n' || r == '\r':
		return false
	case r <= 0x1f:
		return true
	case r >= 0x7f && r <= 0x9f:
		return true
	}
	return false
}

// SanitizeField cleans a single-line identifier such as a keyword, model
// or username. Control characters are stripped; input that the strict
// markup policy would alter is rejected rather than rewritten, so the
// stored value is always the one submitted.
func SanitizeField(field, s string, max int) (string, error) {
	s = StripControl(s, max)
	if html.UnescapeString(strictPolicy.Sanitize(s)) != s {
		return "", apperr.Validationf("%s must not contain markup", field)
	}
	return s, nil
}

// SanitizeText cleans free text such as a system prompt or a question.
// Markup is kept because prompts legitimately contain angle brackets.
func SanitizeText(s string, max int) string {
	return StripControl(s, max)
}
