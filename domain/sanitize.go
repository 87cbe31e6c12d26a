package domain

import (
	"regexp"
	"strings"

	"chatsync/errors"
)

const MaxContentLength = 1000

var (
	scriptRe = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	tagRe    = regexp.MustCompile(`<[^>]*>`)
)

// SanitizeContent strips markup, trims whitespace and caps the result at
// MaxContentLength runes. Truncation always succeeds; the only failure mode
// is content that is empty once sanitized.
func SanitizeContent(content string) (string, error) {
	cleaned := scriptRe.ReplaceAllString(content, "")
	cleaned = tagRe.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return "", errors.ErrEmptyMessage
	}
	if runes := []rune(cleaned); len(runes) > MaxContentLength {
		cleaned = string(runes[:MaxContentLength])
	}
	return cleaned, nil
}
