// Package redact scrubs secrets and bulk from what a run records about each request.
package redact

import "strings"

const (
	// Mask replaces sensitive header values.
	Mask = "***REDACTED***"

	// DefaultMaxLen is the number of characters of a response body kept in a step result.
	DefaultMaxLen = 500

	truncatedSuffix = "...[truncated]"
)

var sensitiveHeaders = map[string]struct{}{
	"authorization": {},
	"cookie":        {},
	"x-csrf-token":  {},
	"x-api-key":     {},
}

// Headers returns a copy of h with sensitive values masked. Names are matched case-insensitively.
func Headers(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))

	for name, value := range h {
		if _, ok := sensitiveHeaders[strings.ToLower(name)]; ok {
			out[name] = Mask
		} else {
			out[name] = value
		}
	}

	return out
}

// Response truncates text to maxLen characters. A non-positive maxLen uses DefaultMaxLen.
func Response(text string, maxLen int) string {
	if text == "" {
		return ""
	}

	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}

	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}

	return string(runes[:maxLen]) + truncatedSuffix
}
