// Package utils provides identifier helpers shared across the pipeline.
package utils

import (
	"strings"

	"github.com/google/uuid"
)

// SanitizeIdentifier makes an identifier safe for git ref names and filesystem
// paths. Git refs must not contain spaces, "..", "~", "^", ":", "?", "*", "["
// or consecutive slashes.
func SanitizeIdentifier(id string) string {
	sanitized := strings.ReplaceAll(id, " ", "-")
	sanitized = strings.ReplaceAll(sanitized, ":", "-")
	sanitized = strings.ReplaceAll(sanitized, "\\", "-")
	sanitized = strings.ReplaceAll(sanitized, "..", "-")
	for _, ch := range []string{"~", "^", "?", "*", "["} {
		sanitized = strings.ReplaceAll(sanitized, ch, "-")
	}
	sanitized = strings.Trim(sanitized, "-/.")
	return sanitized
}

// NewRequestID generates a globally unique request identifier.
func NewRequestID() string {
	return uuid.NewString()
}

// ShortID returns the first 8 characters of an identifier for log-friendly
// output.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// TruncateTitle shortens free-form task text to a single-line title.
func TruncateTitle(text string) string {
	const maxTitle = 72
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	text = strings.TrimSpace(text)
	if len(text) > maxTitle {
		text = strings.TrimSpace(text[:maxTitle-3]) + "..."
	}
	return text
}
