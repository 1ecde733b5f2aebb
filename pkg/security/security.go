// Package security provides validation, sanitization, and limits for the delayed package.
package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jdziat/delayed-jobs/pkg/core"
)

// Security limits and configuration
const (
	// MaxTypeNameLength is the maximum length for payload type tags
	MaxTypeNameLength = 255

	// MaxPayloadSize is the maximum size in bytes for an encoded payload (1MB)
	MaxPayloadSize = 1 << 20

	// MaxAttempts is the hard limit for the configurable attempt budget
	MaxAttempts = 100

	// MaxWorkers is the hard limit for worker loops in one process
	MaxWorkers = 256

	// MaxReadAhead is the hard limit for the selector batch size
	MaxReadAhead = 100

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096
)

// validTypeName matches alphanumeric, hyphens, underscores, and dots
var validTypeName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.]*$`)

// ValidateTypeName validates a payload type tag
func ValidateTypeName(name string) error {
	if name == "" {
		return core.ErrInvalidTypeName
	}
	if len(name) > MaxTypeNameLength {
		return core.ErrTypeNameTooLong
	}
	if !validTypeName.MatchString(name) {
		return core.ErrInvalidTypeName
	}
	return nil
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// ClampAttempts keeps a configured attempt budget within [1, MaxAttempts]
func ClampAttempts(n int) int {
	return clamp(n, 1, MaxAttempts)
}

// ClampWorkers keeps the number of worker loops within [1, MaxWorkers]
func ClampWorkers(n int) int {
	return clamp(n, 1, MaxWorkers)
}

// ClampReadAhead keeps the selector batch within [1, MaxReadAhead]
func ClampReadAhead(n int) int {
	return clamp(n, 1, MaxReadAhead)
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
