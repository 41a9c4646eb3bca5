package errors

import (
	"regexp"
	"strings"
	"unicode"
)

// ValidateProductID validates a product identifier for safety.
// Product IDs are used as catalog file names and cache key parts, so the
// rules reject anything that could escape a directory:
//   - No empty IDs
//   - Maximum length of 128 characters
//   - No control characters or null bytes
//   - No path separators or traversal sequences
func ValidateProductID(id string) error {
	if id == "" {
		return New(ErrCodeInvalidInput, "product id cannot be empty")
	}

	if len(id) > 128 {
		return New(ErrCodeInvalidInput, "product id too long (max 128 characters)")
	}

	for _, r := range id {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidInput, "product id contains invalid control characters")
		}
	}

	dangerousPatterns := []string{
		"..",
		"/",
		"\\",
		"\x00",
	}

	for _, pattern := range dangerousPatterns {
		if strings.Contains(id, pattern) {
			return New(ErrCodeInvalidInput, "product id contains invalid characters: %q", pattern)
		}
	}

	return nil
}

// idempotencyKeyRegex matches printable, header-safe keys.
var idempotencyKeyRegex = regexp.MustCompile(`^[A-Za-z0-9._:~-]{1,200}$`)

// ValidateIdempotencyKey validates a caller-supplied idempotency key.
// Keys must be 1-200 characters of letters, digits and ._:~-
func ValidateIdempotencyKey(key string) error {
	if key == "" {
		return New(ErrCodeInvalidInput, "idempotency key cannot be empty")
	}
	if !idempotencyKeyRegex.MatchString(key) {
		return New(ErrCodeInvalidInput, "invalid idempotency key: %q", key)
	}
	return nil
}
