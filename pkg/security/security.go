package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/campuscode/harvest/pkg/core"
)

// Limits for stream and consumer identifiers and stored error text.
const (
	// MaxStreamKeyLength is the maximum length for stream keys
	MaxStreamKeyLength = 255

	// MaxConsumerNameLength is the maximum length for consumer group and
	// consumer names
	MaxConsumerNameLength = 255

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096

	// MaxPendingScan is the hard limit for one recovery scan
	MaxPendingScan = 10000

	// MaxClientRetries is the hard limit for throttling retries
	MaxClientRetries = 10
)

// validName matches alphanumeric plus separators used in stream and
// consumer identifiers (e.g. "harvest:challenge-check").
var validName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.:]*$`)

// ValidateStreamKey validates a stream key
func ValidateStreamKey(key string) error {
	if key == "" {
		return core.ErrInvalidStreamKey
	}
	if len(key) > MaxStreamKeyLength {
		return core.ErrInvalidStreamKey
	}
	if !validName.MatchString(key) {
		return core.ErrInvalidStreamKey
	}
	return nil
}

// ValidateConsumerName validates a consumer group or consumer name
func ValidateConsumerName(name string) error {
	if name == "" {
		return core.ErrInvalidConsumerName
	}
	if len(name) > MaxConsumerNameLength {
		return core.ErrInvalidConsumerName
	}
	if !validName.MatchString(name) {
		return core.ErrInvalidConsumerName
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

	// Truncate if too long
	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// ClampPendingScan ensures a recovery scan size is within limits
func ClampPendingScan(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxPendingScan {
		return MaxPendingScan
	}
	return n
}

// ClampRetries ensures a client retry count is within limits
func ClampRetries(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxClientRetries {
		return MaxClientRetries
	}
	return n
}
