package configimport

import (
	"fmt"
	"regexp"
	"strings"
)

// validServerNamePattern matches valid server names: alphanumeric, dash, underscore
var validServerNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidServerName checks whether an imported server name is acceptable
func ValidServerName(name string) error {
	if name == "" {
		return fmt.Errorf("server name cannot be empty")
	}
	if len(name) > 64 {
		return fmt.Errorf("server name cannot exceed 64 characters")
	}
	if !validServerNamePattern.MatchString(name) {
		return fmt.Errorf("server name contains invalid characters: %s (only alphanumeric, dash, underscore allowed)", name)
	}
	return nil
}

// SanitizeServerName attempts to build a valid server name from an invalid
// one. Returns the sanitized name and whether sanitization was needed; the
// name is empty when nothing salvageable remains.
func SanitizeServerName(name string) (string, bool) {
	if ValidServerName(name) == nil {
		return name, false
	}

	trimmed := strings.TrimSpace(name)

	var sanitized strings.Builder
	lastUnderscore := false
	for _, c := range trimmed {
		switch {
		case (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_':
			sanitized.WriteRune(c)
			lastUnderscore = c == '_'
		case c == ' ' || c == '.' || c == '/' || c == '\\':
			// Common separators become underscores, collapsed
			if sanitized.Len() > 0 && !lastUnderscore {
				sanitized.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	result := strings.Trim(sanitized.String(), "_")
	if len(result) > 64 {
		result = result[:64]
	}

	if result == "" || ValidServerName(result) != nil {
		return "", true
	}
	return result, true
}
