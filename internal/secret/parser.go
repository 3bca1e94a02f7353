package secret

import (
	"fmt"
	"regexp"
	"strings"
)

// secretRefRegex matches ${type:name} patterns
var secretRefRegex = regexp.MustCompile(`\$\{([^:}]+):([^}]+)\}`)

// ParseSecretRef parses a single secret reference
func ParseSecretRef(input string) (*SecretRef, error) {
	matches := secretRefRegex.FindStringSubmatch(input)
	if len(matches) != 3 {
		return nil, fmt.Errorf("invalid secret reference format: %s", input)
	}

	return &SecretRef{
		Type:     strings.TrimSpace(matches[1]),
		Name:     strings.TrimSpace(matches[2]),
		Original: matches[0],
	}, nil
}

// IsSecretRef returns true if the string contains a secret reference
func IsSecretRef(input string) bool {
	return secretRefRegex.MatchString(input)
}

// FindSecretRefs finds all secret references in a string
func FindSecretRefs(input string) []*SecretRef {
	matches := secretRefRegex.FindAllStringSubmatch(input, -1)
	refs := make([]*SecretRef, 0, len(matches))

	for _, match := range matches {
		if len(match) == 3 {
			refs = append(refs, &SecretRef{
				Type:     strings.TrimSpace(match[1]),
				Name:     strings.TrimSpace(match[2]),
				Original: match[0],
			})
		}
	}

	return refs
}

// MaskSecretValue masks a secret value for safe display
func MaskSecretValue(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	if len(value) <= 8 {
		return value[:2] + "****"
	}
	return value[:3] + "****" + value[len(value)-2:]
}
