package logs

import (
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

// secretPattern defines a pattern for detecting and masking secrets
type secretPattern struct {
	name string
	re   *regexp.Regexp
	mask func(string) string
}

// secretPatterns covers the token shapes that show up in server headers and
// auth flows. Patterns are static, so the regexes compile once.
var secretPatterns = []*secretPattern{
	{
		// GitHub tokens (ghp_, gho_, ghu_, ghs_, ghr_)
		name: "github_token",
		re:   regexp.MustCompile(`\b(gh[poushr]_[A-Za-z0-9]{36,255})\b`),
		mask: func(token string) string {
			if len(token) <= 9 {
				return "****"
			}
			return token[:7] + "***" + token[len(token)-2:]
		},
	},
	{
		// API keys in the sk- family (OpenAI, Anthropic)
		name: "api_key",
		re:   regexp.MustCompile(`\b(sk-[A-Za-z0-9\-_]{20,})\b`),
		mask: func(key string) string {
			if len(key) <= 7 {
				return "****"
			}
			return key[:5] + "***" + key[len(key)-2:]
		},
	},
	{
		// Bearer tokens from Authorization headers
		name: "bearer_token",
		re:   regexp.MustCompile(`\b(Bearer\s+[A-Za-z0-9\-\._~\+\/]+=*)\b`),
		mask: func(token string) string {
			parts := strings.SplitN(token, " ", 2)
			if len(parts) != 2 || len(parts[1]) <= 6 {
				return "Bearer ****"
			}
			return "Bearer " + parts[1][:4] + "***" + parts[1][len(parts[1])-2:]
		},
	},
	{
		// AWS access key ids (AKIA...)
		name: "aws_key",
		re:   regexp.MustCompile(`\b(AKIA[0-9A-Z]{16})\b`),
		mask: func(key string) string {
			return key[:8] + "***" + key[len(key)-2:]
		},
	},
	{
		// JWTs, including the continuation tokens minted for auth callbacks.
		// The header segment is not sensitive; the payload and signature are.
		name: "jwt",
		re:   regexp.MustCompile(`\b(eyJ[A-Za-z0-9\-_]+\.eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+)\b`),
		mask: func(jwt string) string {
			parts := strings.Split(jwt, ".")
			if len(parts) != 3 || len(parts[2]) < 4 {
				return "****"
			}
			return parts[0] + ".***." + parts[2][len(parts[2])-4:]
		},
	},
	{
		// Generic high-entropy strings in assignment or quoted contexts
		name: "high_entropy",
		re:   regexp.MustCompile(`(["']|[=:][\s]*)(["'])?([A-Za-z0-9+/]{32,}={0,2})(["'])?`),
		mask: func(match string) string {
			re := regexp.MustCompile(`(["']|[=:][\s]*)(["'])?([A-Za-z0-9+/]{32,}={0,2})(["'])?`)
			parts := re.FindStringSubmatch(match)
			if len(parts) < 4 {
				return match
			}
			value := parts[3]
			if !hasHighEntropy(value) {
				return match
			}
			return parts[1] + parts[2] + maskValue(value) + parts[4]
		},
	},
}

// resolvedSecrets holds exact secret values resolved at runtime (keyring,
// env) so they can be masked wherever they surface. Package-level so every
// sanitizer instance, including With children, shares one cache.
var resolvedSecrets sync.Map

// RegisterResolvedSecret records a resolved secret value for masking.
// Short values are ignored, masking them would mangle ordinary log text.
func RegisterResolvedSecret(value string) {
	if len(value) < 8 {
		return
	}
	resolvedSecrets.Store(value, struct{}{})
}

// UnregisterResolvedSecret removes a secret value from the mask cache
func UnregisterResolvedSecret(value string) {
	resolvedSecrets.Delete(value)
}

// SecretSanitizer wraps a zapcore.Core and masks secret material in
// messages and fields before they reach the underlying core.
type SecretSanitizer struct {
	zapcore.Core
}

// NewSecretSanitizer creates a sanitizing core that wraps the provided core
func NewSecretSanitizer(core zapcore.Core) *SecretSanitizer {
	return &SecretSanitizer{Core: core}
}

// Write sanitizes the entry and fields before writing
func (s *SecretSanitizer) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	entry.Message = sanitizeString(entry.Message)

	sanitized := make([]zapcore.Field, len(fields))
	for i, field := range fields {
		sanitized[i] = sanitizeField(field)
	}

	return s.Core.Write(entry, sanitized)
}

// With creates a sanitizing child core
func (s *SecretSanitizer) With(fields []zapcore.Field) zapcore.Core {
	sanitized := make([]zapcore.Field, len(fields))
	for i, field := range fields {
		sanitized[i] = sanitizeField(field)
	}
	return &SecretSanitizer{Core: s.Core.With(sanitized)}
}

// Check claims the entry for this core so Write sees it
func (s *SecretSanitizer) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if s.Enabled(entry.Level) {
		return checked.AddCore(entry, s)
	}
	return checked
}

// sanitizeString applies the resolved-secret cache and all patterns
func sanitizeString(str string) string {
	result := str

	resolvedSecrets.Range(func(key, _ interface{}) bool {
		secretValue, ok := key.(string)
		if !ok || secretValue == "" {
			return true
		}
		result = strings.ReplaceAll(result, secretValue, maskValue(secretValue))
		return true
	})

	for _, pattern := range secretPatterns {
		result = pattern.re.ReplaceAllStringFunc(result, pattern.mask)
	}

	return result
}

// sanitizeField sanitizes a single zap field
func sanitizeField(field zapcore.Field) zapcore.Field {
	switch field.Type {
	case zapcore.StringType:
		field.String = sanitizeString(field.String)
	case zapcore.ByteStringType:
		if raw, ok := field.Interface.([]byte); ok {
			field.Interface = []byte(sanitizeString(string(raw)))
		}
	case zapcore.ReflectType:
		// Best effort for complex types: sanitize the string representation
		if stringer, ok := field.Interface.(interface{ String() string }); ok {
			original := stringer.String()
			sanitized := sanitizeString(original)
			if original != sanitized {
				field = zapcore.Field{
					Key:    field.Key,
					Type:   zapcore.StringType,
					String: sanitized,
				}
			}
		}
	}
	return field
}

// maskValue masks a secret value showing a short prefix and suffix
func maskValue(value string) string {
	if len(value) <= 5 {
		return "****"
	}
	if len(value) <= 8 {
		return value[:2] + "****"
	}
	return value[:3] + "***" + value[len(value)-2:]
}

// hasHighEntropy reports whether a string looks like a secret: mostly
// unique characters drawn from at least three character classes.
func hasHighEntropy(s string) bool {
	if len(s) < 16 {
		return false
	}

	charCount := make(map[rune]int)
	for _, char := range s {
		charCount[char]++
	}
	uniqueRatio := float64(len(charCount)) / float64(len(s))

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, char := range s {
		switch {
		case char >= 'A' && char <= 'Z':
			hasUpper = true
		case char >= 'a' && char <= 'z':
			hasLower = true
		case char >= '0' && char <= '9':
			hasDigit = true
		default:
			hasSpecial = true
		}
	}

	varietyScore := 0
	for _, present := range []bool{hasUpper, hasLower, hasDigit, hasSpecial} {
		if present {
			varietyScore++
		}
	}

	return uniqueRatio > 0.6 && varietyScore >= 3
}
