package security

import (
	"regexp"
	"strings"
)

// Patterns of credentials that may leak into error text.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|secret|access[_-]?token|password)[=:\s]+["']?([^\s"'&]+)`),
	regexp.MustCompile(`(?i)bearer\s+([A-Za-z0-9_\-\.]+)`),
	regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`eyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+`), // JWTs
}

// MaskCredential masks a credential value for display.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// MaskSensitive masks credentials embedded in free text such as upstream
// error messages.
func MaskSensitive(input string) string {
	result := input
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			// The secret is the last group, or the whole match when the
			// pattern has no groups.
			sub := pattern.FindStringSubmatch(match)
			secret := sub[len(sub)-1]
			return strings.Replace(match, secret, MaskCredential(secret), 1)
		})
	}
	return result
}
