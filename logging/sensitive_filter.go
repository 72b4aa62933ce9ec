package logging

import (
	"regexp"
	"strings"
)

// RedactedPlaceholder is the string used to replace sensitive data
const RedactedPlaceholder = "[REDACTED]"

// sensitivePatterns match credential shapes that can appear in provider
// errors and request URLs. Content fingerprints are 64 hex characters and
// must not match any of these.
var sensitivePatterns = []*regexp.Regexp{
	// OpenRouter keys
	regexp.MustCompile(`sk-or-v1-[a-zA-Z0-9]{20,}`),
	// OpenAI-style keys, which Requesty also issues
	regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),
	// Google API keys
	regexp.MustCompile(`AIza[a-zA-Z0-9_-]{35}`),
	// Authorization headers
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._~+/=-]{16,}`),
	// Gemini ?key= query parameter
	regexp.MustCompile(`[?&]key=[^&\s"]+`),
	regexp.MustCompile(`(?i)(api_key|apikey|secret|password|token)\s*[:=]\s*[^\s,;"]{8,}`),
}

// sensitiveFieldNames are substrings of field or env var names whose values are always redacted.
var sensitiveFieldNames = []string{
	"API_KEY",
	"APIKEY",
	"SECRET",
	"PASSWORD",
	"TOKEN",
	"AUTHORIZATION",
	"SEALED",
}

// RedactSensitiveData replaces credential-shaped substrings of value.
//
// Example:
//
//	RedactSensitiveData("GET /models/x:generateContent?key=AIzaSy...")
//	// "GET /models/x:generateContent?key=[REDACTED]"
func RedactSensitiveData(value string) string {
	if value == "" {
		return value
	}
	result := value
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			// Keep the query prefix so the URL stays readable
			if strings.HasPrefix(match, "?key=") || strings.HasPrefix(match, "&key=") {
				return match[:5] + RedactedPlaceholder
			}
			return RedactedPlaceholder
		})
	}
	return result
}

// IsSensitiveField reports whether a field name indicates a secret value.
//
// Example:
//
//	IsSensitiveField("openrouter_api_key") // true
//	IsSensitiveField("fingerprint")        // false
func IsSensitiveField(fieldName string) bool {
	upper := strings.ToUpper(fieldName)
	for _, name := range sensitiveFieldNames {
		if strings.Contains(upper, name) {
			return true
		}
	}
	return false
}

// ContainsSensitiveData reports whether value contains any credential pattern.
func ContainsSensitiveData(value string) bool {
	for _, pattern := range sensitivePatterns {
		if pattern.MatchString(value) {
			return true
		}
	}
	return false
}
