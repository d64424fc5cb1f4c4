package observability

import "strings"

var sensitiveFieldFragments = []string{
	"authorization",
	"cookie",
	"password",
	"secret",
	"signature",
	"token",
	"api_key",
	"apikey",
}

// SanitizeFields redacts values whose keys look credential-bearing. Payment
// signatures and courier tokens must never reach log sinks verbatim.
func SanitizeFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return fields
	}
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		if isSensitiveKey(key) {
			out[key] = "[REDACTED]"
			continue
		}
		out[key] = value
	}
	return out
}

func isSensitiveKey(key string) bool {
	lowered := strings.ToLower(key)
	for _, fragment := range sensitiveFieldFragments {
		if strings.Contains(lowered, fragment) {
			return true
		}
	}
	return false
}

// MaskIdentifier keeps the leading and trailing runes of an identifier and
// masks the middle, for logging gateway ids without exposing them fully.
func MaskIdentifier(id string) string {
	runes := []rune(id)
	if len(runes) <= 8 {
		return "[MASKED]"
	}
	return string(runes[:4]) + strings.Repeat("*", len(runes)-8) + string(runes[len(runes)-4:])
}
