package util

import (
	"os"
	"strings"
)

var markupReplacer = strings.NewReplacer("<", "", ">", "", "'", "", `"`, "", "&", "")

// Sanitize strips markup-significant characters and trims surrounding
// whitespace. It is applied to every piece of user-supplied text before
// validation or forwarding.
func Sanitize(s string) string {
	return strings.TrimSpace(markupReplacer.Replace(s))
}

// SanitizeHeaderValue removes CR/LF so user-influenced values cannot
// inject additional headers.
func SanitizeHeaderValue(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	return strings.ReplaceAll(s, "\n", "")
}

// ContainsSuspicious reports whether the input looks like an injection
// attempt worth recording as a security event.
func ContainsSuspicious(s string) bool {
	lower := strings.ToLower(s)
	for _, bad := range []string{"<", ">", "$", "{", "}", "script", "onerror", "onload", "javascript:", "data:"} {
		if strings.Contains(lower, bad) {
			return true
		}
	}
	return false
}

// GetEnv returns the environment variable value or a fallback.
func GetEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
