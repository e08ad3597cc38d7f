package util

import "strings"

// ContainsSuspicious reports markup or template fragments in free-text input.
func ContainsSuspicious(s string) bool {
	lowered := strings.ToLower(s)
	badChars := []string{"<", ">", "${", "{{", "script", "onerror", "onload"}
	for _, c := range badChars {
		if strings.Contains(lowered, c) {
			return true
		}
	}
	return false
}

// NormalizeEmail lowercases and trims an email address for lookups
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
