package service

import (
	"regexp"
	"strings"

	"nexabank-auth/backend/internal/autherr"
	"nexabank-auth/backend/internal/security"
)

const (
	maxHandleLen = 100
	minSecretLen = 8
	maxSecretLen = security.MaxSecretBytes // counted in bytes, as bcrypt does
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func validateHandle(handle string) error {
	if handle == "" {
		return autherr.Invalid("handle is required")
	}
	if len(handle) > maxHandleLen || !emailPattern.MatchString(handle) {
		return autherr.Invalid("handle must be a valid email address")
	}
	return nil
}

func validateSecret(secret string) error {
	if len(secret) < minSecretLen || len(secret) > maxSecretLen {
		return autherr.Invalid("secret must be between 8 and 72 bytes")
	}
	var hasUpper, hasLower, hasNumber, hasSymbol bool
	for _, r := range secret {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasNumber = true
		case r < '0' || (r > '9' && r < 'A') || (r > 'Z' && r < 'a') || r > 'z':
			hasSymbol = true
		}
	}
	if !hasUpper || !hasLower || !hasNumber || !hasSymbol {
		return autherr.Invalid("secret must contain an uppercase letter, a lowercase letter, a number and a symbol")
	}
	return nil
}

// cleanProfile trims keys and values and drops empty entries.
func cleanProfile(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}
