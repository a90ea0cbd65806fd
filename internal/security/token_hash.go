package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashToken returns the hex-encoded SHA-256 digest of a token string. Sessions are indexed by
// these digests so raw access and refresh tokens are never stored.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// TokenHashEqual performs a constant-time comparison of the provided token's digest
// with the stored digest. Returns true only if they match.
func TokenHashEqual(providedToken, storedHash string) bool {
	if providedToken == "" || storedHash == "" {
		return false
	}
	providedHash := HashToken(providedToken)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(storedHash)) == 1
}
