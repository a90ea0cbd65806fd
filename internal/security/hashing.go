package security

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidHash is returned when a stored hash is in no supported format.
var ErrInvalidHash = errors.New("invalid password hash")

// argon2id verification refuses parameters above these bounds so a tampered row cannot
// make a single login burn unbounded CPU or memory.
const (
	argonMaxMemoryKiB = 256 * 1024
	argonMaxTime      = 10
	argonMaxThreads   = 16
	argonMaxKeyLen    = 128
)

// MaxSecretBytes is the longest secret bcrypt hashes without truncation.
const MaxSecretBytes = 72

// Hasher hashes and verifies principal secrets. New hashes are bcrypt; argon2id PHC strings
// written by older NexaBank services are still accepted on verify. Callers must not log or
// persist plaintext secrets.
type Hasher struct {
	Cost int
}

// NewHasher returns a Hasher with the given bcrypt cost (4–31). Cost 12 is a
// reasonable default for interactive login.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{Cost: cost}
}

// Hash produces a bcrypt hash of secret suitable for storage. Secrets longer than MaxSecretBytes
// are refused with bcrypt.ErrPasswordTooLong.
func (h *Hasher) Hash(secret []byte) (string, error) {
	if len(secret) > MaxSecretBytes {
		return "", bcrypt.ErrPasswordTooLong
	}
	b, err := bcrypt.GenerateFromPassword(secret, h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare verifies secret against the stored hash. Returns nil on match, an error otherwise
// (bcrypt.ErrMismatchedHashAndPassword, or ErrInvalidHash for unknown formats).
func (h *Hasher) Compare(storedHash string, secret []byte) error {
	if strings.HasPrefix(storedHash, "$argon2id$") {
		ok, err := verifyArgon2id(storedHash, secret)
		if err != nil {
			return err
		}
		if !ok {
			return bcrypt.ErrMismatchedHashAndPassword
		}
		return nil
	}
	return bcrypt.CompareHashAndPassword([]byte(storedHash), secret)
}

// Verify is the boolean form of Compare: true only when secret matches storedHash.
func (h *Hasher) Verify(secret []byte, storedHash string) bool {
	if storedHash == "" {
		return false
	}
	return h.Compare(storedHash, secret) == nil
}

// verifyArgon2id checks secret against $argon2id$v=19$m=..,t=..,p=..$salt$hash.
func verifyArgon2id(encoded string, secret []byte) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, ErrInvalidHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, ErrInvalidHash
	}
	var mem, iters uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iters, &threads); err != nil {
		return false, ErrInvalidHash
	}
	if mem == 0 || iters == 0 || threads == 0 ||
		mem > argonMaxMemoryKiB || iters > argonMaxTime || threads > argonMaxThreads {
		return false, ErrInvalidHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return false, ErrInvalidHash
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 || len(want) > argonMaxKeyLen {
		return false, ErrInvalidHash
	}
	got := argon2.IDKey(secret, salt, iters, mem, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
