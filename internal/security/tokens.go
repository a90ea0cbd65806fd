package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenMalformed is returned for any token that cannot be trusted: bad encoding, bad signature,
	// unknown kid, unexpected algorithm, wrong issuer or audience, or the wrong token type.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenExpired is returned only for a token whose signature verified but whose exp has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenTypeMismatch is wrapped together with ErrTokenMalformed when an access token is presented
	// where a refresh token is expected, or the other way round.
	ErrTokenTypeMismatch = errors.New("token type mismatch")
	// ErrInvalidTTL is returned by Issue for a non-positive lifetime.
	ErrInvalidTTL = errors.New("token ttl must be positive")
)

// TokenType distinguishes access from refresh tokens. It travels in the "typ" claim.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

func (t TokenType) valid() bool { return t == TokenAccess || t == TokenRefresh }

// Claims is the JWT payload of every token the codec issues.
type Claims struct {
	jwt.RegisteredClaims
	Type TokenType `json:"typ"`
}

// ExpiresAtTime returns exp as a UTC time (zero if absent).
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time.UTC()
}

// IssuedAtTime returns iat as a UTC time (zero if absent).
func (c *Claims) IssuedAtTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time.UTC()
}

// KeyRing holds the signing key and every public key a token may be verified with.
// PublicKey defaults to SigningKey.Public(). Previous maps kid to keys that only verify.
type KeyRing struct {
	SigningKey crypto.Signer
	KeyID      string
	PublicKey  crypto.PublicKey
	Previous   map[string]crypto.PublicKey
}

// TokenCodec issues and verifies typed JWTs using RS256 or ES256, picked from the signing key type.
// It has no side effects; revocation is the session registry's job.
type TokenCodec struct {
	signer   crypto.Signer
	method   jwt.SigningMethod
	kid      string
	current  crypto.PublicKey
	keys     map[string]crypto.PublicKey
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// NewTokenCodec returns a codec signing with ring.SigningKey. issuer and audience are set on every
// token and required on verify; leeway is the tolerated clock skew for exp checks.
func NewTokenCodec(ring KeyRing, issuer, audience string, leeway time.Duration) (*TokenCodec, error) {
	if ring.SigningKey == nil {
		return nil, fmt.Errorf("token codec: signing key required: %w", ErrInvalidKey)
	}
	method, err := signingMethod(ring.SigningKey.Public())
	if err != nil {
		return nil, err
	}
	current := ring.PublicKey
	if current == nil {
		current = ring.SigningKey.Public()
	}
	keys := make(map[string]crypto.PublicKey, len(ring.Previous)+1)
	for kid, pub := range ring.Previous {
		keys[kid] = pub
	}
	if ring.KeyID != "" {
		keys[ring.KeyID] = current
	}
	if leeway < 0 {
		leeway = 0
	}
	return &TokenCodec{
		signer:   ring.SigningKey,
		method:   method,
		kid:      ring.KeyID,
		current:  current,
		keys:     keys,
		issuer:   issuer,
		audience: audience,
		leeway:   leeway,
		now:      time.Now,
	}, nil
}

// WithClock replaces the codec clock. Intended for tests.
func (c *TokenCodec) WithClock(now func() time.Time) *TokenCodec {
	c.now = now
	return c
}

// Issue signs a token of type typ for subject, valid for ttl from now.
func (c *TokenCodec) Issue(subject string, typ TokenType, ttl time.Duration) (string, *Claims, error) {
	if subject == "" || !typ.valid() {
		return "", nil, fmt.Errorf("issue %q token: %w", typ, ErrTokenMalformed)
	}
	if ttl <= 0 {
		return "", nil, ErrInvalidTTL
	}
	jti, err := generateJTI()
	if err != nil {
		return "", nil, err
	}
	now := c.now().UTC()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   subject,
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Type: typ,
	}
	t := jwt.NewWithClaims(c.method, claims)
	if c.kid != "" {
		t.Header["kid"] = c.kid
	}
	signed, err := t.SignedString(c.signer)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Verify checks signature, then issuer, audience and expiry, then the type tag.
func (c *TokenCodec) Verify(token string, want TokenType) (*Claims, error) {
	if token == "" {
		return nil, ErrTokenMalformed
	}
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg(), jwt.SigningMethodES256.Alg()}),
		jwt.WithLeeway(c.leeway),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	if c.audience != "" {
		opts = append(opts, jwt.WithAudience(c.audience))
	}
	_, err := jwt.ParseWithClaims(token, claims, c.keyFor, opts...)
	if err != nil {
		if onlyExpired(err) {
			if claims.Type != want {
				return nil, fmt.Errorf("%w: %w", ErrTokenMalformed, ErrTokenTypeMismatch)
			}
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, ErrTokenMalformed
	}
	if claims.Type != want {
		return nil, fmt.Errorf("%w: %w", ErrTokenMalformed, ErrTokenTypeMismatch)
	}
	return claims, nil
}

// keyFor selects the verification key by kid. Tokens without a kid verify against the current key.
func (c *TokenCodec) keyFor(t *jwt.Token) (interface{}, error) {
	kid, _ := t.Header["kid"].(string)
	pub := c.current
	if kid != "" {
		var ok bool
		if pub, ok = c.keys[kid]; !ok {
			return nil, ErrTokenMalformed
		}
	}
	switch t.Method.(type) {
	case *jwt.SigningMethodRSA:
		if _, ok := pub.(*rsa.PublicKey); ok {
			return pub, nil
		}
	case *jwt.SigningMethodECDSA:
		if _, ok := pub.(*ecdsa.PublicKey); ok {
			return pub, nil
		}
	}
	return nil, ErrTokenMalformed
}

// onlyExpired reports whether err is a claims failure caused by exp alone. A signature failure never
// reaches claim validation, so a true result implies the signature verified.
func onlyExpired(err error) bool {
	if !errors.Is(err, jwt.ErrTokenExpired) {
		return false
	}
	for _, other := range []error{
		jwt.ErrTokenSignatureInvalid,
		jwt.ErrTokenInvalidIssuer,
		jwt.ErrTokenInvalidAudience,
		jwt.ErrTokenUsedBeforeIssued,
		jwt.ErrTokenNotValidYet,
		jwt.ErrTokenRequiredClaimMissing,
	} {
		if errors.Is(err, other) {
			return false
		}
	}
	return true
}

func signingMethod(pub crypto.PublicKey) (jwt.SigningMethod, error) {
	switch KeyAlg(pub) {
	case "RS256":
		return jwt.SigningMethodRS256, nil
	case "ES256":
		return jwt.SigningMethodES256, nil
	default:
		return nil, fmt.Errorf("token codec: unsupported key type %T: %w", pub, ErrInvalidKey)
	}
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
