// Package token issues and verifies the signed bearer tokens that prove
// identity between requests. Tokens are HS256 JWTs carrying the username,
// the session ID, and a fixed 24-hour expiry.
//
// Cryptographic validity is deliberately decoupled from session validity:
// a token that verifies here may still belong to a revoked session, which
// the session manager decides.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuerName = "blogauth"

// TokenTTL is the fixed lifetime of an issued bearer token.
const TokenTTL = 24 * time.Hour

var (
	// ErrInvalidToken indicates a missing, malformed, or badly signed token.
	ErrInvalidToken = errors.New("token: invalid token")
	// ErrTokenExpired indicates a well-formed token past its expiry.
	ErrTokenExpired = errors.New("token: token expired")
)

// Claims are the verified contents of a bearer token.
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Username returns the token subject.
func (c *Claims) Username() string { return c.Subject }

// Issuer signs and verifies bearer tokens. The signing secret lives in a
// memguard enclave and is only materialized for the duration of a single
// sign or verify call.
type Issuer struct {
	secret *memguard.Enclave
	now    func() time.Time
}

// NewIssuer creates an Issuer from the given signing secret. The caller's
// copy of the secret may be discarded afterwards.
func NewIssuer(secret []byte) (*Issuer, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("signing secret must be at least 32 bytes, got %d", len(secret))
	}
	return &Issuer{
		secret: memguard.NewEnclave(secret),
		now:    time.Now,
	}, nil
}

// Issue signs a token binding username to sessionID with the fixed TTL.
func (i *Issuer) Issue(username, sessionID string) (string, error) {
	if username == "" {
		return "", fmt.Errorf("username is required")
	}
	now := i.now().UTC()
	claims := Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerName,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
			ID:        uuid.NewString(),
		},
	}

	buf, err := i.secret.Open()
	if err != nil {
		return "", fmt.Errorf("opening signing secret: %w", err)
	}
	defer buf.Destroy()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of a raw token and returns its
// claims. Signature and structural failures map to ErrInvalidToken; a valid
// signature past its expiry maps to ErrTokenExpired.
func (i *Issuer) Verify(raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrInvalidToken
	}
	buf, err := i.secret.Open()
	if err != nil {
		return nil, fmt.Errorf("opening signing secret: %w", err)
	}
	defer buf.Destroy()

	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return buf.Bytes(), nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != issuerName || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Fingerprint returns a short prefix of the token for audit records. The
// full token is a live credential and must never be persisted.
func Fingerprint(raw string) string {
	const n = 12
	if len(raw) <= n {
		return raw
	}
	return raw[:n] + "..."
}
