package checkpoint

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// blobClaims embeds a serialized Blob inside a standard JWT claim set so a
// checkpoint can be handed across a process boundary (written by one
// process, loaded by another) without the receiver trusting the bytes
// blindly. The same approach backs C6's interrupt resume tokens.
type blobClaims struct {
	jwt.RegisteredClaims
	Blob Blob `json:"blob"`
}

// Signer signs and verifies checkpoint blobs with an HMAC secret. A nil
// *Signer is a valid, explicit choice for callers that only need process-
// local trust (the in-memory store's default).
type Signer struct {
	secret []byte
	ttl    time.Duration
}

// NewSigner builds a Signer. ttl of zero disables expiry.
func NewSigner(secret []byte, ttl time.Duration) *Signer {
	return &Signer{secret: secret, ttl: ttl}
}

// Sign produces a compact JWS carrying blob as its payload.
func (s *Signer) Sign(blob Blob) (string, error) {
	claims := blobClaims{Blob: blob}
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify parses and validates a token produced by Sign, returning the
// embedded Blob. An expired or tampered token is rejected.
func (s *Signer) Verify(tokenString string) (Blob, error) {
	claims := &blobClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return Blob{}, fmt.Errorf("verify checkpoint token: %w", err)
	}
	if !token.Valid {
		return Blob{}, fmt.Errorf("verify checkpoint token: invalid")
	}
	return claims.Blob, nil
}
