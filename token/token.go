// --- t4z-server/token/token.go ---
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// OpaqueTokenBytes is the entropy of an admin session token (256 bits).
	OpaqueTokenBytes = 32

	// DefaultSessionHours is the default session lifetime.
	DefaultSessionHours = 8
)

var (
	ErrMalformedToken = errors.New("malformed session token")
	ErrTokenExpired   = errors.New("session token expired")

	opaqueTokenRe = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
)

// SessionPayload is the signed-cookie payload for a school session.
type SessionPayload struct {
	SchoolID   string `json:"school_id"`
	SchoolName string `json:"school_name,omitempty"`
	Exp        int64  `json:"exp"` // unix milliseconds
}

// GenerateOpaqueToken returns a 64-character lowercase hex token from a
// cryptographically secure random source.
func GenerateOpaqueToken() (string, error) {
	b := make([]byte, OpaqueTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// IsValidOpaqueTokenFormat reports whether token is exactly 64 hex characters,
// case-insensitive. Malformed input is rejected before it reaches the database.
func IsValidOpaqueTokenFormat(token string) bool {
	return opaqueTokenRe.MatchString(token)
}

// ComputeExpiry returns now plus the given number of hours. Non-positive
// values fall back to DefaultSessionHours.
func ComputeExpiry(hours int) time.Time {
	if hours <= 0 {
		hours = DefaultSessionHours
	}
	return time.Now().Add(time.Duration(hours) * time.Hour)
}

// SignPayload serializes the payload to JSON, encodes it base64url without
// padding and appends an HMAC-SHA256 signature over the encoded payload:
// encodedPayload + "." + encodedSignature.
func SignPayload(p SessionPayload, secret string) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session payload: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(raw)
	return encoded + "." + signSegment(encoded, secret), nil
}

// VerifySignedToken checks the signature and expiry of a signed token and
// returns the decoded payload. The signature comparison is constant-time;
// unequal-length signatures fail immediately without comparing.
func VerifySignedToken(tok, secret string) (*SessionPayload, error) {
	parts := strings.Split(tok, ".")
	if len(parts) != 2 {
		return nil, ErrMalformedToken
	}
	expected := signSegment(parts[0], secret)
	if len(parts[1]) != len(expected) {
		return nil, ErrMalformedToken
	}
	if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(expected)) != 1 {
		return nil, ErrMalformedToken
	}

	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrMalformedToken
	}
	var p SessionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, ErrMalformedToken
	}
	if p.Exp == 0 || time.Now().UnixMilli() > p.Exp {
		return nil, ErrTokenExpired
	}
	return &p, nil
}

func signSegment(encodedPayload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(encodedPayload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
