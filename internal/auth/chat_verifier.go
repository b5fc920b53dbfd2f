package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"
)

// ChatVerifier checks login-widget payloads signed by the chat platform. The
// signing key is SHA-256 of the bot token, derived once at construction.
type ChatVerifier struct {
	key    []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewChatVerifier derives the signing key from the shared bot token. maxAge of
// zero disables the auth date freshness check.
func NewChatVerifier(botToken string, maxAge time.Duration) (*ChatVerifier, error) {
	if botToken == "" {
		return nil, fmt.Errorf("chat verifier: bot token is required")
	}
	sum := sha256.Sum256([]byte(botToken))
	return &ChatVerifier{key: sum[:], maxAge: maxAge, now: time.Now}, nil
}

// Sign returns the hex HMAC-SHA256 of the claim's check string.
func (v *ChatVerifier) Sign(c ChatClaim) string {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(c.DataCheckString()))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether the claimed hash matches. It is pure CPU work.
func (v *ChatVerifier) Verify(c ChatClaim) bool {
	expected := v.Sign(c)
	return ConstantTimeCompare(expected, c.Hash)
}

// Check is Verify plus the optional freshness window, returning ErrInvalidProof
// on any failure.
func (v *ChatVerifier) Check(c ChatClaim) error {
	if !v.Verify(c) {
		return fmt.Errorf("%w: chat hash mismatch", ErrInvalidProof)
	}
	if v.maxAge > 0 {
		if c.AuthDate.IsZero() || v.now().Sub(c.AuthDate) > v.maxAge {
			return fmt.Errorf("%w: chat auth date expired", ErrInvalidProof)
		}
	}
	return nil
}

// ConstantTimeCompare compares two secrets without leaking their common prefix length.
func ConstantTimeCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
