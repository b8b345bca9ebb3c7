// Package auth issues and verifies the stateless signed bearer tokens used
// at the HTTP boundary. A token is base64url(payload) "." base64url(mac)
// where the mac is HMAC-SHA256 over the payload bytes with a shared secret.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

type claims struct {
	PlayerID string `json:"playerID"`
	Role     string `json:"role"`
	Exp      int64  `json:"exp"`
}

type Signer struct {
	secret []byte
	ttl    time.Duration

	// now is swappable for tests.
	now func() time.Time
}

func NewSigner(secret string, ttl time.Duration) *Signer {
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Sign issues a token for playerID with the configured expiry.
func (s *Signer) Sign(playerID string) (string, error) {
	payload, err := json.Marshal(claims{
		PlayerID: playerID,
		Role:     "user",
		Exp:      s.now().Add(s.ttl).Unix(),
	})
	if err != nil {
		return "", err
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString(payload) + "." + enc.EncodeToString(s.mac(payload)), nil
}

// Verify checks the token's signature and expiry and returns the player
// identity it was issued for.
func (s *Signer) Verify(token string) (string, error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 2 {
		return "", ErrInvalidToken
	}
	enc := base64.RawURLEncoding
	payload, err := enc.DecodeString(parts[0])
	if err != nil {
		return "", ErrInvalidToken
	}
	sig, err := enc.DecodeString(parts[1])
	if err != nil {
		return "", ErrInvalidToken
	}
	if !hmac.Equal(sig, s.mac(payload)) {
		return "", ErrInvalidToken
	}
	var c claims
	if err := json.Unmarshal(payload, &c); err != nil {
		return "", ErrInvalidToken
	}
	if c.PlayerID == "" {
		return "", ErrInvalidToken
	}
	if s.now().Unix() >= c.Exp {
		return "", ErrExpiredToken
	}
	return c.PlayerID, nil
}

func (s *Signer) mac(payload []byte) []byte {
	h := hmac.New(sha256.New, s.secret)
	h.Write(payload)
	return h.Sum(nil)
}
