package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	s := NewSigner("secret", 30*time.Minute)
	token, err := s.Sign("alice")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	player, err := s.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if player != "alice" {
		t.Fatalf("player = %q, want alice", player)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	s := NewSigner("secret", 30*time.Minute)
	token, err := s.Sign("alice")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	parts := strings.Split(token, ".")
	forged := parts[0] + "x." + parts[1]
	if _, err := s.Verify(forged); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("tampered payload: err = %v, want ErrInvalidToken", err)
	}

	other := NewSigner("different secret", 30*time.Minute)
	if _, err := other.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret: err = %v, want ErrInvalidToken", err)
	}

	for _, bad := range []string{"", "abc", "a.b.c", "!!!.???"} {
		if _, err := s.Verify(bad); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Verify(%q) = %v, want ErrInvalidToken", bad, err)
		}
	}
}

func TestVerifyExpiry(t *testing.T) {
	s := NewSigner("secret", 30*time.Minute)
	issued := time.Now()
	s.now = func() time.Time { return issued }

	token, err := s.Sign("alice")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	s.now = func() time.Time { return issued.Add(29 * time.Minute) }
	if _, err := s.Verify(token); err != nil {
		t.Fatalf("token expired early: %v", err)
	}

	s.now = func() time.Time { return issued.Add(31 * time.Minute) }
	if _, err := s.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("err = %v, want ErrExpiredToken", err)
	}
}
