package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestTokenCodecRoundTrip(t *testing.T) {
	c := NewTokenCodec([]byte("0123456789abcdef0123456789abcdef"), time.Hour)

	raw, issued, err := c.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	got, err := c.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.UserID != "user-1" || got.TokenID != issued.TokenID {
		t.Fatalf("unexpected claims: %+v", got)
	}
	if !got.ExpiresAt.Equal(issued.ExpiresAt) {
		t.Fatalf("expires mismatch: %s vs %s", got.ExpiresAt, issued.ExpiresAt)
	}
}

func TestTokenCodecExpired(t *testing.T) {
	c := NewTokenCodec([]byte("secret"), time.Minute)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return start }

	raw, _, err := c.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	c.now = func() time.Time { return start.Add(2 * time.Minute) }
	if _, err := c.Parse(raw); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestTokenCodecRejectsOtherSecret(t *testing.T) {
	a := NewTokenCodec([]byte("secret-a"), time.Hour)
	b := NewTokenCodec([]byte("secret-b"), time.Hour)

	raw, _, err := a.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := b.Parse(raw); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestTokenCodecRejectsGarbage(t *testing.T) {
	c := NewTokenCodec([]byte("secret"), time.Hour)
	for _, raw := range []string{"", "abc", strings.Repeat("x.", 2) + "x"} {
		if _, err := c.Parse(raw); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("expected ErrTokenInvalid for %q, got %v", raw, err)
		}
	}
}
