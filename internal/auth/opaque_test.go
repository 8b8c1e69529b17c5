package auth

import "testing"

func TestNewOpaqueToken(t *testing.T) {
	raw, hash, err := NewOpaqueToken()
	if err != nil {
		t.Fatalf("NewOpaqueToken: %v", err)
	}
	if len(raw) != 43 || len(hash) != 64 {
		t.Fatalf("unexpected lengths: raw=%d hash=%d", len(raw), len(hash))
	}
	if HashOpaqueToken(raw) != hash {
		t.Fatalf("hash mismatch")
	}
	raw2, _, _ := NewOpaqueToken()
	if raw2 == raw {
		t.Fatalf("tokens must differ")
	}
}
