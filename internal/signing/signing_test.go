package signing

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"testing"
	"time"
)

func ed25519Pair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func rsaPair(t *testing.T) (*rsa.PublicKey, *rsa.PrivateKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	return &priv.PublicKey, priv
}

func TestSignVerify_Ed25519RoundTrip(t *testing.T) {
	pub, priv := ed25519Pair(t)
	msg := []byte(`{"a":1,"b":2}`)

	sig, err := Sign(msg, priv, AlgEd25519, "key-1")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if sig.Alg != AlgEd25519 || sig.Kid != "key-1" {
		t.Errorf("signature metadata wrong: %+v", sig)
	}
	if sig.TS.IsZero() {
		t.Error("signature ts must be set")
	}

	if err := Verify(msg, sig, pub); err != nil {
		t.Errorf("Verify valid signature: %v", err)
	}
}

func TestSignVerify_RS256RoundTrip(t *testing.T) {
	pub, priv := rsaPair(t)
	msg := []byte(`{"score":0.82}`)

	sig, err := Sign(msg, priv, AlgRS256, "rsa-key")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := Verify(msg, sig, pub); err != nil {
		t.Errorf("Verify valid signature: %v", err)
	}
}

func TestVerify_SingleByteMutationFails(t *testing.T) {
	pub, priv := ed25519Pair(t)
	msg := []byte(`{"a":1,"b":2}`)

	sig, err := Sign(msg, priv, AlgEd25519, "key-1")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	for i := range msg {
		mutated := make([]byte, len(msg))
		copy(mutated, msg)
		mutated[i] ^= 0x01

		if err := Verify(mutated, sig, pub); !errors.Is(err, ErrMismatch) {
			t.Fatalf("mutation at byte %d: expected ErrMismatch, got %v", i, err)
		}
	}
}

func TestVerify_MalformedEncoding(t *testing.T) {
	pub, _ := ed25519Pair(t)
	sig := Signature{Alg: AlgEd25519, Sig: "!!!not-base64url!!!"}

	if err := Verify([]byte("x"), sig, pub); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("expected ErrInvalidFormat, got %v", err)
	}
}

func TestVerify_WrongLength(t *testing.T) {
	pub, _ := ed25519Pair(t)
	sig := Signature{Alg: AlgEd25519, Sig: "c2hvcnQ"} // "short"

	if err := Verify([]byte("x"), sig, pub); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("expected ErrInvalidFormat, got %v", err)
	}
}

func TestSign_UnsupportedAlgorithm(t *testing.T) {
	_, priv := ed25519Pair(t)
	if _, err := Sign([]byte("x"), priv, "HS256", "k"); !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Errorf("expected ErrUnsupportedAlgorithm, got %v", err)
	}
}

func TestVerify_UnsupportedAlgorithm(t *testing.T) {
	pub, _ := ed25519Pair(t)
	sig := Signature{Alg: "ES256", Sig: "AAAA"}
	if err := Verify([]byte("x"), sig, pub); !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Errorf("expected ErrUnsupportedAlgorithm, got %v", err)
	}
}

func TestSign_KeyTypeMismatch(t *testing.T) {
	_, rsaPriv := rsaPair(t)
	if _, err := Sign([]byte("x"), rsaPriv, AlgEd25519, "k"); !errors.Is(err, ErrKeyType) {
		t.Errorf("expected ErrKeyType, got %v", err)
	}
}

func TestCheckFreshness(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		ts      time.Time
		maxAge  time.Duration
		wantErr error
	}{
		{"fresh", now.Add(-time.Hour), DefaultMaxAge, nil},
		{"exactly at boundary", now.Add(-DefaultMaxAge), 0, nil},
		{"stale past default", now.Add(-8 * 24 * time.Hour), 0, ErrStale},
		{"stale past custom window", now.Add(-2 * time.Hour), time.Hour, ErrStale},
		{"zero ts", time.Time{}, DefaultMaxAge, ErrInvalidFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckFreshness(Signature{TS: tt.ts}, tt.maxAge, now)
			if tt.wantErr == nil && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

type staticResolver map[string]crypto.PublicKey

func (r staticResolver) Resolve(kid string) (crypto.PublicKey, error) {
	key, ok := r[kid]
	if !ok {
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
	return key, nil
}

func TestSignObject_VerifyObject(t *testing.T) {
	pub, priv := ed25519Pair(t)
	resolver := staticResolver{"brand-key": pub}

	payload := map[string]any{
		"subject_id": "sku_123",
		"value":      0.82,
		"window":     90,
	}

	obj, err := SignObject(payload, priv, AlgEd25519, "brand-key")
	if err != nil {
		t.Fatalf("SignObject: %v", err)
	}

	if err := VerifyObject(obj, resolver); err != nil {
		t.Errorf("VerifyObject: %v", err)
	}

	// Tampering with the data must break verification.
	obj.Data["value"] = 0.99
	if err := VerifyObject(obj, resolver); !errors.Is(err, ErrMismatch) {
		t.Errorf("tampered object: expected ErrMismatch, got %v", err)
	}
}

func TestSignObject_KeyReorderingIrrelevant(t *testing.T) {
	pub, priv := ed25519Pair(t)
	resolver := staticResolver{"k": pub}

	a, err := SignObject(map[string]any{"x": 1, "y": 2}, priv, AlgEd25519, "k")
	if err != nil {
		t.Fatalf("SignObject: %v", err)
	}

	// Verification through a map with different insertion order.
	b := &SignedObject{
		Data:      map[string]any{"y": 2.0, "x": 1.0},
		Signature: a.Signature,
	}
	if err := VerifyObject(b, resolver); err != nil {
		t.Errorf("reordered keys must verify: %v", err)
	}
}
