// Package signing produces and checks detached signatures over canonical
// byte forms. Supported algorithms are Ed25519 and RSA-PSS over SHA-256
// (labelled RS256 on the wire). All primitives come from the standard
// crypto library; verification failures are always reported, never treated
// as unsigned.
package signing

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

const (
	AlgEd25519 = "Ed25519"
	AlgRS256   = "RS256"
)

// DefaultMaxAge is the signature freshness window for high-value contexts.
const DefaultMaxAge = 7 * 24 * time.Hour

var (
	// ErrUnsupportedAlgorithm means the alg field names no known scheme.
	ErrUnsupportedAlgorithm = errors.New("signing: unsupported algorithm")
	// ErrInvalidFormat means the signature encoding is malformed.
	ErrInvalidFormat = errors.New("signing: invalid signature format")
	// ErrMismatch means the signature is cryptographically invalid.
	ErrMismatch = errors.New("signing: signature mismatch")
	// ErrKeyType means the supplied key does not match the algorithm.
	ErrKeyType = errors.New("signing: key type does not match algorithm")
	// ErrStale means the signature is valid but older than the caller's
	// freshness window.
	ErrStale = errors.New("signing: signature too old")
)

// Signature is a detached signature over a canonical byte form.
type Signature struct {
	Alg string    `json:"alg"`
	Kid string    `json:"kid"`
	Sig string    `json:"sig"` // base64url, no padding
	TS  time.Time `json:"ts"`
}

// KeyResolver maps a key identifier (DID, JWKS URL, fingerprint) to a
// public key. Resolution is an external collaborator concern; the verifier
// only ever consumes an already-resolved key.
type KeyResolver interface {
	Resolve(kid string) (crypto.PublicKey, error)
}

// Sign signs canonicalBytes with the given private key. The key must match
// the algorithm: ed25519.PrivateKey for Ed25519, *rsa.PrivateKey for RS256.
func Sign(canonicalBytes []byte, key crypto.PrivateKey, alg, kid string) (Signature, error) {
	var raw []byte

	switch alg {
	case AlgEd25519:
		priv, ok := key.(ed25519.PrivateKey)
		if !ok {
			return Signature{}, fmt.Errorf("%w: want ed25519.PrivateKey, got %T", ErrKeyType, key)
		}
		raw = ed25519.Sign(priv, canonicalBytes)

	case AlgRS256:
		priv, ok := key.(*rsa.PrivateKey)
		if !ok {
			return Signature{}, fmt.Errorf("%w: want *rsa.PrivateKey, got %T", ErrKeyType, key)
		}
		digest := sha256.Sum256(canonicalBytes)
		sig, err := rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest[:], nil)
		if err != nil {
			return Signature{}, fmt.Errorf("signing: rsa-pss sign: %w", err)
		}
		raw = sig

	default:
		return Signature{}, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}

	return Signature{
		Alg: alg,
		Kid: kid,
		Sig: base64.RawURLEncoding.EncodeToString(raw),
		TS:  time.Now().UTC(),
	}, nil
}

// Verify checks sig over canonicalBytes with the given public key.
// A nil return means the signature is cryptographically valid. The
// comparison itself is delegated to the crypto library's constant-time
// primitives.
func Verify(canonicalBytes []byte, sig Signature, key crypto.PublicKey) error {
	raw, err := base64.RawURLEncoding.DecodeString(sig.Sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	switch sig.Alg {
	case AlgEd25519:
		pub, ok := key.(ed25519.PublicKey)
		if !ok {
			return fmt.Errorf("%w: want ed25519.PublicKey, got %T", ErrKeyType, key)
		}
		if len(raw) != ed25519.SignatureSize {
			return fmt.Errorf("%w: ed25519 signature is %d bytes", ErrInvalidFormat, len(raw))
		}
		if !ed25519.Verify(pub, canonicalBytes, raw) {
			return ErrMismatch
		}
		return nil

	case AlgRS256:
		pub, ok := key.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("%w: want *rsa.PublicKey, got %T", ErrKeyType, key)
		}
		digest := sha256.Sum256(canonicalBytes)
		if err := rsa.VerifyPSS(pub, crypto.SHA256, digest[:], raw, nil); err != nil {
			return ErrMismatch
		}
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, sig.Alg)
	}
}

// CheckFreshness enforces the caller-side max-age policy: a signature older
// than maxAge is treated as a verification failure even when
// cryptographically valid. A zero maxAge applies DefaultMaxAge.
func CheckFreshness(sig Signature, maxAge time.Duration, now time.Time) error {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if sig.TS.IsZero() {
		return fmt.Errorf("%w: missing ts", ErrInvalidFormat)
	}
	if now.Sub(sig.TS) > maxAge {
		return fmt.Errorf("%w: signed %s ago", ErrStale, now.Sub(sig.TS).Truncate(time.Second))
	}
	return nil
}
