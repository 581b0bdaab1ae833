package signing

import (
	"crypto"
	"encoding/json"
	"fmt"

	"github.com/agentic-exchange/axp/internal/canonical"
)

// SignedObject pairs a signable payload with its detached signature.
// The signature covers the canonical form of Data with any embedded
// signature field stripped.
type SignedObject struct {
	Data      map[string]any `json:"data"`
	Signature Signature      `json:"signature"`
}

// SignObject canonicalizes obj and attaches a detached signature.
func SignObject(obj any, key crypto.PrivateKey, alg, kid string) (*SignedObject, error) {
	canon, err := canonical.Canonicalize(obj)
	if err != nil {
		return nil, fmt.Errorf("canonicalize for signing: %w", err)
	}

	sig, err := Sign(canon, key, alg, kid)
	if err != nil {
		return nil, err
	}

	var data map[string]any
	if err := json.Unmarshal(canon, &data); err != nil {
		return nil, fmt.Errorf("decode canonical form: %w", err)
	}

	return &SignedObject{Data: data, Signature: sig}, nil
}

// VerifyObject re-canonicalizes the object's data and checks the attached
// signature against it, resolving the public key by kid.
func VerifyObject(obj *SignedObject, resolver KeyResolver) error {
	if obj == nil {
		return fmt.Errorf("%w: nil object", ErrInvalidFormat)
	}

	key, err := resolver.Resolve(obj.Signature.Kid)
	if err != nil {
		return fmt.Errorf("resolve key %q: %w", obj.Signature.Kid, err)
	}

	canon, err := canonical.Canonicalize(obj.Data)
	if err != nil {
		return fmt.Errorf("canonicalize for verification: %w", err)
	}

	return Verify(canon, obj.Signature, key)
}
