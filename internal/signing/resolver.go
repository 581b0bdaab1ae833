package signing

import (
	"crypto"
	"fmt"
)

// StaticKeys resolves kids from a fixed in-memory set. Suits single-tenant
// deployments where the trusted keys are known at startup.
type StaticKeys map[string]crypto.PublicKey

func (k StaticKeys) Resolve(kid string) (crypto.PublicKey, error) {
	key, ok := k[kid]
	if !ok {
		return nil, fmt.Errorf("signing: unknown kid %q", kid)
	}
	return key, nil
}
