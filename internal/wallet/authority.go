package wallet

import (
	"fmt"

	"solana-oracle-relay/internal/solana"
)

// MaxUpdaterIndex bounds the updater slot range (1..MaxUpdaterIndex).
const MaxUpdaterIndex = 8

// AuthorizedSet maps authorized public keys to their updater slot. Only
// keys in the table may submit, and the table is static configuration.
type AuthorizedSet struct {
	indexes map[solana.Pubkey]uint8
}

// NewAuthorizedSet builds the table from base58 key -> index entries.
// Indexes must be in 1..MaxUpdaterIndex and keys must be on-curve.
func NewAuthorizedSet(entries map[string]uint8) (*AuthorizedSet, error) {
	indexes := make(map[solana.Pubkey]uint8, len(entries))
	seen := make(map[uint8]string, len(entries))

	for key, idx := range entries {
		if idx < 1 || idx > MaxUpdaterIndex {
			return nil, fmt.Errorf("updater index %d for %s out of range [1,%d]", idx, key, MaxUpdaterIndex)
		}
		pk, err := solana.PubkeyFromBase58(key)
		if err != nil {
			return nil, err
		}
		if !pk.IsOnCurve() {
			return nil, fmt.Errorf("authorized key %s is not on the ed25519 curve", key)
		}
		if prev, ok := seen[idx]; ok {
			return nil, fmt.Errorf("updater index %d assigned to both %s and %s", idx, prev, key)
		}
		seen[idx] = key
		indexes[pk] = idx
	}

	return &AuthorizedSet{indexes: indexes}, nil
}

// IndexFor resolves the updater slot for a public key.
func (s *AuthorizedSet) IndexFor(pk solana.Pubkey) (uint8, error) {
	idx, ok := s.indexes[pk]
	if !ok {
		return 0, fmt.Errorf("%w: key %s is not an authorized updater", ErrAuthentication, pk)
	}
	return idx, nil
}

// Len returns the number of authorized keys.
func (s *AuthorizedSet) Len() int {
	return len(s.indexes)
}
