// Package wallet loads the controller's signing keypair and resolves its
// authorized updater slot. Key material never leaves this process; the
// relay worker holds no secrets.
package wallet

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"solana-oracle-relay/internal/solana"
)

// ErrAuthentication indicates bad or unauthorized key material. Fatal at
// startup.
var ErrAuthentication = errors.New("authentication failed")

// Keypair is an ed25519 signing keypair.
type Keypair struct {
	priv ed25519.PrivateKey
	pub  solana.Pubkey
}

// Load reads a keypair file: a JSON array of 64 bytes (32-byte seed
// followed by the 32-byte public key), the standard CLI wallet format.
func Load(path string) (*Keypair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read keypair file: %v", ErrAuthentication, err)
	}

	var bytes []int
	if err := json.Unmarshal(raw, &bytes); err != nil {
		return nil, fmt.Errorf("%w: keypair file is not a JSON byte array: %v", ErrAuthentication, err)
	}

	buf := make([]byte, len(bytes))
	for i, v := range bytes {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("%w: keypair byte %d out of range", ErrAuthentication, i)
		}
		buf[i] = byte(v)
	}

	return FromBytes(buf)
}

// FromBytes builds a keypair from 64 raw bytes.
func FromBytes(b []byte) (*Keypair, error) {
	if len(b) != 64 {
		return nil, fmt.Errorf("%w: keypair has %d bytes, want 64", ErrAuthentication, len(b))
	}

	priv := ed25519.NewKeyFromSeed(b[:32])
	derived := priv.Public().(ed25519.PublicKey)

	var pub solana.Pubkey
	copy(pub[:], b[32:])

	// The stored public half must match the seed, and a signing authority
	// must be an on-curve point (off-curve keys are program addresses).
	if !bytesEqual(derived, pub[:]) {
		return nil, fmt.Errorf("%w: public key does not match seed", ErrAuthentication)
	}
	if !pub.IsOnCurve() {
		return nil, fmt.Errorf("%w: public key %s is not on the ed25519 curve", ErrAuthentication, pub)
	}

	return &Keypair{priv: priv, pub: pub}, nil
}

// Public returns the public key.
func (k *Keypair) Public() solana.Pubkey {
	return k.pub
}

// Sign signs message bytes.
func (k *Keypair) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(k.priv, message), nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
