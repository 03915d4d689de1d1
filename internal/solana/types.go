package solana

import (
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Pubkey is an ed25519 public key (32 bytes).
type Pubkey [32]byte

// PubkeyFromBase58 parses a base58-encoded public key.
func PubkeyFromBase58(s string) (Pubkey, error) {
	var pk Pubkey
	decoded, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("decode pubkey %q: %w", s, err)
	}
	if len(decoded) != 32 {
		return pk, fmt.Errorf("pubkey %q has %d bytes, want 32", s, len(decoded))
	}
	copy(pk[:], decoded)
	return pk, nil
}

// MustPubkey parses a base58 public key and panics on failure. For
// compile-time program id constants only.
func MustPubkey(s string) Pubkey {
	pk, err := PubkeyFromBase58(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// String returns the base58 encoding.
func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

// IsOnCurve reports whether the key is a valid ed25519 curve point.
// Program-derived addresses are deliberately off-curve; a signing authority
// must be on-curve.
func (p Pubkey) IsOnCurve() bool {
	_, err := new(edwards25519.Point).SetBytes(p[:])
	return err == nil
}

// Blockhash is a recent blockhash (32 bytes).
type Blockhash [32]byte

// BlockhashFromBase58 parses a base58-encoded blockhash.
func BlockhashFromBase58(s string) (Blockhash, error) {
	var bh Blockhash
	decoded, err := base58.Decode(s)
	if err != nil {
		return bh, fmt.Errorf("decode blockhash %q: %w", s, err)
	}
	if len(decoded) != 32 {
		return bh, fmt.Errorf("blockhash %q has %d bytes, want 32", s, len(decoded))
	}
	copy(bh[:], decoded)
	return bh, nil
}

// String returns the base58 encoding.
func (b Blockhash) String() string {
	return base58.Encode(b[:])
}

// LatestBlockhash is the getLatestBlockhash result.
type LatestBlockhash struct {
	Blockhash            string
	LastValidBlockHeight int64
}

// AccountInfo represents Solana account information.
type AccountInfo struct {
	Lamports   uint64
	Owner      string
	Data       []byte
	Executable bool
	RentEpoch  uint64
}

// SignatureStatus is one entry of getSignatureStatuses.
type SignatureStatus struct {
	Slot               int64
	Confirmations      *int64
	Err                interface{}
	ConfirmationStatus string // processed | confirmed | finalized
}

// encodeSignature renders a raw 64-byte signature in base58, the form RPC
// methods accept.
func encodeSignature(sig []byte) string {
	return base58.Encode(sig)
}

// Well-known program ids.
var (
	SystemProgram        = MustPubkey("11111111111111111111111111111111")
	ComputeBudgetProgram = MustPubkey("ComputeBudget111111111111111111111111111111")
)
