package solana

import "context"

// RPCClient defines the Solana RPC HTTP surface the relay consumes.
type RPCClient interface {
	// GetLatestBlockhash retrieves a recent blockhash and the last block
	// height at which it remains valid.
	GetLatestBlockhash(ctx context.Context) (*LatestBlockhash, error)

	// GetAccountInfo retrieves account info by public key; nil if the
	// account does not exist.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)

	// GetBalance retrieves the lamport balance of an account.
	GetBalance(ctx context.Context, pubkey string) (uint64, error)

	// SendTransaction submits a signed, serialized transaction and returns
	// its signature.
	SendTransaction(ctx context.Context, txBase64 string) (string, error)

	// GetSignatureStatuses retrieves confirmation status for signatures.
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error)

	// GetBlockHeight retrieves the current block height.
	GetBlockHeight(ctx context.Context) (int64, error)

	// GetSlot retrieves the current slot.
	GetSlot(ctx context.Context) (int64, error)
}
