// Package txbuilder assembles, signs, and submits oracle price transactions.
// It owns the blockhash cache and the confirmation wait, so the controller
// sees a single call per batch.
package txbuilder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"solana-oracle-relay/internal/domain"
	"solana-oracle-relay/internal/observability"
	"solana-oracle-relay/internal/solana"
)

// Default configuration values.
const (
	DefaultMaxBlockhashAge   = 2 * time.Second
	DefaultComputeUnitLimit  = 200_000
	DefaultConfirmTimeout    = 30 * time.Second
	DefaultConfirmPollPeriod = 500 * time.Millisecond
)

// ErrBlockhashExpired marks a submission that failed because its blockhash
// aged out before the transaction landed. Retryable with a fresh blockhash.
var ErrBlockhashExpired = errors.New("blockhash expired")

// Options configures the Builder. Zero-value fields get defaults.
type Options struct {
	RPC        solana.RPCClient
	Signer     solana.Signer
	ProgramID  solana.Pubkey
	StateAccnt solana.Pubkey

	ComputeUnitLimit  uint32
	MaxBlockhashAge   time.Duration
	ConfirmTimeout    time.Duration
	ConfirmPollPeriod time.Duration

	Logger *log.Logger
}

// Builder builds and submits transactions against the oracle program.
type Builder struct {
	rpc        solana.RPCClient
	signer     solana.Signer
	programID  solana.Pubkey
	stateAccnt solana.Pubkey

	computeUnitLimit  uint32
	maxBlockhashAge   time.Duration
	confirmTimeout    time.Duration
	confirmPollPeriod time.Duration

	logger *log.Logger
	now    func() time.Time

	mu          sync.Mutex
	cachedHash  solana.Blockhash
	lastValid   int64
	refreshedAt time.Time
}

// New creates a Builder.
func New(opts Options) (*Builder, error) {
	if opts.RPC == nil {
		return nil, errors.New("txbuilder: RPC client is required")
	}
	if opts.Signer == nil {
		return nil, errors.New("txbuilder: signer is required")
	}
	if opts.ComputeUnitLimit == 0 {
		opts.ComputeUnitLimit = DefaultComputeUnitLimit
	}
	if opts.MaxBlockhashAge == 0 {
		opts.MaxBlockhashAge = DefaultMaxBlockhashAge
	}
	if opts.ConfirmTimeout == 0 {
		opts.ConfirmTimeout = DefaultConfirmTimeout
	}
	if opts.ConfirmPollPeriod == 0 {
		opts.ConfirmPollPeriod = DefaultConfirmPollPeriod
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	return &Builder{
		rpc:               opts.RPC,
		signer:            opts.Signer,
		programID:         opts.ProgramID,
		stateAccnt:        opts.StateAccnt,
		computeUnitLimit:  opts.ComputeUnitLimit,
		maxBlockhashAge:   opts.MaxBlockhashAge,
		confirmTimeout:    opts.ConfirmTimeout,
		confirmPollPeriod: opts.ConfirmPollPeriod,
		logger:            opts.Logger,
		now:               time.Now,
	}, nil
}

// recentBlockhash returns a cached blockhash, refetching when the cached one
// is older than MaxBlockhashAge.
func (b *Builder) recentBlockhash(ctx context.Context) (solana.Blockhash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.refreshedAt.IsZero() && b.now().Sub(b.refreshedAt) < b.maxBlockhashAge {
		return b.cachedHash, nil
	}

	latest, err := b.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return solana.Blockhash{}, fmt.Errorf("get latest blockhash: %w", err)
	}
	bh, err := solana.BlockhashFromBase58(latest.Blockhash)
	if err != nil {
		return solana.Blockhash{}, err
	}

	b.cachedHash = bh
	b.lastValid = latest.LastValidBlockHeight
	b.refreshedAt = b.now()
	observability.DefaultMetrics.BlockhashRefreshes.Inc()
	return bh, nil
}

// invalidateBlockhash drops the cache so the next build refetches.
func (b *Builder) invalidateBlockhash() {
	b.mu.Lock()
	b.refreshedAt = time.Time{}
	b.mu.Unlock()
}

// InitializeIfNeeded creates the oracle state account when it does not exist
// yet. Returns true when an initialize transaction was submitted.
func (b *Builder) InitializeIfNeeded(ctx context.Context) (bool, error) {
	info, err := b.rpc.GetAccountInfo(ctx, b.stateAccnt.String())
	if err != nil {
		return false, fmt.Errorf("get state account: %w", err)
	}
	if info != nil {
		return false, nil
	}

	payer := b.signer.Public()
	ins := solana.Instruction{
		ProgramID: b.programID,
		Accounts: []solana.AccountMeta{
			{Pubkey: b.stateAccnt, IsWritable: true},
			{Pubkey: payer, IsSigner: true, IsWritable: true},
			{Pubkey: solana.SystemProgram},
		},
		Data: encodeInitialize(payer),
	}

	sig, err := b.submit(ctx, []solana.Instruction{ins})
	if err != nil {
		return false, fmt.Errorf("initialize state account: %w", err)
	}
	b.logger.Printf("[txbuilder] initialized state account %s (sig %s)", b.stateAccnt, sig)
	return true, nil
}

// FetchOnChainPrices reads the oracle state account and returns the prices
// currently stored on chain, so a restarting controller can diff against
// them instead of batching zeros over values a previous run wrote. Returns
// nil when the account does not exist yet.
func (b *Builder) FetchOnChainPrices(ctx context.Context) (*[domain.AssetCount]int64, error) {
	info, err := b.rpc.GetAccountInfo(ctx, b.stateAccnt.String())
	if err != nil {
		return nil, fmt.Errorf("get state account: %w", err)
	}
	if info == nil {
		return nil, nil
	}
	st, err := decodeOracleState(info.Data)
	if err != nil {
		return nil, fmt.Errorf("state account %s: %w", b.stateAccnt, err)
	}
	return &st.prices, nil
}

// SendPriceUpdate submits a single-asset set_price transaction.
func (b *Builder) SendPriceUpdate(ctx context.Context, asset domain.Asset, updaterIndex uint8, price, clientTimestampMs int64) (string, error) {
	ins := b.programInstruction(encodeSetPrice(asset, updaterIndex, price, clientTimestampMs))
	return b.submit(ctx, []solana.Instruction{ins})
}

// SendBatchPriceUpdate submits a batch_set_prices transaction carrying every
// tracked asset. Returns the transaction signature once confirmed.
func (b *Builder) SendBatchPriceUpdate(ctx context.Context, updaterIndex uint8, prices [domain.AssetCount]int64, clientTimestampMs int64) (string, error) {
	ins := b.programInstruction(encodeBatchSetPrices(updaterIndex, prices, clientTimestampMs))
	return b.submit(ctx, []solana.Instruction{ins})
}

func (b *Builder) programInstruction(data []byte) solana.Instruction {
	return solana.Instruction{
		ProgramID: b.programID,
		Accounts: []solana.AccountMeta{
			{Pubkey: b.stateAccnt, IsWritable: true},
			{Pubkey: b.signer.Public(), IsSigner: true, IsWritable: true},
		},
		Data: data,
	}
}

// submit compiles, signs, sends, and waits for confirmation. Blockhash
// expiry anywhere in the path maps to ErrBlockhashExpired and drops the
// cached hash so the retry builds against a fresh one.
func (b *Builder) submit(ctx context.Context, instructions []solana.Instruction) (string, error) {
	bh, err := b.recentBlockhash(ctx)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	lastValid := b.lastValid
	b.mu.Unlock()

	all := append([]solana.Instruction{
		solana.ComputeUnitLimitInstruction(b.computeUnitLimit),
	}, instructions...)

	msg, err := solana.CompileMessage(b.signer.Public(), bh, all)
	if err != nil {
		return "", fmt.Errorf("compile message: %w", err)
	}
	txBase64, sig, err := msg.SignAndSerialize(b.signer)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	if _, err := b.rpc.SendTransaction(ctx, txBase64); err != nil {
		if isBlockhashExpiry(err) {
			b.invalidateBlockhash()
			return "", fmt.Errorf("%w: %v", ErrBlockhashExpired, err)
		}
		return "", fmt.Errorf("send transaction: %w", err)
	}

	if err := b.awaitConfirmation(ctx, sig, lastValid); err != nil {
		return "", err
	}
	return sig, nil
}

// awaitConfirmation polls getSignatureStatuses until the transaction reaches
// confirmed commitment, the blockhash expires, or the timeout elapses.
func (b *Builder) awaitConfirmation(ctx context.Context, signature string, lastValidBlockHeight int64) error {
	ctx, cancel := context.WithTimeout(ctx, b.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(b.confirmPollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("confirm %s: %w", signature, ctx.Err())
		case <-ticker.C:
		}

		statuses, err := b.rpc.GetSignatureStatuses(ctx, []string{signature})
		if err != nil {
			b.logger.Printf("[txbuilder] signature status poll failed: %v", err)
			continue
		}

		if len(statuses) > 0 && statuses[0] != nil {
			st := statuses[0]
			if st.Err != nil {
				return fmt.Errorf("transaction %s failed on-chain: %v", signature, st.Err)
			}
			if st.ConfirmationStatus == "confirmed" || st.ConfirmationStatus == "finalized" {
				return nil
			}
			continue
		}

		// Unknown signature: if the chain has moved past the blockhash's
		// validity window the transaction can never land.
		height, err := b.rpc.GetBlockHeight(ctx)
		if err != nil {
			continue
		}
		if height > lastValidBlockHeight {
			b.invalidateBlockhash()
			return fmt.Errorf("%w: block height %d exceeded last valid %d for %s",
				ErrBlockhashExpired, height, lastValidBlockHeight, signature)
		}
	}
}

// isBlockhashExpiry matches the RPC error shapes that indicate the
// transaction's blockhash is no longer usable.
func isBlockhashExpiry(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "block height exceeded") {
		return true
	}
	if strings.Contains(msg, "blockhash not found") {
		return true
	}
	if strings.Contains(msg, "signature") && strings.Contains(msg, "expired") {
		return true
	}
	return false
}
