package txbuilder

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"solana-oracle-relay/internal/domain"
	"solana-oracle-relay/internal/solana"
)

// testSigner is a deterministic ed25519 signer.
type testSigner struct {
	priv ed25519.PrivateKey
	pub  solana.Pubkey
}

func newTestSigner() *testSigner {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	var pub solana.Pubkey
	copy(pub[:], priv.Public().(ed25519.PublicKey))
	return &testSigner{priv: priv, pub: pub}
}

func (s *testSigner) Public() solana.Pubkey           { return s.pub }
func (s *testSigner) Sign(msg []byte) ([]byte, error) { return ed25519.Sign(s.priv, msg), nil }

// fakeRPC is a scriptable RPCClient.
type fakeRPC struct {
	mu sync.Mutex

	blockhashCalls int
	blockhash      string
	lastValid      int64

	accountInfo *solana.AccountInfo

	sendErr   error
	sendCalls int

	statuses    []*solana.SignatureStatus
	blockHeight int64
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{
		blockhash: "4uQeVj5tqViQh7yWWGStvkEG1Zmhx6uasJtWCJziofM",
		lastValid: 1_000,
		statuses: []*solana.SignatureStatus{
			{ConfirmationStatus: "confirmed"},
		},
	}
}

func (f *fakeRPC) GetLatestBlockhash(ctx context.Context) (*solana.LatestBlockhash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockhashCalls++
	return &solana.LatestBlockhash{Blockhash: f.blockhash, LastValidBlockHeight: f.lastValid}, nil
}

func (f *fakeRPC) GetAccountInfo(ctx context.Context, pubkey string) (*solana.AccountInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accountInfo, nil
}

func (f *fakeRPC) GetBalance(ctx context.Context, pubkey string) (uint64, error) {
	return 1_000_000_000, nil
}

func (f *fakeRPC) SendTransaction(ctx context.Context, txBase64 string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return "sig", nil
}

func (f *fakeRPC) GetSignatureStatuses(ctx context.Context, signatures []string) ([]*solana.SignatureStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses, nil
}

func (f *fakeRPC) GetBlockHeight(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blockHeight, nil
}

func (f *fakeRPC) GetSlot(ctx context.Context) (int64, error) { return 0, nil }

func newTestBuilder(t *testing.T, rpc solana.RPCClient) *Builder {
	t.Helper()
	b, err := New(Options{
		RPC:               rpc,
		Signer:            newTestSigner(),
		ProgramID:         solana.MustPubkey("BPFLoaderUpgradeab1e11111111111111111111111"),
		StateAccnt:        solana.MustPubkey("SysvarRent111111111111111111111111111111111"),
		ConfirmTimeout:    time.Second,
		ConfirmPollPeriod: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return b
}

func TestEncodeSetPrice_Layout(t *testing.T) {
	data := encodeSetPrice(domain.AssetETH, 3, 123_456_789, 1_700_000_000_000)

	if len(data) != 8+1+1+8+8 {
		t.Fatalf("Expected 26 bytes, got %d", len(data))
	}
	if [8]byte(data[:8]) != setPriceDiscriminator {
		t.Error("Wrong discriminator")
	}
	if data[8] != uint8(domain.AssetETH) {
		t.Errorf("Expected asset byte %d, got %d", domain.AssetETH, data[8])
	}
	if data[9] != 3 {
		t.Errorf("Expected updater index 3, got %d", data[9])
	}
	if got := int64(binary.LittleEndian.Uint64(data[10:18])); got != 123_456_789 {
		t.Errorf("Expected price 123456789, got %d", got)
	}
	if got := int64(binary.LittleEndian.Uint64(data[18:26])); got != 1_700_000_000_000 {
		t.Errorf("Expected timestamp 1700000000000, got %d", got)
	}
}

func TestEncodeBatchSetPrices_Layout(t *testing.T) {
	var prices [domain.AssetCount]int64
	for i := range prices {
		prices[i] = int64(i+1) * 1_000
	}
	data := encodeBatchSetPrices(5, prices, 42)

	wantLen := 8 + 1 + int(domain.AssetCount)*8 + 8
	if len(data) != wantLen {
		t.Fatalf("Expected %d bytes, got %d", wantLen, len(data))
	}
	if [8]byte(data[:8]) != batchSetPricesDiscriminator {
		t.Error("Wrong discriminator")
	}
	if data[8] != 5 {
		t.Errorf("Expected updater index 5, got %d", data[8])
	}
	for i := 0; i < int(domain.AssetCount); i++ {
		off := 9 + i*8
		if got := int64(binary.LittleEndian.Uint64(data[off : off+8])); got != int64(i+1)*1_000 {
			t.Errorf("Asset %d: expected %d, got %d", i, (i+1)*1_000, got)
		}
	}
	off := 9 + int(domain.AssetCount)*8
	if got := int64(binary.LittleEndian.Uint64(data[off : off+8])); got != 42 {
		t.Errorf("Expected timestamp 42, got %d", got)
	}
}

func TestEncodeInitialize_Layout(t *testing.T) {
	authority := solana.MustPubkey("SysvarC1ock11111111111111111111111111111111")
	data := encodeInitialize(authority)

	if len(data) != 8+32 {
		t.Fatalf("Expected 40 bytes, got %d", len(data))
	}
	if [8]byte(data[:8]) != initializeDiscriminator {
		t.Error("Wrong discriminator")
	}
	if [32]byte(data[8:]) != authority {
		t.Error("Authority bytes mismatch")
	}
}

// encodeOracleState builds state account data the way the program lays it
// out.
func encodeOracleState(authority solana.Pubkey, prices [domain.AssetCount]int64, updatedAtMs int64) []byte {
	data := make([]byte, 0, oracleStateLen)
	data = append(data, oracleStateDiscriminator[:]...)
	data = append(data, authority[:]...)
	for _, p := range prices {
		data = binary.LittleEndian.AppendUint64(data, uint64(p))
	}
	return binary.LittleEndian.AppendUint64(data, uint64(updatedAtMs))
}

func TestDecodeOracleState(t *testing.T) {
	authority := solana.MustPubkey("SysvarC1ock11111111111111111111111111111111")
	var prices [domain.AssetCount]int64
	for i := range prices {
		prices[i] = int64(i+1) * 7_000_000
	}

	st, err := decodeOracleState(encodeOracleState(authority, prices, 1_700_000_000_000))
	if err != nil {
		t.Fatalf("decodeOracleState failed: %v", err)
	}
	if st.authority != authority {
		t.Error("Authority mismatch")
	}
	if st.prices != prices {
		t.Errorf("Prices mismatch: %v", st.prices)
	}
	if st.updatedAtMs != 1_700_000_000_000 {
		t.Errorf("Expected timestamp 1700000000000, got %d", st.updatedAtMs)
	}

	if _, err := decodeOracleState(make([]byte, 10)); err == nil {
		t.Error("Expected error for truncated data")
	}
	corrupt := encodeOracleState(authority, prices, 0)
	corrupt[0] ^= 0xFF
	if _, err := decodeOracleState(corrupt); err == nil {
		t.Error("Expected error for a foreign discriminator")
	}
}

func TestFetchOnChainPrices(t *testing.T) {
	rpc := newFakeRPC()
	b := newTestBuilder(t, rpc)
	ctx := context.Background()

	// Missing account: nothing to seed from.
	got, err := b.FetchOnChainPrices(ctx)
	if err != nil {
		t.Fatalf("FetchOnChainPrices failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil for a missing account, got %v", got)
	}

	var prices [domain.AssetCount]int64
	prices[domain.AssetBTC] = 5_000_000_000_000
	prices[domain.AssetETH] = 300_000_000_000
	rpc.accountInfo = &solana.AccountInfo{
		Lamports: 1,
		Data:     encodeOracleState(newTestSigner().Public(), prices, 1_700_000_000_000),
	}

	got, err = b.FetchOnChainPrices(ctx)
	if err != nil {
		t.Fatalf("FetchOnChainPrices failed: %v", err)
	}
	if got == nil || *got != prices {
		t.Errorf("Expected %v, got %v", prices, got)
	}

	// Garbage data means the configured account is not ours.
	rpc.accountInfo = &solana.AccountInfo{Lamports: 1, Data: []byte{1, 2, 3}}
	if _, err := b.FetchOnChainPrices(ctx); err == nil {
		t.Error("Expected error for undecodable account data")
	}
}

func TestDiscriminators_Distinct(t *testing.T) {
	if initializeDiscriminator == setPriceDiscriminator ||
		setPriceDiscriminator == batchSetPricesDiscriminator ||
		initializeDiscriminator == batchSetPricesDiscriminator {
		t.Error("Discriminators collide")
	}
}

func TestBlockhashCache(t *testing.T) {
	rpc := newFakeRPC()
	b := newTestBuilder(t, rpc)

	now := time.Unix(1_700_000_000, 0)
	b.now = func() time.Time { return now }

	ctx := context.Background()
	if _, err := b.recentBlockhash(ctx); err != nil {
		t.Fatalf("recentBlockhash failed: %v", err)
	}
	now = now.Add(time.Second)
	if _, err := b.recentBlockhash(ctx); err != nil {
		t.Fatalf("recentBlockhash failed: %v", err)
	}
	if rpc.blockhashCalls != 1 {
		t.Errorf("Expected 1 fetch within the max age, got %d", rpc.blockhashCalls)
	}

	// Past the max age the cache refetches.
	now = now.Add(2 * time.Second)
	if _, err := b.recentBlockhash(ctx); err != nil {
		t.Fatalf("recentBlockhash failed: %v", err)
	}
	if rpc.blockhashCalls != 2 {
		t.Errorf("Expected refetch after max age, got %d calls", rpc.blockhashCalls)
	}
}

func TestSendBatchPriceUpdate_Confirmed(t *testing.T) {
	rpc := newFakeRPC()
	b := newTestBuilder(t, rpc)

	var prices [domain.AssetCount]int64
	prices[domain.AssetBTC] = 5_000_000_000_000

	sig, err := b.SendBatchPriceUpdate(context.Background(), 1, prices, 1_700_000_000_000)
	if err != nil {
		t.Fatalf("SendBatchPriceUpdate failed: %v", err)
	}
	if sig == "" {
		t.Error("Expected a non-empty signature")
	}
	if rpc.sendCalls != 1 {
		t.Errorf("Expected 1 send, got %d", rpc.sendCalls)
	}
}

func TestSendBatchPriceUpdate_BlockhashNotFound(t *testing.T) {
	rpc := newFakeRPC()
	rpc.sendErr = errors.New("RPC error -32002: Blockhash not found")
	b := newTestBuilder(t, rpc)

	var prices [domain.AssetCount]int64
	_, err := b.SendBatchPriceUpdate(context.Background(), 1, prices, 0)
	if !errors.Is(err, ErrBlockhashExpired) {
		t.Errorf("Expected ErrBlockhashExpired, got %v", err)
	}

	// The stale hash must not be reused on the next attempt.
	rpc.mu.Lock()
	rpc.sendErr = nil
	calls := rpc.blockhashCalls
	rpc.mu.Unlock()
	if _, err := b.SendBatchPriceUpdate(context.Background(), 1, prices, 0); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if rpc.blockhashCalls != calls+1 {
		t.Error("Expected a fresh blockhash fetch after expiry")
	}
}

func TestAwaitConfirmation_HeightExceeded(t *testing.T) {
	rpc := newFakeRPC()
	rpc.statuses = []*solana.SignatureStatus{nil} // signature never lands
	rpc.blockHeight = 2_000                       // past lastValid (1000)
	b := newTestBuilder(t, rpc)

	var prices [domain.AssetCount]int64
	_, err := b.SendBatchPriceUpdate(context.Background(), 1, prices, 0)
	if !errors.Is(err, ErrBlockhashExpired) {
		t.Errorf("Expected ErrBlockhashExpired, got %v", err)
	}
}

func TestAwaitConfirmation_OnChainFailure(t *testing.T) {
	rpc := newFakeRPC()
	rpc.statuses = []*solana.SignatureStatus{
		{Err: map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}},
	}
	b := newTestBuilder(t, rpc)

	var prices [domain.AssetCount]int64
	_, err := b.SendBatchPriceUpdate(context.Background(), 1, prices, 0)
	if err == nil {
		t.Fatal("Expected an error for an on-chain failure")
	}
	if errors.Is(err, ErrBlockhashExpired) {
		t.Error("On-chain failure misclassified as blockhash expiry")
	}
}

func TestInitializeIfNeeded(t *testing.T) {
	rpc := newFakeRPC()
	rpc.accountInfo = &solana.AccountInfo{Lamports: 1}
	b := newTestBuilder(t, rpc)

	created, err := b.InitializeIfNeeded(context.Background())
	if err != nil {
		t.Fatalf("InitializeIfNeeded failed: %v", err)
	}
	if created {
		t.Error("Existing account reported as created")
	}
	if rpc.sendCalls != 0 {
		t.Errorf("Expected no transaction, got %d", rpc.sendCalls)
	}

	rpc.accountInfo = nil
	created, err = b.InitializeIfNeeded(context.Background())
	if err != nil {
		t.Fatalf("InitializeIfNeeded failed: %v", err)
	}
	if !created {
		t.Error("Missing account not initialized")
	}
	if rpc.sendCalls != 1 {
		t.Errorf("Expected 1 transaction, got %d", rpc.sendCalls)
	}
}

func TestIsBlockhashExpiry(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"Blockhash not found", true},
		{"block height exceeded", true},
		{"Signature 5abc has expired: block height exceeded", true},
		{"insufficient funds for fee", false},
		{"rate limited (429)", false},
	}
	for _, tt := range tests {
		if got := isBlockhashExpiry(errors.New(tt.msg)); got != tt.want {
			t.Errorf("isBlockhashExpiry(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}
