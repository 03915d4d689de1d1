package txbuilder

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"solana-oracle-relay/internal/domain"
	"solana-oracle-relay/internal/solana"
)

// Instruction data is a hard wire contract with the on-chain program:
// an 8-byte discriminator followed by fixed-width little-endian fields in
// documented order. Prices and timestamps are two's-complement i64.

// discriminator derives the 8-byte instruction tag from the method name,
// the program's dispatch convention.
func discriminator(name string) [8]byte {
	var d [8]byte
	h := sha256.Sum256([]byte("global:" + name))
	copy(d[:], h[:8])
	return d
}

// accountDiscriminator derives the 8-byte tag the program stores at the
// front of its state account.
func accountDiscriminator(name string) [8]byte {
	var d [8]byte
	h := sha256.Sum256([]byte("account:" + name))
	copy(d[:], h[:8])
	return d
}

var (
	initializeDiscriminator     = discriminator("initialize")
	setPriceDiscriminator       = discriminator("set_price")
	batchSetPricesDiscriminator = discriminator("batch_set_prices")

	oracleStateDiscriminator = accountDiscriminator("OracleState")
)

// encodeInitialize encodes: [disc][32-byte authority pubkey].
func encodeInitialize(authority solana.Pubkey) []byte {
	var buf bytes.Buffer
	buf.Write(initializeDiscriminator[:])
	buf.Write(authority[:])
	return buf.Bytes()
}

// encodeSetPrice encodes: [disc][u8 asset][u8 updaterIndex][i64 price][i64 ts].
func encodeSetPrice(asset domain.Asset, updaterIndex uint8, price, clientTimestampMs int64) []byte {
	var buf bytes.Buffer
	buf.Write(setPriceDiscriminator[:])
	buf.WriteByte(uint8(asset))
	buf.WriteByte(updaterIndex)
	binary.Write(&buf, binary.LittleEndian, price)
	binary.Write(&buf, binary.LittleEndian, clientTimestampMs)
	return buf.Bytes()
}

// encodeBatchSetPrices encodes: [disc][u8 updaterIndex][i64 price]×N [i64 ts].
// Prices are in asset index order and every tracked asset is present.
func encodeBatchSetPrices(updaterIndex uint8, prices [domain.AssetCount]int64, clientTimestampMs int64) []byte {
	var buf bytes.Buffer
	buf.Write(batchSetPricesDiscriminator[:])
	buf.WriteByte(updaterIndex)
	for _, p := range prices {
		binary.Write(&buf, binary.LittleEndian, p)
	}
	binary.Write(&buf, binary.LittleEndian, clientTimestampMs)
	return buf.Bytes()
}

// oracleState is the decoded on-chain state account.
type oracleState struct {
	authority   solana.Pubkey
	prices      [domain.AssetCount]int64
	updatedAtMs int64
}

// oracleStateLen is the exact account size:
// [8B discriminator][32B authority][i64 price ×N][i64 updatedAtMs].
const oracleStateLen = 8 + 32 + int(domain.AssetCount)*8 + 8

// decodeOracleState decodes the state account data written by the program.
func decodeOracleState(data []byte) (*oracleState, error) {
	if len(data) < oracleStateLen {
		return nil, fmt.Errorf("state account data too short: %d bytes, want %d", len(data), oracleStateLen)
	}
	if [8]byte(data[:8]) != oracleStateDiscriminator {
		return nil, fmt.Errorf("state account discriminator mismatch")
	}

	var st oracleState
	copy(st.authority[:], data[8:40])
	off := 40
	for i := range st.prices {
		st.prices[i] = int64(binary.LittleEndian.Uint64(data[off : off+8]))
		off += 8
	}
	st.updatedAtMs = int64(binary.LittleEndian.Uint64(data[off : off+8]))
	return &st, nil
}
