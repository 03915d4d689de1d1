package solana

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"sort"
)

// AccountMeta describes one account referenced by an instruction.
type AccountMeta struct {
	Pubkey     Pubkey
	IsSigner   bool
	IsWritable bool
}

// Instruction is one program invocation.
type Instruction struct {
	ProgramID Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// Signer produces ed25519 signatures over message bytes.
type Signer interface {
	Public() Pubkey
	Sign(message []byte) ([]byte, error)
}

// Message is a compiled legacy transaction message.
type Message struct {
	numRequiredSignatures  uint8
	numReadonlySigned      uint8
	numReadonlyUnsigned    uint8
	accountKeys            []Pubkey
	recentBlockhash        Blockhash
	compiledInstructions   []compiledInstruction
}

type compiledInstruction struct {
	programIDIndex uint8
	accountIndexes []uint8
	data           []byte
}

// CompileMessage builds a legacy message: fee payer first, then writable
// signers, readonly signers, writable non-signers, readonly non-signers.
func CompileMessage(payer Pubkey, recentBlockhash Blockhash, instructions []Instruction) (*Message, error) {
	type meta struct {
		pubkey   Pubkey
		signer   bool
		writable bool
		order    int
	}

	metas := map[Pubkey]*meta{}
	next := 0
	upsert := func(pk Pubkey, signer, writable bool) {
		if m, ok := metas[pk]; ok {
			m.signer = m.signer || signer
			m.writable = m.writable || writable
			return
		}
		metas[pk] = &meta{pubkey: pk, signer: signer, writable: writable, order: next}
		next++
	}

	upsert(payer, true, true)
	for _, ins := range instructions {
		for _, acc := range ins.Accounts {
			upsert(acc.Pubkey, acc.IsSigner, acc.IsWritable)
		}
		upsert(ins.ProgramID, false, false)
	}

	all := make([]*meta, 0, len(metas))
	for _, m := range metas {
		all = append(all, m)
	}
	// Stable classification order: payer first, then by (signer desc,
	// writable desc, first-seen order).
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.pubkey == payer {
			return true
		}
		if b.pubkey == payer {
			return false
		}
		if a.signer != b.signer {
			return a.signer
		}
		if a.writable != b.writable {
			return a.writable
		}
		return a.order < b.order
	})

	msg := &Message{recentBlockhash: recentBlockhash}
	index := map[Pubkey]uint8{}
	for i, m := range all {
		if i > 255 {
			return nil, fmt.Errorf("too many account keys: %d", len(all))
		}
		msg.accountKeys = append(msg.accountKeys, m.pubkey)
		index[m.pubkey] = uint8(i)
		if m.signer {
			msg.numRequiredSignatures++
			if !m.writable {
				msg.numReadonlySigned++
			}
		} else if !m.writable {
			msg.numReadonlyUnsigned++
		}
	}

	for _, ins := range instructions {
		ci := compiledInstruction{
			programIDIndex: index[ins.ProgramID],
			data:           ins.Data,
		}
		for _, acc := range ins.Accounts {
			ci.accountIndexes = append(ci.accountIndexes, index[acc.Pubkey])
		}
		msg.compiledInstructions = append(msg.compiledInstructions, ci)
	}

	return msg, nil
}

// Serialize encodes the message in the legacy wire format.
func (m *Message) Serialize() []byte {
	var buf bytes.Buffer
	buf.WriteByte(m.numRequiredSignatures)
	buf.WriteByte(m.numReadonlySigned)
	buf.WriteByte(m.numReadonlyUnsigned)

	writeShortvecLen(&buf, len(m.accountKeys))
	for _, key := range m.accountKeys {
		buf.Write(key[:])
	}

	buf.Write(m.recentBlockhash[:])

	writeShortvecLen(&buf, len(m.compiledInstructions))
	for _, ci := range m.compiledInstructions {
		buf.WriteByte(ci.programIDIndex)
		writeShortvecLen(&buf, len(ci.accountIndexes))
		buf.Write(ci.accountIndexes)
		writeShortvecLen(&buf, len(ci.data))
		buf.Write(ci.data)
	}

	return buf.Bytes()
}

// SignAndSerialize signs the message with the given signers (in account-key
// order) and returns the base64-encoded wire transaction and the payer's
// base58 signature.
func (m *Message) SignAndSerialize(signers ...Signer) (txBase64, signature string, err error) {
	msgBytes := m.Serialize()

	byKey := make(map[Pubkey]Signer, len(signers))
	for _, s := range signers {
		byKey[s.Public()] = s
	}

	sigs := make([][]byte, m.numRequiredSignatures)
	for i := 0; i < int(m.numRequiredSignatures); i++ {
		signer, ok := byKey[m.accountKeys[i]]
		if !ok {
			return "", "", fmt.Errorf("missing signer for %s", m.accountKeys[i])
		}
		sig, err := signer.Sign(msgBytes)
		if err != nil {
			return "", "", fmt.Errorf("sign: %w", err)
		}
		if len(sig) != 64 {
			return "", "", fmt.Errorf("signature has %d bytes, want 64", len(sig))
		}
		sigs[i] = sig
	}

	var buf bytes.Buffer
	writeShortvecLen(&buf, len(sigs))
	for _, sig := range sigs {
		buf.Write(sig)
	}
	buf.Write(msgBytes)

	return base64.StdEncoding.EncodeToString(buf.Bytes()),
		encodeSignature(sigs[0]), nil
}

// writeShortvecLen writes a compact-u16 length prefix.
func writeShortvecLen(buf *bytes.Buffer, n int) {
	v := uint16(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			buf.WriteByte(b)
			return
		}
		buf.WriteByte(b | 0x80)
	}
}

// ComputeUnitLimitInstruction builds a compute-budget SetComputeUnitLimit
// instruction (discriminant 0x02, u32 LE units).
func ComputeUnitLimitInstruction(units uint32) Instruction {
	data := []byte{
		0x02,
		byte(units),
		byte(units >> 8),
		byte(units >> 16),
		byte(units >> 24),
	}
	return Instruction{ProgramID: ComputeBudgetProgram, Data: data}
}
