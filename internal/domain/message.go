package domain

import (
	"encoding/json"
	"fmt"
)

// MessageType discriminates relay channel messages.
type MessageType string

const (
	MessageHeartbeat   MessageType = "heartbeat"
	MessagePriceUpdate MessageType = "price_update"
	MessageShutdown    MessageType = "shutdown"
)

// IsValid checks if the message type is a known value.
func (t MessageType) IsValid() bool {
	return t == MessageHeartbeat || t == MessagePriceUpdate || t == MessageShutdown
}

// PriceSnapshot carries the latest known price for every tracked asset.
// Assets with no data yet are carried as null on the wire, never omitted:
// consumers must distinguish "no data" from "stale but present".
type PriceSnapshot [AssetCount]*float64

// Set records a price for an asset.
func (s *PriceSnapshot) Set(a Asset, price float64) {
	if a.IsValid() {
		p := price
		s[a] = &p
	}
}

// Get returns the price for an asset and whether one is present.
func (s *PriceSnapshot) Get(a Asset) (float64, bool) {
	if !a.IsValid() || s[a] == nil {
		return 0, false
	}
	return *s[a], true
}

// MarshalJSON encodes the snapshot as {symbol: number|null, ...} with every
// tracked asset present.
func (s PriceSnapshot) MarshalJSON() ([]byte, error) {
	m := make(map[string]*float64, AssetCount)
	for a := Asset(0); a < AssetCount; a++ {
		m[a.Symbol()] = s[a]
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes the wire map; unknown symbols are ignored so a newer
// relay can talk to an older supervisor.
func (s *PriceSnapshot) UnmarshalJSON(data []byte) error {
	var m map[string]*float64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	for sym, price := range m {
		a, err := ParseAsset(sym)
		if err != nil {
			continue
		}
		s[a] = price
	}
	return nil
}

// RelayMessage is the tagged union crossing the relay/supervisor channel.
// Data is non-nil only for price_update.
type RelayMessage struct {
	Type      MessageType    `json:"type"`
	Timestamp int64          `json:"timestamp,omitempty"`
	Data      *PriceSnapshot `json:"data,omitempty"`
}

// NewHeartbeat builds a heartbeat message.
func NewHeartbeat(tsMs int64) RelayMessage {
	return RelayMessage{Type: MessageHeartbeat, Timestamp: tsMs}
}

// NewPriceUpdate builds a price_update message carrying a full snapshot.
func NewPriceUpdate(tsMs int64, snapshot PriceSnapshot) RelayMessage {
	return RelayMessage{Type: MessagePriceUpdate, Timestamp: tsMs, Data: &snapshot}
}

// NewShutdown builds the controller-to-relay shutdown message.
func NewShutdown() RelayMessage {
	return RelayMessage{Type: MessageShutdown}
}

// DecodeRelayMessage parses one wire record and validates its type.
func DecodeRelayMessage(data []byte) (RelayMessage, error) {
	var msg RelayMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return RelayMessage{}, fmt.Errorf("decode relay message: %w", err)
	}
	if !msg.Type.IsValid() {
		return RelayMessage{}, fmt.Errorf("unknown relay message type %q", msg.Type)
	}
	return msg, nil
}
