package feed

import (
	"testing"
	"time"

	"solana-oracle-relay/internal/domain"
)

func TestNormalizeFeedID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"0xE62DF6C8", "e62df6c8"},
		{"e62df6c8", "e62df6c8"},
		{"0xe62df6c8", "e62df6c8"},
	}
	for _, tt := range tests {
		if got := normalizeFeedID(tt.in); got != tt.want {
			t.Errorf("normalizeFeedID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPrimaryAdapter_HandleMessage(t *testing.T) {
	type quote struct {
		asset domain.Asset
		price float64
		tsMs  int64
	}
	var quotes []quote

	adapter := NewPrimaryAdapter("wss://example.test/ws",
		map[domain.Asset]string{domain.AssetBTC: "0xAABBCC"},
		func(asset domain.Asset, source string, price float64, observedAtMs int64) {
			quotes = append(quotes, quote{asset, price, observedAtMs})
		}, nil)
	adapter.now = func() time.Time { return time.UnixMilli(999) }

	// Scaled integer price with negative exponent: 5000000000000 * 10^-8.
	adapter.handleMessage([]byte(`{
		"type": "price_update",
		"price_feed": {
			"id": "aabbcc",
			"price": {"price": "5000000000000", "expo": -8, "publish_time": 1700000000}
		}
	}`))

	if len(quotes) != 1 {
		t.Fatalf("Expected 1 quote, got %d", len(quotes))
	}
	if quotes[0].asset != domain.AssetBTC {
		t.Errorf("Expected BTC, got %v", quotes[0].asset)
	}
	if quotes[0].price != 50_000 {
		t.Errorf("Expected 50000, got %v", quotes[0].price)
	}
	if quotes[0].tsMs != 1_700_000_000_000 {
		t.Errorf("Expected publish time in ms, got %d", quotes[0].tsMs)
	}
}

func TestPrimaryAdapter_DropsBadMessages(t *testing.T) {
	var calls int
	adapter := NewPrimaryAdapter("wss://example.test/ws",
		map[domain.Asset]string{domain.AssetBTC: "aabbcc"},
		func(domain.Asset, string, float64, int64) { calls++ }, nil)

	for _, msg := range []string{
		`{"type":"response"}`,
		`{"type":"price_update","price_feed":{"id":"unknown","price":{"price":"1","expo":0}}}`,
		`{"type":"price_update","price_feed":{"id":"aabbcc","price":{"price":"-5","expo":0}}}`,
		`{"type":"price_update","price_feed":{"id":"aabbcc","price":{"price":"abc","expo":0}}}`,
		`not json`,
	} {
		adapter.handleMessage([]byte(msg))
	}

	if calls != 0 {
		t.Errorf("Expected no quotes from bad messages, got %d", calls)
	}
}
