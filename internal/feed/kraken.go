package feed

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"solana-oracle-relay/internal/domain"
)

// DefaultKrakenURL is the Kraken public websocket endpoint.
const DefaultKrakenURL = "wss://ws.kraken.com"

// KrakenAdapter streams ticker updates from Kraken.
type KrakenAdapter struct {
	url     string
	symbols map[domain.Asset]string // asset -> pair, e.g. "XBT/USD"
	assets  map[string]domain.Asset
	onQuote QuoteFunc
	logger  *log.Logger
	now     func() time.Time
}

// NewKrakenAdapter creates an adapter for the given asset -> pair map.
func NewKrakenAdapter(symbols map[domain.Asset]string, onQuote QuoteFunc, logger *log.Logger) *KrakenAdapter {
	if logger == nil {
		logger = log.Default()
	}
	assets := make(map[string]domain.Asset, len(symbols))
	for a, s := range symbols {
		assets[s] = a
	}
	return &KrakenAdapter{
		url:     DefaultKrakenURL,
		symbols: symbols,
		assets:  assets,
		onQuote: onQuote,
		logger:  logger,
		now:     time.Now,
	}
}

// Name returns the source name.
func (k *KrakenAdapter) Name() string { return SourceKraken }

// Run maintains the stream until ctx is cancelled.
func (k *KrakenAdapter) Run(ctx context.Context) error {
	pairs := make([]string, 0, len(k.symbols))
	for _, s := range k.symbols {
		pairs = append(pairs, s)
	}

	return runStream(ctx, stream{
		name: SourceKraken,
		url:  k.url,
		subscribe: func(conn *wsConn) error {
			return conn.writeJSON(map[string]interface{}{
				"event":        "subscribe",
				"pair":         pairs,
				"subscription": map[string]string{"name": "ticker"},
			})
		},
		handle: k.handleMessage,
	}, k.logger)
}

// krakenTickerPayload is the ticker object inside the array frame.
// Fields are [price, ...] string arrays.
type krakenTickerPayload struct {
	Ask  []string `json:"a"`
	Bid  []string `json:"b"`
	Last []string `json:"c"`
}

// handleMessage parses Kraken's array-framed ticker messages:
// [channelID, payload, "ticker", "XBT/USD"]. Object frames (subscription
// status, heartbeat) are ignored.
func (k *KrakenAdapter) handleMessage(data []byte) {
	var frame []json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil || len(frame) != 4 {
		return
	}

	var channel, pair string
	if err := json.Unmarshal(frame[2], &channel); err != nil || channel != "ticker" {
		return
	}
	if err := json.Unmarshal(frame[3], &pair); err != nil {
		return
	}

	asset, ok := k.assets[pair]
	if !ok {
		return
	}

	var payload krakenTickerPayload
	if err := json.Unmarshal(frame[1], &payload); err != nil {
		return
	}

	bid, ask, last := first(payload.Bid), first(payload.Ask), first(payload.Last)
	price, ok := midPrice(bid, ask, last)
	if !ok {
		return
	}

	k.onQuote(asset, SourceKraken, price, k.now().UnixMilli())
}

func first(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}
