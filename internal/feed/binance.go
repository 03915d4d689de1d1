package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"solana-oracle-relay/internal/domain"
)

// DefaultBinanceURL is the combined-stream endpoint.
const DefaultBinanceURL = "wss://stream.binance.com:9443/stream"

// BinanceAdapter streams book-ticker updates from Binance spot.
type BinanceAdapter struct {
	url     string
	symbols map[domain.Asset]string // asset -> stream symbol, e.g. "btcusdt"
	assets  map[string]domain.Asset // reverse lookup by upper symbol
	onQuote QuoteFunc
	logger  *log.Logger
	now     func() time.Time
}

// NewBinanceAdapter creates an adapter for the given asset -> symbol map.
func NewBinanceAdapter(symbols map[domain.Asset]string, onQuote QuoteFunc, logger *log.Logger) *BinanceAdapter {
	if logger == nil {
		logger = log.Default()
	}
	assets := make(map[string]domain.Asset, len(symbols))
	for a, s := range symbols {
		assets[strings.ToUpper(s)] = a
	}
	return &BinanceAdapter{
		url:     DefaultBinanceURL,
		symbols: symbols,
		assets:  assets,
		onQuote: onQuote,
		logger:  logger,
		now:     time.Now,
	}
}

// Name returns the source name.
func (b *BinanceAdapter) Name() string { return SourceBinance }

// Run maintains the stream until ctx is cancelled.
func (b *BinanceAdapter) Run(ctx context.Context) error {
	streams := make([]string, 0, len(b.symbols))
	for _, s := range b.symbols {
		streams = append(streams, strings.ToLower(s)+"@bookTicker")
	}

	return runStream(ctx, stream{
		name:   SourceBinance,
		url:    fmt.Sprintf("%s?streams=%s", b.url, strings.Join(streams, "/")),
		handle: b.handleMessage,
	}, b.logger)
}

// binanceCombined is the combined-stream envelope.
type binanceCombined struct {
	Stream string `json:"stream"`
	Data   struct {
		Symbol string `json:"s"`
		BidPx  string `json:"b"`
		AskPx  string `json:"a"`
	} `json:"data"`
}

func (b *BinanceAdapter) handleMessage(data []byte) {
	var msg binanceCombined
	if err := json.Unmarshal(data, &msg); err != nil || msg.Data.Symbol == "" {
		return
	}

	asset, ok := b.assets[msg.Data.Symbol]
	if !ok {
		return
	}

	price, ok := midPrice(msg.Data.BidPx, msg.Data.AskPx, "")
	if !ok {
		return
	}

	// bookTicker carries no event time; stamp on receipt.
	b.onQuote(asset, SourceBinance, price, b.now().UnixMilli())
}
