package feed

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"solana-oracle-relay/internal/domain"
)

// DefaultCoinbaseURL is the Coinbase Exchange market-data feed.
const DefaultCoinbaseURL = "wss://ws-feed.exchange.coinbase.com"

// CoinbaseAdapter streams ticker updates from Coinbase Exchange.
type CoinbaseAdapter struct {
	url     string
	symbols map[domain.Asset]string // asset -> product id, e.g. "BTC-USD"
	assets  map[string]domain.Asset
	onQuote QuoteFunc
	logger  *log.Logger
	now     func() time.Time
}

// NewCoinbaseAdapter creates an adapter for the given asset -> product map.
func NewCoinbaseAdapter(symbols map[domain.Asset]string, onQuote QuoteFunc, logger *log.Logger) *CoinbaseAdapter {
	if logger == nil {
		logger = log.Default()
	}
	assets := make(map[string]domain.Asset, len(symbols))
	for a, s := range symbols {
		assets[s] = a
	}
	return &CoinbaseAdapter{
		url:     DefaultCoinbaseURL,
		symbols: symbols,
		assets:  assets,
		onQuote: onQuote,
		logger:  logger,
		now:     time.Now,
	}
}

// Name returns the source name.
func (c *CoinbaseAdapter) Name() string { return SourceCoinbase }

// Run maintains the stream until ctx is cancelled.
func (c *CoinbaseAdapter) Run(ctx context.Context) error {
	products := make([]string, 0, len(c.symbols))
	for _, s := range c.symbols {
		products = append(products, s)
	}

	return runStream(ctx, stream{
		name: SourceCoinbase,
		url:  c.url,
		subscribe: func(conn *wsConn) error {
			return conn.writeJSON(map[string]interface{}{
				"type":        "subscribe",
				"product_ids": products,
				"channels":    []string{"ticker"},
			})
		},
		handle: c.handleMessage,
	}, c.logger)
}

type coinbaseTicker struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	BestBid   string `json:"best_bid"`
	BestAsk   string `json:"best_ask"`
	Time      string `json:"time"`
}

func (c *CoinbaseAdapter) handleMessage(data []byte) {
	var msg coinbaseTicker
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "ticker" {
		return
	}

	asset, ok := c.assets[msg.ProductID]
	if !ok {
		return
	}

	price, ok := midPrice(msg.BestBid, msg.BestAsk, msg.Price)
	if !ok {
		return
	}

	ts := c.now().UnixMilli()
	if t, err := time.Parse(time.RFC3339Nano, msg.Time); err == nil {
		ts = t.UnixMilli()
	}

	c.onQuote(asset, SourceCoinbase, price, ts)
}
