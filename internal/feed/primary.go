package feed

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"solana-oracle-relay/internal/domain"
)

// PrimaryAdapter streams prices from the primary price-service network. The
// service publishes scaled integer prices per feed id; the adapter resolves
// feed ids back to assets and rescales to floats.
type PrimaryAdapter struct {
	url     string
	feeds   map[domain.Asset]string // asset -> hex feed id
	assets  map[string]domain.Asset
	onQuote QuoteFunc
	logger  *log.Logger
	now     func() time.Time
}

// NewPrimaryAdapter creates a price-service adapter for the given
// asset -> feed-id map.
func NewPrimaryAdapter(url string, feeds map[domain.Asset]string, onQuote QuoteFunc, logger *log.Logger) *PrimaryAdapter {
	if logger == nil {
		logger = log.Default()
	}
	assets := make(map[string]domain.Asset, len(feeds))
	for a, id := range feeds {
		assets[normalizeFeedID(id)] = a
	}
	return &PrimaryAdapter{
		url:     url,
		feeds:   feeds,
		assets:  assets,
		onQuote: onQuote,
		logger:  logger,
		now:     time.Now,
	}
}

// Name returns the source name.
func (p *PrimaryAdapter) Name() string { return SourcePrimary }

// Run maintains the stream until ctx is cancelled.
func (p *PrimaryAdapter) Run(ctx context.Context) error {
	ids := make([]string, 0, len(p.feeds))
	for _, id := range p.feeds {
		ids = append(ids, id)
	}

	return runStream(ctx, stream{
		name: SourcePrimary,
		url:  p.url,
		subscribe: func(conn *wsConn) error {
			return conn.writeJSON(map[string]interface{}{
				"type": "subscribe",
				"ids":  ids,
			})
		},
		handle: p.handleMessage,
	}, p.logger)
}

type priceServiceUpdate struct {
	Type      string `json:"type"`
	PriceFeed struct {
		ID    string `json:"id"`
		Price struct {
			Price       string `json:"price"`
			Expo        int32  `json:"expo"`
			PublishTime int64  `json:"publish_time"`
		} `json:"price"`
	} `json:"price_feed"`
}

func (p *PrimaryAdapter) handleMessage(data []byte) {
	var msg priceServiceUpdate
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "price_update" {
		return
	}

	asset, ok := p.assets[normalizeFeedID(msg.PriceFeed.ID)]
	if !ok {
		return
	}

	raw, err := strconv.ParseInt(msg.PriceFeed.Price.Price, 10, 64)
	if err != nil || raw <= 0 {
		return
	}
	price := float64(raw) * math.Pow10(int(msg.PriceFeed.Price.Expo))

	ts := p.now().UnixMilli()
	if msg.PriceFeed.Price.PublishTime > 0 {
		ts = msg.PriceFeed.Price.PublishTime * 1000
	}

	p.onQuote(asset, SourcePrimary, price, ts)
}

// normalizeFeedID strips the optional 0x prefix and lowercases, so config
// and wire ids compare equal regardless of formatting.
func normalizeFeedID(id string) string {
	return strings.ToLower(strings.TrimPrefix(id, "0x"))
}
