package feed

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"solana-oracle-relay/internal/domain"
)

// DefaultOKXURL is the OKX public websocket endpoint.
const DefaultOKXURL = "wss://ws.okx.com:8443/ws/v5/public"

// OKXAdapter streams ticker updates from OKX.
type OKXAdapter struct {
	url     string
	symbols map[domain.Asset]string // asset -> instId, e.g. "BTC-USDT"
	assets  map[string]domain.Asset
	onQuote QuoteFunc
	logger  *log.Logger
	now     func() time.Time
}

// NewOKXAdapter creates an adapter for the given asset -> instrument map.
func NewOKXAdapter(symbols map[domain.Asset]string, onQuote QuoteFunc, logger *log.Logger) *OKXAdapter {
	if logger == nil {
		logger = log.Default()
	}
	assets := make(map[string]domain.Asset, len(symbols))
	for a, s := range symbols {
		assets[s] = a
	}
	return &OKXAdapter{
		url:     DefaultOKXURL,
		symbols: symbols,
		assets:  assets,
		onQuote: onQuote,
		logger:  logger,
		now:     time.Now,
	}
}

// Name returns the source name.
func (o *OKXAdapter) Name() string { return SourceOKX }

// Run maintains the stream until ctx is cancelled.
func (o *OKXAdapter) Run(ctx context.Context) error {
	args := make([]map[string]string, 0, len(o.symbols))
	for _, s := range o.symbols {
		args = append(args, map[string]string{"channel": "tickers", "instId": s})
	}

	return runStream(ctx, stream{
		name: SourceOKX,
		url:  o.url,
		subscribe: func(conn *wsConn) error {
			return conn.writeJSON(map[string]interface{}{
				"op":   "subscribe",
				"args": args,
			})
		},
		// OKX answers a literal text "ping" with "pong"; websocket ping
		// frames are ignored by the venue.
		ping: func(conn *wsConn) error {
			return conn.writeMessage(websocket.TextMessage, []byte("ping"))
		},
		handle: o.handleMessage,
	}, o.logger)
}

type okxTickerMsg struct {
	Arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data []struct {
		Last  string `json:"last"`
		BidPx string `json:"bidPx"`
		AskPx string `json:"askPx"`
		TS    string `json:"ts"`
	} `json:"data"`
}

func (o *OKXAdapter) handleMessage(data []byte) {
	if string(data) == "pong" {
		return
	}

	var msg okxTickerMsg
	if err := json.Unmarshal(data, &msg); err != nil || msg.Arg.Channel != "tickers" || len(msg.Data) == 0 {
		return
	}

	asset, ok := o.assets[msg.Arg.InstID]
	if !ok {
		return
	}

	tick := msg.Data[len(msg.Data)-1]
	price, ok := midPrice(tick.BidPx, tick.AskPx, tick.Last)
	if !ok {
		return
	}

	ts := o.now().UnixMilli()
	if ms, err := strconv.ParseInt(tick.TS, 10, 64); err == nil && ms > 0 {
		ts = ms
	}

	o.onQuote(asset, SourceOKX, price, ts)
}
