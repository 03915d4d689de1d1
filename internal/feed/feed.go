// Package feed maintains streaming connections to external quote sources.
// Every adapter normalizes its wire protocol into the same emission
// contract, so downstream consumers never see exchange-specific formats.
package feed

import (
	"context"

	"solana-oracle-relay/internal/domain"
)

// QuoteFunc is the uniform emission contract shared by all adapters: one
// normalized (asset, source, price, timestamp) event per wire update.
type QuoteFunc func(asset domain.Asset, source string, price float64, observedAtMs int64)

// Source is a long-lived streaming quote source. Run blocks until ctx is
// cancelled, reconnecting internally on transport errors.
type Source interface {
	Name() string
	Run(ctx context.Context) error
}

// Source names used on emitted quotes.
const (
	SourceBinance  = "binance"
	SourceCoinbase = "coinbase"
	SourceOKX      = "okx"
	SourceKraken   = "kraken"
	SourcePrimary  = "price-service"
)
