// Package relay merges the primary price-service feed and per-asset
// composite exchange feeds into a unified latest-price table, and streams
// heartbeats and full-snapshot price updates to its supervisor.
package relay

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"solana-oracle-relay/internal/aggregator"
	"solana-oracle-relay/internal/domain"
	"solana-oracle-relay/internal/feed"
	"solana-oracle-relay/internal/observability"
)

// DefaultHeartbeatInterval is the liveness-signal cadence. Heartbeats flow
// even during quiet markets so the supervisor can tell "idle" from "hung".
const DefaultHeartbeatInterval = 5 * time.Second

// ErrAlreadyRunning is returned by Start when the relay is running.
var ErrAlreadyRunning = errors.New("relay already running")

// Config describes the relay's feeds. Exchange maps are asset -> venue
// symbol; assets present in any exchange map get a composite aggregator.
type Config struct {
	PrimaryURL   string
	PrimaryFeeds map[domain.Asset]string

	Binance  map[domain.Asset]string
	Coinbase map[domain.Asset]string
	OKX      map[domain.Asset]string
	Kraken   map[domain.Asset]string

	HeartbeatInterval time.Duration
	Aggregator        aggregator.Config
}

// Emitter delivers relay messages to the supervising side of the channel.
type Emitter interface {
	Emit(msg domain.RelayMessage) error
}

// Relay owns the latest-price table for all tracked assets.
type Relay struct {
	config  Config
	emitter Emitter
	logger  *log.Logger
	now     func() time.Time

	mu      sync.Mutex
	table   [domain.AssetCount]*domain.PriceData
	running bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// Options contains configuration for creating a Relay.
type Options struct {
	Config  Config
	Emitter Emitter
	Logger  *log.Logger
}

// New creates a relay. It does not connect until Start.
func New(opts Options) *Relay {
	cfg := opts.Config
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Relay{
		config:  cfg,
		emitter: opts.Emitter,
		logger:  logger,
		now:     time.Now,
	}
}

// Start spins up all adapters, aggregators and the heartbeat loop. It fails
// fast if the relay is already running.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	r.running = true
	r.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)

	r.mu.Lock()
	r.cancel = cancel
	r.group = g
	r.mu.Unlock()

	// Composite aggregators for assets with at least one exchange feed.
	aggs := make(map[domain.Asset]*aggregator.Aggregator)
	for _, m := range []map[domain.Asset]string{r.config.Binance, r.config.Coinbase, r.config.OKX, r.config.Kraken} {
		for asset := range m {
			if _, ok := aggs[asset]; ok {
				continue
			}
			aggs[asset] = aggregator.New(aggregator.Options{
				Asset:    asset,
				Config:   r.config.Aggregator,
				OnResult: r.handleComposite,
				Logger:   r.logger,
			})
		}
	}

	onExchangeQuote := func(asset domain.Asset, source string, price float64, observedAtMs int64) {
		observability.RecordQuote(source)
		if agg, ok := aggs[asset]; ok {
			agg.Observe(source, price, observedAtMs)
		}
	}

	var sources []feed.Source
	if len(r.config.Binance) > 0 {
		sources = append(sources, feed.NewBinanceAdapter(r.config.Binance, onExchangeQuote, r.logger))
	}
	if len(r.config.Coinbase) > 0 {
		sources = append(sources, feed.NewCoinbaseAdapter(r.config.Coinbase, onExchangeQuote, r.logger))
	}
	if len(r.config.OKX) > 0 {
		sources = append(sources, feed.NewOKXAdapter(r.config.OKX, onExchangeQuote, r.logger))
	}
	if len(r.config.Kraken) > 0 {
		sources = append(sources, feed.NewKrakenAdapter(r.config.Kraken, onExchangeQuote, r.logger))
	}
	if len(r.config.PrimaryFeeds) > 0 && r.config.PrimaryURL != "" {
		sources = append(sources, feed.NewPrimaryAdapter(r.config.PrimaryURL, r.config.PrimaryFeeds, r.handlePrimary, r.logger))
	}

	for _, src := range sources {
		src := src
		g.Go(func() error { return src.Run(gctx) })
	}
	for _, agg := range aggs {
		agg := agg
		g.Go(func() error { return agg.Run(gctx) })
	}
	g.Go(func() error { return r.heartbeatLoop(gctx) })

	r.logger.Printf("[relay] started: %d sources, %d composite assets", len(sources), len(aggs))
	return nil
}

// Stop tears down all connections and timers. Safe to call multiple times.
func (r *Relay) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	g := r.group
	r.cancel = nil
	r.group = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if g != nil {
		// Everything exits with context.Canceled on an orderly stop.
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Printf("[relay] stopped with error: %v", err)
			return
		}
	}
	r.logger.Printf("[relay] stopped")
}

// handlePrimary feeds primary price-service quotes straight into the table.
func (r *Relay) handlePrimary(asset domain.Asset, source string, price float64, observedAtMs int64) {
	observability.RecordQuote(source)
	r.updatePrice(asset, price, observedAtMs)
}

// handleComposite feeds composite publishes into the table. A null
// composite (no fresh sources) is not an update.
func (r *Relay) handleComposite(asset domain.Asset, result domain.CompositeResult) {
	observability.DefaultMetrics.CompositeSources.WithLabelValues(asset.String()).Set(float64(result.SourceCount))
	if result.Price == nil {
		return
	}
	r.updatePrice(asset, *result.Price, r.now().UnixMilli())
}

// updatePrice overwrites the table entry if the observation is at least as
// new as the current one, then emits a full snapshot. Older observations
// are dropped so the table never moves backwards.
func (r *Relay) updatePrice(asset domain.Asset, price float64, observedAtMs int64) {
	if !asset.IsValid() {
		return
	}

	r.mu.Lock()
	if cur := r.table[asset]; cur != nil && observedAtMs < cur.PublishedAtMs {
		r.mu.Unlock()
		return
	}
	r.table[asset] = &domain.PriceData{Price: price, PublishedAtMs: observedAtMs}
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.emit(domain.NewPriceUpdate(r.now().UnixMilli(), snapshot))
}

// snapshotLocked copies the table into a wire snapshot. Caller holds mu.
func (r *Relay) snapshotLocked() domain.PriceSnapshot {
	var s domain.PriceSnapshot
	for a := domain.Asset(0); a < domain.AssetCount; a++ {
		if r.table[a] != nil {
			s.Set(a, r.table[a].Price)
		}
	}
	return s
}

// Snapshot returns the current latest-price table as a wire snapshot.
func (r *Relay) Snapshot() domain.PriceSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Relay) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.emit(domain.NewHeartbeat(r.now().UnixMilli()))
		}
	}
}

func (r *Relay) emit(msg domain.RelayMessage) {
	if r.emitter == nil {
		return
	}
	if err := r.emitter.Emit(msg); err != nil {
		r.logger.Printf("[relay] emit %s: %v", msg.Type, err)
	}
}
