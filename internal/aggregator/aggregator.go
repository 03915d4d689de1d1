// Package aggregator combines per-exchange quotes for one asset into a
// single robust composite price via two-pass median filtering.
package aggregator

import (
	"context"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"solana-oracle-relay/internal/domain"
)

// Default configuration values.
const (
	DefaultPublishInterval = 1 * time.Second
	DefaultStaleWindow     = 2 * time.Second
	DefaultTolerance       = 0.005
)

// Config configures one composite aggregator.
type Config struct {
	// PublishInterval is the cadence at which composite results are emitted.
	PublishInterval time.Duration
	// StaleWindow is the maximum quote age included in a composite.
	StaleWindow time.Duration
	// Tolerance is the relative band around the first-pass median; quotes
	// outside it are excluded from the second pass.
	Tolerance float64
}

// DefaultConfig returns the default aggregator configuration.
func DefaultConfig() Config {
	return Config{
		PublishInterval: DefaultPublishInterval,
		StaleWindow:     DefaultStaleWindow,
		Tolerance:       DefaultTolerance,
	}
}

// ResultFunc receives composite results on each publish tick.
type ResultFunc func(asset domain.Asset, result domain.CompositeResult)

// Aggregator holds the most recent quote per source for one asset.
// Observe may be called from any adapter goroutine.
type Aggregator struct {
	asset    domain.Asset
	config   Config
	onResult ResultFunc
	logger   *log.Logger
	now      func() time.Time

	mu     sync.Mutex
	quotes map[string]domain.Quote
}

// Options contains configuration for creating an Aggregator.
type Options struct {
	Asset    domain.Asset
	Config   Config
	OnResult ResultFunc
	Logger   *log.Logger
}

// New creates a composite aggregator for one asset.
func New(opts Options) *Aggregator {
	cfg := opts.Config
	if cfg.PublishInterval == 0 {
		cfg.PublishInterval = DefaultPublishInterval
	}
	if cfg.StaleWindow == 0 {
		cfg.StaleWindow = DefaultStaleWindow
	}
	if cfg.Tolerance == 0 {
		cfg.Tolerance = DefaultTolerance
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Aggregator{
		asset:    opts.Asset,
		config:   cfg,
		onResult: opts.OnResult,
		logger:   logger,
		now:      time.Now,
		quotes:   make(map[string]domain.Quote),
	}
}

// Observe records the latest quote for a source, replacing any previous one.
func (a *Aggregator) Observe(source string, price float64, observedAtMs int64) {
	a.mu.Lock()
	a.quotes[source] = domain.Quote{Source: source, Price: price, ObservedAtMs: observedAtMs}
	a.mu.Unlock()
}

// Run emits composite results on the publish cadence until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.config.PublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			result := a.Compute(a.now().UnixMilli())
			if a.onResult != nil {
				a.onResult(a.asset, result)
			}
		}
	}
}

// Compute derives the composite result for the given wall-clock time.
// The derivation is stateless: the same quote set and time always produce
// the same result, regardless of quote insertion order.
func (a *Aggregator) Compute(nowMs int64) domain.CompositeResult {
	staleMs := a.config.StaleWindow.Milliseconds()

	a.mu.Lock()
	fresh := make([]domain.SourcePrice, 0, len(a.quotes))
	for _, q := range a.quotes {
		age := nowMs - q.ObservedAtMs
		if age <= staleMs {
			fresh = append(fresh, domain.SourcePrice{Source: q.Source, Price: q.Price, AgeMs: age})
		}
	}
	a.mu.Unlock()

	if len(fresh) == 0 {
		return domain.CompositeResult{SourceCount: 0}
	}

	// Deterministic order independent of map iteration.
	sort.Slice(fresh, func(i, j int) bool {
		if fresh[i].Price != fresh[j].Price {
			return fresh[i].Price < fresh[j].Price
		}
		return fresh[i].Source < fresh[j].Source
	})

	prices := make([]float64, len(fresh))
	for i, sp := range fresh {
		prices[i] = sp.Price
	}

	median1 := medianAt(prices)

	// Second pass: drop sources outside the tolerance band around the first
	// median, then take the median of what survived. A single divergent
	// source cannot drag the band far enough to exclude the honest majority.
	kept := prices[:0:0]
	for _, p := range prices {
		if median1 > 0 && math.Abs(p-median1)/median1 <= a.config.Tolerance {
			kept = append(kept, p)
		}
	}

	median2 := median1
	if len(kept) > 0 {
		median2 = medianAt(kept)
	}

	return domain.CompositeResult{
		Price:       &median2,
		SourceCount: len(fresh),
		PerSource:   fresh,
	}
}

// medianAt returns the element at index n/2 of an ascending-sorted slice.
func medianAt(sorted []float64) float64 {
	return sorted[len(sorted)/2]
}
