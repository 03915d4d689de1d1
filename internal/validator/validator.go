// Package validator gates prices before they may be signed: static bounds,
// a minimum update interval and a maximum step from the last accepted price.
package validator

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"solana-oracle-relay/internal/domain"
)

// Reason classifies why a price was rejected.
type Reason string

const (
	ReasonOK              Reason = "ok"
	ReasonUnknownAsset    Reason = "unknown_asset"
	ReasonBelowMinimum    Reason = "below_minimum"
	ReasonAboveMaximum    Reason = "above_maximum"
	ReasonTooSoon         Reason = "too_soon"
	ReasonExcessiveChange Reason = "excessive_change"
)

// Limits is the static per-asset validation configuration.
type Limits struct {
	MinPrice          float64
	MaxPrice          float64
	MaxPercentChange  float64 // fraction, e.g. 0.15 for 15%
	MinUpdateInterval time.Duration
}

// Result is the outcome of one validation.
type Result struct {
	OK     bool
	Reason Reason
	Detail string
}

// state is the per-asset accepted-price history. Only RecordPrice mutates
// it, so a validated-but-unsent price cannot poison the rate limiter.
type state struct {
	lastPrice      float64
	lastAcceptedAt time.Time
	hasLast        bool
}

// Validator applies per-asset limits in a fixed order, short-circuiting on
// the first failure: bounds, update interval, percent change.
type Validator struct {
	limits map[domain.Asset]Limits
	logger *log.Logger
	now    func() time.Time

	mu    sync.Mutex
	state [domain.AssetCount]state
}

// Options contains configuration for creating a Validator.
type Options struct {
	Limits map[domain.Asset]Limits
	Logger *log.Logger
}

// New creates a validator over the given static limits table.
func New(opts Options) *Validator {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Validator{
		limits: opts.Limits,
		logger: logger,
		now:    time.Now,
	}
}

// Validate checks a price against the asset's limits. It never mutates
// state: call RecordPrice once the price has actually been acted on.
func (v *Validator) Validate(asset domain.Asset, price float64) Result {
	limits, ok := v.limits[asset]
	if !ok || !asset.IsValid() {
		return Result{Reason: ReasonUnknownAsset, Detail: fmt.Sprintf("no limits configured for asset %s", asset)}
	}

	if price < limits.MinPrice {
		return Result{Reason: ReasonBelowMinimum,
			Detail: fmt.Sprintf("price %.6f below minimum %.6f", price, limits.MinPrice)}
	}
	if price > limits.MaxPrice {
		return Result{Reason: ReasonAboveMaximum,
			Detail: fmt.Sprintf("price %.6f above maximum %.6f", price, limits.MaxPrice)}
	}

	v.mu.Lock()
	st := v.state[asset]
	v.mu.Unlock()

	if st.hasLast {
		elapsed := v.now().Sub(st.lastAcceptedAt)
		if elapsed < limits.MinUpdateInterval {
			return Result{Reason: ReasonTooSoon,
				Detail: fmt.Sprintf("only %v since last accepted update (minimum %v)", elapsed.Round(time.Millisecond), limits.MinUpdateInterval)}
		}
	}

	if st.hasLast && st.lastPrice > 0 {
		change := math.Abs(price-st.lastPrice) / st.lastPrice
		if change > limits.MaxPercentChange {
			return Result{Reason: ReasonExcessiveChange,
				Detail: fmt.Sprintf("change %.4f from %.6f exceeds limit %.4f", change, st.lastPrice, limits.MaxPercentChange)}
		}
	}

	return Result{OK: true, Reason: ReasonOK}
}

// RecordPrice commits an accepted price. The caller invokes this only after
// deciding to act on the value.
func (v *Validator) RecordPrice(asset domain.Asset, price float64) {
	if !asset.IsValid() {
		return
	}
	v.mu.Lock()
	v.state[asset] = state{lastPrice: price, lastAcceptedAt: v.now(), hasLast: true}
	v.mu.Unlock()
}

// LastAccepted returns the last committed price for an asset, if any.
func (v *Validator) LastAccepted(asset domain.Asset) (float64, bool) {
	if !asset.IsValid() {
		return 0, false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	st := v.state[asset]
	return st.lastPrice, st.hasLast
}

// Reset clears the accepted-price history for one asset (operator recovery).
func (v *Validator) Reset(asset domain.Asset) {
	if !asset.IsValid() {
		return
	}
	v.mu.Lock()
	v.state[asset] = state{}
	v.mu.Unlock()
	v.logger.Printf("[validator] state reset for %s", asset)
}

// ResetAll clears all per-asset state.
func (v *Validator) ResetAll() {
	v.mu.Lock()
	for i := range v.state {
		v.state[i] = state{}
	}
	v.mu.Unlock()
	v.logger.Printf("[validator] all state reset")
}
