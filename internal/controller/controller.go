// Package controller drives the submission side of the oracle: it watches
// the relay's price snapshots, validates candidate prices, diffs them
// against what is already on chain, and submits batched updates behind a
// circuit breaker.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"solana-oracle-relay/internal/domain"
	"solana-oracle-relay/internal/fixedpoint"
	"solana-oracle-relay/internal/observability"
	"solana-oracle-relay/internal/txbuilder"
	"solana-oracle-relay/internal/validator"
)

// Default configuration values.
const (
	DefaultTickInterval     = 750 * time.Millisecond
	DefaultDecimals         = 8
	DefaultFailureThreshold = 10
	DefaultOpenDuration     = 60 * time.Second
)

// Sender submits a full batch of fixed-point prices. *txbuilder.Builder
// satisfies it.
type Sender interface {
	SendBatchPriceUpdate(ctx context.Context, updaterIndex uint8, prices [domain.AssetCount]int64, clientTimestampMs int64) (string, error)
}

// Options configures the Controller. Zero-value fields get defaults.
type Options struct {
	Sender       Sender
	Validator    *validator.Validator
	UpdaterIndex uint8

	Decimals     int32
	TickInterval time.Duration
	DryRun       bool

	// Circuit breaker: after FailureThreshold consecutive submission
	// failures the controller stops submitting for OpenDuration.
	FailureThreshold int
	OpenDuration     time.Duration

	Logger *log.Logger
}

// Controller runs the validate-diff-submit loop.
type Controller struct {
	sender       Sender
	validator    *validator.Validator
	updaterIndex uint8

	decimals     int32
	tickInterval time.Duration
	dryRun       bool

	failureThreshold int
	openDuration     time.Duration

	logger *log.Logger
	now    func() time.Time

	mu       sync.Mutex
	latest   domain.PriceSnapshot
	lastSent [domain.AssetCount]int64
	hasSent  [domain.AssetCount]bool

	consecutiveFailures int
	totalSuccesses      int
	totalErrors         int
	openUntil           time.Time
}

// Stats is a point-in-time view of submission outcomes.
type Stats struct {
	ConsecutiveFailures int
	TotalSuccesses      int
	TotalErrors         int
	BreakerOpen         bool
}

// New creates a Controller.
func New(opts Options) (*Controller, error) {
	if opts.Sender == nil {
		return nil, errors.New("controller: sender is required")
	}
	if opts.Validator == nil {
		return nil, errors.New("controller: validator is required")
	}
	if opts.Decimals == 0 {
		opts.Decimals = DefaultDecimals
	}
	if opts.TickInterval == 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = DefaultFailureThreshold
	}
	if opts.OpenDuration == 0 {
		opts.OpenDuration = DefaultOpenDuration
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	return &Controller{
		sender:           opts.Sender,
		validator:        opts.Validator,
		updaterIndex:     opts.UpdaterIndex,
		decimals:         opts.Decimals,
		tickInterval:     opts.TickInterval,
		dryRun:           opts.DryRun,
		failureThreshold: opts.FailureThreshold,
		openDuration:     opts.OpenDuration,
		logger:           opts.Logger,
		now:              time.Now,
	}, nil
}

// SeedLastSent primes the diff state from the prices already stored on
// chain, so a controller restarted against a populated state account does
// not batch zeros over values a previous run (or another updater) wrote.
// Zero entries stay unseeded: on chain, zero means never set.
func (c *Controller) SeedLastSent(prices [domain.AssetCount]int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, p := range prices {
		if p == 0 {
			continue
		}
		c.lastSent[i] = p
		c.hasSent[i] = true
	}
}

// OnPriceUpdate records the relay's latest snapshot. Wire it to the
// supervisor's price_update handler.
func (c *Controller) OnPriceUpdate(tsMs int64, snapshot domain.PriceSnapshot) {
	c.mu.Lock()
	c.latest = snapshot
	c.mu.Unlock()
}

// Run ticks until the context is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// update is one asset scheduled for submission this tick.
type update struct {
	asset domain.Asset
	price float64
	i64   int64
}

// Tick runs one validate-diff-submit pass. Exported so the run loop and
// tests share the same path.
func (c *Controller) Tick(ctx context.Context) {
	now := c.now()

	c.mu.Lock()
	if now.Before(c.openUntil) {
		remaining := c.openUntil.Sub(now)
		c.mu.Unlock()
		c.logger.Printf("[controller] circuit breaker open, skipping tick (%v remaining)", remaining.Round(time.Second))
		return
	}
	snapshot := c.latest
	c.mu.Unlock()
	observability.DefaultMetrics.CircuitBreakerOpen.Set(0)

	updates := c.collectUpdates(snapshot)
	if len(updates) == 0 {
		return
	}

	batch := c.buildBatch(updates)
	tsMs := now.UnixMilli()

	if c.dryRun {
		c.logger.Printf("[controller] dry-run: would submit %d update(s): %s", len(updates), describeUpdates(updates))
		c.commit(updates)
		return
	}

	start := time.Now()
	sig, err := c.sender.SendBatchPriceUpdate(ctx, c.updaterIndex, batch, tsMs)
	if err != nil {
		c.recordFailure(err)
		return
	}
	observability.RecordSubmission("success")
	observability.DefaultMetrics.SubmissionLatency.Observe(time.Since(start).Seconds())
	observability.DefaultMetrics.LastSuccessfulSubmission.SetToCurrentTime()

	c.commit(updates)
	c.logger.Printf("[controller] submitted %d update(s) (sig %s): %s", len(updates), sig, describeUpdates(updates))
}

// collectUpdates validates every present price and keeps those whose
// fixed-point value differs from the last value sent on chain.
func (c *Controller) collectUpdates(snapshot domain.PriceSnapshot) []update {
	var updates []update
	for _, asset := range domain.Assets() {
		price, ok := snapshot.Get(asset)
		if !ok {
			continue
		}

		res := c.validator.Validate(asset, price)
		if !res.OK {
			observability.RecordRejection(string(res.Reason))
			if res.Reason != validator.ReasonTooSoon {
				c.logger.Printf("[controller] %s rejected (%s): %s", asset, res.Reason, res.Detail)
			}
			continue
		}

		i64, err := fixedpoint.ToI64(price, c.decimals)
		if err != nil {
			c.logger.Printf("[controller] %s price %v not representable: %v", asset, price, err)
			continue
		}

		c.mu.Lock()
		unchanged := c.hasSent[asset] && c.lastSent[asset] == i64
		c.mu.Unlock()
		if unchanged {
			continue
		}

		updates = append(updates, update{asset: asset, price: price, i64: i64})
	}
	return updates
}

// buildBatch fills the full fixed-array payload: updated assets get their
// new value, the rest repeat the last sent value (zero if never sent).
func (c *Controller) buildBatch(updates []update) [domain.AssetCount]int64 {
	c.mu.Lock()
	batch := c.lastSent
	c.mu.Unlock()
	for _, u := range updates {
		batch[u.asset] = u.i64
	}
	return batch
}

// commit records the submitted prices so future ticks diff and rate-limit
// against them.
func (c *Controller) commit(updates []update) {
	for _, u := range updates {
		c.validator.RecordPrice(u.asset, u.price)
	}
	c.mu.Lock()
	for _, u := range updates {
		c.lastSent[u.asset] = u.i64
		c.hasSent[u.asset] = true
	}
	c.consecutiveFailures = 0
	c.totalSuccesses++
	c.mu.Unlock()
}

// recordFailure counts a failed submission and opens the breaker at the
// threshold. Validator state is untouched: the prices were never committed.
func (c *Controller) recordFailure(err error) {
	c.mu.Lock()
	c.consecutiveFailures++
	c.totalErrors++
	failures := c.consecutiveFailures
	opened := false
	if failures >= c.failureThreshold {
		c.openUntil = c.now().Add(c.openDuration)
		c.consecutiveFailures = 0
		opened = true
	}
	c.mu.Unlock()

	observability.RecordSubmission("failure")
	kind := "permanent"
	if isTransient(err) {
		kind = "transient"
	}
	c.logger.Printf("[controller] submission failed (%s, %d consecutive): %v", kind, failures, err)
	if opened {
		observability.DefaultMetrics.CircuitBreakerOpen.Set(1)
		c.logger.Printf("[controller] circuit breaker open for %v after %d consecutive failures", c.openDuration, failures)
	}
}

// BreakerOpen reports whether the circuit breaker is currently rejecting
// ticks.
func (c *Controller) BreakerOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Before(c.openUntil)
}

// Stats returns current submission counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		ConsecutiveFailures: c.consecutiveFailures,
		TotalSuccesses:      c.totalSuccesses,
		TotalErrors:         c.totalErrors,
		BreakerOpen:         c.now().Before(c.openUntil),
	}
}

// isTransient classifies errors that a later tick can plausibly recover
// from without operator action: blockhash expiry, network failures,
// timeouts and rate limiting. Classification only affects logging.
func isTransient(err error) bool {
	if errors.Is(err, txbuilder.ErrBlockhashExpired) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"rate limited",
		"429",
		"max retries exceeded",
		"connection refused",
		"connection reset",
		"timeout",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func describeUpdates(updates []update) string {
	s := ""
	for i, u := range updates {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%s=%v", u.asset, u.price)
	}
	return s
}
