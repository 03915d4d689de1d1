package domain

// Quote is a single observation from one quote source. Immutable once
// created; the aggregator owns it transiently.
type Quote struct {
	Source       string
	Price        float64
	ObservedAtMs int64
}

// PriceData is the latest known price for one asset.
type PriceData struct {
	Price         float64
	PublishedAtMs int64
}

// SourcePrice is one source's contribution to a composite result.
type SourcePrice struct {
	Source string
	Price  float64
	AgeMs  int64
}

// CompositeResult is the outcome of one composite aggregation pass.
// Price is nil iff zero sources were within the staleness window.
type CompositeResult struct {
	Price       *float64
	SourceCount int
	PerSource   []SourcePrice
}
