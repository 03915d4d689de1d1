package feed

import "strconv"

// midPrice computes the representative price for a ticker update: the mid
// of best bid/ask when both sides are present, otherwise the last trade.
// Returns false when no usable price exists.
func midPrice(bid, ask, last string) (float64, bool) {
	b, bErr := strconv.ParseFloat(bid, 64)
	a, aErr := strconv.ParseFloat(ask, 64)
	if bErr == nil && aErr == nil && b > 0 && a > 0 {
		return (b + a) / 2, true
	}
	l, lErr := strconv.ParseFloat(last, 64)
	if lErr == nil && l > 0 {
		return l, true
	}
	return 0, false
}
