// Package fixedpoint converts between float prices and the scaled integers
// stored on chain. Conversions go through decimal arithmetic so binary float
// noise cannot perturb the resulting integer.
package fixedpoint

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MaxDecimals bounds the supported scale. i64 holds ~9.2e18, so prices up to
// ~9.2e9 fit at 9 decimals; tracked assets stay far below that.
const MaxDecimals = 9

// ToI64 scales x by 10^decimals and rounds half away from zero to the
// nearest integer.
func ToI64(x float64, decimals int32) (int64, error) {
	if decimals < 0 || decimals > MaxDecimals {
		return 0, fmt.Errorf("decimals %d out of range [0,%d]", decimals, MaxDecimals)
	}
	d := decimal.NewFromFloat(x).Shift(decimals).Round(0)
	if !d.IsInteger() || !d.BigInt().IsInt64() {
		return 0, fmt.Errorf("value %v does not fit in i64 at %d decimals", x, decimals)
	}
	return d.IntPart(), nil
}

// FromI64 is the inverse of ToI64. The round trip is exact to within one
// unit of the smallest representable increment.
func FromI64(v int64, decimals int32) float64 {
	f, _ := decimal.New(v, -decimals).Float64()
	return f
}
