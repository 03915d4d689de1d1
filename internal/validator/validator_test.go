package validator

import (
	"testing"
	"time"

	"solana-oracle-relay/internal/domain"
)

func newTestValidator() *Validator {
	return New(Options{
		Limits: map[domain.Asset]Limits{
			domain.AssetBTC: {
				MinPrice:          1_000,
				MaxPrice:          200_000,
				MaxPercentChange:  0.10,
				MinUpdateInterval: time.Second,
			},
		},
	})
}

func TestValidate_UnknownAsset(t *testing.T) {
	v := newTestValidator()

	res := v.Validate(domain.AssetETH, 3000)
	if res.OK {
		t.Fatal("Expected rejection for asset without limits")
	}
	if res.Reason != ReasonUnknownAsset {
		t.Errorf("Expected %s, got %s", ReasonUnknownAsset, res.Reason)
	}

	res = v.Validate(domain.Asset(200), 3000)
	if res.Reason != ReasonUnknownAsset {
		t.Errorf("Expected %s for out-of-range asset, got %s", ReasonUnknownAsset, res.Reason)
	}
}

func TestValidate_Bounds(t *testing.T) {
	v := newTestValidator()

	res := v.Validate(domain.AssetBTC, 500)
	if res.OK || res.Reason != ReasonBelowMinimum {
		t.Errorf("Expected %s for 500, got %s", ReasonBelowMinimum, res.Reason)
	}

	res = v.Validate(domain.AssetBTC, 250_000)
	if res.OK || res.Reason != ReasonAboveMaximum {
		t.Errorf("Expected %s for 250000, got %s", ReasonAboveMaximum, res.Reason)
	}

	res = v.Validate(domain.AssetBTC, 50_000)
	if !res.OK {
		t.Errorf("Expected 50000 to pass, got %s: %s", res.Reason, res.Detail)
	}
}

func TestValidate_PercentChange(t *testing.T) {
	v := newTestValidator()
	now := time.Unix(1_700_000_000, 0)
	v.now = func() time.Time { return now }

	v.RecordPrice(domain.AssetBTC, 50_000)
	now = now.Add(5 * time.Second)

	// 20% drop from 50000 exceeds the 10% limit.
	res := v.Validate(domain.AssetBTC, 40_000)
	if res.OK || res.Reason != ReasonExcessiveChange {
		t.Errorf("Expected %s for 40000, got %s", ReasonExcessiveChange, res.Reason)
	}

	// 2% move passes.
	res = v.Validate(domain.AssetBTC, 49_000)
	if !res.OK {
		t.Errorf("Expected 49000 to pass, got %s: %s", res.Reason, res.Detail)
	}
}

func TestValidate_MinUpdateInterval(t *testing.T) {
	v := newTestValidator()
	now := time.Unix(1_700_000_000, 0)
	v.now = func() time.Time { return now }

	v.RecordPrice(domain.AssetBTC, 50_000)

	now = now.Add(200 * time.Millisecond)
	res := v.Validate(domain.AssetBTC, 50_100)
	if res.OK || res.Reason != ReasonTooSoon {
		t.Errorf("Expected %s 200ms after an accepted update, got %s", ReasonTooSoon, res.Reason)
	}

	now = now.Add(time.Second)
	res = v.Validate(domain.AssetBTC, 50_100)
	if !res.OK {
		t.Errorf("Expected pass after interval elapsed, got %s", res.Reason)
	}
}

func TestValidate_DoesNotMutateState(t *testing.T) {
	v := newTestValidator()
	now := time.Unix(1_700_000_000, 0)
	v.now = func() time.Time { return now }

	v.RecordPrice(domain.AssetBTC, 50_000)
	now = now.Add(2 * time.Second)

	// Validating repeatedly must not restart the rate-limit clock.
	for i := 0; i < 5; i++ {
		if res := v.Validate(domain.AssetBTC, 50_100); !res.OK {
			t.Fatalf("Validation %d failed: %s", i, res.Reason)
		}
	}

	last, ok := v.LastAccepted(domain.AssetBTC)
	if !ok || last != 50_000 {
		t.Errorf("Expected last accepted 50000, got %v (ok=%v)", last, ok)
	}
}

func TestValidate_FirstPriceSkipsChangeCheck(t *testing.T) {
	v := newTestValidator()

	// Any in-bounds price passes when there is no accepted history.
	res := v.Validate(domain.AssetBTC, 199_000)
	if !res.OK {
		t.Errorf("Expected first price to pass, got %s: %s", res.Reason, res.Detail)
	}
}

func TestReset(t *testing.T) {
	v := newTestValidator()
	now := time.Unix(1_700_000_000, 0)
	v.now = func() time.Time { return now }

	v.RecordPrice(domain.AssetBTC, 50_000)
	now = now.Add(5 * time.Second)

	if res := v.Validate(domain.AssetBTC, 40_000); res.OK {
		t.Fatal("Expected rejection before reset")
	}

	v.Reset(domain.AssetBTC)
	if res := v.Validate(domain.AssetBTC, 40_000); !res.OK {
		t.Errorf("Expected pass after reset, got %s", res.Reason)
	}
}
