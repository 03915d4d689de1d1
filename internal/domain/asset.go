package domain

import "fmt"

// Asset identifies a tracked asset. The set is static configuration: assets
// are array indices, not map keys, so per-asset state can live in fixed-size
// arrays.
type Asset uint8

const (
	AssetBTC Asset = iota
	AssetETH
	AssetSOL
	AssetHYPE
	AssetZEC

	// AssetCount is the number of tracked assets. New assets must be added
	// before this marker.
	AssetCount
)

var assetSymbols = [AssetCount]string{
	AssetBTC:  "btc",
	AssetETH:  "eth",
	AssetSOL:  "sol",
	AssetHYPE: "hype",
	AssetZEC:  "zec",
}

// Symbol returns the lowercase wire symbol for the asset.
func (a Asset) Symbol() string {
	if a >= AssetCount {
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
	return assetSymbols[a]
}

// String returns the wire symbol.
func (a Asset) String() string {
	return a.Symbol()
}

// IsValid checks if the asset is a valid value.
func (a Asset) IsValid() bool {
	return a < AssetCount
}

// ParseAsset resolves a lowercase symbol to an Asset.
func ParseAsset(symbol string) (Asset, error) {
	for a, s := range assetSymbols {
		if s == symbol {
			return Asset(a), nil
		}
	}
	return AssetCount, fmt.Errorf("unknown asset symbol %q", symbol)
}

// Assets returns all tracked assets in index order.
func Assets() []Asset {
	out := make([]Asset, AssetCount)
	for i := range out {
		out[i] = Asset(i)
	}
	return out
}
