// Package config loads relayd configuration from the environment, with an
// optional .env file for local runs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"solana-oracle-relay/internal/domain"
	"solana-oracle-relay/internal/validator"
)

// Config is the full relayd configuration.
type Config struct {
	RPCEndpoint  string
	ProgramID    string
	StateAccount string
	KeypairPath  string

	// AuthorizedUpdaters maps base58 public keys to updater slots. When
	// empty, the wallet's own key is assumed to hold slot 1.
	AuthorizedUpdaters map[string]uint8

	PrimaryURL   string
	PrimaryFeeds map[domain.Asset]string

	Binance  map[domain.Asset]string
	Coinbase map[domain.Asset]string
	OKX      map[domain.Asset]string
	Kraken   map[domain.Asset]string

	Decimals    int32
	DryRun      bool
	LockPath    string
	MetricsAddr string

	// RelayMetricsAddr, when set, has the relay child process expose its
	// own /metrics endpoint (feed-level metrics live in that process).
	RelayMetricsAddr string

	Limits map[domain.Asset]validator.Limits
}

// Load reads configuration from the environment. envFile, when non-empty,
// is loaded first without overriding variables already set.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	cfg := &Config{
		RPCEndpoint:  getEnv("RPC_ENDPOINT", "https://api.devnet.solana.com"),
		ProgramID:    os.Getenv("ORACLE_PROGRAM_ID"),
		StateAccount: os.Getenv("ORACLE_STATE_ACCOUNT"),
		KeypairPath:  getEnv("KEYPAIR_PATH", "keypair.json"),

		PrimaryURL:   getEnv("PRIMARY_WS_URL", "wss://hermes.pyth.network/ws"),
		PrimaryFeeds: defaultPrimaryFeeds(),

		Binance:  defaultBinanceSymbols(),
		Coinbase: defaultCoinbaseSymbols(),
		OKX:      defaultOKXSymbols(),
		Kraken:   defaultKrakenSymbols(),

		Decimals:    int32(getEnvInt("PRICE_DECIMALS", 8)),
		DryRun:      getEnvBool("DRY_RUN", false),
		LockPath:    getEnv("LOCK_PATH", "/tmp/oracle-relay.lock"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		RelayMetricsAddr: os.Getenv("RELAY_METRICS_ADDR"),

		Limits: defaultLimits(),
	}

	updaters, err := parseUpdaters(os.Getenv("AUTHORIZED_UPDATERS"))
	if err != nil {
		return nil, err
	}
	cfg.AuthorizedUpdaters = updaters

	if cfg.ProgramID == "" {
		return nil, fmt.Errorf("ORACLE_PROGRAM_ID is required")
	}
	if cfg.StateAccount == "" {
		return nil, fmt.Errorf("ORACLE_STATE_ACCOUNT is required")
	}

	return cfg, nil
}

// parseUpdaters parses "pubkey:index,pubkey:index". Empty input is allowed.
func parseUpdaters(s string) (map[string]uint8, error) {
	out := map[string]uint8{}
	if strings.TrimSpace(s) == "" {
		return out, nil
	}
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, idxStr, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("AUTHORIZED_UPDATERS entry %q: want pubkey:index", entry)
		}
		idx, err := strconv.ParseUint(idxStr, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("AUTHORIZED_UPDATERS entry %q: bad index: %w", entry, err)
		}
		out[key] = uint8(idx)
	}
	return out, nil
}

func defaultPrimaryFeeds() map[domain.Asset]string {
	return map[domain.Asset]string{
		domain.AssetBTC:  "e62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43",
		domain.AssetETH:  "ff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace",
		domain.AssetSOL:  "ef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d",
		domain.AssetHYPE: "4279e31cc369bbcc2faf022b382b080e32a8e689ff20fbc530d2a603eb6cd98b",
		domain.AssetZEC:  "be9b59d178f0d6a97ab4c343bff2aa69caa1eaae3e9048a65788c529b125bb24",
	}
}

func defaultBinanceSymbols() map[domain.Asset]string {
	return map[domain.Asset]string{
		domain.AssetBTC: "btcusdt",
		domain.AssetETH: "ethusdt",
		domain.AssetSOL: "solusdt",
		domain.AssetZEC: "zecusdt",
	}
}

func defaultCoinbaseSymbols() map[domain.Asset]string {
	return map[domain.Asset]string{
		domain.AssetBTC: "BTC-USD",
		domain.AssetETH: "ETH-USD",
		domain.AssetSOL: "SOL-USD",
		domain.AssetZEC: "ZEC-USD",
	}
}

func defaultOKXSymbols() map[domain.Asset]string {
	return map[domain.Asset]string{
		domain.AssetBTC:  "BTC-USDT",
		domain.AssetETH:  "ETH-USDT",
		domain.AssetSOL:  "SOL-USDT",
		domain.AssetHYPE: "HYPE-USDT",
	}
}

func defaultKrakenSymbols() map[domain.Asset]string {
	return map[domain.Asset]string{
		domain.AssetBTC: "XBT/USD",
		domain.AssetETH: "ETH/USD",
		domain.AssetSOL: "SOL/USD",
		domain.AssetZEC: "ZEC/USD",
	}
}

func defaultLimits() map[domain.Asset]validator.Limits {
	return map[domain.Asset]validator.Limits{
		domain.AssetBTC:  {MinPrice: 1_000, MaxPrice: 200_000, MaxPercentChange: 0.10, MinUpdateInterval: time.Second},
		domain.AssetETH:  {MinPrice: 50, MaxPrice: 20_000, MaxPercentChange: 0.10, MinUpdateInterval: time.Second},
		domain.AssetSOL:  {MinPrice: 1, MaxPrice: 2_000, MaxPercentChange: 0.15, MinUpdateInterval: time.Second},
		domain.AssetHYPE: {MinPrice: 0.1, MaxPrice: 500, MaxPercentChange: 0.20, MinUpdateInterval: time.Second},
		domain.AssetZEC:  {MinPrice: 1, MaxPrice: 2_000, MaxPercentChange: 0.20, MinUpdateInterval: time.Second},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
