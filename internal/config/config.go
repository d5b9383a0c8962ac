package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"solana-copy-trader/internal/models"

	"github.com/joho/godotenv"
	"github.com/mr-tron/base58"
	"gopkg.in/yaml.v3"
)

// Default returns the configuration used when neither file nor environment
// says otherwise.
func Default() *models.Config {
	return &models.Config{
		RPCEndpoint:  "https://api.mainnet-beta.solana.com",
		WSEndpoint:   "wss://api.mainnet-beta.solana.com",
		RPCRateLimit: 20,
		DBPath:       "data/ledger",
		LimitBalance: 0.1,
		LogConfig: models.LogConfig{
			Level:      "info",
			Output:     "console",
			File:       "logs/copytrader.log",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
		},
		Trading: models.TradingConfig{
			BuyAmountPercentage:  0.01,
			MinBuyAmount:         0.04,
			MaxBuyAmount:         0.5,
			MaxBuyPoolPercentage: 0.10,
			MinBuyPoolLiquidity:  5,
			EnableCopySell:       true,
		},
		Slippage: models.SlippageConfig{
			BaseBuyBps:           500,
			BaseSellBps:          300,
			VolatilityMultiplier: 2.0,
			MinBps:               50,
			MaxBps:               3000,
			HistoryWindow:        10,
			VolatilityWindowMs:   60_000,
			CleanupIntervalSec:   300,
		},
		Liquidity: models.LiquidityConfig{
			MaxPoolPercentagePerChunk: 0.07,
			MinSafeLiquidity:          10,
			MinChunkSize:              0.1,
			MaxChunks:                 10,
			ChunkDelayMs:              2000,
			MaxPriceImpactBps:         300,
		},
		Latency: models.LatencyConfig{
			Enabled:                  true,
			MaxAcceptableDelayMs:     300_000,
			LowThresholdMs:           30_000,
			MediumThresholdMs:        120_000,
			HighThresholdMs:          300_000,
			PriceAdjustmentPerMinute: 0.02,
			MaxPriceAdjustment:       0.15,
			TimestampCacheSize:       1000,
		},
		Cooldown: models.CooldownConfig{
			BaseGlobalMs:           100,
			BaseTokenMs:            200,
			MinGlobalMs:            30,
			MinTokenMs:             50,
			HighActivityMultiplier: 0.5,
			LowActivityMultiplier:  2.0,
			ActivityWindowMs:       60_000,
			HighActivityTrades:     10,
			MediumActivityTrades:   5,
		},
		Ledger: models.LedgerConfig{
			TTLHours:            24,
			SweepIntervalMin:    60,
			SnapshotIntervalSec: 2,
		},
		Scheduler: models.SchedulerConfig{
			MaxWorkers: 20,
			QueueSize:  256,
		},
		Stream: models.StreamConfig{
			ReconnectDelayMs: 1000,
			PingIntervalSec:  10,
			PongTimeoutSec:   60,
			Commitment:       "processed",
		},
		Blockhash: models.BlockhashConfig{
			UpdateIntervalMs:  200,
			MaxFallbacks:      5,
			MaxAgeSlots:       150,
			SlotDurationMs:    400,
			HealthCheckMs:     1000,
			RequestTimeoutSec: 5,
		},
		Execution: models.ExecutionConfig{
			Mode:              "paper",
			RetryDelayMs:      500,
			BuyTipLamports:    100_000,
			SellTipLamports:   200_000,
			PaperStartBalance: 1.0,
		},
		Alerts: models.AlertConfig{
			Enabled:                       true,
			SubjectPrefix:                 "copytrader.alerts",
			BufferSize:                    128,
			EnableInsufficientFundsAlerts: true,
			InsufficientFundsCooldownSec:  300,
		},
	}
}

// LoadConfig reads a JSON or YAML file (by extension) over the defaults.
// An empty path returns the defaults.
func LoadConfig(path string) (*models.Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Load reads the optional .env file, the config file, then applies the
// environment on top and validates the result.
func Load(path, envFile string) (*models.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg fields from environment keys.
func ApplyEnv(cfg *models.Config, lookup func(string) (string, bool)) error {
	e := &envReader{lookup: lookup}

	e.str("PUB_KEY", &cfg.Wallet)
	if v, ok := lookup("TARGET_WALLETS"); ok && strings.TrimSpace(v) != "" {
		cfg.TargetWallets = splitList(v)
	}
	e.str("RPC_ENDPOINT", &cfg.RPCEndpoint)
	e.str("RPC_URL", &cfg.RPCEndpoint)
	e.str("WS_ENDPOINT", &cfg.WSEndpoint)
	e.float("RPC_RATE_LIMIT", &cfg.RPCRateLimit)
	e.str("DB_PATH", &cfg.DBPath)
	e.str("METRICS_ADDR", &cfg.MetricsAddr)
	e.str("LOG_LEVEL", &cfg.LogConfig.Level)
	e.float("LIMIT_BALANCE", &cfg.LimitBalance)

	e.float("BUY_AMOUNT_PERCENTAGE", &cfg.Trading.BuyAmountPercentage)
	e.float("MIN_AMOUNT", &cfg.Trading.MinBuyAmount)
	e.float("MAX_AMOUNT", &cfg.Trading.MaxBuyAmount)
	e.float("MAX_BUY_POOL_PERCENTAGE", &cfg.Trading.MaxBuyPoolPercentage)
	e.boolean("ENABLE_COPY_SELL", &cfg.Trading.EnableCopySell)

	e.integer("BASE_BUY_SLIPPAGE_BPS", &cfg.Slippage.BaseBuyBps)
	e.integer("BASE_SELL_SLIPPAGE_BPS", &cfg.Slippage.BaseSellBps)
	e.float("VOLATILITY_MULTIPLIER", &cfg.Slippage.VolatilityMultiplier)
	e.integer("MIN_SLIPPAGE_BPS", &cfg.Slippage.MinBps)
	e.integer("MAX_SLIPPAGE_BPS", &cfg.Slippage.MaxBps)
	e.integer("PRICE_HISTORY_WINDOW", &cfg.Slippage.HistoryWindow)
	e.integer("VOLATILITY_WINDOW_MS", &cfg.Slippage.VolatilityWindowMs)

	e.float("MIN_SAFE_LIQUIDITY_SOL", &cfg.Liquidity.MinSafeLiquidity)
	e.float("MAX_POOL_PERCENTAGE_PER_CHUNK", &cfg.Liquidity.MaxPoolPercentagePerChunk)
	e.float("MIN_CHUNK_SIZE_SOL", &cfg.Liquidity.MinChunkSize)
	e.integer("MAX_SELL_CHUNKS", &cfg.Liquidity.MaxChunks)
	e.integer("CHUNK_DELAY_MS", &cfg.Liquidity.ChunkDelayMs)
	e.float("MAX_PRICE_IMPACT_BPS", &cfg.Liquidity.MaxPriceImpactBps)

	e.boolean("ENABLE_LATENCY_COMPENSATION", &cfg.Latency.Enabled)
	e.int64("MAX_ACCEPTABLE_DELAY_MS", &cfg.Latency.MaxAcceptableDelayMs)
	e.int64("LOW_DELAY_THRESHOLD_MS", &cfg.Latency.LowThresholdMs)
	e.int64("MEDIUM_DELAY_THRESHOLD_MS", &cfg.Latency.MediumThresholdMs)
	e.int64("HIGH_DELAY_THRESHOLD_MS", &cfg.Latency.HighThresholdMs)
	e.float("PRICE_ADJUSTMENT_PER_MINUTE", &cfg.Latency.PriceAdjustmentPerMinute)
	e.float("MAX_PRICE_ADJUSTMENT", &cfg.Latency.MaxPriceAdjustment)

	e.integer("BASE_GLOBAL_COOLDOWN_MS", &cfg.Cooldown.BaseGlobalMs)
	e.integer("BASE_TOKEN_COOLDOWN_MS", &cfg.Cooldown.BaseTokenMs)
	e.integer("MIN_GLOBAL_COOLDOWN_MS", &cfg.Cooldown.MinGlobalMs)
	e.integer("MIN_TOKEN_COOLDOWN_MS", &cfg.Cooldown.MinTokenMs)
	e.float("HIGH_ACTIVITY_MULTIPLIER", &cfg.Cooldown.HighActivityMultiplier)
	e.float("LOW_ACTIVITY_MULTIPLIER", &cfg.Cooldown.LowActivityMultiplier)

	e.boolean("ENABLE_SWAP_TIP", &cfg.Execution.EnableSwapTip)
	e.uint64("BUY_PRIORITIZATION_FEE_LAMPORTS", &cfg.Execution.BuyTipLamports)
	e.uint64("SELL_ALL_PRIORITIZATION_FEE_LAMPORTS", &cfg.Execution.SellTipLamports)
	e.float("PAPER_START_BALANCE", &cfg.Execution.PaperStartBalance)

	e.str("NATS_URL", &cfg.Alerts.NATSURL)
	e.boolean("ENABLE_INSUFFICIENT_FUNDS_ALERTS", &cfg.Alerts.EnableInsufficientFundsAlerts)
	var cooldownMs int
	if e.integer("INSUFFICIENT_FUNDS_ALERT_COOLDOWN", &cooldownMs) {
		cfg.Alerts.InsufficientFundsCooldownSec = cooldownMs / 1000
	}

	return e.err
}

// Validate checks addresses and numeric ranges.
func Validate(cfg *models.Config) error {
	var errs []error

	if err := validateKey("wallet", cfg.Wallet); err != nil {
		errs = append(errs, err)
	}
	if len(cfg.TargetWallets) == 0 {
		errs = append(errs, errors.New("at least one target wallet is required"))
	}
	for _, w := range cfg.TargetWallets {
		if err := validateKey("target wallet", w); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.RPCEndpoint == "" {
		errs = append(errs, errors.New("rpc_endpoint is required"))
	}
	if cfg.WSEndpoint == "" {
		errs = append(errs, errors.New("ws_endpoint is required"))
	}

	t := cfg.Trading
	if t.BuyAmountPercentage <= 0 || t.BuyAmountPercentage > 1 {
		errs = append(errs, fmt.Errorf("buy_amount_percentage must be in (0,1], got %v", t.BuyAmountPercentage))
	}
	if t.MaxBuyPoolPercentage <= 0 || t.MaxBuyPoolPercentage > 1 {
		errs = append(errs, fmt.Errorf("max_buy_pool_percentage must be in (0,1], got %v", t.MaxBuyPoolPercentage))
	}
	if t.MinBuyAmount < 0 || t.MinBuyAmount > t.MaxBuyAmount {
		errs = append(errs, fmt.Errorf("min_buy_amount %v must be between 0 and max_buy_amount %v", t.MinBuyAmount, t.MaxBuyAmount))
	}

	l := cfg.Liquidity
	if l.MaxPoolPercentagePerChunk <= 0 || l.MaxPoolPercentagePerChunk > 1 {
		errs = append(errs, fmt.Errorf("max_pool_percentage_per_chunk must be in (0,1], got %v", l.MaxPoolPercentagePerChunk))
	}
	if l.MaxChunks <= 0 {
		errs = append(errs, errors.New("max_chunks must be positive"))
	}

	s := cfg.Slippage
	if s.MinBps <= 0 || s.MinBps > s.MaxBps {
		errs = append(errs, fmt.Errorf("slippage bounds invalid: min %d max %d", s.MinBps, s.MaxBps))
	}

	if cfg.Cooldown.MinGlobalMs <= 0 || cfg.Cooldown.MinTokenMs <= 0 {
		errs = append(errs, errors.New("cooldown minimums must be positive"))
	}
	if cfg.Scheduler.MaxWorkers <= 0 || cfg.Scheduler.QueueSize <= 0 {
		errs = append(errs, errors.New("scheduler workers and queue size must be positive"))
	}
	if cfg.Stream.ReconnectDelayMs <= 0 || cfg.Blockhash.UpdateIntervalMs <= 0 {
		errs = append(errs, errors.New("reconnect delay and blockhash interval must be positive"))
	}
	if cfg.Execution.Mode != "paper" {
		errs = append(errs, fmt.Errorf("execution mode %q is not supported", cfg.Execution.Mode))
	}

	return errors.Join(errs...)
}

func validateKey(name, key string) error {
	if key == "" {
		return fmt.Errorf("%s is required", name)
	}
	b, err := base58.Decode(key)
	if err != nil {
		return fmt.Errorf("%s %q is not base58: %w", name, key, err)
	}
	if len(b) != 32 {
		return fmt.Errorf("%s %q decodes to %d bytes, want 32", name, key, len(b))
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' || r == ';' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// envReader collects the first parse error.
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) fail(key, v string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("env %s=%q: %w", key, v, err)
	}
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) integer(key string, dst *int) bool {
	v, ok := e.get(key)
	if !ok {
		return false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return false
	}
	*dst = n
	return true
}

func (e *envReader) int64(key string, dst *int64) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) uint64(key string, dst *uint64) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = b
	}
}
