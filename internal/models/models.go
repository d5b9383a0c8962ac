package models

import (
	"time"
)

// Config holds every tunable of the copy trader.
type Config struct {
	Wallet        string   `json:"wallet" yaml:"wallet"`                 // controlled wallet public key
	TargetWallets []string `json:"target_wallets" yaml:"target_wallets"` // wallets whose trades are mirrored
	RPCEndpoint   string   `json:"rpc_endpoint" yaml:"rpc_endpoint"`
	WSEndpoint    string   `json:"ws_endpoint" yaml:"ws_endpoint"`
	RPCRateLimit  float64  `json:"rpc_rate_limit" yaml:"rpc_rate_limit"` // requests per second, 0 is unlimited
	DBPath        string   `json:"db_path" yaml:"db_path"`               // badger directory for ledger snapshots
	MetricsAddr   string   `json:"metrics_addr" yaml:"metrics_addr"`     // empty disables the /metrics listener
	LimitBalance  float64  `json:"limit_balance" yaml:"limit_balance"`

	LogConfig LogConfig       `json:"log" yaml:"log"`
	Trading   TradingConfig   `json:"trading" yaml:"trading"`
	Slippage  SlippageConfig  `json:"slippage" yaml:"slippage"`
	Liquidity LiquidityConfig `json:"liquidity" yaml:"liquidity"`
	Latency   LatencyConfig   `json:"latency" yaml:"latency"`
	Cooldown  CooldownConfig  `json:"cooldown" yaml:"cooldown"`
	Ledger    LedgerConfig    `json:"ledger" yaml:"ledger"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`
	Stream    StreamConfig    `json:"stream" yaml:"stream"`
	Blockhash BlockhashConfig `json:"blockhash" yaml:"blockhash"`
	Execution ExecutionConfig `json:"execution" yaml:"execution"`
	Alerts    AlertConfig     `json:"alerts" yaml:"alerts"`
}

// LogConfig describes logger output.
type LogConfig struct {
	Level      string `json:"level" yaml:"level"`             // debug, info, warn, error
	Output     string `json:"output" yaml:"output"`           // console, file, both
	File       string `json:"file" yaml:"file"`               // log file path
	MaxSize    int    `json:"max_size" yaml:"max_size"`       // MB per file
	MaxBackups int    `json:"max_backups" yaml:"max_backups"` // rotated files kept
	MaxAge     int    `json:"max_age" yaml:"max_age"`         // days
	Compress   bool   `json:"compress" yaml:"compress"`
}

// TradingConfig sizes mirrored buys.
type TradingConfig struct {
	BuyAmountPercentage  float64 `json:"buy_amount_percentage" yaml:"buy_amount_percentage"` // share of the target's SOL change
	MinBuyAmount         float64 `json:"min_buy_amount" yaml:"min_buy_amount"`               // SOL
	MaxBuyAmount         float64 `json:"max_buy_amount" yaml:"max_buy_amount"`               // SOL
	MaxBuyPoolPercentage float64 `json:"max_buy_pool_percentage" yaml:"max_buy_pool_percentage"`
	MinBuyPoolLiquidity  float64 `json:"min_buy_pool_liquidity" yaml:"min_buy_pool_liquidity"` // SOL, below this an unsafe pool is skipped
	EnableCopySell       bool    `json:"enable_copy_sell" yaml:"enable_copy_sell"`
}

// SlippageConfig tunes the volatility-scaled slippage tolerance.
type SlippageConfig struct {
	BaseBuyBps           int     `json:"base_buy_bps" yaml:"base_buy_bps"`
	BaseSellBps          int     `json:"base_sell_bps" yaml:"base_sell_bps"`
	VolatilityMultiplier float64 `json:"volatility_multiplier" yaml:"volatility_multiplier"`
	MinBps               int     `json:"min_bps" yaml:"min_bps"`
	MaxBps               int     `json:"max_bps" yaml:"max_bps"`
	HistoryWindow        int     `json:"history_window" yaml:"history_window"` // samples kept per mint
	VolatilityWindowMs   int     `json:"volatility_window_ms" yaml:"volatility_window_ms"`
	CleanupIntervalSec   int     `json:"cleanup_interval_sec" yaml:"cleanup_interval_sec"`
}

// LiquidityConfig bounds per-chunk pool exposure.
type LiquidityConfig struct {
	MaxPoolPercentagePerChunk float64 `json:"max_pool_percentage_per_chunk" yaml:"max_pool_percentage_per_chunk"`
	MinSafeLiquidity          float64 `json:"min_safe_liquidity" yaml:"min_safe_liquidity"` // SOL
	MinChunkSize              float64 `json:"min_chunk_size" yaml:"min_chunk_size"`         // SOL
	MaxChunks                 int     `json:"max_chunks" yaml:"max_chunks"`
	ChunkDelayMs              int     `json:"chunk_delay_ms" yaml:"chunk_delay_ms"`
	MaxPriceImpactBps         float64 `json:"max_price_impact_bps" yaml:"max_price_impact_bps"`
}

// LatencyConfig tunes delay categorisation and compensation.
type LatencyConfig struct {
	Enabled                  bool    `json:"enabled" yaml:"enabled"`
	MaxAcceptableDelayMs     int64   `json:"max_acceptable_delay_ms" yaml:"max_acceptable_delay_ms"`
	LowThresholdMs           int64   `json:"low_threshold_ms" yaml:"low_threshold_ms"`
	MediumThresholdMs        int64   `json:"medium_threshold_ms" yaml:"medium_threshold_ms"`
	HighThresholdMs          int64   `json:"high_threshold_ms" yaml:"high_threshold_ms"`
	PriceAdjustmentPerMinute float64 `json:"price_adjustment_per_minute" yaml:"price_adjustment_per_minute"`
	MaxPriceAdjustment       float64 `json:"max_price_adjustment" yaml:"max_price_adjustment"`
	TimestampCacheSize       int     `json:"timestamp_cache_size" yaml:"timestamp_cache_size"`
}

// CooldownConfig tunes the activity-scaled trade spacing.
type CooldownConfig struct {
	BaseGlobalMs           int     `json:"base_global_ms" yaml:"base_global_ms"`
	BaseTokenMs            int     `json:"base_token_ms" yaml:"base_token_ms"`
	MinGlobalMs            int     `json:"min_global_ms" yaml:"min_global_ms"`
	MinTokenMs             int     `json:"min_token_ms" yaml:"min_token_ms"`
	HighActivityMultiplier float64 `json:"high_activity_multiplier" yaml:"high_activity_multiplier"`
	LowActivityMultiplier  float64 `json:"low_activity_multiplier" yaml:"low_activity_multiplier"`
	ActivityWindowMs       int     `json:"activity_window_ms" yaml:"activity_window_ms"`
	HighActivityTrades     int     `json:"high_activity_trades" yaml:"high_activity_trades"`
	MediumActivityTrades   int     `json:"medium_activity_trades" yaml:"medium_activity_trades"`
}

// LedgerConfig controls position expiry and snapshotting.
type LedgerConfig struct {
	TTLHours            int `json:"ttl_hours" yaml:"ttl_hours"`
	SweepIntervalMin    int `json:"sweep_interval_min" yaml:"sweep_interval_min"`
	SnapshotIntervalSec int `json:"snapshot_interval_sec" yaml:"snapshot_interval_sec"`
}

// SchedulerConfig bounds task execution.
type SchedulerConfig struct {
	MaxWorkers int `json:"max_workers" yaml:"max_workers"`
	QueueSize  int `json:"queue_size" yaml:"queue_size"`
}

// StreamConfig controls the transaction stream connection.
type StreamConfig struct {
	ReconnectDelayMs int    `json:"reconnect_delay_ms" yaml:"reconnect_delay_ms"`
	PingIntervalSec  int    `json:"ping_interval_sec" yaml:"ping_interval_sec"`
	PongTimeoutSec   int    `json:"pong_timeout_sec" yaml:"pong_timeout_sec"`
	Commitment       string `json:"commitment" yaml:"commitment"`
}

// BlockhashConfig controls the background blockhash refresher.
type BlockhashConfig struct {
	UpdateIntervalMs  int `json:"update_interval_ms" yaml:"update_interval_ms"`
	MaxFallbacks      int `json:"max_fallbacks" yaml:"max_fallbacks"`
	MaxAgeSlots       int `json:"max_age_slots" yaml:"max_age_slots"`
	SlotDurationMs    int `json:"slot_duration_ms" yaml:"slot_duration_ms"`
	HealthCheckMs     int `json:"health_check_ms" yaml:"health_check_ms"`
	RequestTimeoutSec int `json:"request_timeout_sec" yaml:"request_timeout_sec"`
}

// ExecutionConfig controls swap submission.
type ExecutionConfig struct {
	Mode              string  `json:"mode" yaml:"mode"` // only "paper" ships; live submission plugs in through execution.Swapper
	RetryDelayMs      int     `json:"retry_delay_ms" yaml:"retry_delay_ms"`
	BuyTipLamports    uint64  `json:"buy_tip_lamports" yaml:"buy_tip_lamports"`
	SellTipLamports   uint64  `json:"sell_tip_lamports" yaml:"sell_tip_lamports"` // applied on full exits only
	EnableSwapTip     bool    `json:"enable_swap_tip" yaml:"enable_swap_tip"`
	PaperStartBalance float64 `json:"paper_start_balance" yaml:"paper_start_balance"` // SOL
}

// AlertConfig controls operator notifications.
type AlertConfig struct {
	Enabled                       bool   `json:"enabled" yaml:"enabled"`
	NATSURL                       string `json:"nats_url" yaml:"nats_url"`
	SubjectPrefix                 string `json:"subject_prefix" yaml:"subject_prefix"`
	BufferSize                    int    `json:"buffer_size" yaml:"buffer_size"`
	EnableInsufficientFundsAlerts bool   `json:"enable_insufficient_funds_alerts" yaml:"enable_insufficient_funds_alerts"`
	InsufficientFundsCooldownSec  int    `json:"insufficient_funds_cooldown_sec" yaml:"insufficient_funds_cooldown_sec"`
}

// Ms converts a millisecond config value into a duration.
func Ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// Sec converts a second config value into a duration.
func Sec(v int) time.Duration {
	return time.Duration(v) * time.Second
}
