// Package liquidity estimates pool depth and plans chunked execution so a
// single trade never takes more than a bounded share of a pool.
package liquidity

import (
	"fmt"
	"math"
	"time"

	"solana-copy-trader/internal/models"
)

// Analysis is the outcome of a depth check for one pool.
type Analysis struct {
	Protocol                models.PoolProtocol
	SolLiquidity            float64 // SOL
	IsSafe                  bool
	RecommendedChunkSize    float64 // SOL-equivalent, zero when no trade amount was given
	RecommendedChunks       int
	EstimatedPriceImpactBps float64
	Warning                 string
}

// Chunk is one slice of a chunked trade.
type Chunk struct {
	Index      int // 1-based
	Total      int
	Size       uint64
	DelayAfter time.Duration
}

// Plan is a chunked execution plan for a token amount.
type Plan struct {
	CanExecute         bool
	Reason             string
	Chunks             []Chunk
	Analysis           Analysis
	EstimatedTotalTime time.Duration
}

// Analyzer applies the configured depth and impact limits.
type Analyzer struct {
	cfg models.LiquidityConfig
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(cfg models.LiquidityConfig) *Analyzer {
	if cfg.MaxChunks <= 0 {
		cfg.MaxChunks = 1
	}
	return &Analyzer{cfg: cfg}
}

// PoolDepth extracts SOL-side liquidity from a pool context.
func PoolDepth(pool models.PoolContext) (float64, bool) {
	switch p := pool.(type) {
	case models.BondingCurve:
		return models.LamportsToSOL(p.VirtualSolReserves), true
	case models.ConstantProductPool:
		return models.LamportsToSOL(p.QuoteReserve), true
	case models.LegacyAmm:
		return p.Liquidity, true
	default:
		return 0, false
	}
}

// Reserves returns the SOL (lamports) and token (base units) sides of a pool.
func Reserves(pool models.PoolContext) (sol, tok uint64) {
	switch p := pool.(type) {
	case models.BondingCurve:
		return p.VirtualSolReserves, p.VirtualTokenReserves
	case models.ConstantProductPool:
		return p.QuoteReserve, p.BaseReserve
	case models.LegacyAmm:
		return p.SolReserve, p.TokenReserve
	}
	return 0, 0
}

// LamportsPerUnit is the pool's spot price in lamports per token base unit.
func LamportsPerUnit(pool models.PoolContext) float64 {
	sol, tok := Reserves(pool)
	if sol == 0 || tok == 0 {
		return 0
	}
	return float64(sol) / float64(tok)
}

// TokenValueSOL prices a token amount at the pool's spot price.
func TokenValueSOL(pool models.PoolContext, amount uint64) float64 {
	return float64(amount) * LamportsPerUnit(pool) / models.LamportsPerSOL
}

// AnalyzeLiquidity checks pool depth and, when tradeAmount (SOL) is positive,
// sizes chunks so each takes at most MaxPoolPercentagePerChunk of the pool.
func (a *Analyzer) AnalyzeLiquidity(pool models.PoolContext, tradeAmount float64) Analysis {
	liquidity, ok := PoolDepth(pool)
	analysis := Analysis{
		SolLiquidity:      liquidity,
		RecommendedChunks: 1,
	}
	if ok {
		analysis.Protocol = pool.Protocol()
	}
	if !ok || liquidity <= 0 {
		analysis.Warning = "no pool liquidity information"
		return analysis
	}

	analysis.IsSafe = liquidity >= a.cfg.MinSafeLiquidity
	if !analysis.IsSafe {
		analysis.Warning = fmt.Sprintf("pool liquidity %.4f SOL below safe minimum %.4f SOL", liquidity, a.cfg.MinSafeLiquidity)
	}
	if tradeAmount <= 0 {
		return analysis
	}

	chunk := math.Min(tradeAmount, liquidity*a.cfg.MaxPoolPercentagePerChunk)
	if chunk < a.cfg.MinChunkSize {
		chunk = math.Min(tradeAmount, a.cfg.MinChunkSize)
	}

	chunks := 1
	if tradeAmount > chunk {
		chunks = min(int(math.Ceil(tradeAmount/chunk)), a.cfg.MaxChunks)
	}

	impact := chunk / liquidity * 10_000
	if a.cfg.MaxPriceImpactBps > 0 && impact > a.cfg.MaxPriceImpactBps {
		if chunks < a.cfg.MaxChunks {
			extra := int(math.Ceil(impact / a.cfg.MaxPriceImpactBps))
			chunks = min(chunks+extra, a.cfg.MaxChunks)
		}
		if analysis.Warning == "" {
			analysis.Warning = fmt.Sprintf("high price impact (%.2f%%), splitting into %d chunks", impact/100, chunks)
		}
	}

	analysis.RecommendedChunkSize = chunk
	analysis.RecommendedChunks = chunks
	analysis.EstimatedPriceImpactBps = impact
	return analysis
}

// SplitIntoChunks plans the sale of size token base units against pool.
func (a *Analyzer) SplitIntoChunks(size uint64, pool models.PoolContext) Plan {
	analysis := a.AnalyzeLiquidity(pool, TokenValueSOL(pool, size))
	plan := Plan{Analysis: analysis}
	switch {
	case size == 0:
		plan.Reason = "nothing to sell"
		return plan
	case !analysis.IsSafe:
		plan.Reason = analysis.Warning
		return plan
	}

	n := max(analysis.RecommendedChunks, 1)
	if uint64(n) > size {
		n = int(size)
	}
	delay := models.Ms(a.cfg.ChunkDelayMs)
	plan.CanExecute = true
	plan.Chunks = SplitEvenly(size, n, delay)
	plan.EstimatedTotalTime = time.Duration(n-1) * delay
	return plan
}

// SplitEvenly partitions size into n pieces differing by at most one unit,
// the remainder going to the leading pieces. Every piece but the last
// carries delay.
func SplitEvenly(size uint64, n int, delay time.Duration) []Chunk {
	if n <= 0 {
		return nil
	}
	base := size / uint64(n)
	rem := size % uint64(n)
	chunks := make([]Chunk, n)
	for i := range chunks {
		c := Chunk{Index: i + 1, Total: n, Size: base}
		if uint64(i) < rem {
			c.Size++
		}
		if i < n-1 {
			c.DelayAfter = delay
		}
		chunks[i] = c
	}
	return chunks
}
