package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"solana-copy-trader/internal/alert"
	"solana-copy-trader/internal/execution"
	"solana-copy-trader/internal/latency"
	"solana-copy-trader/internal/ledger"
	"solana-copy-trader/internal/liquidity"
	"solana-copy-trader/internal/models"
	"solana-copy-trader/internal/scheduler"
)

// BuyAmount sizes a mirrored buy: pct of the target's SOL change clamped
// to [min, max].
func BuyAmount(solChange, pct, minAmount, maxAmount float64) float64 {
	return math.Max(minAmount, math.Min(maxAmount, math.Abs(solChange)*pct))
}

// handleBuy gates a watched wallet's buy and spawns the mirrored buy.
func (m *Monitor) handleBuy(rec models.TransactionRecord) (Outcome, *scheduler.Future) {
	sh := m.shared
	cfg := sh.Config.Trading
	mint := rec.TokenMint

	if sh.BuyingDisabled() {
		sh.Metrics.Skip("buy", "buying_disabled")
		return skip("buying disabled after insufficient funds"), nil
	}

	if d := sh.Cooldown.TryAcquire(mint); !d.CanTrade {
		sh.Metrics.Skip("buy", d.Reason)
		return skip(fmt.Sprintf("%s, wait %s", d.Reason, d.WaitTime)), nil
	}

	amount := BuyAmount(rec.SOLAmount(), cfg.BuyAmountPercentage, cfg.MinBuyAmount, cfg.MaxBuyAmount)
	requested := amount

	analysis := sh.Liquidity.AnalyzeLiquidity(rec.Pool, amount)
	if !analysis.IsSafe && analysis.SolLiquidity < cfg.MinBuyPoolLiquidity {
		sh.Metrics.Skip("buy", "low_liquidity")
		return skip(fmt.Sprintf("pool liquidity %.4f SOL below %.4f SOL", analysis.SolLiquidity, cfg.MinBuyPoolLiquidity)), nil
	}
	if maxSafe := analysis.SolLiquidity * cfg.MaxBuyPoolPercentage; amount > maxSafe {
		amount = maxSafe
		m.logger.Sugar().Infof("Monitor: reduced buy of %s from %.4f to %.4f SOL (%.1f%% of pool)",
			models.Short(mint), requested, amount, cfg.MaxBuyPoolPercentage*100)
	}
	if amount < cfg.MinBuyAmount {
		sh.Metrics.Skip("buy", "below_min_amount")
		return skip(fmt.Sprintf("buy %.6f SOL below minimum %.4f SOL after pool cap", amount, cfg.MinBuyAmount)), nil
	}

	m.logger.Sugar().Infof("Monitor %s: mirroring buy of %s, target spent %.4f SOL, buying %.4f SOL (%s)",
		models.Short(m.wallet), models.Short(mint), rec.SOLAmount(), amount, rec.Protocol)

	target := rec.TokenAmount()
	req := execution.BuyRequest{Mint: mint, AmountSOL: amount, Pool: rec.Pool}
	f, err := m.sched.Spawn("buy:"+models.Short(mint), func(ctx context.Context) (any, error) {
		return m.executeBuy(ctx, rec, target, req)
	})
	if err != nil {
		return m.spawnFailed("buy", mint, err), nil
	}
	return Outcome{Success: true}, f
}

func (m *Monitor) executeBuy(ctx context.Context, rec models.TransactionRecord, target uint64, req execution.BuyRequest) (TradeResult, error) {
	sh := m.shared
	started := sh.now()

	res, err := sh.Executor.Buy(context.WithoutCancel(ctx), req)
	if err != nil {
		sh.Metrics.Trade("buy", outcomeLabel(err), sh.now().Sub(started))
		m.executionFailed("buy", req.Mint, req.AmountSOL, err)
		return TradeResult{}, err
	}
	sh.Metrics.Trade("buy", "success", sh.now().Sub(started))

	price := fillPrice(res.SpentSOL, res.TokenAmount, rec.TokenDecimals)
	if price <= 0 {
		price = rec.Price()
	}
	sh.Slippage.RecordPrice(req.Mint, price, sh.now())
	sh.Cooldown.RecordMarketActivity(req.Mint)
	sh.Ledger.AddPosition(req.Mint, rec.ActorWallet, target, res.TokenAmount)
	if sh.BookExecutedFills {
		sh.Portfolio.Record(req.Mint, res.SpentSOL, true, rec.TokenDecimals, price)
	}

	m.logger.Sugar().Infof("Monitor: bought %.4f %s for %.6f SOL (sig %s, slippage %d bps)",
		models.UITokens(res.TokenAmount, rec.TokenDecimals), models.Short(req.Mint), res.SpentSOL, models.Short(res.Signature), res.SlippageBps)
	sh.notify(alert.KindBuy, "Buy executed", map[string]any{
		"mint":      req.Mint,
		"sol":       res.SpentSOL,
		"tokens":    models.UITokens(res.TokenAmount, rec.TokenDecimals),
		"signature": res.Signature,
		"source":    rec.ActorWallet,
	})

	return TradeResult{
		Side:      execution.SideBuy,
		Mint:      req.Mint,
		Signature: res.Signature,
		Amount:    res.TokenAmount,
		SOL:       res.SpentSOL,
	}, nil
}

// handleSell resolves how much of our position a watched wallet's sell
// corresponds to, gates it on latency and liquidity and spawns the sell.
func (m *Monitor) handleSell(rec models.TransactionRecord) (Outcome, *scheduler.Future) {
	sh := m.shared
	mint := rec.TokenMint
	if !sh.Config.Trading.EnableCopySell {
		sh.Metrics.Skip("sell", "copy_sell_disabled")
		return skip("copy sell disabled"), nil
	}

	match := sh.Ledger.GetExactSellAmount(mint, rec.ActorWallet, rec.TokenAmount())
	if match == nil {
		sh.Metrics.Skip("sell", "no_position")
		return skip("no tracked purchase from this wallet"), nil
	}
	amount := match.OurSellAmount

	if sh.Latency.Enabled() {
		verdict := sh.Latency.ShouldExecute(rec.Timestamp, latency.Sell)
		if !verdict.ShouldExecute {
			sh.Metrics.Skip("sell", "latency")
			return skip("latency: " + verdict.Reason), nil
		}
		adjusted := sh.Latency.ConservativeSellAmount(amount, verdict.Delay)
		if adjusted != amount {
			m.logger.Sugar().Infof("Monitor: %s delay on %s, selling %.4f of %.4f tokens",
				verdict.Delay.Level, models.Short(mint),
				models.UITokens(adjusted, rec.TokenDecimals), models.UITokens(amount, rec.TokenDecimals))
		}
		amount = adjusted
		if amount == 0 {
			sh.Metrics.Skip("sell", "latency")
			return skip("delay-adjusted sell amount is zero"), nil
		}
	}

	plan := sh.Liquidity.SplitIntoChunks(amount, rec.Pool)
	if !plan.CanExecute {
		sh.Metrics.Skip("sell", "liquidity")
		return skip("liquidity: " + plan.Reason), nil
	}
	fullExit := sh.Ledger.IsLastRemainingPurchase(mint)

	kind := "exact"
	if match.IsProportional {
		kind = "proportional"
	}
	m.logger.Sugar().Infof("Monitor %s: mirroring sell of %s, target sold %.4f, selling %.4f (%s match, %d chunk(s), full exit %t)",
		models.Short(m.wallet), models.Short(mint),
		models.UITokens(rec.TokenAmount(), rec.TokenDecimals), models.UITokens(amount, rec.TokenDecimals),
		kind, len(plan.Chunks), fullExit)

	f, err := m.sched.Spawn("sell:"+models.Short(mint), func(ctx context.Context) (any, error) {
		return m.executeSell(ctx, rec, *match, plan.Chunks, fullExit)
	})
	if err != nil {
		return m.spawnFailed("sell", mint, err), nil
	}
	return Outcome{Success: true}, f
}

func (m *Monitor) executeSell(ctx context.Context, rec models.TransactionRecord, match ledger.SellMatch, chunks []liquidity.Chunk, fullExit bool) (TradeResult, error) {
	sh := m.shared
	mint := rec.TokenMint
	started := sh.now()
	result := TradeResult{Side: execution.SideSell, Mint: mint, FullExit: fullExit}

	var planned uint64
	for _, c := range chunks {
		planned += c.Size
	}

	var lastErr error
	failed := 0
	for i, c := range chunks {
		last := i == len(chunks)-1
		res, err := sh.Executor.Sell(context.WithoutCancel(ctx), execution.SellRequest{
			Mint:     mint,
			Amount:   c.Size,
			Pool:     rec.Pool,
			FullExit: fullExit && last,
		})
		if len(chunks) > 1 {
			sh.Metrics.Chunk()
		}
		if err != nil {
			lastErr = err
			failed++
			if len(chunks) == 1 {
				break
			}
			m.logger.Sugar().Warnf("Monitor: chunk %d/%d of %s failed: %v", c.Index, c.Total, models.Short(mint), err)
			if !chunkRecoverable(err) {
				break
			}
		} else {
			result.Chunks++
			if res.Stopped {
				result.Stopped = true
				break
			}
			result.Amount += res.Sold
			result.SOL += res.ReceivedSOL
			result.Signature = res.Signature
		}

		if !last && c.DelayAfter > 0 {
			select {
			case <-ctx.Done():
				m.logger.Sugar().Infof("Monitor: stopping chunked sell of %s after %d/%d chunks", models.Short(mint), c.Index, c.Total)
			case <-time.After(c.DelayAfter):
			}
			if ctx.Err() != nil {
				lastErr = ctx.Err()
				break
			}
		}
	}

	if result.Amount > 0 || result.Stopped {
		m.settleSell(rec, match, result, planned)
	}

	if result.Amount == 0 && !result.Stopped {
		sh.Metrics.Trade("sell", outcomeLabel(lastErr), sh.now().Sub(started))
		m.executionFailed("sell", mint, 0, lastErr)
		return result, lastErr
	}
	sh.Metrics.Trade("sell", "success", sh.now().Sub(started))
	if lastErr != nil {
		m.logger.Sugar().Warnf("Monitor: sell of %s completed partially (%d/%d chunks, %d failed): %v",
			models.Short(mint), result.Chunks, len(chunks), failed, lastErr)
	}
	return result, nil
}

// chunkRecoverable reports whether a chunked sell should move on to its
// next chunk after err.
func chunkRecoverable(err error) bool {
	switch execution.Classify(err) {
	case execution.FailureInsufficientFunds, execution.FailureCancelled:
		return false
	default:
		return true
	}
}

// settleSell folds a completed sell into the ledger, price history and
// portfolio. An exact match that sold less than planned only shrinks the
// position so the unsold tokens stay tracked.
func (m *Monitor) settleSell(rec models.TransactionRecord, match ledger.SellMatch, result TradeResult, planned uint64) {
	sh := m.shared
	mint := rec.TokenMint

	partial := !result.Stopped && result.Amount < planned
	switch {
	case match.IsProportional:
		sold := result.Amount
		if result.Stopped && sold == 0 {
			sold = match.OurSellAmount
		}
		sh.Ledger.ApplyProportionalSell(mint, rec.ActorWallet, sold)
	case partial:
		m.logger.Sugar().Warnf("Monitor: sold %.4f of %.4f planned %s, keeping the rest in the ledger",
			models.UITokens(result.Amount, rec.TokenDecimals), models.UITokens(planned, rec.TokenDecimals), models.Short(mint))
		sh.Ledger.ApplyProportionalSell(mint, rec.ActorWallet, result.Amount)
	default:
		sh.Ledger.RemovePurchase(mint, rec.ActorWallet, match.Purchase.TargetBoughtAmount)
	}
	sh.Cooldown.RecordMarketActivity(mint)

	if result.Stopped && result.Amount == 0 {
		m.logger.Sugar().Infof("Monitor: no %s balance left, position closed in ledger", models.Short(mint))
		return
	}

	price := fillPrice(result.SOL, result.Amount, rec.TokenDecimals)
	if price > 0 {
		sh.Slippage.RecordPrice(mint, price, sh.now())
	}
	if sh.BookExecutedFills {
		sh.Portfolio.Record(mint, result.SOL, false, rec.TokenDecimals, price)
	}
	m.logger.Sugar().Infof("Monitor: sold %.4f %s for %.6f SOL in %d chunk(s) (sig %s, full exit %t)",
		models.UITokens(result.Amount, rec.TokenDecimals), models.Short(mint), result.SOL, result.Chunks,
		models.Short(result.Signature), result.FullExit)
	sh.notify(alert.KindSell, "Sell executed", map[string]any{
		"mint":      mint,
		"sol":       result.SOL,
		"tokens":    models.UITokens(result.Amount, rec.TokenDecimals),
		"chunks":    result.Chunks,
		"full_exit": result.FullExit,
		"signature": result.Signature,
	})
}

// recordOwnFill books the controlled wallet's own swaps into the portfolio.
func (m *Monitor) recordOwnFill(rec models.TransactionRecord) {
	sh := m.shared
	price := rec.Price()
	e := sh.Portfolio.Record(rec.TokenMint, rec.SOLAmount(), rec.IsBuy, rec.TokenDecimals, price)
	if price > 0 {
		sh.Slippage.RecordPrice(rec.TokenMint, price, rec.Timestamp)
	}
	if rec.IsBuy {
		m.logger.Sugar().Infof("Portfolio: own buy of %s for %.6f SOL (%d buys)", models.Short(rec.TokenMint), rec.SOLAmount(), e.BuyCount)
		return
	}
	m.logger.Sugar().Infof("Portfolio: own sell of %s for %.6f SOL, realized %+.6f SOL, unrealized %+.2f%%",
		models.Short(rec.TokenMint), rec.SOLAmount(), sh.Portfolio.RealizedPnL(rec.TokenMint), sh.Portfolio.PnL(rec.TokenMint, price)*100)
}

func (m *Monitor) spawnFailed(op, mint string, err error) Outcome {
	m.shared.Metrics.Skip(op, "spawn_rejected")
	m.logger.Sugar().Errorf("Monitor: could not queue %s of %s: %v", op, models.Short(mint), err)
	if errors.Is(err, scheduler.ErrQueueFull) {
		m.shared.notify(alert.KindError, "Execution queue full", map[string]any{"op": op, "mint": mint, "wallet": m.wallet})
	}
	return skip(fmt.Sprintf("%s not queued: %v", op, err))
}

// executionFailed applies the failure policy: insufficient funds stop all
// buys, everything else is logged and fails only this task.
func (m *Monitor) executionFailed(op, mint string, sol float64, err error) {
	sh := m.shared
	switch execution.Classify(err) {
	case execution.FailureInsufficientFunds:
		if op == "buy" {
			sh.DisableBuying(fmt.Sprintf("insufficient funds buying %s", models.Short(mint)))
		}
		if sh.Alerts != nil {
			sh.Alerts.InsufficientFunds(map[string]any{"op": op, "mint": mint, "sol": sol, "error": err.Error()})
		}
	case execution.FailureSlippage, execution.FailureRateLimited, execution.FailureSimulation:
		m.logger.Sugar().Warnf("Monitor: %s of %s failed: %v", op, models.Short(mint), err)
	case execution.FailureCancelled:
		m.logger.Sugar().Infof("Monitor: %s of %s cancelled", op, models.Short(mint))
	default:
		m.logger.Sugar().Errorf("Monitor: %s of %s failed: %v", op, models.Short(mint), err)
		sh.notify(alert.KindError, "Trade failed", map[string]any{"op": op, "mint": mint, "error": fmt.Sprint(err)})
	}
}

func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	return execution.Classify(err).String()
}

func fillPrice(sol float64, amount uint64, decimals uint8) float64 {
	tokens := models.UITokens(amount, decimals)
	if tokens <= 0 || sol <= 0 {
		return 0
	}
	return sol / tokens
}
