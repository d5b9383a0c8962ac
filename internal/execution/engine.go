package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"solana-copy-trader/internal/models"
	"solana-copy-trader/internal/slippage"

	"go.uber.org/zap"
)

// SlippageSource supplies per-mint tolerances.
type SlippageSource interface {
	ForBuy(mint string) slippage.Result
	ForSell(mint string) slippage.Result
}

// BlockhashSource supplies recent blockhashes.
type BlockhashSource interface {
	IsValid() bool
	ForTrading() (string, bool)
	Fresh(ctx context.Context) (string, error)
}

// Engine implements Executor over a Swapper.
type Engine struct {
	cfg       models.ExecutionConfig
	swapper   Swapper
	holdings  Holdings
	slippage  SlippageSource
	blockhash BlockhashSource
	logger    *zap.Logger
}

// NewEngine wires an engine.
func NewEngine(cfg models.ExecutionConfig, swapper Swapper, holdings Holdings, slip SlippageSource, bh BlockhashSource, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		swapper:   swapper,
		holdings:  holdings,
		slippage:  slip,
		blockhash: bh,
		logger:    logger,
	}
}

func (e *Engine) tradingBlockhash(ctx context.Context) (string, error) {
	if e.blockhash.IsValid() {
		if h, ok := e.blockhash.ForTrading(); ok {
			return h, nil
		}
	}
	h, err := e.blockhash.Fresh(ctx)
	if err == nil {
		return h, nil
	}
	if h, ok := e.blockhash.ForTrading(); ok {
		return h, nil
	}
	return "", fmt.Errorf("%w: %v", ErrNoBlockhash, err)
}

// Buy submits a single buy. Buys are never retried.
func (e *Engine) Buy(ctx context.Context, req BuyRequest) (BuyResult, error) {
	lamports := models.SOLToLamports(req.AmountSOL)
	if lamports == 0 {
		return BuyResult{}, &SubmissionError{Op: "buy", Mint: req.Mint, Err: errors.New("zero amount")}
	}
	slip := e.slippage.ForBuy(req.Mint)
	bh, err := e.tradingBlockhash(ctx)
	if err != nil {
		return BuyResult{}, &SubmissionError{Op: "buy", Mint: req.Mint, Err: err}
	}
	var tip uint64
	if e.cfg.EnableSwapTip {
		tip = e.cfg.BuyTipLamports
	}

	fill, err := e.swapper.Swap(ctx, SwapOrder{
		Side:        SideBuy,
		Mint:        req.Mint,
		Pool:        req.Pool,
		AmountIn:    lamports,
		SlippageBps: slip.FinalBps,
		Blockhash:   bh,
		TipLamports: tip,
	})
	if err != nil {
		return BuyResult{}, wrap("buy", req.Mint, err)
	}
	return BuyResult{
		Signature:   fill.Signature,
		TokenAmount: fill.AmountOut,
		SpentSOL:    models.LamportsToSOL(lamports),
		SlippageBps: slip.FinalBps,
	}, nil
}

// Sell submits a sell, retrying up to SellAttempts. From the second attempt
// on the amount is clamped to the wallet's balance and a zero balance ends
// the sell with Stopped. Insufficient funds are not retried.
func (e *Engine) Sell(ctx context.Context, req SellRequest) (SellResult, error) {
	var protocol models.PoolProtocol
	if req.Pool != nil {
		protocol = req.Pool.Protocol()
	}
	maxAttempts := SellAttempts(protocol, req.FullExit)
	slip := e.slippage.ForSell(req.Mint)
	var tip uint64
	if e.cfg.EnableSwapTip && req.FullExit {
		tip = e.cfg.SellTipLamports
	}
	delay := models.Ms(e.cfg.RetryDelayMs)

	amount := req.Amount
	var (
		lastErr error
		attempt int
	)
	for ; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return SellResult{Attempts: attempt}, ctx.Err()
			case <-time.After(delay):
			}
			bal, err := e.holdings.TokenBalance(ctx, req.Mint)
			if err != nil {
				e.logger.Sugar().Warnf("Execution: balance check for %s failed: %v", models.Short(req.Mint), err)
			} else {
				if bal == 0 {
					e.logger.Sugar().Infof("Execution: no %s balance left, stopping sell", models.Short(req.Mint))
					return SellResult{Stopped: true, Attempts: attempt}, nil
				}
				if amount > bal {
					e.logger.Sugar().Infof("Execution: clamping sell of %s to held balance", models.Short(req.Mint))
					amount = bal
				}
			}
		}

		bh, err := e.tradingBlockhash(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		fill, err := e.swapper.Swap(ctx, SwapOrder{
			Side:         SideSell,
			Mint:         req.Mint,
			Pool:         req.Pool,
			AmountIn:     amount,
			SlippageBps:  slip.FinalBps,
			Blockhash:    bh,
			TipLamports:  tip,
			CloseAccount: req.FullExit,
		})
		if err == nil {
			return SellResult{
				Signature:   fill.Signature,
				Sold:        amount,
				ReceivedSOL: models.LamportsToSOL(fill.AmountOut),
				Attempts:    attempt + 1,
				SlippageBps: slip.FinalBps,
			}, nil
		}
		lastErr = err
		kind := Classify(err)
		e.logger.Sugar().Warnf("Execution: sell attempt %d/%d for %s failed (%s): %v", attempt+1, maxAttempts, models.Short(req.Mint), kind, err)
		if kind == FailureInsufficientFunds || kind == FailureCancelled {
			attempt++
			break
		}
	}
	return SellResult{Attempts: attempt}, wrap("sell", req.Mint, lastErr)
}

func wrap(op, mint string, err error) error {
	var sub *SubmissionError
	if errors.As(err, &sub) {
		return err
	}
	return &SubmissionError{Op: op, Mint: mint, Err: err}
}
