package execution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPaperBuyThenSell(t *testing.T) {
	p := NewPaperSwapper(10, zap.NewNop())
	ctx := context.Background()

	fill, err := p.Swap(ctx, SwapOrder{Side: SideBuy, Mint: mint, Pool: pool(), AmountIn: 1e9, SlippageBps: 1000, TipLamports: 1000})
	require.NoError(t, err)
	assert.NotEmpty(t, fill.Signature)
	// 1 SOL into 50 SOL / 1e12 units: about 1.96e10 units after fee and impact
	assert.InDelta(t, 1.956e10, float64(fill.AmountOut), 1e8)

	held, _ := p.TokenBalance(ctx, mint)
	assert.Equal(t, fill.AmountOut, held)
	sol, _ := p.SOLBalance(ctx)
	assert.Equal(t, uint64(9e9-1000), sol)

	sell, err := p.Swap(ctx, SwapOrder{Side: SideSell, Mint: mint, Pool: pool(), AmountIn: held, SlippageBps: 1000, CloseAccount: true})
	require.NoError(t, err)
	assert.Greater(t, sell.AmountOut, uint64(0))
	held, _ = p.TokenBalance(ctx, mint)
	assert.Zero(t, held)
	assert.Equal(t, 2, p.Fills())
}

func TestPaperInsufficientFunds(t *testing.T) {
	p := NewPaperSwapper(0.1, zap.NewNop())
	_, err := p.Swap(context.Background(), SwapOrder{Side: SideBuy, Mint: mint, Pool: pool(), AmountIn: 1e9, SlippageBps: 1000})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, FailureInsufficientFunds, Classify(err))

	_, err = p.Swap(context.Background(), SwapOrder{Side: SideSell, Mint: mint, Pool: pool(), AmountIn: 10, SlippageBps: 1000})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestPaperSlippageExceeded(t *testing.T) {
	p := NewPaperSwapper(100, zap.NewNop())
	// 25 SOL into a 50 SOL pool moves the price by a third
	_, err := p.Swap(context.Background(), SwapOrder{Side: SideBuy, Mint: mint, Pool: pool(), AmountIn: 25e9, SlippageBps: 500})
	assert.ErrorIs(t, err, ErrSlippageExceeded)
	sol, _ := p.SOLBalance(context.Background())
	assert.Equal(t, uint64(100e9), sol)
}

func TestPaperRejectsEmptyPool(t *testing.T) {
	p := NewPaperSwapper(1, zap.NewNop())
	_, err := p.Swap(context.Background(), SwapOrder{Side: SideBuy, Mint: mint, AmountIn: 1e8, SlippageBps: 500})
	assert.ErrorIs(t, err, ErrSimulationFailed)
}

func TestPaperEngineEndToEnd(t *testing.T) {
	p := NewPaperSwapper(5, zap.NewNop())
	e := newTestEngine(p, p, &mockBlockhash{valid: true, current: "bh"})
	ctx := context.Background()

	buy, err := e.Buy(ctx, BuyRequest{Mint: mint, AmountSOL: 0.5, Pool: pool()})
	require.NoError(t, err)
	require.NotZero(t, buy.TokenAmount)

	sell, err := e.Sell(ctx, SellRequest{Mint: mint, Amount: buy.TokenAmount, Pool: pool(), FullExit: true})
	require.NoError(t, err)
	assert.Equal(t, buy.TokenAmount, sell.Sold)
	assert.Greater(t, sell.ReceivedSOL, 0.0)
	held, _ := p.TokenBalance(ctx, mint)
	assert.Zero(t, held)
}
