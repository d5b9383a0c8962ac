package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"solana-copy-trader/internal/models"
	"solana-copy-trader/internal/slippage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const mint = "MintAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

type mockSwapper struct {
	mu     sync.Mutex
	orders []SwapOrder
	errs   []error // consumed per call; nil entries succeed
}

func (m *mockSwapper) Swap(_ context.Context, order SwapOrder) (Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = append(m.orders, order)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return Fill{}, err
		}
	}
	return Fill{Signature: fmt.Sprintf("sig-%d", len(m.orders)), AmountOut: order.AmountIn * 2}, nil
}

func (m *mockSwapper) Orders() []SwapOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SwapOrder(nil), m.orders...)
}

type mockHoldings struct {
	mu      sync.Mutex
	balance uint64
	err     error
	checks  int
}

func (h *mockHoldings) TokenBalance(context.Context, string) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks++
	return h.balance, h.err
}

func (h *mockHoldings) SOLBalance(context.Context) (uint64, error) { return 0, nil }

type mockBlockhash struct {
	valid   bool
	current string
	fresh   string
	err     error
	fetched int
}

func (b *mockBlockhash) IsValid() bool { return b.valid }

func (b *mockBlockhash) ForTrading() (string, bool) { return b.current, b.current != "" }

func (b *mockBlockhash) Fresh(context.Context) (string, error) {
	b.fetched++
	return b.fresh, b.err
}

func newTestEngine(sw Swapper, h Holdings, bh BlockhashSource) *Engine {
	cfg := models.ExecutionConfig{
		RetryDelayMs:    1,
		BuyTipLamports:  1000,
		SellTipLamports: 5000,
		EnableSwapTip:   true,
	}
	tracker := slippage.NewTracker(models.SlippageConfig{
		BaseBuyBps: 500, BaseSellBps: 300, VolatilityMultiplier: 2, MinBps: 50, MaxBps: 3000,
	}, nil)
	return NewEngine(cfg, sw, h, tracker, bh, zap.NewNop())
}

func curve() models.BondingCurve {
	return models.BondingCurve{VirtualSolReserves: 30e9, VirtualTokenReserves: 1e15}
}

func pool() models.ConstantProductPool {
	return models.ConstantProductPool{QuoteReserve: 50e9, BaseReserve: 1e12}
}

func TestBuyAttachesPolicy(t *testing.T) {
	sw := &mockSwapper{}
	e := newTestEngine(sw, &mockHoldings{}, &mockBlockhash{valid: true, current: "bh-1"})

	res, err := e.Buy(context.Background(), BuyRequest{Mint: mint, AmountSOL: 0.5, Pool: pool()})
	require.NoError(t, err)
	assert.Equal(t, "sig-1", res.Signature)
	assert.Equal(t, uint64(1e9), res.TokenAmount)
	assert.InDelta(t, 0.5, res.SpentSOL, 1e-12)

	orders := sw.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, SideBuy, orders[0].Side)
	assert.Equal(t, uint64(5e8), orders[0].AmountIn)
	assert.Equal(t, "bh-1", orders[0].Blockhash)
	assert.Equal(t, uint64(1000), orders[0].TipLamports)
	// no history: volatility 0.5, 500 * (1 + 1) = 1000
	assert.Equal(t, 1000, orders[0].SlippageBps)
}

func TestBuyIsNotRetried(t *testing.T) {
	sw := &mockSwapper{errs: []error{errors.New("Transaction simulation failed: custom program error: 0x1771")}}
	e := newTestEngine(sw, &mockHoldings{}, &mockBlockhash{valid: true, current: "bh"})

	_, err := e.Buy(context.Background(), BuyRequest{Mint: mint, AmountSOL: 1, Pool: pool()})
	require.Error(t, err)
	var sub *SubmissionError
	require.ErrorAs(t, err, &sub)
	assert.Equal(t, "buy", sub.Op)
	assert.Equal(t, FailureSimulation, Classify(err))
	assert.Len(t, sw.Orders(), 1)
}

func TestStaleBlockhashIsRefreshed(t *testing.T) {
	sw := &mockSwapper{}
	bh := &mockBlockhash{valid: false, current: "old", fresh: "new"}
	e := newTestEngine(sw, &mockHoldings{}, bh)

	_, err := e.Buy(context.Background(), BuyRequest{Mint: mint, AmountSOL: 1, Pool: pool()})
	require.NoError(t, err)
	assert.Equal(t, 1, bh.fetched)
	assert.Equal(t, "new", sw.Orders()[0].Blockhash)

	bh.err = errors.New("down")
	_, err = e.Buy(context.Background(), BuyRequest{Mint: mint, AmountSOL: 1, Pool: pool()})
	require.NoError(t, err)
	assert.Equal(t, "old", sw.Orders()[1].Blockhash)

	bh.current = ""
	_, err = e.Buy(context.Background(), BuyRequest{Mint: mint, AmountSOL: 1, Pool: pool()})
	assert.ErrorIs(t, err, ErrNoBlockhash)
}

func TestSellFullExitCarriesTipAndClose(t *testing.T) {
	sw := &mockSwapper{}
	e := newTestEngine(sw, &mockHoldings{balance: 1000}, &mockBlockhash{valid: true, current: "bh"})

	res, err := e.Sell(context.Background(), SellRequest{Mint: mint, Amount: 700, Pool: pool(), FullExit: true})
	require.NoError(t, err)
	assert.Equal(t, uint64(700), res.Sold)
	assert.Equal(t, 1, res.Attempts)

	o := sw.Orders()[0]
	assert.True(t, o.CloseAccount)
	assert.Equal(t, uint64(5000), o.TipLamports)

	_, err = e.Sell(context.Background(), SellRequest{Mint: mint, Amount: 700, Pool: pool()})
	require.NoError(t, err)
	o = sw.Orders()[1]
	assert.False(t, o.CloseAccount)
	assert.Zero(t, o.TipLamports)
}

func TestSellRetriesAndClampsToBalance(t *testing.T) {
	sw := &mockSwapper{errs: []error{errors.New("blockhash not found")}}
	h := &mockHoldings{balance: 400}
	e := newTestEngine(sw, h, &mockBlockhash{valid: true, current: "bh"})

	res, err := e.Sell(context.Background(), SellRequest{Mint: mint, Amount: 700, Pool: pool()})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, uint64(400), res.Sold)

	orders := sw.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, uint64(700), orders[0].AmountIn)
	assert.Equal(t, uint64(400), orders[1].AmountIn)
	assert.Equal(t, 1, h.checks)
}

func TestSellStopsWhenBalanceEmpty(t *testing.T) {
	sw := &mockSwapper{errs: []error{errors.New("timeout")}}
	e := newTestEngine(sw, &mockHoldings{balance: 0}, &mockBlockhash{valid: true, current: "bh"})

	res, err := e.Sell(context.Background(), SellRequest{Mint: mint, Amount: 700, Pool: pool()})
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.Len(t, sw.Orders(), 1)
}

func TestSellAttemptBounds(t *testing.T) {
	assert.Equal(t, 1, SellAttempts(models.ProtocolBondingCurve, true))
	assert.Equal(t, 10, SellAttempts(models.ProtocolBondingCurve, false))
	assert.Equal(t, 10, SellAttempts(models.ProtocolConstantProduct, true))
	assert.Equal(t, 2, SellAttempts(models.ProtocolConstantProduct, false))
	assert.Equal(t, 2, SellAttempts(models.ProtocolLegacyAmm, false))

	fail := errors.New("blockhash not found")
	sw := &mockSwapper{errs: []error{fail, fail, fail}}
	e := newTestEngine(sw, &mockHoldings{balance: 1000}, &mockBlockhash{valid: true, current: "bh"})

	res, err := e.Sell(context.Background(), SellRequest{Mint: mint, Amount: 10, Pool: curve(), FullExit: true})
	require.Error(t, err)
	assert.Equal(t, 1, res.Attempts)
	assert.Len(t, sw.Orders(), 1)

	res, err = e.Sell(context.Background(), SellRequest{Mint: mint, Amount: 10, Pool: pool()})
	require.Error(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Len(t, sw.Orders(), 3)
}

func TestSellInsufficientFundsIsNotRetried(t *testing.T) {
	sw := &mockSwapper{errs: []error{ErrInsufficientFunds}}
	e := newTestEngine(sw, &mockHoldings{balance: 1000}, &mockBlockhash{valid: true, current: "bh"})

	res, err := e.Sell(context.Background(), SellRequest{Mint: mint, Amount: 10, Pool: curve()})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, 1, res.Attempts)
	assert.Len(t, sw.Orders(), 1)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want FailureKind
	}{
		{nil, FailureNone},
		{ErrInsufficientFunds, FailureInsufficientFunds},
		{fmt.Errorf("wrapped: %w", ErrSlippageExceeded), FailureSlippage},
		{&SubmissionError{Op: "sell", Err: ErrRateLimited}, FailureRateLimited},
		{context.Canceled, FailureCancelled},
		{errors.New("Transfer: insufficient lamports 100, need 200"), FailureInsufficientFunds},
		{errors.New("Program failed: custom program error: 0x1"), FailureInsufficientFunds},
		{errors.New("Error Code: TooLittleSolReceived"), FailureSlippage},
		{errors.New("server responded with 429 Too Many Requests"), FailureRateLimited},
		{errors.New("Transaction simulation failed: custom program error: 0x1771"), FailureSimulation},
		{errors.New("connection reset"), FailureSubmission},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.err), "%v", tc.err)
	}
}
