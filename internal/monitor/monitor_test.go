package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"solana-copy-trader/internal/alert"
	"solana-copy-trader/internal/config"
	"solana-copy-trader/internal/cooldown"
	"solana-copy-trader/internal/execution"
	"solana-copy-trader/internal/latency"
	"solana-copy-trader/internal/ledger"
	"solana-copy-trader/internal/liquidity"
	"solana-copy-trader/internal/metrics"
	"solana-copy-trader/internal/models"
	"solana-copy-trader/internal/portfolio"
	"solana-copy-trader/internal/scheduler"
	"solana-copy-trader/internal/slippage"
	"solana-copy-trader/internal/stream"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	targetWallet = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	ownWallet    = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"
	mintA        = "7GCihgDB8fe6KNjn2MYtkzZcRjQy3t9GHdC8uHYmW2hr"
	mintB        = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type mockExecutor struct {
	mu           sync.Mutex
	buys         []execution.BuyRequest
	sells        []execution.SellRequest
	buyErr       error
	tokensPerBuy uint64
	failSellAt   int   // 1-based sell call that fails
	sellErr      error // returned by the failing call, a submission error when nil
	stopped      bool
}

func (e *mockExecutor) Buy(_ context.Context, req execution.BuyRequest) (execution.BuyResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buys = append(e.buys, req)
	if e.buyErr != nil {
		return execution.BuyResult{}, e.buyErr
	}
	return execution.BuyResult{
		Signature:   fmt.Sprintf("buy-%d", len(e.buys)),
		TokenAmount: e.tokensPerBuy,
		SpentSOL:    req.AmountSOL,
	}, nil
}

func (e *mockExecutor) Sell(_ context.Context, req execution.SellRequest) (execution.SellResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sells = append(e.sells, req)
	n := len(e.sells)
	if e.failSellAt == n {
		if e.sellErr != nil {
			return execution.SellResult{}, e.sellErr
		}
		return execution.SellResult{}, &execution.SubmissionError{Op: "sell", Mint: req.Mint, Err: errors.New("blockhash not found")}
	}
	if e.stopped {
		return execution.SellResult{Stopped: true}, nil
	}
	return execution.SellResult{
		Signature:   fmt.Sprintf("sell-%d", n),
		Sold:        req.Amount,
		ReceivedSOL: 0.01,
		Attempts:    1,
	}, nil
}

func (e *mockExecutor) Buys() []execution.BuyRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]execution.BuyRequest(nil), e.buys...)
}

func (e *mockExecutor) Sells() []execution.SellRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]execution.SellRequest(nil), e.sells...)
}

type recordingNotifier struct {
	mu    sync.Mutex
	kinds []alert.Kind
	funds int
}

func (n *recordingNotifier) Notify(kind alert.Kind, _ string, _ map[string]any) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, kind)
	return true
}

func (n *recordingNotifier) InsufficientFunds(map[string]any) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.funds++
	return true
}

func (n *recordingNotifier) Kinds() []alert.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]alert.Kind(nil), n.kinds...)
}

func (n *recordingNotifier) Funds() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.funds
}

// scriptedSource fails its first session after one event and then
// streams until cancelled.
type scriptedSource struct {
	mu    sync.Mutex
	calls int
}

func (s *scriptedSource) Run(ctx context.Context, _ []string, onReady func(), handle stream.Handler) error {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()

	onReady()
	if n == 1 {
		handle(stream.TransactionEvent{Signature: "no-meta"})
		return errors.New("connection reset")
	}
	<-ctx.Done()
	return nil
}

type fixture struct {
	clock  *fakeClock
	shared *Shared
	exec   *mockExecutor
	notes  *recordingNotifier
	mon    *Monitor
}

func newFixture(t *testing.T, mutate func(cfg *models.Config)) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Wallet = ownWallet
	cfg.TargetWallets = []string{targetWallet}
	cfg.Liquidity.ChunkDelayMs = 1
	cfg.Stream.ReconnectDelayMs = 1
	if mutate != nil {
		mutate(cfg)
	}

	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	logger := zap.NewNop()
	exec := &mockExecutor{tokensPerBuy: 100_000}
	notes := &recordingNotifier{}
	shared := &Shared{
		Config:    cfg,
		Ledger:    ledger.NewStore(0, logger, ledger.WithClock(clock.Now)),
		Cooldown:  cooldown.NewGovernor(cfg.Cooldown, clock.Now),
		Liquidity: liquidity.NewAnalyzer(cfg.Liquidity),
		Latency:   latency.NewCompensator(cfg.Latency, clock.Now),
		Slippage:  slippage.NewTracker(cfg.Slippage, clock.Now),
		Portfolio: portfolio.New(clock.Now),
		Executor:  exec,
		Alerts:    notes,
		Metrics:   metrics.New(),
		Logger:    logger,
		Now:       clock.Now,
	}
	mon := New(targetWallet, shared, &scriptedSource{}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	mon.sched.Start(ctx)
	t.Cleanup(func() {
		cancel()
		mon.sched.Stop()
	})
	return &fixture{clock: clock, shared: shared, exec: exec, notes: notes, mon: mon}
}

func deepPool() models.ConstantProductPool {
	return models.ConstantProductPool{Pool: "pool", BaseReserve: 1_000_000_000_000, QuoteReserve: 100 * models.LamportsPerSOL}
}

func (f *fixture) buy(mint string, lamports int64, tokens int64, pool models.PoolContext) models.TransactionRecord {
	return models.TransactionRecord{
		Signature:     fmt.Sprintf("target-buy-%s-%d", mint[:4], tokens),
		TokenMint:     mint,
		TokenDecimals: 6,
		TokenChanges:  tokens,
		SolChanges:    -lamports,
		IsBuy:         true,
		ActorWallet:   targetWallet,
		Protocol:      pool.Protocol(),
		Pool:          pool,
		Timestamp:     f.clock.Now(),
	}
}

func (f *fixture) sell(mint string, tokens int64) models.TransactionRecord {
	return models.TransactionRecord{
		Signature:     fmt.Sprintf("target-sell-%s-%d", mint[:4], tokens),
		TokenMint:     mint,
		TokenDecimals: 6,
		TokenChanges:  -tokens,
		SolChanges:    50_000_000,
		ActorWallet:   targetWallet,
		Protocol:      models.ProtocolConstantProduct,
		Pool:          deepPool(),
		Timestamp:     f.clock.Now(),
	}
}

func wait(t *testing.T, fut *scheduler.Future) (TradeResult, error) {
	t.Helper()
	require.NotNil(t, fut)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := fut.Wait(ctx)
	res, _ := v.(TradeResult)
	return res, err
}

// mirrorBuy dispatches a target buy and waits for it to land.
func (f *fixture) mirrorBuy(t *testing.T, mint string, targetTokens int64) TradeResult {
	t.Helper()
	out, fut := f.mon.Dispatch(f.buy(mint, 2*models.LamportsPerSOL, targetTokens, deepPool()))
	require.True(t, out.Success, out.Reason)
	res, err := wait(t, fut)
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	return res
}

func TestBuyAmountClamps(t *testing.T) {
	assert.InDelta(t, 0.04, BuyAmount(-2, 0.01, 0.04, 0.5), 1e-12)
	assert.InDelta(t, 0.25, BuyAmount(-25, 0.01, 0.04, 0.5), 1e-12)
	assert.InDelta(t, 0.5, BuyAmount(-100, 0.01, 0.04, 0.5), 1e-12)
}

func TestMirroredBuyUsesClampedAmount(t *testing.T) {
	f := newFixture(t, nil)

	res := f.mirrorBuy(t, mintA, 5_000_000)

	buys := f.exec.Buys()
	require.Len(t, buys, 1)
	assert.InDelta(t, 0.04, buys[0].AmountSOL, 1e-12)
	assert.Equal(t, mintA, buys[0].Mint)
	assert.Equal(t, uint64(100_000), res.Amount)

	pos, ok := f.shared.Ledger.Position(mintA, targetWallet)
	require.True(t, ok)
	assert.Equal(t, uint64(100_000), pos.TotalAmount)
	require.Len(t, pos.Purchases, 1)
	assert.Equal(t, uint64(5_000_000), pos.Purchases[0].TargetBoughtAmount)
	assert.Equal(t, 1, f.shared.Ledger.RemainingPurchaseCount(mintA))
	assert.Contains(t, f.notes.Kinds(), alert.KindBuy)

	_, booked := f.shared.Portfolio.Entry(mintA)
	assert.False(t, booked)
}

func TestBookExecutedFillsRecordsPortfolio(t *testing.T) {
	f := newFixture(t, nil)
	f.shared.BookExecutedFills = true

	f.mirrorBuy(t, mintA, 5_000_000)

	e, ok := f.shared.Portfolio.Entry(mintA)
	require.True(t, ok)
	assert.Equal(t, 1, e.BuyCount)
	assert.InDelta(t, 0.04, e.TotalSolSpent, 1e-12)
}

func TestBuyCooldownSkips(t *testing.T) {
	f := newFixture(t, nil)
	f.mirrorBuy(t, mintA, 5_000_000)
	f.clock.Advance(-time.Second)

	out, fut := f.mon.Dispatch(f.buy(mintA, 2*models.LamportsPerSOL, 6_000_000, deepPool()))
	assert.False(t, out.Success)
	assert.Nil(t, fut)
	assert.Contains(t, out.Reason, "cooldown")
	assert.Len(t, f.exec.Buys(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.shared.Metrics.Skips.WithLabelValues("buy", cooldown.ReasonGlobal)))
}

func TestShallowPoolBuySkipped(t *testing.T) {
	f := newFixture(t, nil)
	shallow := models.ConstantProductPool{Pool: "p", BaseReserve: 1_000_000_000, QuoteReserve: 2 * models.LamportsPerSOL}

	out, fut := f.mon.Dispatch(f.buy(mintA, 2*models.LamportsPerSOL, 5_000_000, shallow))
	assert.False(t, out.Success)
	assert.Nil(t, fut)
	assert.Contains(t, out.Reason, "liquidity")
	assert.Empty(t, f.exec.Buys())
}

func TestBuyCappedToPoolShare(t *testing.T) {
	f := newFixture(t, func(cfg *models.Config) {
		cfg.Trading.MaxBuyPoolPercentage = 0.05
	})
	pool := models.ConstantProductPool{Pool: "p", BaseReserve: 1_000_000_000, QuoteReserve: 6 * models.LamportsPerSOL}

	out, fut := f.mon.Dispatch(f.buy(mintA, 100*models.LamportsPerSOL, 5_000_000, pool))
	require.True(t, out.Success, out.Reason)
	_, err := wait(t, fut)
	require.NoError(t, err)

	buys := f.exec.Buys()
	require.Len(t, buys, 1)
	assert.InDelta(t, 0.3, buys[0].AmountSOL, 1e-9)
}

func TestBuyBelowMinimumAfterCapSkipped(t *testing.T) {
	f := newFixture(t, func(cfg *models.Config) {
		cfg.Trading.MaxBuyPoolPercentage = 0.005
	})
	pool := models.ConstantProductPool{Pool: "p", BaseReserve: 1_000_000_000, QuoteReserve: 6 * models.LamportsPerSOL}

	out, fut := f.mon.Dispatch(f.buy(mintA, 2*models.LamportsPerSOL, 5_000_000, pool))
	assert.False(t, out.Success)
	assert.Nil(t, fut)
	assert.Contains(t, out.Reason, "below minimum")
}

func TestInsufficientFundsDisablesBuying(t *testing.T) {
	f := newFixture(t, nil)
	f.exec.buyErr = &execution.SubmissionError{Op: "buy", Mint: mintA, Err: execution.ErrInsufficientFunds}

	out, fut := f.mon.Dispatch(f.buy(mintA, 2*models.LamportsPerSOL, 5_000_000, deepPool()))
	require.True(t, out.Success)
	_, err := wait(t, fut)
	require.ErrorIs(t, err, execution.ErrInsufficientFunds)

	assert.True(t, f.shared.BuyingDisabled())
	assert.Equal(t, 1, f.notes.Funds())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.shared.Metrics.BuyingDisabled))
	_, tracked := f.shared.Ledger.Position(mintA, targetWallet)
	assert.False(t, tracked)

	f.clock.Advance(time.Minute)
	out, fut = f.mon.Dispatch(f.buy(mintB, 2*models.LamportsPerSOL, 5_000_000, deepPool()))
	assert.False(t, out.Success)
	assert.Nil(t, fut)
	assert.Contains(t, out.Reason, "buying disabled")
	assert.Len(t, f.exec.Buys(), 1)

	f.shared.EnableBuying()
	assert.False(t, f.shared.BuyingDisabled())
}

func TestSellOfLastPurchaseIsFullExit(t *testing.T) {
	f := newFixture(t, nil)
	f.mirrorBuy(t, mintA, 5_000_000)

	out, fut := f.mon.Dispatch(f.sell(mintA, 5_000_000))
	require.True(t, out.Success, out.Reason)
	res, err := wait(t, fut)
	require.NoError(t, err)

	sells := f.exec.Sells()
	require.Len(t, sells, 1)
	assert.True(t, sells[0].FullExit)
	assert.Equal(t, uint64(100_000), sells[0].Amount)
	assert.True(t, res.FullExit)

	_, tracked := f.shared.Ledger.Position(mintA, targetWallet)
	assert.False(t, tracked)
	assert.Equal(t, 0, f.shared.Ledger.RemainingPurchaseCount(mintA))
	assert.Contains(t, f.notes.Kinds(), alert.KindSell)
}

func TestSellWithOtherPurchasesIsNotFullExit(t *testing.T) {
	f := newFixture(t, nil)
	f.mirrorBuy(t, mintA, 5_000_000)
	f.mirrorBuy(t, mintA, 8_000_000)

	out, fut := f.mon.Dispatch(f.sell(mintA, 5_000_000))
	require.True(t, out.Success, out.Reason)
	_, err := wait(t, fut)
	require.NoError(t, err)

	sells := f.exec.Sells()
	require.Len(t, sells, 1)
	assert.False(t, sells[0].FullExit)
	assert.Equal(t, 1, f.shared.Ledger.RemainingPurchaseCount(mintA))

	pos, ok := f.shared.Ledger.Position(mintA, targetWallet)
	require.True(t, ok)
	require.Len(t, pos.Purchases, 1)
	assert.Equal(t, uint64(8_000_000), pos.Purchases[0].TargetBoughtAmount)
}

func TestProportionalSellShrinksPosition(t *testing.T) {
	f := newFixture(t, nil)
	f.mirrorBuy(t, mintA, 5_000_000)

	out, fut := f.mon.Dispatch(f.sell(mintA, 2_500_000))
	require.True(t, out.Success, out.Reason)
	res, err := wait(t, fut)
	require.NoError(t, err)
	assert.Equal(t, uint64(50_000), res.Amount)

	pos, ok := f.shared.Ledger.Position(mintA, targetWallet)
	require.True(t, ok)
	assert.Equal(t, uint64(50_000), pos.TotalAmount)
	assert.Equal(t, 0, f.shared.Ledger.RemainingPurchaseCount(mintA))
}

func TestChunkedSellFlagsOnlyLastChunk(t *testing.T) {
	f := newFixture(t, nil)
	// 2e11 units at 0.1 lamports each is 20 SOL against a 100 SOL pool.
	f.exec.tokensPerBuy = 200_000_000_000
	f.mirrorBuy(t, mintA, 5_000_000)

	out, fut := f.mon.Dispatch(f.sell(mintA, 5_000_000))
	require.True(t, out.Success, out.Reason)
	res, err := wait(t, fut)
	require.NoError(t, err)

	sells := f.exec.Sells()
	require.Len(t, sells, 6)
	var total uint64
	for i, s := range sells {
		total += s.Amount
		assert.Equal(t, i == len(sells)-1, s.FullExit, "chunk %d", i+1)
	}
	assert.Equal(t, uint64(200_000_000_000), total)
	assert.Equal(t, 6, res.Chunks)
	assert.Equal(t, total, res.Amount)
	assert.Equal(t, 6.0, testutil.ToFloat64(f.shared.Metrics.SellChunks))

	_, tracked := f.shared.Ledger.Position(mintA, targetWallet)
	assert.False(t, tracked)
}

func TestChunkFailureContinuesWithRemainingChunks(t *testing.T) {
	f := newFixture(t, nil)
	f.exec.tokensPerBuy = 200_000_000_000
	f.exec.failSellAt = 3
	f.mirrorBuy(t, mintA, 5_000_000)

	out, fut := f.mon.Dispatch(f.sell(mintA, 5_000_000))
	require.True(t, out.Success, out.Reason)
	res, err := wait(t, fut)
	require.NoError(t, err)

	sells := f.exec.Sells()
	require.Len(t, sells, 6)
	assert.True(t, sells[5].FullExit)
	assert.Equal(t, 5, res.Chunks)
	assert.Equal(t, uint64(200_000_000_000)-sells[2].Amount, res.Amount)

	pos, ok := f.shared.Ledger.Position(mintA, targetWallet)
	require.True(t, ok, "unsold chunk must stay in the ledger")
	assert.Equal(t, sells[2].Amount, pos.TotalAmount)
	assert.Len(t, pos.Purchases, 1)
	assert.Equal(t, 0, f.shared.Ledger.RemainingPurchaseCount(mintA))
}

func TestInsufficientFundsEndsChunkLoopAndKeepsRemainder(t *testing.T) {
	f := newFixture(t, nil)
	f.exec.tokensPerBuy = 200_000_000_000
	f.exec.failSellAt = 3
	f.exec.sellErr = fmt.Errorf("sell chunk: %w", execution.ErrInsufficientFunds)
	f.mirrorBuy(t, mintA, 5_000_000)

	out, fut := f.mon.Dispatch(f.sell(mintA, 5_000_000))
	require.True(t, out.Success, out.Reason)
	res, err := wait(t, fut)
	require.NoError(t, err)

	sells := f.exec.Sells()
	require.Len(t, sells, 3)
	sold := sells[0].Amount + sells[1].Amount
	assert.Equal(t, 2, res.Chunks)
	assert.Equal(t, sold, res.Amount)

	pos, ok := f.shared.Ledger.Position(mintA, targetWallet)
	require.True(t, ok)
	assert.Equal(t, uint64(200_000_000_000)-sold, pos.TotalAmount)
	require.Len(t, pos.Purchases, 1)
	assert.Equal(t, uint64(5_000_000), pos.Purchases[0].TargetBoughtAmount)
}

func TestStoppedSellStillSettlesLedger(t *testing.T) {
	f := newFixture(t, nil)
	f.exec.stopped = true
	f.mirrorBuy(t, mintA, 5_000_000)

	out, fut := f.mon.Dispatch(f.sell(mintA, 5_000_000))
	require.True(t, out.Success, out.Reason)
	res, err := wait(t, fut)
	require.NoError(t, err)
	assert.True(t, res.Stopped)

	_, tracked := f.shared.Ledger.Position(mintA, targetWallet)
	assert.False(t, tracked)
}

func TestFailedSellKeepsPosition(t *testing.T) {
	f := newFixture(t, nil)
	f.exec.failSellAt = 1
	f.mirrorBuy(t, mintA, 5_000_000)

	out, fut := f.mon.Dispatch(f.sell(mintA, 5_000_000))
	require.True(t, out.Success, out.Reason)
	_, err := wait(t, fut)
	require.Error(t, err)

	assert.Equal(t, 1, f.shared.Ledger.RemainingPurchaseCount(mintA))
	assert.Contains(t, f.notes.Kinds(), alert.KindError)
}

func TestStaleSellSkippedByLatency(t *testing.T) {
	f := newFixture(t, nil)
	f.mirrorBuy(t, mintA, 5_000_000)

	rec := f.sell(mintA, 5_000_000)
	rec.Timestamp = f.clock.Now().Add(-10 * time.Minute)
	out, fut := f.mon.Dispatch(rec)
	assert.False(t, out.Success)
	assert.Nil(t, fut)
	assert.Contains(t, out.Reason, "latency")
	assert.Empty(t, f.exec.Sells())
}

func TestDelayedSellIsScaledDown(t *testing.T) {
	f := newFixture(t, nil)
	f.mirrorBuy(t, mintA, 5_000_000)

	rec := f.sell(mintA, 5_000_000)
	rec.Timestamp = f.clock.Now().Add(-time.Minute)
	out, fut := f.mon.Dispatch(rec)
	require.True(t, out.Success, out.Reason)
	_, err := wait(t, fut)
	require.NoError(t, err)

	sells := f.exec.Sells()
	require.Len(t, sells, 1)
	assert.Equal(t, uint64(80_000), sells[0].Amount)
}

func TestCopySellDisabled(t *testing.T) {
	f := newFixture(t, func(cfg *models.Config) { cfg.Trading.EnableCopySell = false })
	f.mirrorBuy(t, mintA, 5_000_000)

	out, fut := f.mon.Dispatch(f.sell(mintA, 5_000_000))
	assert.False(t, out.Success)
	assert.Nil(t, fut)
	assert.Equal(t, "copy sell disabled", out.Reason)
}

func TestSellWithoutPositionSkipped(t *testing.T) {
	f := newFixture(t, nil)

	out, fut := f.mon.Dispatch(f.sell(mintA, 5_000_000))
	assert.False(t, out.Success)
	assert.Nil(t, fut)
	assert.Contains(t, out.Reason, "no tracked purchase")
}

func TestOwnWalletFillsGoToPortfolio(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.buy(mintA, 40_000_000, 400_000, deepPool())
	rec.ActorWallet = ownWallet
	out, fut := f.mon.Dispatch(rec)
	assert.True(t, out.Success)
	assert.Nil(t, fut)
	assert.Empty(t, f.exec.Buys())

	e, ok := f.shared.Portfolio.Entry(mintA)
	require.True(t, ok)
	assert.Equal(t, 1, e.BuyCount)
	assert.InDelta(t, 0.04, e.TotalSolSpent, 1e-12)
	assert.Equal(t, 1, f.shared.Slippage.Samples(mintA))
}

func TestQueueFullAlerts(t *testing.T) {
	f := newFixture(t, func(cfg *models.Config) {
		cfg.Scheduler = models.SchedulerConfig{MaxWorkers: 1, QueueSize: 1}
	})
	// A fresh monitor whose scheduler never starts keeps its single slot taken.
	mon := New(targetWallet, f.shared, &scriptedSource{}, zap.NewNop())
	t.Cleanup(mon.sched.Stop)

	out, _ := mon.Dispatch(f.buy(mintA, 2*models.LamportsPerSOL, 5_000_000, deepPool()))
	require.True(t, out.Success)
	f.clock.Advance(time.Second)

	out, fut := mon.Dispatch(f.buy(mintB, 2*models.LamportsPerSOL, 5_000_000, deepPool()))
	assert.False(t, out.Success)
	assert.Nil(t, fut)
	assert.Contains(t, f.notes.Kinds(), alert.KindError)
}

func TestRunReconnectsAndStops(t *testing.T) {
	f := newFixture(t, nil)
	src := &scriptedSource{}
	mon := New(targetWallet, f.shared, src, zap.NewNop())
	assert.Equal(t, StateIdle, mon.State())

	require.NoError(t, mon.Start(context.Background()))
	require.Error(t, mon.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return mon.Reconnects() == 1 && mon.State() == StateStreaming
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), mon.Events())
	assert.False(t, mon.LastEvent().IsZero())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.shared.Metrics.EventsDiscarded.WithLabelValues("missing_meta")))

	mon.Stop()
	assert.Equal(t, StateStopped, mon.State())
	assert.Error(t, mon.Start(context.Background()))
	mon.Stop()
}

func TestAnomalyHookAlerts(t *testing.T) {
	m := metrics.New()
	notes := &recordingNotifier{}
	store := ledger.NewStore(0, zap.NewNop(), ledger.WithAnomalyHook(AnomalyHook(m, notes)))

	store.UpdatePurchaseCount(mintA, -1)

	assert.Eventually(t, func() bool {
		return len(notes.Kinds()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, alert.KindDataIntegrity, notes.Kinds()[0])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DataIntegrity.WithLabelValues("negative_purchase_count")))
	assert.Equal(t, 0, store.RemainingPurchaseCount(mintA))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Streaming", StateStreaming.String())
	assert.Equal(t, "Unknown", State(42).String())
}
