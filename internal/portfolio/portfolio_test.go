package portfolio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mint = "MintAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

func TestBuysAverageIn(t *testing.T) {
	b := New(nil)
	b.Record(mint, 1, true, 6, 0.001)
	e := b.Record(mint, 1, true, 6, 0.002)

	assert.Equal(t, 2, e.BuyCount)
	assert.InDelta(t, 2.0, e.TotalSolSpent, 1e-12)
	assert.InDelta(t, 1500.0, e.TotalTokens, 1e-9)
	assert.InDelta(t, 2.0/1500.0, e.AverageBuyPrice, 1e-12)
	assert.InDelta(t, 0.002, e.CurrentPrice, 1e-12)
	assert.False(t, e.FirstBuyTime.IsZero())
}

func TestSellReducesTokensAndRealizes(t *testing.T) {
	b := New(nil)
	b.Record(mint, 1, true, 6, 0.001)
	e := b.Record(mint, -0.6, false, 6, 0.002)

	assert.Equal(t, 1, e.SellCount)
	assert.InDelta(t, 700.0, e.TotalTokens, 1e-9)
	assert.InDelta(t, 1.0/700.0, e.AverageBuyPrice, 1e-12)
	assert.InDelta(t, -0.4, b.RealizedPnL(mint), 1e-12)

	e = b.Record(mint, 5, false, 6, 0.002)
	assert.Zero(t, e.TotalTokens)
	assert.Zero(t, e.AverageBuyPrice)
}

func TestPnLAndNetProfit(t *testing.T) {
	b := New(nil)
	b.Record(mint, 1, true, 6, 0.001)

	assert.InDelta(t, 0.5, b.PnL(mint, 0.0015), 1e-12)
	assert.InDelta(t, -0.5, b.PnL(mint, 0.0005), 1e-12)
	assert.InDelta(t, 0.5, b.NetProfit(mint, 0.0015), 1e-12)
	assert.Zero(t, b.PnL("unknown", 1))
	assert.Zero(t, b.NetProfit("unknown", 1))
	assert.Zero(t, b.RealizedPnL("unknown"))
}

func TestZeroPriceKeepsTokens(t *testing.T) {
	b := New(nil)
	b.Record(mint, 1, true, 6, 0.001)
	e := b.Record(mint, 1, true, 6, 0)
	assert.InDelta(t, 1000.0, e.TotalTokens, 1e-9)
	assert.InDelta(t, 2.0, e.TotalSolSpent, 1e-12)
	assert.InDelta(t, 0.001, e.CurrentPrice, 1e-12)
}

func TestAllOrderingAndDelete(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	b := New(func() time.Time { return now })
	b.Record("A", 1, true, 6, 1)
	now = now.Add(time.Second)
	b.Record("B", 1, true, 6, 1)

	all := b.All()
	require.Len(t, all, 2)
	assert.Equal(t, "B", all[0].Mint)

	spent, recv := b.Totals()
	assert.InDelta(t, 2.0, spent, 1e-12)
	assert.Zero(t, recv)

	assert.True(t, b.Delete("A"))
	assert.False(t, b.Delete("A"))
	_, ok := b.Entry("A")
	assert.False(t, ok)
}
