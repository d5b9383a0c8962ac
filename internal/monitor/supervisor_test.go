package monitor

import (
	"bytes"
	"context"
	"testing"
	"time"

	"solana-copy-trader/internal/alert"
	"solana-copy-trader/internal/execution"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCheckBalanceBelowLimit(t *testing.T) {
	f := newFixture(t, nil)
	sup := NewSupervisor(f.shared, nil, nil, &bytes.Buffer{}, zap.NewNop())

	err := sup.CheckBalance(context.Background(), execution.NewPaperSwapper(0.05, zap.NewNop()))
	require.ErrorIs(t, err, ErrBalanceBelowLimit)
	assert.Equal(t, 1, f.notes.Funds())

	require.NoError(t, sup.CheckBalance(context.Background(), execution.NewPaperSwapper(1.0, zap.NewNop())))
	assert.Contains(t, f.notes.Kinds(), alert.KindBalance)
}

func TestStatusAndStrategyRows(t *testing.T) {
	f := newFixture(t, nil)
	f.mirrorBuy(t, mintA, 5_000_000)

	var out bytes.Buffer
	sup := NewSupervisor(f.shared, []*Monitor{f.mon}, nil, &out, zap.NewNop())
	f.clock.Advance(time.Minute)

	st := sup.Status()
	require.Len(t, st.Monitors, 1)
	assert.Equal(t, targetWallet, st.Monitors[0].Wallet)
	assert.Equal(t, "Idle", st.Monitors[0].State)
	assert.Len(t, st.Positions, 1)
	assert.Equal(t, time.Minute, st.Uptime)

	rows := sup.StrategyRows()
	require.Len(t, rows, 1)
	assert.Equal(t, mintA, rows[0].Mint)
	assert.Equal(t, 1, rows[0].TotalPurchases)
	assert.Equal(t, 1, rows[0].RemainingPurchases)
	assert.Positive(t, rows[0].BuySlippageBps)
	assert.Equal(t, "low", rows[0].ActivityLevel)

	sup.PrintDump(DumpPositions)
	assert.Contains(t, out.String(), "1/1")
	out.Reset()
	sup.PrintDump(DumpStrategy)
	assert.Contains(t, out.String(), "LOW")
	out.Reset()
	sup.PrintDump(DumpStatus)
	assert.Contains(t, out.String(), "Copy Trader Status")

	sup.RefreshGauges()
	assert.Equal(t, 1.0, testutil.ToFloat64(f.shared.Metrics.OpenPositions))
}

func TestRunStartsAndStopsMonitors(t *testing.T) {
	f := newFixture(t, nil)
	mon := New(targetWallet, f.shared, &scriptedSource{}, zap.NewNop())
	sup := NewSupervisor(f.shared, []*Monitor{mon}, nil, &bytes.Buffer{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	assert.Eventually(t, func() bool { return mon.State() == StateStreaming && mon.Reconnects() == 1 },
		2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}
	assert.Equal(t, StateStopped, mon.State())
}
