package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsRecord(t *testing.T) {
	m := New()

	m.EventReceived("wallet-a")
	m.EventReceived("wallet-a")
	m.Skip("buy", "cooldown")
	m.Trade("sell", "success", 150*time.Millisecond)
	m.SetBuyingDisabled(true)
	m.SetOpenPositions(3)
	m.Anomaly("negative_counter")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsReceived.WithLabelValues("wallet-a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Skips.WithLabelValues("buy", "cooldown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Trades.WithLabelValues("sell", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BuyingDisabled))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.OpenPositions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DataIntegrity.WithLabelValues("negative_counter")))

	m.SetBuyingDisabled(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BuyingDisabled))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.EventReceived("w")
		m.Trade("buy", "failed", time.Second)
		m.SetScheduler(1, 2)
		m.AlertDropped()
	})
	assert.Nil(t, m.Registry())
}

func TestHandlerExposesNamespace(t *testing.T) {
	m := New()
	m.Chunk()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "copytrader_execution_sell_chunks_total 1")
}
