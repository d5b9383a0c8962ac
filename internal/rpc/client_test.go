package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rpcServer(t *testing.T, handle func(req request) any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req request
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  handle(req),
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGetLatestBlockhash(t *testing.T) {
	srv := rpcServer(t, func(req request) any {
		assert.Equal(t, "getLatestBlockhash", req.Method)
		return map[string]any{
			"context": map[string]any{"slot": 321},
			"value": map[string]any{
				"blockhash":            "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N",
				"lastValidBlockHeight": 3090,
			},
		}
	})

	bh, err := NewClient(srv.URL).GetLatestBlockhash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N", bh.Blockhash)
	assert.Equal(t, uint64(3090), bh.LastValidBlockHeight)
	assert.Equal(t, uint64(321), bh.Slot)
}

func TestGetBalance(t *testing.T) {
	srv := rpcServer(t, func(req request) any {
		assert.Equal(t, "getBalance", req.Method)
		assert.Len(t, req.Params, 2)
		assert.Equal(t, "Owner111", req.Params[0])
		return map[string]any{"context": map[string]any{"slot": 1}, "value": 1_500_000_000}
	})

	bal, err := NewClient(srv.URL).GetBalance(context.Background(), "Owner111")
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000_000), bal)
}

func TestGetTokenBalanceSumsAccounts(t *testing.T) {
	account := func(amount string) map[string]any {
		return map[string]any{
			"pubkey": "Acc",
			"account": map[string]any{"data": map[string]any{"parsed": map[string]any{"info": map[string]any{
				"tokenAmount": map[string]any{"amount": amount, "decimals": 6},
			}}}},
		}
	}
	srv := rpcServer(t, func(req request) any {
		assert.Equal(t, "getTokenAccountsByOwner", req.Method)
		return map[string]any{"value": []any{account("1000"), account("234")}}
	})

	bal, err := NewClient(srv.URL).GetTokenBalance(context.Background(), "Owner", "Mint")
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), bal.Amount)
	assert.Equal(t, uint8(6), bal.Decimals)
	assert.Equal(t, 2, bal.Accounts)
}

func TestNodeErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"error":   map[string]any{"code": -32602, "message": "invalid param"},
		})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).GetSlot(context.Background())
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32602, rpcErr.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRateLimitIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": 1, "result": 99})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetryDelay(time.Millisecond))
	slot, err := c.GetSlot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(99), slot)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetriesExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetryDelay(time.Millisecond), WithMaxRetries(1))
	_, err := c.GetSlot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
}

func TestRateLimitedClientWaitsForTokens(t *testing.T) {
	srv := rpcServer(t, func(request) any { return 7 })
	c := NewClient(srv.URL, WithRateLimit(20, 1))

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.GetSlot(context.Background())
		require.NoError(t, err)
	}
	// one token up front, then 50ms per call
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}
