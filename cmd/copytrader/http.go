package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"solana-copy-trader/internal/blockhash"
	"solana-copy-trader/internal/metrics"

	"go.uber.org/zap"
)

// startHTTP serves /metrics and /healthz on addr in the background.
func startHTTP(addr string, m *metrics.Metrics, registry *blockhash.Registry, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		health := registry.HealthCheck()
		status := http.StatusOK
		for _, ok := range health {
			if !ok {
				status = http.StatusServiceUnavailable
				break
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"blockhash": health})
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Sugar().Infof("Metrics listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Sugar().Errorf("Metrics server failed: %v", err)
		}
	}()
	return srv
}

func shutdownHTTP(srv *http.Server, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Sugar().Warnf("Metrics server shutdown: %v", err)
	}
}
