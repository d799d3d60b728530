// Package worker holds the process-level plumbing of the sync daemon: the
// health and metrics HTTP server and the scheduler metrics.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AccountStatus is the health of one account as shown on /health/accounts.
type AccountStatus struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Halted    bool   `json:"halted"`
	Suspended bool   `json:"suspended"`
	LastError string `json:"last_error,omitempty"`
}

// AccountStatusSource reports the current status of every account.
type AccountStatusSource interface {
	AccountStatuses() []AccountStatus
}

// HealthServer provides HTTP endpoints for health checks and metrics:
//   - /health: Liveness probe (always returns 200 OK)
//   - /health/ready: Readiness probe (returns 200 if ready, 503 if not)
//   - /health/accounts: Per-account status (503 if any account is halted)
//   - /metrics: Prometheus scrape endpoint
//
// The server supports graceful shutdown via context cancellation.
type HealthServer struct {
	addr     string
	logger   *slog.Logger
	accounts AccountStatusSource
	isReady  *atomic.Bool
	server   *http.Server
}

type healthResponse struct {
	Status string `json:"status"`
}

type accountsResponse struct {
	Healthy  bool            `json:"healthy"`
	Accounts []AccountStatus `json:"accounts"`
}

// NewHealthServer creates a health server listening on addr. accounts may
// be nil, in which case /health/accounts reports no accounts.
func NewHealthServer(addr string, logger *slog.Logger, accounts AccountStatusSource) *HealthServer {
	isReady := &atomic.Bool{}
	isReady.Store(false)

	return &HealthServer{
		addr:     addr,
		logger:   logger,
		accounts: accounts,
		isReady:  isReady,
	}
}

// Handler returns the server's routes.
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleLiveness)
	mux.HandleFunc("/health/ready", h.handleReadiness)
	mux.HandleFunc("/health/accounts", h.handleAccounts)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start serves until ctx is cancelled, then shuts down within 5 seconds.
// It returns http.ErrServerClosed after a graceful shutdown.
func (h *HealthServer) Start(ctx context.Context) error {
	h.server = &http.Server{
		Addr:         h.addr,
		Handler:      h.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		h.logger.Info("health server starting", slog.String("addr", h.addr))
		if err := h.server.ListenAndServe(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		h.logger.Info("health server shutting down")
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			h.logger.Error("health server shutdown failed", slog.Any("error", err))
			return err
		}
		h.logger.Info("health server stopped")
		return http.ErrServerClosed

	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return err
		}
		h.logger.Error("health server failed", slog.Any("error", err))
		return err
	}
}

// SetReady sets the readiness state reported by /health/ready.
func (h *HealthServer) SetReady(ready bool) {
	h.isReady.Store(ready)
	h.logger.Info("health server readiness changed", slog.Bool("ready", ready))
}

func (h *HealthServer) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (h *HealthServer) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	if h.isReady.Load() {
		h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
		return
	}
	h.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "not ready"})
}

func (h *HealthServer) handleAccounts(w http.ResponseWriter, _ *http.Request) {
	resp := accountsResponse{Healthy: true, Accounts: []AccountStatus{}}
	if h.accounts != nil {
		resp.Accounts = append(resp.Accounts, h.accounts.AccountStatuses()...)
	}
	for _, a := range resp.Accounts {
		if a.Halted {
			resp.Healthy = false
			break
		}
	}

	status := http.StatusOK
	if !resp.Healthy {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, resp)
}

func (h *HealthServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode health response", slog.Any("error", err))
	}
}
