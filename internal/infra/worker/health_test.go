package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type staticStatuses []AccountStatus

func (s staticStatuses) AccountStatuses() []AccountStatus { return s }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.Errorf("failed to close response body: %v", err)
		}
	}()

	if ct := resp.Header.Get("Content-Type"); v != nil && ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %q", ct)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	if v != nil {
		if err := json.Unmarshal(body, v); err != nil {
			t.Fatalf("failed to unmarshal %q: %v", body, err)
		}
	}
	return resp.StatusCode
}

func TestHealthServer_Liveness(t *testing.T) {
	server := NewHealthServer("", discardLogger(), nil)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	var response healthResponse
	if code := getJSON(t, ts.URL+"/health", &response); code != http.StatusOK {
		t.Errorf("expected status 200, got %d", code)
	}
	if response.Status != "ok" {
		t.Errorf("expected status 'ok', got '%s'", response.Status)
	}
}

func TestHealthServer_Readiness(t *testing.T) {
	server := NewHealthServer("", discardLogger(), nil)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	var response healthResponse
	if code := getJSON(t, ts.URL+"/health/ready", &response); code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503 before SetReady, got %d", code)
	}
	if response.Status != "not ready" {
		t.Errorf("expected status 'not ready', got '%s'", response.Status)
	}

	server.SetReady(true)
	if code := getJSON(t, ts.URL+"/health/ready", &response); code != http.StatusOK {
		t.Errorf("expected status 200 after SetReady, got %d", code)
	}

	server.SetReady(false)
	if code := getJSON(t, ts.URL+"/health/ready", &response); code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503 after SetReady(false), got %d", code)
	}
}

func TestHealthServer_Accounts(t *testing.T) {
	tests := []struct {
		name        string
		source      AccountStatusSource
		wantCode    int
		wantHealthy bool
		wantCount   int
	}{
		{
			name:        "no source",
			source:      nil,
			wantCode:    http.StatusOK,
			wantHealthy: true,
			wantCount:   0,
		},
		{
			name: "all running",
			source: staticStatuses{
				{ID: "a", Kind: "local"},
				{ID: "b", Kind: "readerapi", Suspended: true},
			},
			wantCode:    http.StatusOK,
			wantHealthy: true,
			wantCount:   2,
		},
		{
			name: "halted account",
			source: staticStatuses{
				{ID: "a", Kind: "local"},
				{ID: "b", Kind: "readerapi", Halted: true, LastError: "authentication failed"},
			},
			wantCode:    http.StatusServiceUnavailable,
			wantHealthy: false,
			wantCount:   2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(NewHealthServer("", discardLogger(), tt.source).Handler())
			defer ts.Close()

			var response accountsResponse
			if code := getJSON(t, ts.URL+"/health/accounts", &response); code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, code)
			}
			if response.Healthy != tt.wantHealthy {
				t.Errorf("expected healthy=%v, got %v", tt.wantHealthy, response.Healthy)
			}
			if len(response.Accounts) != tt.wantCount {
				t.Errorf("expected %d accounts, got %d", tt.wantCount, len(response.Accounts))
			}
		})
	}
}

func TestHealthServer_Metrics(t *testing.T) {
	ts := httptest.NewServer(NewHealthServer("", discardLogger(), nil).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("expected default Go collectors in /metrics output")
	}
}

func TestHealthServer_GracefulShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	server := NewHealthServer(addr, discardLogger(), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- server.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/health")
		if err == nil {
			_ = resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not start: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, http.ErrServerClosed) {
			t.Errorf("expected http.ErrServerClosed, got %v", err)
		}
	case <-time.After(6 * time.Second):
		t.Fatal("server did not shut down")
	}
}
