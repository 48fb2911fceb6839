package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHandleHealth_NoProbes(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestHandleHealth_AllHealthy(t *testing.T) {
	srv := newTestServer(t)
	srv.HealthProbes = []HealthProbe{
		ProbeFunc{ProbeName: "database", Fn: func(ctx context.Context) error { return nil }},
		ProbeFunc{ProbeName: "counter", Fn: func(ctx context.Context) error { return nil }},
	}

	rec := httptest.NewRecorder()
	srv.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Status != "healthy" {
		t.Errorf("status = %q, want healthy", body.Status)
	}
	if body.Components["database"].Status != "healthy" {
		t.Errorf("database component = %+v", body.Components["database"])
	}
}

func TestHandleHealth_OneUnhealthy(t *testing.T) {
	srv := newTestServer(t)
	srv.HealthProbes = []HealthProbe{
		ProbeFunc{ProbeName: "database", Fn: func(ctx context.Context) error { return nil }},
		ProbeFunc{ProbeName: "counter", Fn: func(ctx context.Context) error {
			return errors.New("connection refused")
		}},
	}

	rec := httptest.NewRecorder()
	srv.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	var body healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Status != "unhealthy" {
		t.Errorf("status = %q, want unhealthy", body.Status)
	}
	if body.Components["counter"].Message != "connection refused" {
		t.Errorf("counter component = %+v", body.Components["counter"])
	}
	if body.Components["database"].Status != "healthy" {
		t.Errorf("database component = %+v", body.Components["database"])
	}
}

func TestHandleHealth_ProbeTimeout(t *testing.T) {
	srv := newTestServer(t)
	srv.HealthProbes = []HealthProbe{
		ProbeFunc{ProbeName: "slow", Fn: func(ctx context.Context) error {
			select {
			case <-time.After(10 * time.Second):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}},
	}

	rec := httptest.NewRecorder()
	start := time.Now()
	srv.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("health check took %v, should honor the 2s deadline", elapsed)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHandleHealth_ProbePanic(t *testing.T) {
	srv := newTestServer(t)
	srv.HealthProbes = []HealthProbe{
		ProbeFunc{ProbeName: "flaky", Fn: func(ctx context.Context) error {
			panic("probe blew up")
		}},
	}

	rec := httptest.NewRecorder()
	srv.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
