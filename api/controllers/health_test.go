package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ferramas/ferramas-backend/pkg/config"
)

func TestHealthLive(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "dev"}}
	resp := httptest.NewRecorder()
	HealthLive(cfg)(resp, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if resp.Header().Get(envHeader) != "dev" {
		t.Fatalf("expected env header, got %q", resp.Header().Get(envHeader))
	}
}

func TestHealthReady(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "dev"}}
	up := func(ctx context.Context) error { return nil }

	resp := httptest.NewRecorder()
	HealthReady(cfg, testLogger(),
		ReadinessCheck{Name: "db", Check: up},
		ReadinessCheck{Name: "redis"},
	)(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	var envelope struct {
		Data struct {
			Status       string            `json:"status"`
			Dependencies map[string]string `json:"dependencies"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.Dependencies["db"] != dependencyUp || envelope.Data.Dependencies["redis"] != dependencyDisabled {
		t.Fatalf("unexpected dependencies %v", envelope.Data.Dependencies)
	}
}

func TestHealthReadyReportsFailures(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "dev"}}
	down := func(ctx context.Context) error { return errors.New("connection refused") }

	resp := httptest.NewRecorder()
	HealthReady(cfg, testLogger(), ReadinessCheck{Name: "catalog", Check: down})(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
	env := decodeError(t, resp.Body)
	failed, _ := env.Error.Details["failed"].([]any)
	if len(failed) != 1 || failed[0] != "catalog" {
		t.Fatalf("unexpected failed list %v", env.Error.Details["failed"])
	}
}
