package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"placelink-backend/internal/services/health"
	"placelink-backend/internal/shared/config"
)

func TestHealthReportsFailingChecks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	healthSvc := health.NewService()
	healthSvc.AddCheck("cache_store", func(ctx context.Context) error { return errors.New("down") })
	r := NewRouter(RouterDeps{Config: config.Config{AnalyzeRateLimit: 1, AnalyzeBurst: 1}, Health: healthSvc})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"cache_store":"down"`) {
		t.Fatalf("expected failing check in body, got %s", resp.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(RouterDeps{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "analysis_jobs_completed_total") {
		t.Fatalf("expected job counters in metrics output")
	}
	if resp.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestAddr(t *testing.T) {
	cases := map[string]string{"": ":8080", "9000": ":9000", ":7000": ":7000"}
	for in, want := range cases {
		if got := Addr(in); got != want {
			t.Fatalf("Addr(%q) = %q, want %q", in, got, want)
		}
	}
}
