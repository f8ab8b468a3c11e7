package analyses

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"placelink-backend/internal/shared/server/middleware"
)

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newTestRouter(t *testing.T, env *testEnv) (*gin.Engine, *Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	handler := NewHandler(env.svc)
	handler.pollRule = middleware.RateLimitRule{}

	router := gin.New()
	router.Use(middleware.RequestID())
	handler.RegisterRoutes(router.Group("/api/v1"))
	return router, handler
}

func postAnalyze(router *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func decodeAnalyze(t *testing.T, resp *httptest.ResponseRecorder) analyzeResponse {
	t.Helper()
	var out analyzeResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (%s)", err, resp.Body.String())
	}
	return out
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var out errorEnvelope
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode error: %v (%s)", err, resp.Body.String())
	}
	return out
}

func TestAnalyzeEndpointAcceptsThenServesFromCache(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	router, _ := newTestRouter(t, env)

	resp := postAnalyze(router, `{"url":"https://www.instagram.com/p/Cx1/?igsh=abc"}`)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d (%s)", resp.Code, resp.Body.String())
	}
	accepted := decodeAnalyze(t, resp)
	if accepted.AnalysisID == "" || accepted.Cached {
		t.Fatalf("unexpected accepted body %+v", accepted)
	}
	if accepted.Platform != "instagram" {
		t.Fatalf("expected instagram, got %s", accepted.Platform)
	}
	waitTerminal(t, env.svc, accepted.AnalysisID)

	resp = postAnalyze(router, `{"url":"https://instagram.com/p/Cx1"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	cached := decodeAnalyze(t, resp)
	if !cached.Cached || cached.AnalysisID != "" {
		t.Fatalf("expected cached response without id, got %+v", cached)
	}
	if cached.Result == nil || len(cached.Result.Candidates) != 1 {
		t.Fatalf("expected cached result, got %+v", cached.Result)
	}
}

func TestAnalyzeEndpointValidation(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	router, _ := newTestRouter(t, env)

	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{name: "not json", body: `url=x`, status: http.StatusBadRequest, code: ErrorCodeValidation},
		{name: "missing url", body: `{}`, status: http.StatusBadRequest, code: "InvalidUrlError"},
		{name: "bad scheme", body: `{"url":"ftp://instagram.com/p/x"}`, status: http.StatusBadRequest, code: "InvalidUrlError"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postAnalyze(router, tc.body)
			if resp.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, resp.Code)
			}
			if got := decodeError(t, resp).Error.Code; got != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, got)
			}
		})
	}
}

func TestAnalyzeEndpointUnsupportedPlatform(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	router, _ := newTestRouter(t, env)

	resp := postAnalyze(router, `{"url":"https://example.com"}`)
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", resp.Code)
	}
	body := decodeAnalyze(t, resp)
	if body.AnalysisID == "" || body.Status != StatusFailed {
		t.Fatalf("expected failed analysis with id, got %+v", body)
	}
	if body.Error == nil || body.Error.Kind != "UnsupportedPlatformError" {
		t.Fatalf("expected UnsupportedPlatformError, got %+v", body.Error)
	}
}

func TestAnalyzeEndpointBackpressure(t *testing.T) {
	env := newTestEnv(t, envOptions{poolSize: 1, queueDepth: 1})
	env.ext.gate = make(chan struct{})
	router, _ := newTestRouter(t, env)

	if resp := postAnalyze(router, `{"url":"https://instagram.com/p/a"}`); resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.Code)
	}
	waitStarted(t, env.ext)
	if resp := postAnalyze(router, `{"url":"https://instagram.com/p/b"}`); resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.Code)
	}

	resp := postAnalyze(router, `{"url":"https://instagram.com/p/c"}`)
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", resp.Code)
	}
	if resp.Header().Get("Retry-After") != "5" {
		t.Fatalf("expected Retry-After 5, got %q", resp.Header().Get("Retry-After"))
	}
	if got := decodeError(t, resp).Error.Code; got != "BackpressureError" {
		t.Fatalf("expected BackpressureError, got %s", got)
	}
}

func TestGetAnalysisEndpoint(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	router, _ := newTestRouter(t, env)

	accepted := decodeAnalyze(t, postAnalyze(router, `{"url":"https://youtu.be/abcdefghijk"}`))
	waitTerminal(t, env.svc, accepted.AnalysisID)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/analyses/"+accepted.AnalysisID, nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var view StatusView
	if err := json.Unmarshal(resp.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.Status != StatusCompleted || view.Result == nil || view.Progress != 1 {
		t.Fatalf("unexpected view %+v", view)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/analyses/nope", nil)
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
	if got := decodeError(t, resp).Error.Code; got != "NotFoundError" {
		t.Fatalf("expected NotFoundError, got %s", got)
	}
}

func TestGetAnalysisPollLimit(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	router, handler := newTestRouter(t, env)
	handler.pollRule = middleware.PerInterval(time.Hour)

	accepted := decodeAnalyze(t, postAnalyze(router, `{"url":"https://instagram.com/p/poll"}`))

	poll := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/analyses/"+accepted.AnalysisID, nil)
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		return resp
	}
	if resp := poll(); resp.Code != http.StatusOK {
		t.Fatalf("expected first poll 200, got %d", resp.Code)
	}
	resp := poll()
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", resp.Code)
	}
	if resp.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if got := decodeError(t, resp).Error.Code; got != ErrorCodeRateLimited {
		t.Fatalf("expected %s, got %s", ErrorCodeRateLimited, got)
	}
}

func TestCancelAnalysisEndpoint(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.ext.gate = make(chan struct{})
	router, _ := newTestRouter(t, env)

	accepted := decodeAnalyze(t, postAnalyze(router, `{"url":"https://blog.naver.com/foodie/1"}`))
	waitStarted(t, env.ext)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/analyses/"+accepted.AnalysisID, nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"status":"cancelled"`) {
		t.Fatalf("expected cancelled body, got %s", resp.Body.String())
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/analyses/unknown", nil)
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestInvalidateCacheEndpoint(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	router, _ := newTestRouter(t, env)

	accepted := decodeAnalyze(t, postAnalyze(router, `{"url":"https://instagram.com/p/inv"}`))
	waitTerminal(t, env.svc, accepted.AnalysisID)
	if env.store.Len() != 1 {
		t.Fatalf("expected one cache entry, got %d", env.store.Len())
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/cache/"+strings.ToUpper(accepted.ContentKey), nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", resp.Code)
	}
	if env.store.Len() != 0 {
		t.Fatalf("expected cache entry removed, got %d", env.store.Len())
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/cache/not-a-key", nil)
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	router, _ := newTestRouter(t, env)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", bytes.NewBufferString(`{"url":"https://instagram.com/p/rid"}`))
	req.Header.Set("X-Request-Id", "req-123")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if got := resp.Header().Get("X-Request-Id"); got != "req-123" {
		t.Fatalf("expected request id echoed, got %q", got)
	}
}
