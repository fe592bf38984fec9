package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func serveFrom(handler echo.HandlerFunc, ip string) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = ip + ":1234"
	rec := httptest.NewRecorder()
	return rec, handler(e.NewContext(req, rec))
}

func okHandler(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func TestRateLimit_WithinBurst(t *testing.T) {
	handler := RateLimit(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})(okHandler)

	for i := 0; i < 5; i++ {
		rec, err := serveFrom(handler, "10.0.0.1")
		if err != nil {
			t.Fatalf("request %d: unexpected error %v", i+1, err)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("request %d: expected X-RateLimit-Limit 10, got %q", i+1, got)
		}
	}
}

func TestRateLimit_ExceedsBurst(t *testing.T) {
	handler := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})(okHandler)

	for i := 0; i < 2; i++ {
		if _, err := serveFrom(handler, "10.0.0.2"); err != nil {
			t.Fatalf("request %d within burst failed: %v", i+1, err)
		}
	}

	rec, err := serveFrom(handler, "10.0.0.2")
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	retry, convErr := strconv.Atoi(rec.Header().Get("Retry-After"))
	if convErr != nil || retry < 1 {
		t.Errorf("expected positive Retry-After, got %q", rec.Header().Get("Retry-After"))
	}
	if body, ok := httpErr.Message.(ErrorBody); !ok || body.Code != "RATE_LIMITED" {
		t.Errorf("unexpected body %#v", httpErr.Message)
	}
}

func TestRateLimit_PerClientIsolation(t *testing.T) {
	handler := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})(okHandler)

	if _, err := serveFrom(handler, "10.0.0.3"); err != nil {
		t.Fatalf("first client: %v", err)
	}
	if _, err := serveFrom(handler, "10.0.0.3"); err == nil {
		t.Fatal("first client should be limited on its second request")
	}
	if _, err := serveFrom(handler, "10.0.0.4"); err != nil {
		t.Fatalf("second client must have its own bucket: %v", err)
	}
}

func TestLimiterStore_EvictsIdle(t *testing.T) {
	store := newLimiterStore(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Minute})
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	store.lastGC = now

	store.get("a")
	now = now.Add(2 * time.Minute)
	store.get("b")

	if _, ok := store.visitors["a"]; ok {
		t.Error("expected idle visitor to be evicted")
	}
	if _, ok := store.visitors["b"]; !ok {
		t.Error("expected active visitor to remain")
	}
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond <= 0 || cfg.BurstSize <= 0 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}
