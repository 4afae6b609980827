package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DukeRupert/lectgen/internal/auth"
	"github.com/google/uuid"
)

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time { return c.now }

func newTestLimiter(limit int, window time.Duration) (*RateLimiter, *stepClock) {
	clock := &stepClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(limit, window)
	rl.now = clock.Now
	return rl, clock
}

func TestRateLimiter_Allow(t *testing.T) {
	rl, clock := newTestLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow("a") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("a") {
		t.Error("fourth request should be limited")
	}
	if !rl.Allow("b") {
		t.Error("keys must be limited independently")
	}

	clock.now = clock.now.Add(20 * time.Second)
	if got := rl.RetryAfter("a"); got != 40*time.Second {
		t.Errorf("RetryAfter = %s, want 40s", got)
	}

	clock.now = clock.now.Add(40 * time.Second)
	if !rl.Allow("a") {
		t.Error("a new window should admit requests again")
	}
}

func TestRateLimiter_Sweep(t *testing.T) {
	rl, clock := newTestLimiter(1, time.Minute)
	rl.Allow("a")

	clock.now = clock.now.Add(2 * time.Minute)
	rl.sweep()

	if len(rl.entries) != 0 {
		t.Errorf("expired entries should be removed, have %d", len(rl.entries))
	}
	if rl.RetryAfter("a") != 0 {
		t.Error("RetryAfter should be zero for an unknown key")
	}
}

func TestRateLimitMiddleware_KeysByAccount(t *testing.T) {
	rl, _ := newTestLimiter(1, time.Minute)
	h := NewRateLimitMiddleware(rl, testLogger()).Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(id uuid.UUID) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/quota/consume", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		req = req.WithContext(auth.SetPrincipal(req.Context(), &auth.Principal{AccountID: id}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first, second := uuid.New(), uuid.New()
	if rec := send(first); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}

	rec := send(first)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 should carry Retry-After")
	}

	if rec := send(second); rec.Code != http.StatusOK {
		t.Errorf("another account from the same IP should not be limited, got %d", rec.Code)
	}
}
