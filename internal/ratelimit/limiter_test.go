package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// frozen returns a limiter whose clock only moves when the test moves it.
func frozen(t testing.TB, config Config) (*Limiter, *time.Time) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newLimiter(config, func() time.Time { return now })
	t.Cleanup(l.Stop)
	return l, &now
}

// =============================================================================
// Property: exactly Burst requests pass before the bucket refills
// =============================================================================

func TestLimiter_BurstThenDenied(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		burst := rapid.IntRange(1, 50).Draw(rt, "burst")
		key := rapid.StringMatching(`[a-z0-9.:]{1,24}`).Draw(rt, "key")

		l, _ := frozen(t, Config{RPS: 1, Burst: burst, IdleTTL: time.Hour})
		for i := 0; i < burst; i++ {
			if ok, remaining := l.Allow(key); !ok || remaining != burst-i-1 {
				rt.Fatalf("request %d: allowed=%v remaining=%d", i, ok, remaining)
			}
		}
		if ok, remaining := l.Allow(key); ok || remaining != 0 {
			rt.Fatalf("request past burst allowed=%v remaining=%d", ok, remaining)
		}
	})
}

func TestLimiter_RefillsOverTime(t *testing.T) {
	l, now := frozen(t, Config{RPS: 2, Burst: 1, IdleTTL: time.Hour})

	if ok, _ := l.Allow("a"); !ok {
		t.Fatal("first request denied")
	}
	if ok, _ := l.Allow("a"); ok {
		t.Fatal("second request allowed without refill")
	}
	*now = now.Add(500 * time.Millisecond)
	if ok, _ := l.Allow("a"); !ok {
		t.Fatal("request after refill denied")
	}
}

func TestLimiter_ClientsAreIndependent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		keys := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z]{4,10}`), 2, 10, rapid.ID[string]).Draw(rt, "keys")
		l, _ := frozen(t, Config{RPS: 1, Burst: 1, IdleTTL: time.Hour})

		for _, k := range keys {
			if ok, _ := l.Allow(k); !ok {
				rt.Fatalf("first request for %q denied", k)
			}
		}
		for _, k := range keys {
			if ok, _ := l.Allow(k); ok {
				rt.Fatalf("second request for %q allowed", k)
			}
		}
		if l.Len() != len(keys) {
			rt.Fatalf("Len=%d want %d", l.Len(), len(keys))
		}
	})
}

func TestLimiter_SweepDropsIdleBuckets(t *testing.T) {
	l, now := frozen(t, Config{RPS: 1, Burst: 1, IdleTTL: time.Minute})

	l.Allow("idle")
	*now = now.Add(45 * time.Second)
	l.Allow("active")
	*now = now.Add(30 * time.Second)

	if removed := l.Sweep(); removed != 1 {
		t.Fatalf("removed %d buckets, want 1", removed)
	}
	if l.Len() != 1 {
		t.Fatalf("Len=%d after sweep", l.Len())
	}
	// a swept client starts over with a full bucket
	if ok, _ := l.Allow("idle"); !ok {
		t.Fatal("swept client denied")
	}
}

func TestLimiter_ConcurrentAllowNeverExceedsBurst(t *testing.T) {
	l, _ := frozen(t, Config{RPS: 1, Burst: 25, IdleTTL: time.Hour})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Allow("shared"); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != 25 {
		t.Fatalf("allowed %d concurrent requests, want 25", allowed)
	}
}

func TestLimiter_StopIsIdempotent(t *testing.T) {
	l := New(Config{RPS: 1, Burst: 1, IdleTTL: time.Millisecond})
	done := make(chan struct{})
	go func() {
		l.Stop()
		l.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestNew_ClampsConfig(t *testing.T) {
	l := New(Config{RPS: 1})
	defer l.Stop()
	if l.config.Burst != 1 || l.config.IdleTTL != DefaultConfig.IdleTTL {
		t.Fatalf("config not clamped: %+v", l.config)
	}
}

// =============================================================================
// Middleware
// =============================================================================

func TestMiddleware_Returns429WithRetryAfter(t *testing.T) {
	l, _ := frozen(t, Config{RPS: 1, Burst: 2, IdleTTL: time.Hour})
	h := Middleware(l, nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		req.RemoteAddr = "10.0.0.7:5555"
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if i == 2 && rec.Header().Get("Retry-After") != "1" {
			t.Fatalf("Retry-After=%q", rec.Header().Get("Retry-After"))
		}
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusNoContent || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("status codes %v", codes)
	}
}

func TestMiddleware_CustomRejectAndEmptyKey(t *testing.T) {
	l, _ := frozen(t, Config{RPS: 1, Burst: 1, IdleTTL: time.Hour})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	reject := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) }

	unkeyed := Middleware(l, func(*http.Request) string { return "" }, reject)(next)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		unkeyed.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("unkeyed request limited: %d", rec.Code)
		}
	}

	keyed := Middleware(l, func(*http.Request) string { return "k" }, reject)(next)
	for i, want := range []int{http.StatusOK, http.StatusTeapot} {
		rec := httptest.NewRecorder()
		keyed.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		if rec.Code != want {
			t.Fatalf("request %d: got %d want %d", i, rec.Code, want)
		}
	}
}

func TestRemoteIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[::1]:8080"
	if got := RemoteIP(req); got != "::1" {
		t.Fatalf("RemoteIP=%q", got)
	}
	req.RemoteAddr = "pipe"
	if got := RemoteIP(req); got != "pipe" {
		t.Fatalf("RemoteIP=%q", got)
	}
}
