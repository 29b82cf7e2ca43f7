package dispatch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testClient(t *testing.T, cfg ClientConfig) *Client {
	t.Helper()
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = []time.Duration{time.Millisecond}
	}
	c := NewClient(cfg, zerolog.Nop())
	t.Cleanup(c.Close)
	return c
}

// closedPortURL returns a URL on a port that was just released, so
// connections to it are refused.
func closedPortURL(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return "http://" + addr
}

func TestDoRetriesConnectFailures(t *testing.T) {
	c := testClient(t, ClientConfig{BreakerThreshold: 10})
	_, err := c.Do(context.Background(), Request{
		Backend: "llm", Method: http.MethodGet,
		URL: closedPortURL(t), TimeoutClass: "default", MaxAttempts: 3,
	})
	if !IsUnavailable(err) {
		t.Fatalf("err = %v, want unavailable", err)
	}
	if IsBreakerOpen(err) {
		t.Fatalf("breaker opened below threshold")
	}
	if got := c.BreakerState("llm"); got != StateClosed {
		t.Fatalf("breaker state = %s, want closed", got)
	}
	// Exactly MaxAttempts connect attempts, each recorded as a breaker
	// failure; the threshold is high enough not to reset or open.
	br := c.breaker("llm")
	br.mu.Lock()
	attempts := br.failures
	br.mu.Unlock()
	if attempts != 3 {
		t.Fatalf("attempts = %d, want exactly 3", attempts)
	}
}

func TestDoDoesNotRetryHTTPErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"boom"}`)
	}))
	defer srv.Close()

	c := testClient(t, ClientConfig{BreakerThreshold: 2})
	resp, err := c.Do(context.Background(), Request{
		Backend: "llm", Method: http.MethodGet, URL: srv.URL, TimeoutClass: "default",
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("backend called %d times, want 1", n)
	}
	// A completed exchange is a breaker success regardless of status.
	if got := c.BreakerState("llm"); got != StateClosed {
		t.Fatalf("breaker state = %s, want closed", got)
	}
}

func TestDoFailsFastWhenBreakerOpen(t *testing.T) {
	c := testClient(t, ClientConfig{BreakerThreshold: 1, BreakerCooldown: time.Hour})
	url := closedPortURL(t)
	if _, err := c.Do(context.Background(), Request{
		Backend: "llm", Method: http.MethodGet, URL: url, TimeoutClass: "default", MaxAttempts: 1,
	}); !IsUnavailable(err) {
		t.Fatalf("first call err = %v, want unavailable", err)
	}
	if got := c.BreakerState("llm"); got != StateOpen {
		t.Fatalf("breaker state = %s, want open", got)
	}
	_, err := c.Do(context.Background(), Request{
		Backend: "llm", Method: http.MethodGet, URL: url, TimeoutClass: "default",
	})
	if !IsBreakerOpen(err) {
		t.Fatalf("err = %v, want breaker rejection", err)
	}
	if !IsUnavailable(err) {
		t.Fatalf("breaker rejection should map to unavailable: %v", err)
	}
}

func TestDoTimeoutIsNotRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := testClient(t, ClientConfig{
		BreakerThreshold: 5,
		TimeoutOverrides: map[string]time.Duration{"default": 50 * time.Millisecond},
	})
	_, err := c.Do(context.Background(), Request{
		Backend: "llm", Method: http.MethodGet, URL: srv.URL, TimeoutClass: "default",
	})
	if !IsUpstreamTimeout(err) {
		t.Fatalf("err = %v, want upstream timeout", err)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("backend called %d times, want 1", n)
	}
	if got := c.BreakerState("llm"); got != StateClosed {
		t.Fatalf("read timeout must not trip breaker, state = %s", got)
	}
}

func TestStreamDoesNotRetry(t *testing.T) {
	c := testClient(t, ClientConfig{BreakerThreshold: 10})
	start := time.Now()
	_, err := c.Stream(context.Background(), Request{
		Backend: "llm", Method: http.MethodGet, URL: closedPortURL(t), TimeoutClass: "llm",
	})
	if !IsUnavailable(err) {
		t.Fatalf("err = %v, want unavailable", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("stream appears to have retried: took %v", elapsed)
	}
}

func TestStreamSuccessAndBodyClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: hello\n\n")
	}))
	defer srv.Close()

	c := testClient(t, ClientConfig{BreakerThreshold: 5})
	resp, err := c.Stream(context.Background(), Request{
		Backend: "llm", Method: http.MethodGet, URL: srv.URL, TimeoutClass: "llm",
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if err := resp.Body.Close(); err != nil {
		t.Fatalf("close body: %v", err)
	}
	if got := c.BreakerState("llm"); got != StateClosed {
		t.Fatalf("breaker state = %s, want closed", got)
	}
}

func TestHealthCheckNeverErrors(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer unhealthy.Close()

	c := testClient(t, ClientConfig{})
	ctx := context.Background()

	if res := c.HealthCheck(ctx, "a", healthy.URL); res.Status != "healthy" || res.Code != http.StatusOK {
		t.Fatalf("healthy probe: %+v", res)
	}
	if res := c.HealthCheck(ctx, "b", unhealthy.URL); res.Status != "unhealthy" {
		t.Fatalf("unhealthy probe: %+v", res)
	}
	if res := c.HealthCheck(ctx, "c", closedPortURL(t)); res.Status != "unreachable" || res.Error == "" {
		t.Fatalf("unreachable probe: %+v", res)
	}
}

func TestTimeoutClassFallback(t *testing.T) {
	c := testClient(t, ClientConfig{})
	if got := c.timeout("llm"); got != 300*time.Second {
		t.Fatalf("llm timeout = %v", got)
	}
	if got := c.timeout("no-such-class"); got != 60*time.Second {
		t.Fatalf("fallback timeout = %v", got)
	}
}
