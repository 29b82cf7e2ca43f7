package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gatewayd/pkg/types"
)

// Timeout presets per backend type. Unknown classes fall back to
// "default".
var defaultTimeouts = map[string]time.Duration{
	"llm":        300 * time.Second,
	"embeddings": 60 * time.Second,
	"tts":        120 * time.Second,
	"stt":        600 * time.Second,
	"speaker":    600 * time.Second,
	"audio":      600 * time.Second,
	"default":    60 * time.Second,
}

// Backoff ladder between retry attempts; the last delay repeats.
var defaultBackoff = []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}

const (
	defaultMaxAttempts = 3
	healthCheckTimeout = 5 * time.Second
	dialTimeout        = 5 * time.Second
)

// Request describes one outbound backend call. Body is a byte slice so
// attempts can be replayed.
type Request struct {
	Backend      string
	Method       string
	URL          string
	TimeoutClass string
	Body         []byte
	Header       http.Header
	MaxAttempts  int // 0 means the default of 3
}

// Response is a fully buffered backend response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ClientConfig tunes the shared dispatch client.
type ClientConfig struct {
	BreakerThreshold int
	BreakerCooldown  time.Duration
	// TimeoutOverrides replaces individual class durations.
	TimeoutOverrides map[string]time.Duration
	// Backoff replaces the retry delay ladder; tests shrink it.
	Backoff []time.Duration
}

// Client is the shared pooled HTTP client wrapping every outbound call
// with timeout-class selection, retry with backoff, and per-backend
// circuit breaking. One instance lives for the process lifetime.
type Client struct {
	http     *http.Client
	timeouts map[string]time.Duration
	backoff  []time.Duration

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker

	breakerThreshold int
	breakerCooldown  time.Duration
	log              zerolog.Logger
}

// NewClient builds the process-wide dispatch client. Pool sizing is
// fixed configuration: up to 100 connections per backend with 20 kept
// alive.
func NewClient(cfg ClientConfig, log zerolog.Logger) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxConnsPerHost:     100,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}
	timeouts := make(map[string]time.Duration, len(defaultTimeouts))
	for k, v := range defaultTimeouts {
		timeouts[k] = v
	}
	for k, v := range cfg.TimeoutOverrides {
		if v > 0 {
			timeouts[k] = v
		}
	}
	backoff := cfg.Backoff
	if len(backoff) == 0 {
		backoff = defaultBackoff
	}
	return &Client{
		http:             &http.Client{Transport: transport},
		timeouts:         timeouts,
		backoff:          backoff,
		breakers:         make(map[string]*CircuitBreaker),
		breakerThreshold: cfg.BreakerThreshold,
		breakerCooldown:  cfg.BreakerCooldown,
		log:              log,
	}
}

// Close releases idle pooled connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// breaker returns the breaker for a backend, creating it lazily.
func (c *Client) breaker(backend string) *CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[backend]
	if !ok {
		b = newCircuitBreaker(c.breakerThreshold, c.breakerCooldown)
		c.breakers[backend] = b
	}
	return b
}

// BreakerState reports the named backend's breaker state.
func (c *Client) BreakerState(backend string) string {
	return c.breaker(backend).State()
}

func (c *Client) timeout(class string) time.Duration {
	if d, ok := c.timeouts[class]; ok {
		return d
	}
	return c.timeouts["default"]
}

func (c *Client) delay(attempt int) time.Duration {
	if attempt >= len(c.backoff) {
		return c.backoff[len(c.backoff)-1]
	}
	return c.backoff[attempt]
}

// Do sends a request and buffers the response. Connect-class failures
// are retried with backoff and counted against the breaker; any
// completed HTTP exchange, whatever the status code, records success
// and returns immediately.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	br := c.breaker(req.Backend)
	attempts := req.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if !br.Allow() {
			breakerRejections.WithLabelValues(req.Backend).Inc()
			return nil, unavailableError{backend: req.Backend, cause: errBreakerOpen}
		}
		resp, err := c.attempt(ctx, req)
		if err == nil {
			br.RecordSuccess()
			return resp, nil
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		if isConnectError(err) {
			br.RecordFailure()
			lastErr = unavailableError{backend: req.Backend, cause: err}
			if attempt < attempts-1 {
				d := c.delay(attempt)
				retriesTotal.WithLabelValues(req.Backend).Inc()
				c.log.Warn().Str("backend", req.Backend).Int("attempt", attempt+1).
					Dur("retry_in", d).Err(err).Msg("backend connect failed")
				select {
				case <-time.After(d):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			continue
		}
		if isTimeoutError(err) {
			return nil, upstreamTimeoutError{backend: req.Backend, cause: err}
		}
		return nil, err
	}
	return nil, lastErr
}

// attempt performs a single exchange and fully reads the body.
func (c *Client) attempt(ctx context.Context, req Request) (*Response, error) {
	actx, cancel := context.WithTimeout(ctx, c.timeout(req.TimeoutClass))
	defer cancel()
	hreq, err := http.NewRequestWithContext(actx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	resp, err := c.http.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// cancelBody ties a context cancel to the response body lifetime.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// Stream opens a streaming request. Identical breaker gating to Do but
// no retry: streamed bodies are not safely replayable. Success is
// recorded once response headers arrive; the caller must close the
// body, which also releases the per-request deadline.
func (c *Client) Stream(ctx context.Context, req Request) (*http.Response, error) {
	br := c.breaker(req.Backend)
	if !br.Allow() {
		breakerRejections.WithLabelValues(req.Backend).Inc()
		return nil, unavailableError{backend: req.Backend, cause: errBreakerOpen}
	}
	actx, cancel := context.WithTimeout(ctx, c.timeout(req.TimeoutClass))
	hreq, err := http.NewRequestWithContext(actx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		cancel()
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	resp, err := c.http.Do(hreq)
	if err != nil {
		cancel()
		if isConnectError(err) {
			br.RecordFailure()
			return nil, unavailableError{backend: req.Backend, cause: err}
		}
		if isTimeoutError(err) {
			return nil, upstreamTimeoutError{backend: req.Backend, cause: err}
		}
		return nil, err
	}
	br.RecordSuccess()
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// HealthCheck probes a backend's health URL. Best-effort: it never
// returns an error, converting any failure into an unreachable status.
func (c *Client) HealthCheck(ctx context.Context, backend, url string) types.BackendHealth {
	hctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	hreq, err := http.NewRequestWithContext(hctx, http.MethodGet, url, nil)
	if err != nil {
		return types.BackendHealth{Status: "unreachable", Error: err.Error()}
	}
	resp, err := c.http.Do(hreq)
	if err != nil {
		return types.BackendHealth{Status: "unreachable", Error: err.Error()}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode == http.StatusOK {
		return types.BackendHealth{Status: "healthy", Code: resp.StatusCode}
	}
	return types.BackendHealth{Status: "unhealthy", Code: resp.StatusCode}
}
