// Package httpclient hardens outbound provider calls with retry and a
// circuit breaker. Both the payment and metrics backends sit behind it so a
// provider outage degrades to fast failures instead of piled-up timeouts.
package httpclient

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// RetryPolicy controls retry behavior for outbound requests.
type RetryPolicy struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	// Jitter spreads retries, 0.0 to 1.0.
	Jitter               float64
	RetryableStatusCodes []int
}

// DefaultRetryPolicy retries throttles and upstream 5xx responses.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
		RetryableStatusCodes: []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}
}

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerPolicy controls when the circuit opens and recovers.
type BreakerPolicy struct {
	FailureThreshold int
	SuccessThreshold int
	// OpenFor is how long the circuit rejects before probing again.
	OpenFor       time.Duration
	OnStateChange func(from, to BreakerState)
}

func DefaultBreakerPolicy() BreakerPolicy {
	return BreakerPolicy{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenFor:          30 * time.Second,
	}
}

// ErrCircuitOpen is returned while the breaker is rejecting requests.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// breaker tracks consecutive failures against the policy thresholds.
type breaker struct {
	mu sync.Mutex

	policy BreakerPolicy
	state  BreakerState

	failures  int
	successes int
	openedAt  time.Time
	now       func() time.Time
}

func newBreaker(policy BreakerPolicy) *breaker {
	return &breaker{policy: policy, state: BreakerClosed, now: time.Now}
}

func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) > b.policy.OpenFor {
			b.transition(BreakerHalfOpen)
			return nil
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.policy.SuccessThreshold {
			b.transition(BreakerClosed)
		}
	}
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.policy.FailureThreshold {
			b.transition(BreakerOpen)
		}
	case BreakerHalfOpen:
		b.transition(BreakerOpen)
	}
}

func (b *breaker) transition(next BreakerState) {
	prev := b.state
	b.state = next

	switch next {
	case BreakerClosed:
		b.failures = 0
		b.successes = 0
	case BreakerOpen:
		b.openedAt = b.now()
		b.successes = 0
	case BreakerHalfOpen:
		b.successes = 0
	}

	if b.policy.OnStateChange != nil {
		go b.policy.OnStateChange(prev, next)
	}
}

func (b *breaker) currentState() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Client wraps an HTTP client with retry and a circuit breaker.
type Client struct {
	base    *http.Client
	retry   RetryPolicy
	breaker *breaker

	totalRequests   int64
	successRequests int64
	failedRequests  int64
	retriedRequests int64
}

// Options configures a Client. Zero-value fields take defaults.
type Options struct {
	Base    *http.Client
	Retry   RetryPolicy
	Breaker BreakerPolicy
}

func New(opts Options) *Client {
	if opts.Base == nil {
		opts.Base = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
			},
		}
	}
	if opts.Retry.MaxRetries == 0 && opts.Retry.InitialBackoff == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.Breaker.FailureThreshold == 0 {
		opts.Breaker = DefaultBreakerPolicy()
	}
	return &Client{
		base:    opts.Base,
		retry:   opts.Retry,
		breaker: newBreaker(opts.Breaker),
	}
}

// Do executes the request, retrying retryable failures, and feeds the
// outcome into the breaker.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	atomic.AddInt64(&c.totalRequests, 1)

	if err := c.breaker.allow(); err != nil {
		atomic.AddInt64(&c.failedRequests, 1)
		return nil, err
	}

	var lastErr error
	var resp *http.Response

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			atomic.AddInt64(&c.retriedRequests, 1)
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(c.backoff(attempt)):
			}
			req = req.Clone(req.Context())
		}

		resp, lastErr = c.base.Do(req)
		if lastErr != nil {
			if isRetryableError(lastErr) {
				continue
			}
			c.breaker.recordFailure()
			atomic.AddInt64(&c.failedRequests, 1)
			return nil, lastErr
		}

		if c.retryableStatus(resp.StatusCode) {
			lastErr = &StatusError{StatusCode: resp.StatusCode}
			resp.Body.Close()
			continue
		}

		c.breaker.recordSuccess()
		atomic.AddInt64(&c.successRequests, 1)
		return resp, nil
	}

	c.breaker.recordFailure()
	atomic.AddInt64(&c.failedRequests, 1)
	return nil, lastErr
}

func (c *Client) backoff(attempt int) time.Duration {
	d := float64(c.retry.InitialBackoff) * math.Pow(c.retry.BackoffMultiplier, float64(attempt-1))
	if max := float64(c.retry.MaxBackoff); max > 0 && d > max {
		d = max
	}
	if c.retry.Jitter > 0 {
		d += d * c.retry.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(d)
}

func (c *Client) retryableStatus(code int) bool {
	for _, retryable := range c.retry.RetryableStatusCodes {
		if code == retryable {
			return true
		}
	}
	return false
}

func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// State returns the breaker state.
func (c *Client) State() BreakerState {
	return c.breaker.currentState()
}

// Stats returns request counters.
func (c *Client) Stats() map[string]int64 {
	return map[string]int64{
		"total_requests":   atomic.LoadInt64(&c.totalRequests),
		"success_requests": atomic.LoadInt64(&c.successRequests),
		"failed_requests":  atomic.LoadInt64(&c.failedRequests),
		"retried_requests": atomic.LoadInt64(&c.retriedRequests),
	}
}

// StatusError reports a retryable HTTP status that survived all attempts.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return http.StatusText(e.StatusCode)
}

// Transport exposes the client as an http.RoundTripper so SDKs that accept
// an *http.Client can be pointed at it.
type Transport struct {
	Client *Client
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.Client.Do(req)
}

// HTTPClient wraps the resilient client in a plain *http.Client.
func (c *Client) HTTPClient() *http.Client {
	return &http.Client{Transport: &Transport{Client: c}}
}
