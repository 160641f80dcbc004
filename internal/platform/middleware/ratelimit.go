package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// RateLimitConfig sizes a token bucket: BurstSize requests at once, refilled
// at RequestsPerSecond.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int

	// KeyFunc selects the bucket for a request. ClientKey when nil.
	KeyFunc func(echo.Context) string
}

// DefaultRateLimitConfig is the general API budget.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 100, BurstSize: 200}
}

// LoginRateLimitConfig is the tighter budget for the credential endpoints.
// Login requests carry no identity, so buckets are per client address.
func LoginRateLimitConfig(rps float64, burst int) RateLimitConfig {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return RateLimitConfig{
		RequestsPerSecond: rps,
		BurstSize:         burst,
		KeyFunc:           func(c echo.Context) string { return c.RealIP() },
	}
}

// ClientKey throttles an authenticated caller per tenant and address, and an
// anonymous one per address.
func ClientKey(c echo.Context) string {
	if tenantID, ok := c.Get("tenant_id").(string); ok && tenantID != "" {
		return tenantID + "|" + c.RealIP()
	}
	return c.RealIP()
}

const sweepEvery = time.Minute

type bucket struct {
	tokens float64
	seen   time.Time
}

// limiter keeps one bucket per key. Buckets that have refilled completely
// are dropped on the next sweep.
type limiter struct {
	mu        sync.Mutex
	rate      float64
	burst     float64
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

func newLimiter(rate float64, burst int) *limiter {
	if burst < 1 {
		burst = 1
	}
	return &limiter{
		rate:    rate,
		burst:   float64(burst),
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// take spends one token for key. When none is left it reports how long
// until the next one.
func (l *limiter) take(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= sweepEvery {
		l.sweep(now)
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst, seen: now}
		l.buckets[key] = b
	}
	b.tokens = math.Min(l.burst, b.tokens+now.Sub(b.seen).Seconds()*l.rate)
	b.seen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if l.rate <= 0 {
		return false, time.Second
	}
	return false, time.Duration((1 - b.tokens) / l.rate * float64(time.Second))
}

func (l *limiter) sweep(now time.Time) {
	for k, b := range l.buckets {
		if b.tokens+now.Sub(b.seen).Seconds()*l.rate >= l.burst {
			delete(l.buckets, k)
		}
	}
	l.lastSweep = now
}

// RateLimit rejects requests beyond the configured budget with 429 and a
// Retry-After header in whole seconds.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	l := newLimiter(cfg.RequestsPerSecond, cfg.BurstSize)
	keyOf := cfg.KeyFunc
	if keyOf == nil {
		keyOf = ClientKey
	}
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			ok, wait := l.take(keyOf(c))
			if !ok {
				h.Set("X-RateLimit-Remaining", "0")
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests")
			}
			return next(c)
		}
	}
}
