package transport

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/ppiankov/xfil/internal/model"
	"golang.org/x/time/rate"
)

// Throttle paces requests per host. Clients sharing a Throttle share the
// budget of every host they talk to.
type Throttle struct {
	mu    sync.Mutex
	hosts map[string]*rate.Limiter
	limit rate.Limit
	burst int
	delay time.Duration
}

// NewThrottle creates a throttle from the rate limiting settings.
// A non-positive rate leaves only the fixed delay.
func NewThrottle(cfg model.RateLimitingConfig) *Throttle {
	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 1
	}

	return &Throttle{
		hosts: make(map[string]*rate.Limiter),
		limit: limit,
		burst: burst,
		delay: cfg.Delay,
	}
}

// Wait blocks until a request to host may be sent
func (t *Throttle) Wait(ctx context.Context, host string) error {
	if err := t.limiter(host).Wait(ctx); err != nil {
		return err
	}
	if t.delay <= 0 {
		return nil
	}

	timer := time.NewTimer(t.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (t *Throttle) limiter(host string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.hosts[host]
	if !ok {
		l = rate.NewLimiter(t.limit, t.burst)
		t.hosts[host] = l
	}
	return l
}

// hostOf returns the host[:port] of rawURL, or rawURL itself when it does
// not parse
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
