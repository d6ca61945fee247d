package auth

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rhuss/authcore/pkg/api"
	"github.com/rhuss/authcore/pkg/device"
	"github.com/rhuss/authcore/pkg/observability"
)

// RateLimitConfig holds per-client limits for credential endpoints.
type RateLimitConfig struct {
	// RequestsPerMinute is the sustained rate per client IP and scope.
	// Zero or less disables limiting.
	RequestsPerMinute int

	// Burst is the bucket size. Defaults to RequestsPerMinute.
	Burst int

	// CleanupInterval controls how often idle client entries are dropped.
	// Entries idle for twice the interval are removed. Default: 5 minutes.
	CleanupInterval time.Duration
}

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter applies a token bucket per client IP and scope.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	cleanup time.Duration

	mu      sync.Mutex
	clients map[string]*clientLimiter
	now     func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter creates a limiter and starts its background cleanup.
// Call Stop to end the cleanup goroutine.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RequestsPerMinute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}

	rl := &RateLimiter{
		limit:   rate.Limit(float64(cfg.RequestsPerMinute) / 60.0),
		burst:   cfg.Burst,
		cleanup: cfg.CleanupInterval,
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	if cfg.RequestsPerMinute > 0 {
		go rl.cleanupLoop()
	}
	return rl
}

// Enabled reports whether the limiter rejects anything at all.
func (rl *RateLimiter) Enabled() bool {
	return rl != nil && rl.limit > 0
}

// Stop ends the background cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Allow reports whether one more request from ip in scope fits the limit.
func (rl *RateLimiter) Allow(scope, ip string) bool {
	if !rl.Enabled() {
		return true
	}
	return rl.limiterFor(scope + "|" + ip).AllowN(rl.now(), 1)
}

// Middleware returns middleware that rejects over-limit clients with 429.
// Limits are tracked separately per scope.
func (rl *RateLimiter) Middleware(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !rl.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := device.ClientIP(r)
			if !rl.Allow(scope, ip) {
				slog.Warn("rate limit exceeded",
					"scope", scope,
					"remote_ip", ip,
				)
				observability.RateLimitRejectedTotal.WithLabelValues(scope).Inc()
				w.Header().Set("Retry-After", strconv.Itoa(rl.retryAfter()))
				writeError(w, http.StatusTooManyRequests, api.NewTooManyRequestsError(ErrTooManyRequests.Error()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Clients returns the number of tracked client entries.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cl, ok := rl.clients[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = cl
	}
	cl.lastAccess = rl.now()
	return cl.limiter
}

// retryAfter estimates the seconds until one token is refilled.
func (rl *RateLimiter) retryAfter() int {
	secs := int(math.Ceil(1.0 / float64(rl.limit)))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) evictIdle() {
	ttl := rl.cleanup * 2
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, cl := range rl.clients {
		if now.Sub(cl.lastAccess) > ttl {
			delete(rl.clients, key)
		}
	}
}
