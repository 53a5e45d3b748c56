package security

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/vivars7/a2a-orchestrator/internal/config"
	"github.com/vivars7/a2a-orchestrator/internal/ctxkeys"
	orcherrors "github.com/vivars7/a2a-orchestrator/internal/errors"
)

// ipEntry holds a rate limiter and its last-used timestamp for cleanup.
type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // UnixNano
}

// limits is the reloadable part of the limiter configuration.
type limits struct {
	enabled bool
	perIP   int // requests per minute
	burst   int
}

// IPRateLimiter enforces per-IP rate limiting using individual token buckets.
type IPRateLimiter struct {
	limiters        sync.Map // IP string → *ipEntry
	limits          atomic.Pointer[limits]
	cleanupInterval time.Duration
	resolver        *ClientIPResolver
	onLimited       func(ip string)
	logger          *slog.Logger
	cancel          context.CancelFunc
}

// NewIPRateLimiter creates a per-IP rate limiter from the rate_limit config.
// It starts a cleanup goroutine; call Stop to end it.
func NewIPRateLimiter(cfg config.RateLimitConfig, resolver *ClientIPResolver, logger *slog.Logger) *IPRateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if resolver == nil {
		resolver = NewClientIPResolver(nil)
	}
	interval := cfg.IP.CleanupInterval.Duration
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	rl := &IPRateLimiter{
		cleanupInterval: interval,
		resolver:        resolver,
		logger:          logger,
		cancel:          cancel,
	}
	rl.limits.Store(&limits{enabled: cfg.Enabled, perIP: cfg.IP.PerIP, burst: cfg.IP.Burst})
	go rl.cleanup(ctx)
	return rl
}

// OnLimited registers fn to be called for each rejected request.
// Must be called before the limiter serves traffic.
func (rl *IPRateLimiter) OnLimited(fn func(ip string)) {
	rl.onLimited = fn
}

// Process returns an http.Handler that enforces per-IP rate limiting.
func (rl *IPRateLimiter) Process(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := rl.limits.Load()
		if !l.enabled {
			next.ServeHTTP(w, r)
			return
		}
		ip, ok := ctxkeys.ClientIPFrom(r.Context())
		if !ok {
			ip = rl.resolver.Resolve(r)
		}
		if !rl.getLimiter(ip, l).Allow() {
			rl.logger.Warn("rate limit exceeded", "client_ip", ip)
			if rl.onLimited != nil {
				rl.onLimited(ip)
			}
			orcherrors.WriteHTTPError(w, orcherrors.ErrRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// OnConfigReload applies new limits. Existing buckets are dropped so the
// new rate takes effect for every client.
func (rl *IPRateLimiter) OnConfigReload(cfg *config.Config) error {
	rc := cfg.Security.RateLimit
	rl.limits.Store(&limits{enabled: rc.Enabled, perIP: rc.IP.PerIP, burst: rc.IP.Burst})
	rl.limiters.Clear()
	return nil
}

// Stop stops the cleanup goroutine.
func (rl *IPRateLimiter) Stop() {
	rl.cancel()
}

// getLimiter returns the rate limiter for the given IP, creating one if needed.
func (rl *IPRateLimiter) getLimiter(ip string, l *limits) *rate.Limiter {
	now := time.Now().UnixNano()

	if v, ok := rl.limiters.Load(ip); ok {
		entry := v.(*ipEntry)
		entry.lastSeen.Store(now)
		return entry.limiter
	}

	perSecond := float64(l.perIP) / 60.0
	entry := &ipEntry{limiter: rate.NewLimiter(rate.Limit(perSecond), l.burst)}
	entry.lastSeen.Store(now)

	actual, loaded := rl.limiters.LoadOrStore(ip, entry)
	if loaded {
		existing := actual.(*ipEntry)
		existing.lastSeen.Store(now)
		return existing.limiter
	}
	return entry.limiter
}

// cleanup periodically removes inactive IP entries.
func (rl *IPRateLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-rl.cleanupInterval).UnixNano()
			rl.limiters.Range(func(key, value any) bool {
				if value.(*ipEntry).lastSeen.Load() < cutoff {
					rl.limiters.Delete(key)
				}
				return true
			})
		}
	}
}
