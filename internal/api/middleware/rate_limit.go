package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"coursehub/internal/pkg/errors"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Limit types.
const (
	LimitAPIRead  = "api_read"
	LimitAPIWrite = "api_write"
	LimitEvents   = "events"
)

const defaultLimit = 100

// Limiter decides whether key may make another request this minute.
type Limiter interface {
	Allow(ctx context.Context, key string, perMinute int) (bool, error)
}

// LocalLimiter keeps one token bucket per key in memory. Idle buckets expire.
type LocalLimiter struct {
	buckets *ttlcache.Cache[string, *rate.Limiter]
}

func NewLocalLimiter() *LocalLimiter {
	buckets := ttlcache.New[string, *rate.Limiter](
		ttlcache.WithTTL[string, *rate.Limiter](10*time.Minute),
		ttlcache.WithDisableTouchOnHit[string, *rate.Limiter](),
	)
	go buckets.Start()
	return &LocalLimiter{buckets: buckets}
}

func (l *LocalLimiter) Allow(_ context.Context, key string, perMinute int) (bool, error) {
	item := l.buckets.Get(key)
	if item == nil {
		item = l.buckets.Set(key, rate.NewLimiter(rate.Limit(float64(perMinute)/60), perMinute), ttlcache.DefaultTTL)
	}
	return item.Value().Allow(), nil
}

func (l *LocalLimiter) Stop() {
	l.buckets.Stop()
}

type RateLimiter struct {
	limiter Limiter
	limits  map[string]int
}

func NewRateLimiter(limiter Limiter, limits map[string]int) *RateLimiter {
	return &RateLimiter{limiter: limiter, limits: limits}
}

// Limit applies the per-minute budget for limitType, keyed by the authenticated
// user or, before authentication, the client address.
func (rl *RateLimiter) Limit(limitType string) func(http.HandlerFunc) http.HandlerFunc {
	limit, ok := rl.limits[limitType]
	if !ok || limit <= 0 {
		limit = defaultLimit
	}

	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			key := fmt.Sprintf("%s:ip:%s", limitType, clientIP(r))
			if claims := ClaimsFrom(r.Context()); claims != nil {
				key = fmt.Sprintf("%s:user:%s", limitType, claims.UserID)
			}

			allowed, err := rl.limiter.Allow(r.Context(), key, limit)
			if err != nil {
				// fail open
				log.Warn().Err(err).Str("key", key).Msg("rate limiter unavailable")
			}
			if !allowed {
				w.Header().Set("Retry-After", "60")
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
				errors.WriteError(w, http.StatusTooManyRequests, errors.ErrCodeRateLimitExceeded, "Rate limit exceeded", nil)
				return
			}

			next(w, r)
		}
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
