package middleware

import (
	"sync"
	"time"

	"codejudge/pkg/errors"
	"codejudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitPolicy configures a token bucket per client IP plus one shared bucket.
// A zero rate disables that bucket.
type RateLimitPolicy struct {
	GlobalRPS   float64
	GlobalBurst int
	IPRPS       float64
	IPBurst     int
	// IdleTTL evicts per-IP buckets not used for this long.
	IdleTTL time.Duration
}

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds the buckets behind RateLimitMiddleware.
type RateLimiter struct {
	policy RateLimitPolicy
	global *rate.Limiter

	mu      sync.Mutex
	buckets map[string]*ipBucket
	now     func() time.Time
}

// NewRateLimiter builds a limiter from policy.
func NewRateLimiter(policy RateLimitPolicy) *RateLimiter {
	if policy.IdleTTL <= 0 {
		policy.IdleTTL = 10 * time.Minute
	}
	rl := &RateLimiter{
		policy:  policy,
		buckets: make(map[string]*ipBucket),
		now:     time.Now,
	}
	if policy.GlobalRPS > 0 {
		burst := policy.GlobalBurst
		if burst <= 0 {
			burst = int(policy.GlobalRPS) * 2
		}
		rl.global = rate.NewLimiter(rate.Limit(policy.GlobalRPS), max(burst, 1))
	}
	return rl
}

// Allow reports whether a request from ip may proceed.
func (rl *RateLimiter) Allow(ip string) bool {
	if rl.global != nil && !rl.global.Allow() {
		return false
	}
	if rl.policy.IPRPS <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	b, ok := rl.buckets[ip]
	if !ok {
		b = &ipBucket{limiter: rate.NewLimiter(rate.Limit(rl.policy.IPRPS), max(rl.policy.IPBurst, 1))}
		rl.buckets[ip] = b
	}
	b.lastSeen = now
	rl.evictLocked(now)
	return b.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) evictLocked(now time.Time) {
	for ip, b := range rl.buckets {
		if now.Sub(b.lastSeen) > rl.policy.IdleTTL {
			delete(rl.buckets, ip)
		}
	}
}

// RateLimitMiddleware rejects requests over the limit with TooManyRequests.
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl == nil {
			c.Next()
			return
		}
		if !rl.Allow(c.ClientIP()) {
			response.AbortWithErrorCode(c, errors.TooManyRequests, "")
			return
		}
		c.Next()
	}
}
