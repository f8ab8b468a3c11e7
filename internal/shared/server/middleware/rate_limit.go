package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"placelink-backend/internal/shared/server/respond"
)

const (
	defaultRateLimitGroup = "DEFAULT"
	rateLimitedCode       = "RATE_LIMITED"
	maxIdleLimiters       = 10000
)

// RateLimitRule is a token bucket: Rate tokens per second up to Burst.
type RateLimitRule struct {
	Rate  float64
	Burst int
}

// RateLimitConfig selects a rule per request. Requests whose group has no rule pass.
type RateLimitConfig struct {
	Rules        map[string]RateLimitRule
	DefaultGroup string
	GroupFor     func(*gin.Context) string
	Limiter      *RateLimiter
}

// RateLimiter keeps one limiter per client and group.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*clientBucket
	now     func() time.Time
}

type clientBucket struct {
	limiter *rate.Limiter
	rule    RateLimitRule
	seen    time.Time
}

// NewRateLimiter builds a limiter using now as its clock.
func NewRateLimiter(now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		buckets: make(map[string]*clientBucket),
		now:     now,
	}
}

// RateLimit rejects requests over their group's rule with 429 and a Retry-After header.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.Limiter == nil {
		cfg.Limiter = NewRateLimiter(nil)
	}
	if cfg.DefaultGroup == "" {
		cfg.DefaultGroup = defaultRateLimitGroup
	}
	return func(c *gin.Context) {
		group := cfg.DefaultGroup
		if cfg.GroupFor != nil {
			if g := strings.TrimSpace(cfg.GroupFor(c)); g != "" {
				group = g
			}
		}
		rule, ok := cfg.Rules[group]
		if !ok {
			c.Next()
			return
		}
		key := strings.TrimSpace(c.ClientIP()) + "|" + group
		allowed, retryAfter := cfg.Limiter.Allow(key, rule)
		if allowed {
			c.Next()
			return
		}
		c.Header("Retry-After", strconv.Itoa(RetryAfterSeconds(retryAfter)))
		respond.Error(c, http.StatusTooManyRequests, rateLimitedCode, "too many requests", gin.H{
			"retry_after_ms": retryAfter.Milliseconds(),
		})
	}
}

// PerInterval is a rule admitting one request per every, with no burst beyond it.
func PerInterval(every time.Duration) RateLimitRule {
	if every <= 0 {
		return RateLimitRule{}
	}
	return RateLimitRule{Rate: float64(time.Second) / float64(every), Burst: 1}
}

// RetryAfterSeconds rounds d up to whole seconds for a Retry-After header, never below 1.
func RetryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// Allow takes one token for key and reports how long to wait when none is left.
func (l *RateLimiter) Allow(key string, rule RateLimitRule) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	if rule.Rate <= 0 || rule.Burst <= 0 {
		return true, 0
	}
	now := l.now()
	l.mu.Lock()
	bucket, ok := l.buckets[key]
	if !ok || bucket.rule != rule {
		if len(l.buckets) >= maxIdleLimiters {
			l.pruneLocked(now)
		}
		bucket = &clientBucket{limiter: rate.NewLimiter(rate.Limit(rule.Rate), rule.Burst), rule: rule}
		l.buckets[key] = bucket
	}
	bucket.seen = now
	l.mu.Unlock()

	reservation := bucket.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, time.Second
	}
	delay := reservation.DelayFrom(now)
	if delay <= 0 {
		return true, 0
	}
	reservation.CancelAt(now)
	return false, delay
}

// pruneLocked drops buckets that have refilled completely.
func (l *RateLimiter) pruneLocked(now time.Time) {
	for key, b := range l.buckets {
		full := time.Duration(float64(b.rule.Burst) / b.rule.Rate * float64(time.Second))
		if now.Sub(b.seen) >= full {
			delete(l.buckets, key)
		}
	}
}
