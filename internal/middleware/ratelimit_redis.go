package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/companionlab/companion-server/internal/audit"
	"github.com/companionlab/companion-server/internal/auth"
	apperrors "github.com/companionlab/companion-server/internal/errors"
	"github.com/companionlab/companion-server/internal/httputil"
)

const (
	rateLimitKeyPrefix = "ratelimit:"
	rateLimitWindow    = time.Minute
)

// RateDecision is the outcome of one hit against a fixed one-minute window.
type RateDecision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RedisRateLimiter counts hits per key in fixed windows shared by every replica.
type RedisRateLimiter struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, now: time.Now}
}

// Check records one hit for key. Redis failures allow the request.
func (rl *RedisRateLimiter) Check(ctx context.Context, key string, limit int) RateDecision {
	now := rl.now()
	window := now.Truncate(rateLimitWindow)
	resetAt := window.Add(rateLimitWindow)
	redisKey := rateLimitKeyPrefix + key + ":" + strconv.FormatInt(window.Unix(), 10)

	var hits *redis.IntCmd
	_, err := rl.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		hits = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, resetAt.Sub(now)+10*time.Second)
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("rate limit check failed, allowing request")
		return RateDecision{Allowed: true, Remaining: limit - 1, ResetAt: resetAt}
	}

	count := int(hits.Val())
	return RateDecision{
		Allowed:   count <= limit,
		Remaining: max(limit-count, 0),
		ResetAt:   resetAt,
	}
}

// RedisRateLimitMiddleware limits requests per user, or per client IP for anonymous callers.
type RedisRateLimitMiddleware struct {
	limiter *RedisRateLimiter
	scope   string
	limit   int
}

func NewRedisRateLimitMiddleware(redisClient *redis.Client, scope string, limit int) *RedisRateLimitMiddleware {
	return &RedisRateLimitMiddleware{
		limiter: NewRedisRateLimiter(redisClient),
		scope:   scope,
		limit:   limit,
	}
}

func (m *RedisRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := m.scope + ":" + rateLimitSubject(r)
		decision := m.limiter.Check(r.Context(), key, m.limit)

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(m.limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		log.Warn().Str("key", key).Msg("rate limit exceeded")
		audit.LogFromRequest(r, audit.Event{
			Type:    audit.EventRateLimitExceed,
			UserID:  auth.UserID(r.Context()),
			Details: map[string]interface{}{"scope": m.scope},
		})

		retryAfter := int(decision.ResetAt.Sub(m.limiter.now()) / time.Second)
		h.Set("Retry-After", strconv.Itoa(max(retryAfter, 1)))
		httputil.WriteError(w, apperrors.RateLimitExceeded().
			WithDetails(map[string]any{"scope": m.scope, "resetAt": decision.ResetAt.Unix()}))
	})
}

func rateLimitSubject(r *http.Request) string {
	if userID := auth.UserID(r.Context()); userID != "" {
		return "user:" + userID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
