package http

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"masterclass/metrics"
)

const (
	adminRole = "admin"
	actorKey  = "actor"
)

type adminAuth struct {
	secret []byte
}

// identify reads an optional admin bearer token. present is false when the
// request carries no Authorization header at all.
func (a adminAuth) identify(c echo.Context) (actor string, present bool, err error) {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if header == "" {
		return "", false, nil
	}

	raw, found := strings.CutPrefix(header, "Bearer ")
	if !found || raw == "" || len(a.secret) == 0 {
		return "", true, echo.NewHTTPError(http.StatusUnauthorized, "invalid bearer token")
	}

	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, echo.ErrUnauthorized
		}
		return a.secret, nil
	})
	if err != nil || !tok.Valid {
		return "", true, echo.NewHTTPError(http.StatusUnauthorized, "invalid bearer token")
	}

	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return "", true, echo.NewHTTPError(http.StatusUnauthorized, "invalid claims")
	}
	if role, _ := claims["role"].(string); role != adminRole {
		return "", true, echo.NewHTTPError(http.StatusForbidden, "admin role required")
	}
	sub, _ := claims.GetSubject()

	return "admin:" + sub, true, nil
}

func (a adminAuth) require(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, present, err := a.identify(c)
		if err != nil {
			return err
		}
		if !present {
			return echo.NewHTTPError(http.StatusUnauthorized, "admin credentials required")
		}
		c.Set(actorKey, actor)
		return next(c)
	}
}

func actorOf(c echo.Context) string {
	actor, _ := c.Get(actorKey).(string)
	return actor
}

type RateLimitConfig struct {
	// Capacity of zero disables the limiter.
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	Prefix         string
}

// Token bucket per key. Returns {allowed, tokens_left, retry_after_ms}.
var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local capacity = tonumber(ARGV[2])
	local refill_tokens = tonumber(ARGV[3])
	local interval_ms = tonumber(ARGV[4])
	local ttl_seconds = tonumber(ARGV[5])

	local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
	local tokens = tonumber(state[1])
	local last_refill = tonumber(state[2])

	if tokens == nil or last_refill == nil then
		tokens = capacity
		last_refill = now_ms
	end

	if interval_ms > 0 and refill_tokens > 0 then
		local elapsed = math.max(0, now_ms - last_refill)
		local intervals = math.floor(elapsed / interval_ms)
		if intervals > 0 then
			tokens = math.min(capacity, tokens + (intervals * refill_tokens))
			last_refill = last_refill + (intervals * interval_ms)
		end
	end

	local allowed = 0
	local retry_after_ms = 0
	if tokens > 0 then
		allowed = 1
		tokens = tokens - 1
	else
		retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
	end

	redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
	redis.call('EXPIRE', key, ttl_seconds)

	return { allowed, tokens, retry_after_ms }
`)

// newRateLimiter limits requests per route and client IP. Redis failures
// let the request through.
func newRateLimiter(cfg RateLimitConfig, rdb redis.UniversalClient) echo.MiddlewareFunc {
	if rdb == nil || cfg.Capacity <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "masterclass:ratelimit"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			key := rateLimitKey(cfg.Prefix, c)

			res, err := tokenBucketScript.Run(ctx, rdb, []string{key},
				time.Now().UnixMilli(),
				cfg.Capacity,
				cfg.RefillTokens,
				cfg.RefillInterval.Milliseconds(),
				int64(cfg.TTL/time.Second),
			).Int64Slice()
			if err != nil || len(res) != 3 {
				log.FromContext(ctx).WithError(err).WithField("key", key).Warn("Rate limiter unavailable")
				return next(c)
			}

			c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			c.Response().Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res[1], 10))

			if res[0] != 1 {
				retryAfter := int(math.Ceil(float64(res[2]) / 1000.0))
				c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
				metrics.RateLimited.WithLabelValues(c.Path()).Inc()
				return errorJSON(c, http.StatusTooManyRequests, codeRateLimited, "rate limit exceeded")
			}

			return next(c)
		}
	}
}

func rateLimitKey(prefix string, c echo.Context) string {
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	return strings.Join([]string{prefix, c.Request().Method, c.Path(), ip}, ":")
}
