package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const rateLimitKeyPrefix = "vnfm:ratelimit:"

// tokenBucket refills rate tokens per second up to burst and takes one.
// It returns {allowed, remaining, burst}.
var tokenBucket = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])
local window = tonumber(ARGV[4])

local tokens_key = key .. ":tokens"
local timestamp_key = key .. ":ts"

local tokens = tonumber(redis.call('GET', tokens_key) or burst)
local last_update = tonumber(redis.call('GET', timestamp_key) or now)

tokens = math.min(burst, tokens + (now - last_update) * rate)

if tokens >= 1 then
	tokens = tokens - 1
	redis.call('SET', tokens_key, tokens, 'EX', window * 2)
	redis.call('SET', timestamp_key, now, 'EX', window * 2)
	return {1, tokens, burst}
end
return {0, 0, burst}
`)

// RateLimiter limits API clients with token buckets kept in Redis, so
// that every VNFM replica shares them.
type RateLimiter struct {
	client redis.UniversalClient
	logger *zap.Logger
	config *RateLimitConfig
	now    func() time.Time
}

// RateLimitConfig contains rate limiting configuration.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active.
	Enabled bool

	// PerClient limits each API client, identified by its basic auth
	// user or else its address.
	PerClient ClientLimitConfig

	// PerEndpoint limits specific routes per client, e.g. the LCM task
	// resources.
	PerEndpoint []EndpointLimitConfig

	// Global limits the whole API.
	Global GlobalLimitConfig

	// RedisClient holds the buckets.
	RedisClient redis.UniversalClient
}

// ClientLimitConfig configures per-client rate limits.
type ClientLimitConfig struct {
	RequestsPerSecond int
	BurstSize         int
}

// EndpointLimitConfig configures rate limits for a route. Path is the
// route template, e.g. /vnflcm/v2/vnf_instances/:id/instantiate.
type EndpointLimitConfig struct {
	Path              string
	Method            string
	RequestsPerSecond int
	BurstSize         int
}

// GlobalLimitConfig configures global rate limits.
type GlobalLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(config *RateLimitConfig, logger *zap.Logger) (*RateLimiter, error) {
	if config == nil {
		return nil, fmt.Errorf("rate limit config cannot be nil")
	}
	if config.RedisClient == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := config.RedisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RateLimiter{
		client: config.RedisClient,
		logger: logger,
		config: config,
		now:    time.Now,
	}, nil
}

// Middleware returns a Gin middleware function for rate limiting.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.config.Enabled {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		clientID := getClientID(c)

		if limit := rl.getEndpointLimit(c.Request.Method, c.FullPath()); limit != nil {
			key := fmt.Sprintf("endpoint:%s:%s:%s", clientID, c.Request.Method, c.FullPath())
			if !rl.checkLimit(ctx, c, key, limit.RequestsPerSecond, limit.BurstSize) {
				return
			}
		}

		if rl.config.PerClient.RequestsPerSecond > 0 {
			if !rl.checkLimit(ctx, c, "client:"+clientID,
				rl.config.PerClient.RequestsPerSecond, rl.config.PerClient.BurstSize) {
				return
			}
		}

		if rl.config.Global.RequestsPerSecond > 0 {
			if !rl.checkLimit(ctx, c, "global",
				rl.config.Global.RequestsPerSecond, rl.config.Global.BurstSize()) {
				return
			}
		}

		c.Next()
	}
}

// checkLimit takes a token from the bucket under key. It answers 429 and
// returns false when the bucket is empty. Redis failures let the request
// through.
func (rl *RateLimiter) checkLimit(ctx context.Context, c *gin.Context, key string, requestsPerSecond, burstSize int) bool {
	if burstSize <= 0 {
		burstSize = requestsPerSecond
	}
	now := rl.now().Unix()
	const window = int64(1)

	result, err := tokenBucket.Run(ctx, rl.client, []string{rateLimitKeyPrefix + key},
		now, requestsPerSecond, burstSize, window).Int64Slice()
	if err != nil || len(result) < 3 {
		rl.logger.Error("rate limit check failed",
			zap.String("key", key),
			zap.Error(err),
		)
		return true
	}

	allowed, remaining, limit := result[0] == 1, result[1], result[2]

	c.Header("X-RateLimit-Limit", strconv.FormatInt(limit, 10))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(now+window, 10))

	if !allowed {
		c.Header("Retry-After", strconv.FormatInt(window, 10))

		rl.logger.Warn("rate limit exceeded",
			zap.String("key", key),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("client_ip", c.ClientIP()),
		)

		abortWithProblem(c, http.StatusTooManyRequests, "Rate limit exceeded")
		return false
	}

	return true
}

// getEndpointLimit returns the limit configured for a route, if any.
func (rl *RateLimiter) getEndpointLimit(method, path string) *EndpointLimitConfig {
	for i := range rl.config.PerEndpoint {
		limit := &rl.config.PerEndpoint[i]
		if limit.Method == method && limit.Path == path {
			return limit
		}
	}
	return nil
}

// getClientID identifies the API client: the basic auth user when the
// request carries one, the client address otherwise.
func getClientID(c *gin.Context) string {
	if user, _, ok := c.Request.BasicAuth(); ok && user != "" {
		return "user:" + user
	}
	return c.ClientIP()
}

// BurstSize returns the global burst, twice the rate when not set.
func (g *GlobalLimitConfig) BurstSize() int {
	if g.Burst > 0 {
		return g.Burst
	}
	return g.RequestsPerSecond * 2
}
