package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	rediskey "pharmacy_checkout/pkg/redis"
)

// luaRateLimit is an atomic sliding-window limiter.
// KEYS[1]=key, ARGV[1]=now, ARGV[2]=window start, ARGV[3]=window seconds,
// ARGV[4]=member, ARGV[5]=limit. Returns the count in the window, or -1 when
// the request is over the limit.
const luaRateLimit = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local windowSec = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '0', windowStart)

local count = redis.call('ZCARD', key)
if count < tonumber(ARGV[5]) then
  redis.call('ZADD', key, now, member)
  redis.call('EXPIRE', key, windowSec)
  return count + 1
else
  return -1
end
`

// RedisRateLimit limits each authenticated user, or each client IP before
// authentication, to limit requests per window. Redis failures let the
// request through.
func RedisRateLimit(rdb rd.Scripter, limit int, window time.Duration, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rediskey.RateLimitKey(rateClient(c))

		now := time.Now()
		windowSec := int64(window.Seconds())
		if windowSec < 1 {
			windowSec = 1
		}
		member := fmt.Sprintf("%d-%d", now.Unix(), now.UnixNano())

		res, err := rdb.Eval(c.Request.Context(), luaRateLimit, []string{key},
			now.Unix(), now.Unix()-windowSec, windowSec, member, limit).Int()
		if err != nil {
			logger.Warn("rate limit unavailable", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}
		if res < 0 {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": 429,
				"msg":  "too many requests, retry later",
			})
			return
		}
		c.Next()
	}
}

func rateClient(c *gin.Context) string {
	if id, ok := UserID(c); ok {
		return fmt.Sprintf("user:%d", id)
	}
	return "ip:" + c.ClientIP()
}
