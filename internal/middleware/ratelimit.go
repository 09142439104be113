package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// RateLimit 返回一个按客户端 IP 限流的 Gin 中间件。
// 计数器存储在 Redis 中：INCR + EXPIRE 走同一个 Pipeline，
// 窗口内超过 maxRequests 的请求收到 429。
func RateLimit(redisClient *redis.Client, maxRequests int, window time.Duration) gin.HandlerFunc {
	if redisClient == nil {
		panic("Redis client cannot be nil for RateLimit middleware")
	}
	if maxRequests <= 0 {
		panic("maxRequests must be positive for RateLimit middleware")
	}
	if window <= 0 {
		panic("window duration must be positive for RateLimit middleware")
	}

	return func(c *gin.Context) {
		// 反向代理后面需要信任的代理配置才能拿到真实 IP
		key := "ratelimit:" + c.ClientIP()

		pipe := redisClient.Pipeline()
		incrCmd := pipe.Incr(c.Request.Context(), key)
		pipe.Expire(c.Request.Context(), key, window)
		if _, err := pipe.Exec(c.Request.Context()); err != nil {
			logrus.WithError(err).Error("RateLimit: Redis pipeline failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Rate limiting error"})
			c.Abort()
			return
		}

		count, err := incrCmd.Result()
		if err != nil {
			logrus.WithError(err).Error("RateLimit: Failed to read counter after pipeline exec")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Rate limiting error"})
			c.Abort()
			return
		}

		if count > int64(maxRequests) {
			logrus.WithFields(logrus.Fields{
				"client_ip": c.ClientIP(),
				"count":     count,
			}).Warn("RateLimit: Request over limit rejected")
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			c.Abort()
			return
		}

		c.Next()
	}
}
