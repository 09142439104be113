package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
)

// ErrMissingAuthHeader 表示请求缺少 Authorization 头
var ErrMissingAuthHeader = errors.New("missing Authorization header")

// Auth 返回一个验证 Bearer JWT 的 Gin 中间件。
// 验证通过后把 user_id (uint) 写入 Gin 上下文供后续 Handler 使用。
// 注意 WebSocket 升级路由不挂这个中间件：浏览器无法在升级请求上
// 自定义请求头。
func Auth(jwtSecret string) gin.HandlerFunc {
	if jwtSecret == "" {
		panic("JWT secret cannot be empty for Auth middleware")
	}

	return func(c *gin.Context) {
		tokenStr, err := extractBearerToken(c)
		if err != nil {
			if errors.Is(err, ErrMissingAuthHeader) {
				logrus.Debug("Auth: Request without Authorization header rejected")
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
			} else {
				logrus.WithError(err).Warn("Auth: Malformed Authorization header")
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token format"})
			}
			c.Abort()
			return
		}

		claims, err := parseAndValidate(tokenStr, jwtSecret)
		if err != nil {
			logCtx := logrus.WithError(err)
			// 过期和签名错误对客户端不区分，只在日志里留细节
			var validationError *jwt.ValidationError
			if errors.As(err, &validationError) {
				if validationError.Errors&jwt.ValidationErrorExpired != 0 {
					logCtx = logCtx.WithField("reason", "expired")
				} else if validationError.Errors&jwt.ValidationErrorSignatureInvalid != 0 {
					logCtx = logCtx.WithField("reason", "bad signature")
				}
			}
			logCtx.Warn("Auth: Token rejected")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		// JWT 数字 claim 解码后是 float64，转回 uint 前做范围检查
		userIDClaim, ok := claims["user_id"]
		if !ok {
			logrus.Error("Auth: Token accepted but user_id claim is missing")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Token processing error"})
			c.Abort()
			return
		}
		userIDFloat, ok := userIDClaim.(float64)
		if !ok || userIDFloat <= 0 || userIDFloat != float64(uint(userIDFloat)) {
			logrus.Errorf("Auth: user_id claim is not a valid positive integer: %v", userIDClaim)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Token processing error"})
			c.Abort()
			return
		}
		userID := uint(userIDFloat)

		c.Set("user_id", userID)
		logrus.WithField("user_id", userID).Debug("Auth: Request authenticated")
		c.Next()
	}
}

// extractBearerToken 从 Authorization 头提取 Bearer token
func extractBearerToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", ErrMissingAuthHeader
	}
	parts := strings.Split(authHeader, " ")
	// "Bearer" 的大小写不敏感
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", jwt.ErrTokenMalformed
	}
	return parts[1], nil
}

// parseAndValidate 解析 token 字符串并验证签名和有效期
func parseAndValidate(tokenStr, secret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		// 只接受 HMAC 签名，拒绝 alg 混淆
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token or claims type")
	}
	return claims, nil
}
