package http

import "github.com/gin-gonic/gin"

// ErrorResponse 以统一的 {"error": ...} 形状返回错误
func ErrorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{"error": message})
}

// SuccessResponse 返回成功响应，data 直接作为响应体序列化
func SuccessResponse(c *gin.Context, code int, data interface{}) {
	c.JSON(code, data)
}
