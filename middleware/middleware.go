package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xiaolan20020118-create/Project-Roza/logger"
	ids "github.com/xiaolan20020118-create/Project-Roza/tools/ids"
)

const RequestIDKey = "request_id"

// RequestLog 为每个请求分配雪花 request_id 并记录访问日志。
func RequestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader("X-Request-Id")
		if rid == "" {
			rid = ids.GenerateString()
		}
		c.Set(RequestIDKey, rid)
		c.Header("X-Request-Id", rid)

		start := time.Now()
		c.Next()

		logger.Info("http request",
			zap.String("request_id", rid),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("cost", time.Since(start)))
	}
}

// Recovery panic 转 500，不让单个请求拖垮进程。
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered",
					zap.Any("error", r),
					zap.String("path", c.Request.URL.Path))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"code": 500, "msg": "internal error",
				})
			}
		}()
		c.Next()
	}
}
