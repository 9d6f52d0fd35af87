package middlewares

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"hnsync/internal/api/ginx"
	"hnsync/pkg/logger"
)

// HeaderRequestID 请求 ID 头
const HeaderRequestID = "X-Request-ID"

// Trace 读取或生成请求 ID，写入 Context 与响应头
func Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(HeaderRequestID, requestID)
		c.Request = c.Request.WithContext(logger.WithTraceID(c.Request.Context(), requestID))
		c.Next()
	}
}

// Logger 访问日志
func Logger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Infof(c.Request.Context(), "[HTTP] %s %s -> %d (%v)",
			c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}

// ErrorHandler 统一错误处理：捕获 panic 与 handler 未写响应的错误
func ErrorHandler(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf(c.Request.Context(), "[HTTP] panic: %v\n%s", r, debug.Stack())
				c.Abort()
				ginx.InternalError(c, "internal server error")
			}
		}()

		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			err := c.Errors.Last()
			log.Errorf(c.Request.Context(), "[HTTP] unhandled error: %v", err)
			ginx.Error(c, http.StatusInternalServerError, err.Error())
		}
	}
}
