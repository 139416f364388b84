package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"revledger/internal/errs"
	"revledger/internal/service"
	"revledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderCallerID  = "X-Caller-ID"

	ctxKeyRequestID = "request_id"
	ctxKeyCaller    = "caller"
)

// RequestIDMiddleware 透传或生成请求ID
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxKeyRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// CallerMiddleware 从可信请求头解析调用方身份
// 身份认证由上游网关完成；require 为 true 时缺少身份直接返回 401
func CallerMiddleware(require bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderCallerID))
		if id == "" && require {
			response.Fail(c, errs.ErrUnauthenticated)
			return
		}
		c.Set(ctxKeyCaller, service.Caller{ID: id})
		c.Next()
	}
}

func callerFrom(c *gin.Context) service.Caller {
	if v, ok := c.Get(ctxKeyCaller); ok {
		if caller, ok := v.(service.Caller); ok {
			return caller
		}
	}
	return service.Caller{}
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	logger = logger.With("component", "http")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		// 处理请求
		c.Next()

		status := c.Writer.Status()
		if query != "" {
			path = path + "?" + query
		}
		attrs := []any{
			"status", status,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"path", path,
			"request_id", c.GetString(ctxKeyRequestID),
		}
		if caller := callerFrom(c); caller.ID != "" {
			attrs = append(attrs, "caller", caller.ID)
		}
		if err := c.Errors.Last(); err != nil {
			attrs = append(attrs, "error", err.Err)
		}

		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("请求失败", attrs...)
		case status >= http.StatusBadRequest:
			logger.Warn("请求被拒绝", attrs...)
		default:
			logger.Info("请求完成", attrs...)
		}
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic", "error", err, "path", c.Request.URL.Path, "request_id", c.GetString(ctxKeyRequestID))
				response.Error(c, http.StatusInternalServerError, errs.KindInternal, "internal server error")
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, "+HeaderRequestID+", "+HeaderCallerID)
		c.Header("Access-Control-Expose-Headers", HeaderRequestID)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
