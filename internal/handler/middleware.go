package handler

import (
	"net/http"
	"strings"
	"time"

	"walletauth/internal/apperr"
	"walletauth/pkg/response"
	"walletauth/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	headerRequestID = "X-Request-ID"
	ctxUserID       = "user_id"
	ctxUsername     = "username"
)

// TokenParser 由 service.IdentityService 实现
type TokenParser interface {
	ParseToken(tokenString string) (*token.Claims, error)
}

// RequestIDMiddleware 透传或生成请求 ID，并挂上请求级别的 logger
func RequestIDMiddleware(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(response.RequestIDKey, requestID)
		c.Set(response.LoggerKey, log.WithField("request_id", requestID))
		c.Header(headerRequestID, requestID)
		c.Next()
	}
}

// LoggerMiddleware 访问日志
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		if query != "" {
			path = path + "?" + query
		}

		entry := response.Logger(c).WithFields(logrus.Fields{
			"status":    c.Writer.Status(),
			"latency":   time.Since(start).String(),
			"client_ip": c.ClientIP(),
			"method":    c.Request.Method,
			"path":      path,
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("HTTP")
			return
		}
		entry.Info("HTTP")
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				response.Logger(c).WithField("panic", err).Error("PANIC")
				c.AbortWithStatusJSON(http.StatusInternalServerError, response.Response{
					Code:      apperr.ErrInternal.Code,
					Message:   apperr.ErrInternal.Msg,
					Kind:      string(apperr.KindInternal),
					RequestID: c.GetString(response.RequestIDKey),
				})
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
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// AuthMiddleware 校验 Bearer 令牌，把用户 ID 写入上下文
func AuthMiddleware(parser TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			response.Fail(c, apperr.ErrUnauthorized)
			return
		}

		claims, err := parser.ParseToken(tokenString)
		if err != nil {
			response.Fail(c, err)
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxUsername, claims.Username)
		c.Set(response.LoggerKey, response.Logger(c).WithField("user_id", claims.UserID))
		c.Next()
	}
}

func currentUserID(c *gin.Context) int64 {
	return c.GetInt64(ctxUserID)
}
