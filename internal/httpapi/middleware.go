package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/olegrjumin/stackprobe/internal/logging"
)

const (
	headerRequestID = "X-Request-Id"
	ctxRequestID    = "requestID"
)

// requestIDMiddleware propagates the caller's X-Request-Id or generates one
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

// loggingMiddleware logs each HTTP request with method, path, status, and duration
func loggingMiddleware(logger *logging.Logger, enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		logger.Info("Request completed",
			"request_id", c.GetString(ctxRequestID),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// recoveryMiddleware turns a panic into the standard 500 error body
func recoveryMiddleware(logger *logging.Logger, production bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			err, ok := rec.(error)
			if !ok {
				err = errors.New(fmt.Sprint(rec))
			}
			logger.Error("Handler panicked",
				"request_id", c.GetString(ctxRequestID),
				"path", c.Request.URL.Path,
				"error", err,
			)
			c.Abort()
			if !c.Writer.Written() {
				writeError(c, err, production)
			}
		}()
		c.Next()
	}
}

func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("X-Frame-Options", "DENY")
		c.Next()
	}
}

// corsMiddleware allows any origin when allowOrigin is "*", otherwise only
// the configured one. Preflight requests end here with 204.
func corsMiddleware(allowOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case allowOrigin == "*" || origin == "":
			c.Header("Access-Control-Allow-Origin", "*")
		case origin == allowOrigin:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Accept, X-Request-Id")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
