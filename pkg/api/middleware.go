package api

import (
	"fmt"
	"net/http"
	"regexp"
	"runtime/debug"
	"time"

	"log/slog"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/trailtag/trailtag/pkg/metrics"
	"github.com/trailtag/trailtag/pkg/webhook"
)

// extensionOrigin matches the browser extension's origin. Extension ids are
// 32 characters drawn from a-p, with digits tolerated for forks that ship
// under unpacked ids.
var extensionOrigin = regexp.MustCompile(`^chrome-extension://[a-p0-9]+$`)

// corsMiddleware admits any web origin plus extension origins. The wildcard
// keeps local development unblocked; the origin func reflects extension
// origins so the extension's credentialed requests pass the browser check.
func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowOriginFunc:  extensionOrigin.MatchString,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodHead, http.MethodOptions},
		AllowHeaders:     []string{"*"},
		AllowCredentials: true,
	})
}

// requestLogger emits one line per handled request, leveled by status class.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		status := c.Writer.Status()
		fields := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("HTTP request", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("HTTP request", fields...)
		default:
			logger.Info("HTTP request", fields...)
		}
	}
}

// metricsMiddleware records the request counter, latency histogram and
// in-flight gauge. The route template keeps label cardinality bounded;
// unmatched paths fall back to the raw path.
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		metrics.HTTPRequestsInFlight.Inc()
		defer metrics.HTTPRequestsInFlight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		metrics.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

// recoveryMiddleware converts handler panics into 500 responses and reports
// them as system.error webhook events. The stack goes to the log, never to
// the client.
func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Panic while handling request",
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"panic", r,
					"stack", string(debug.Stack()))
				s.hooks.Trigger(webhook.EventSystemError, map[string]any{
					"error": fmt.Sprint(r),
					"path":  c.Request.URL.Path,
				}, "", "")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": "internal server error"})
			}
		}()
		c.Next()
	}
}
