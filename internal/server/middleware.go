package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Skufu/veincheck/internal/auth"
)

const correlationKey = "correlation_id"

func limitBodySize(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// correlationID tags every request so log lines and error bodies can be
// matched up.
func correlationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Correlation-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(correlationKey, id)
		c.Header("X-Correlation-ID", id)
		c.Next()
	}
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := logger.WithFields(logrus.Fields{
			"method":         c.Request.Method,
			"path":           c.FullPath(),
			"status":         status,
			"latency":        time.Since(start).String(),
			"client_ip":      c.ClientIP(),
			"correlation_id": c.GetString(correlationKey),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("request failed")
		case status >= http.StatusBadRequest:
			entry.Warn("request rejected")
		default:
			entry.Info("request handled")
		}
	}
}

// requireAdmin admits requests carrying a valid admin bearer token.
func requireAdmin(a *auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "admin_disabled"})
			return
		}
		token, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok || a.Verify(token) != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
