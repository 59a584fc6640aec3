package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"vpn-billing/internal/logger"
)

const (
	headerAdminToken = "X-Admin-Token"
	headerRequestID  = "X-Request-ID"
)

// RequestLogger logs every request with its status and latency.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(headerRequestID, requestID)

		c.Next()

		fields := []interface{}{
			"status", c.Writer.Status(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"latency_ms", time.Since(start).Milliseconds(),
			"request_id", requestID,
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			log.Errorw("HTTP request failed", fields...)
		case status >= 400:
			log.Warnw("HTTP request rejected", fields...)
		default:
			log.Infow("HTTP request", fields...)
		}
	}
}

// AdminAuth requires the configured token in X-Admin-Token. An empty token disables the routes.
func AdminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(headerAdminToken)
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// AllowIPs rejects requests whose client IP is outside every CIDR in the list.
func AllowIPs(cidrs []string, log *logger.Logger) gin.HandlerFunc {
	blocks := parseCIDRs(cidrs, log)
	return func(c *gin.Context) {
		if !isAllowedIP(c.ClientIP(), blocks) {
			log.Warnw("Webhook from disallowed IP", "ip", c.ClientIP())
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}

func parseCIDRs(cidrs []string, log *logger.Logger) []*net.IPNet {
	var blocks []*net.IPNet
	for _, cidr := range cidrs {
		_, block, err := net.ParseCIDR(cidr)
		if err != nil {
			log.Warnw("Skipping invalid CIDR", "cidr", cidr, "error", err)
			continue
		}
		blocks = append(blocks, block)
	}
	return blocks
}

func isAllowedIP(ip string, blocks []*net.IPNet) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, block := range blocks {
		if block.Contains(parsed) {
			return true
		}
	}
	return false
}
