package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	requestIDHeader = "X-Request-ID"
	// Set by API Gateway and function URLs; reused when the caller sent no id.
	amznTraceHeader = "X-Amzn-Trace-Id"
)

// quietRoutes are logged at debug level so probes and scrapes do not flood the logs.
var quietRoutes = map[string]bool{
	"/health":        true,
	"/api/v1/health": true,
	"/metrics":       true,
}

func requestLogger(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := routeOf(c)
		logf := log.Infow
		if quietRoutes[route] {
			logf = log.Debugw
		}
		fields := []any{
			"method", c.Request.Method,
			"route", route,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"request_id", c.GetString("requestID"),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}
		logf("HTTP request", fields...)
	}
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = c.GetHeader(amznTraceHeader)
		}
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("requestID", id)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		// FullPath is known before the handler runs.
		route := routeOf(c)
		httpInFlight.WithLabelValues(route).Inc()
		defer httpInFlight.WithLabelValues(route).Dec()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// routeOf returns the matched route template, keeping label cardinality bounded.
func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}
