// Package api wires the gin engine for the agent gateway.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/oremus-labs/agent-dispatch/internal/handlers"
	"github.com/oremus-labs/agent-dispatch/internal/logutil"
)

// Options configures the HTTP server wiring.
type Options struct {
	Logger *zap.SugaredLogger
	// DisableMetrics drops the /metrics route (the Lambda proxy has no scraper).
	DisableMetrics bool
}

// Server wraps the Gin engine and associated configuration.
type Server struct {
	engine *gin.Engine
}

// NewServer constructs a Server with all HTTP routes configured.
func NewServer(handler *handlers.Handler, opts Options) *Server {
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	log := logutil.OrNop(opts.Logger)

	engine := gin.New()
	engine.Use(gin.Recovery(), requestIDMiddleware(), metricsMiddleware(), requestLogger(log))

	engine.GET("/health", handler.Health)
	engine.GET("/openapi", handler.OpenAPISpec)
	if !opts.DisableMetrics {
		engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	v1 := engine.Group("/api/v1")
	v1.GET("/health", handler.Health)
	v1.POST("/send_message", handler.SendMessage)
	v1.GET("/stream/:channel", handler.StreamChannel)

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return &Server{engine: engine}
}

// Engine exposes the underlying Gin engine for advanced use (testing, Lambda proxy).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// HTTPServer returns an http.Server for addr. WriteTimeout is left unset so
// SSE streams and awaited send_message calls are not cut off.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
