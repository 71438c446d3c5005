// Package httpapi implements the read-side HTTP API: Catalog reads, webhook
// subscription management, Prometheus exposition, and a status endpoint
// summarizing per-component health. It is not part of the ingestion
// pipeline's hard engineering core; it exists so an operator or dashboard
// can see what C1-C6 are doing without a direct SQLite connection.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/homelab/ha-ingestor/internal/catalog"
	"github.com/homelab/ha-ingestor/internal/connection"
	"github.com/homelab/ha-ingestor/internal/pipeline"
	"github.com/homelab/ha-ingestor/internal/webhook"
)

// Server hosts the read-side HTTP API.
type Server struct {
	engine *gin.Engine
	http   *http.Server
	log    *slog.Logger
}

// Deps collects the components the API reads status and data from. Any
// field may be nil: the status handler reports "unknown" for a component
// that is not wired, and handlers that read the Catalog Store answer 503
// when Store is nil.
type Deps struct {
	Store      *catalog.Store
	ConnMgr    *connection.Manager
	Pipeline   *pipeline.Pipeline
	Dispatcher *webhook.Dispatcher
}

// New builds a Server listening on addr, with routes registered against deps.
func New(addr string, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine: engine,
		log:    logger,
		http:   &http.Server{Addr: addr, Handler: engine},
	}

	h := &handlers{deps: deps, log: logger}
	api := engine.Group("/api/v1")
	api.GET("/devices", h.listDevices)
	api.GET("/entities", h.listEntities)
	api.GET("/areas", h.listAreas)
	api.GET("/status", h.status)
	api.GET("/webhooks", h.listWebhooks)
	api.POST("/webhooks", h.createWebhook)

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return s
}

// Run starts the HTTP server and blocks until ctx is cancelled, then shuts
// down gracefully within a 10s grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http api listen: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http api shutdown: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
