// Package httpapi runs the small ambient HTTP surface every deployment of
// this daemon exposes regardless of the out-of-scope RPC dispatcher: a
// liveness/readiness probe and a Prometheus scrape endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cwstudio/projectcore/internal/scheduler"
)

// HealthStatus mirrors the three-state model operators expect from a probe
// endpoint: fully healthy, degraded but serving, or unhealthy.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthResponse is the JSON body served at /healthz.
type HealthResponse struct {
	Status    HealthStatus `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Uptime    string       `json:"uptime"`
	QueueLen  int          `json:"queueLen"`
	Running   int          `json:"running"`
}

// Server hosts /healthz and /metrics on a single listener.
type Server struct {
	httpServer *http.Server
	build      *scheduler.Scheduler
	registry   *prom.Registry
	startTime  time.Time
	log        *slog.Logger
}

// Config bundles Server's collaborators.
type Config struct {
	Build    *scheduler.Scheduler
	Registry *prom.Registry
	Log      *slog.Logger
}

// New constructs a Server. Registry may be nil, in which case /metrics
// serves an empty scrape (no Prometheus recorder configured).
func New(cfg Config) *Server {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Server{
		build:     cfg.Build,
		registry:  cfg.Registry,
		startTime: time.Now(),
		log:       cfg.Log,
	}
}

// Start binds port and begins serving in the background. Start pre-binds
// the listener itself so callers get an immediate bind error instead of one
// surfacing asynchronously from the Serve goroutine.
func (s *Server) Start(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("httpapi: bind port %d: %w", port, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", s.metricsHandler())

	s.httpServer = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("httpapi server error", slog.String("error", err.Error()))
		}
	}()

	s.log.Info("httpapi server started", slog.Int("port", port))
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) metricsHandler() http.Handler {
	if s.registry == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	}
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now(),
		Uptime:    time.Since(s.startTime).String(),
	}
	if s.build != nil {
		resp.QueueLen = s.build.QueueLen()
		resp.Running = s.build.RunningCount()
	} else {
		resp.Status = HealthStatusDegraded
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	if resp.Status == HealthStatusHealthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error("encode health response", slog.String("error", err.Error()))
	}
}
