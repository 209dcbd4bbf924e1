package healthcheck

import (
	"context"
	"net/http"
	"sync"
	"time"

	"gitlab.com/arveo/api/crm-conversation-service/pkg/utils"
	"go.uber.org/zap"
)

// ReadinessCheck reports whether one dependency is able to serve.
type ReadinessCheck func(ctx context.Context) error

// Server serves liveness, readiness and (optionally) metrics endpoints.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *zap.Logger

	mu     sync.RWMutex
	checks map[string]ReadinessCheck
}

// HealthResponse is the response structure for health check endpoints
type HealthResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// NewServer creates a new health check server
func NewServer(port string, logger *zap.Logger) *Server {
	mux := http.NewServeMux()

	server := &Server{
		httpServer: &http.Server{
			Addr:    ":" + port,
			Handler: mux,
		},
		mux:    mux,
		logger: logger,
		checks: make(map[string]ReadinessCheck),
	}

	mux.HandleFunc("/health", server.handleHealth)
	mux.HandleFunc("/ready", server.handleReady)

	return server
}

// RegisterMetricsHandler adds the /metrics endpoint handler.
// Should only be called if metrics are enabled.
func (s *Server) RegisterMetricsHandler(handler http.Handler) {
	s.logger.Info("Registering /metrics endpoint")
	s.mux.Handle("/metrics", handler)
}

// RegisterReadinessCheck adds a named dependency probe to /ready.
func (s *Server) RegisterReadinessCheck(name string, check ReadinessCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// Start begins the HTTP server
func (s *Server) Start() {
	go func() {
		s.logger.Info("Starting health check server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Health check server error", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping health check server")
	return s.httpServer.Shutdown(ctx)
}

// handleHealth handles the /health endpoint for liveness probes
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "UP",
		Service: "crm-conversation-service",
	}

	utils.WriteJSONResponse(w, http.StatusOK, resp)
}

// handleReady runs the registered dependency probes. Any failing probe
// turns the response into a 503 so the orchestrator stops routing here.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	s.mu.RLock()
	checks := make(map[string]ReadinessCheck, len(s.checks))
	for name, check := range s.checks {
		checks[name] = check
	}
	s.mu.RUnlock()

	details := map[string]string{
		"timestamp": utils.FormatISO8601(utils.Now()),
	}
	status := "READY"
	code := http.StatusOK
	for name, check := range checks {
		if err := check(ctx); err != nil {
			s.logger.Warn("Readiness check failed", zap.String("check", name), zap.Error(err))
			details[name] = err.Error()
			status = "NOT_READY"
			code = http.StatusServiceUnavailable
			continue
		}
		details[name] = "ok"
	}

	resp := HealthResponse{
		Status:  status,
		Details: details,
	}

	utils.WriteJSONResponse(w, code, resp)
}
