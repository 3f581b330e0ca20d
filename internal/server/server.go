// File: internal/server/server.go

// Package server exposes the CAPTCHA notification and query boundary over
// HTTP. It is the only path by which humans and external tooling talk to the
// resolution registry.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/itslolan/TravelAgent-sub001/internal/captcha"
	"github.com/itslolan/TravelAgent-sub001/internal/config"
)

// Server wraps an http.Server bound to the coordinator.
type Server struct {
	httpServer  *http.Server
	coordinator *captcha.Coordinator
	visionModel string
	logger      *zap.Logger
	shutdownTO  config.ServerConfig
}

// New builds the HTTP boundary. visionModel is reported on the mode endpoint
// and may be empty in human mode.
func New(cfg config.ServerConfig, coordinator *captcha.Coordinator, visionModel string, logger *zap.Logger) *Server {
	s := &Server{
		coordinator: coordinator,
		visionModel: visionModel,
		logger:      logger.Named("http"),
		shutdownTO:  cfg,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/captcha/mode", s.handleMode)
	mux.HandleFunc("GET /api/captcha/status", s.handleStatus)
	mux.HandleFunc("POST /api/captcha/notify", s.handleNotify)

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.withRequestLog(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// ListenAndServe blocks until the server stops. ErrServerClosed is swallowed;
// it is the normal shutdown signal.
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP boundary listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured grace period.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.shutdownTO.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// -- Handlers --

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "healthy",
		"service": "captcha-orchestrator",
		"mode":    string(s.coordinator.Mode()),
	}
	if s.visionModel != "" {
		resp["model"] = s.visionModel
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	cfg := s.coordinator.Config()
	resp := map[string]any{
		"mode":               string(s.coordinator.Mode()),
		"pending":            s.coordinator.Registry().Len(),
		"max_iterations":     cfg.MaxIterations,
		"turn_timeout":       cfg.TurnTimeout.String(),
		"human_wait_ceiling": cfg.HumanWaitCeiling.String(),
		"poll_interval":      cfg.PollInterval.String(),
	}
	if s.visionModel != "" {
		resp["model"] = s.visionModel
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	minionID := strings.TrimSpace(r.URL.Query().Get("minionId"))
	if minionID == "" {
		s.writeError(w, http.StatusBadRequest, "minionId query parameter is required")
		return
	}
	s.writeJSON(w, http.StatusOK, s.coordinator.IsResolved(minionID))
}

// notifyRequest is the body a human (or external solver UI) posts once it has
// finished interacting with the live session.
type notifyRequest struct {
	MinionID  string `json:"minionId"`
	SessionID string `json:"sessionId,omitempty"`
	Solved    *bool  `json:"solved"`
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.MinionID) == "" {
		s.writeError(w, http.StatusBadRequest, "minionId is required")
		return
	}
	if req.Solved == nil {
		s.writeError(w, http.StatusBadRequest, "solved is required")
		return
	}

	entry := s.coordinator.Registry().Notify(req.MinionID, req.SessionID, *req.Solved)
	s.logger.Info("CAPTCHA notification received",
		zap.String("minion_id", req.MinionID),
		zap.Bool("solved", *req.Solved))

	s.writeJSON(w, http.StatusOK, entry)
}

// -- Plumbing --

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		s.logger.Debug("Request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr))
	})
}
