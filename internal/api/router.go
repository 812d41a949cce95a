package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-slsdet/internal/auth"
)

// healthCheckTimeout bounds each dependency probe in /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/enums/{param}", s.handleGetEnum)
		r.Get("/receiver", s.handleReceiver)

		// WebSocket authenticates with the token query parameter
		r.Get("/ws", s.handleWebSocket)

		r.Route("/detectors", func(r chi.Router) {
			r.Get("/", s.handleListDetectors)

			r.Route("/{addr}", func(r chi.Router) {
				r.Get("/", s.handleGetDetector)
				r.Get("/params/{name}", s.handleGetParam)
				r.Get("/history", s.handleHistory)

				r.Group(func(r chi.Router) {
					r.Use(s.authMiddleware)

					r.With(s.requirePermission(auth.PermDetectorWrite)).
						Put("/params/{name}", s.handleSetParam)
					r.With(s.requirePermission(auth.PermDetectorConnect)).
						Post("/connect", s.handleConnect)
					r.With(s.requirePermission(auth.PermDetectorConnect)).
						Post("/disconnect", s.handleDisconnect)
				})
			})
		})
	})

	return r
}

// handleHealth reports server, detector and dependency health.
// Any failing dependency marks the whole response degraded.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	deps := make(map[string]string, len(s.checkers))

	names := make([]string, 0, len(s.checkers))
	for name := range s.checkers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.checkers[name].HealthCheck(ctx)
		cancel()
		if err != nil {
			deps[name] = err.Error()
			status = "degraded"
			continue
		}
		deps[name] = "ok"
	}

	resp := map[string]any{
		"status":  status,
		"version": s.version,
		"detectors": map[string]any{
			"port":      s.port.Name(),
			"total":     s.port.NumAddresses(),
			"connected": s.port.NumConnected(),
		},
	}
	if len(deps) > 0 {
		resp["dependencies"] = deps
	}
	if s.bridge != nil {
		resp["bridge"] = s.bridge.Health()
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleReceiver returns the supervised slsReceiver state.
func (s *Server) handleReceiver(w http.ResponseWriter, _ *http.Request) {
	if s.receiver == nil {
		writeNotFound(w, "receiver is not managed by this bridge")
		return
	}
	writeJSON(w, http.StatusOK, s.receiver.Stats())
}
