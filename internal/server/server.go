// ABOUTME: HTTP API server wiring the guardian services behind JWT auth
// ABOUTME: Routes, middleware and lifecycle management

package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/talia-app/guardian/internal/auth"
	"github.com/talia-app/guardian/internal/contacts"
	"github.com/talia-app/guardian/internal/linking"
	"github.com/talia-app/guardian/internal/reports"
	"github.com/talia-app/guardian/internal/rtc"
	"github.com/talia-app/guardian/internal/store"
)

// Server is the guardian HTTP API server.
type Server struct {
	linking  *linking.Service
	contacts *contacts.Service
	rtc      *rtc.Issuer
	reports  *reports.Service
	store    store.Store
	logger   *slog.Logger

	httpServer *http.Server
}

// New creates a server with all services wired.
func New(addr string, st store.Store, verifier auth.TokenVerifier,
	linkingSvc *linking.Service, contactsSvc *contacts.Service,
	issuer *rtc.Issuer, reportsSvc *reports.Service) *Server {

	s := &Server{
		linking:  linkingSvc,
		contacts: contactsSvc,
		rtc:      issuer,
		reports:  reportsSvc,
		store:    st,
		logger:   slog.Default().With("component", "server"),
	}

	mux := http.NewServeMux()

	// Liveness probes are unauthenticated.
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/ready", s.handleReady)

	api := http.NewServeMux()
	api.HandleFunc("POST /api/links", s.handleCreateLink)
	api.HandleFunc("POST /api/contacts/requests", s.handleCreateContactRequest)
	api.HandleFunc("POST /api/contacts/requests/{id}/status", s.handleUpdateContactRequest)
	api.HandleFunc("POST /api/permissions/{id}/approve", s.handleApprovePermission)
	api.HandleFunc("POST /api/permissions/{id}/status", s.handleUpdatePermission)
	api.HandleFunc("POST /api/call-tokens", s.handleIssueCallToken)
	api.HandleFunc("POST /api/reports", s.handleGenerateReport)

	authMiddleware := auth.HTTPAuthMiddleware(st, verifier)
	mux.Handle("/api/", authMiddleware(api))

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.logRequests(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the server's root handler. Used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving HTTP. Blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// logRequests logs each request with method, path, and duration.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method, "path", r.URL.Path, "duration", time.Since(start).String())
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.CountAccounts(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  "database not reachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
