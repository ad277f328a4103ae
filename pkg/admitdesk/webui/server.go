// Package webui implements the admissions portal HTTP API: agent management,
// knowledge uploads, the worker callback endpoint, and channel pairing with
// SSE event delivery to the pairing dialog.
package webui

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/admitdesk/admitdesk/pkg/admitdesk/agent"
	"github.com/admitdesk/admitdesk/pkg/admitdesk/channel"
	"github.com/admitdesk/admitdesk/pkg/admitdesk/knowledge"
	"github.com/admitdesk/admitdesk/pkg/admitdesk/objectstore"
	"github.com/admitdesk/admitdesk/pkg/admitdesk/store"
)

// Config holds web server configuration.
type Config struct {
	// Enabled turns the HTTP API on/off.
	Enabled bool `yaml:"enabled"`

	// Address is the listen address (default: ":8090").
	Address string `yaml:"address"`

	// AuthToken is the Bearer token for authentication (empty = no auth).
	AuthToken string `yaml:"auth_token"`
}

// DefaultConfig returns default web server configuration.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Address: ":8090",
	}
}

// Server is the portal HTTP server.
type Server struct {
	cfg      Config
	agents   *agent.Service
	pipeline *knowledge.Pipeline
	pairing  *channel.Manager
	portal   *store.PortalStore
	objects  objectstore.Store
	logger   *slog.Logger
	server   *http.Server
}

// New creates the portal server.
func New(cfg Config, agents *agent.Service, pipeline *knowledge.Pipeline, pairing *channel.Manager, portal *store.PortalStore, objects objectstore.Store, logger *slog.Logger) *Server {
	if cfg.Address == "" {
		cfg.Address = ":8090"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		agents:   agents,
		pipeline: pipeline,
		pairing:  pairing,
		portal:   portal,
		objects:  objects,
		logger:   logger.With("component", "webui"),
	}
}

// Start begins serving the API.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	// ── Public routes (no auth required) ──
	// The worker callback carries no portal credentials; it is correlated,
	// not authenticated.
	mux.HandleFunc("/api/webhooks/transcription", s.handleWorkerCallback)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/files/", s.handleFiles)

	// ── Protected routes ──
	mux.HandleFunc("/api/agents", s.authMiddleware(s.handleAgents))
	mux.HandleFunc("/api/agents/", s.authMiddleware(s.handleAgentByID))
	mux.HandleFunc("/api/documents/", s.authMiddleware(s.handleDocumentByID))
	mux.HandleFunc("/api/pairing/start", s.authMiddleware(s.handlePairingStart))
	mux.HandleFunc("/api/pairing/", s.authMiddleware(s.handlePairingByInstance))
	mux.HandleFunc("/api/connections", s.authMiddleware(s.handleConnections))
	mux.HandleFunc("/api/connections/", s.authMiddleware(s.handleConnectionByID))
	mux.HandleFunc("/api/students", s.authMiddleware(s.handleStudents))
	mux.HandleFunc("/api/students/", s.authMiddleware(s.handleStudentByID))
	mux.HandleFunc("/api/fees", s.authMiddleware(s.handleFees))
	mux.HandleFunc("/api/fees/", s.authMiddleware(s.handleFeeByID))

	s.server = &http.Server{
		Addr:         s.cfg.Address,
		Handler:      corsMiddleware(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disabled for SSE streams (long-lived connections)
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("portal API starting", "address", s.cfg.Address)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("portal API server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctx)
		s.logger.Info("portal API stopped")
	}
}

// ── Middleware ──

// authMiddleware validates the bearer token if configured.
func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthToken == "" {
			next(w, r)
			return
		}
		if !compareTokens(extractToken(r), s.cfg.AuthToken) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			return
		}
		next(w, r)
	}
}

// corsMiddleware adds CORS headers for the dashboard dev server.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Operator-ID")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// compareTokens compares tokens in constant time via hashing.
func compareTokens(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}

// extractToken pulls the auth token from the request.
func extractToken(r *http.Request) string {
	// Bearer token in Authorization header.
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	// Query parameter (for SSE connections).
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return ""
}

// operatorID resolves the acting operator from the request.
func operatorID(r *http.Request) string {
	if id := r.Header.Get("X-Operator-ID"); id != "" {
		return id
	}
	return r.URL.Query().Get("operator_id")
}

// ── JSON helpers ──

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeSSE writes a named SSE event to the response writer.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	b, _ := json.Marshal(data)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, string(b))
	flusher.Flush()
}
