package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Server wires the HTTP surface over the registry store.
type Server struct {
	cfg        Config
	store      *Store
	policy     ExtensionPolicy
	httpServer *http.Server
}

// New builds the router and middleware chain. The pickup route gets its
// own per-IP rate limit on top of the common chain.
func New(cfg Config, store *Store) *Server {
	s := &Server{
		cfg:    cfg,
		store:  store,
		policy: NewExtensionPolicy(cfg.AllowedExtensions, cfg.ForbiddenExtensions),
	}

	r := chi.NewRouter()

	// requestID -> access log -> security headers
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware)
	r.Use(securityHeadersMiddleware)

	pickupLimiter := newRateLimiter(cfg.PickupRate, time.Minute)

	r.Post("/upload", s.uploadHandler)
	r.With(pickupLimiter.middleware).Post("/pickup", s.pickupHandler)
	r.Get("/download/{groupID}/{filename}", s.downloadHandler)

	r.Get("/api/file-group/{groupID}", s.groupInfoHandler)
	r.Post("/api/delete/{groupID}", s.deleteGroupHandler)
	r.Get("/api/system-info", s.systemInfoHandler)

	r.Get("/health", s.healthHandler)
	r.Get("/metrics", s.metricsHandler)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.httpServer.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// writeJSON renders a JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders the error body shape shared by every failure path.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
