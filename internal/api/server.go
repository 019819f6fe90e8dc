// Package api exposes the protection service over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"medguard/internal/fs"
	"medguard/internal/guard"
)

// Guard is the part of guard.Service the API serves.
type Guard interface {
	Status() (guard.Status, error)
	RecentAlerts(limit int) []guard.ThreatAlert
	CurrentThreatScore() guard.Assessment
	ListBackups() ([]guard.BackupInfo, error)
	ListVersions(path string) ([]guard.BackupVersion, error)
	Backup(path string) (guard.BackupVersion, bool, error)
	Restore(path string, version *uint64) (guard.BackupVersion, error)
	RestoreTo(path string, version *uint64, target string) (guard.BackupVersion, error)
	IncrementalChanges(path string) ([]int, error)
}

var _ Guard = (*guard.Service)(nil)

// Scope limits the files that requests may read, back up, or overwrite.
// Every path is made absolute before it is checked.
type Scope struct {
	// Filter accepts source paths: a file must be under a watched root and
	// pass the extension and ignore rules. A nil Filter accepts nothing.
	Filter *fs.Filter

	// RestoreDir additionally accepts restore targets beneath it.
	RestoreDir string
}

// Server routes API requests to a Guard.
type Server struct {
	r       *chi.Mux
	guard   Guard
	scope   Scope
	metrics http.Handler
	logger  guard.Logger
}

// NewServer builds the router. metrics may be nil, in which case /metrics is not served.
func NewServer(g Guard, scope Scope, metrics http.Handler, logger guard.Logger) *Server {
	s := &Server{r: chi.NewRouter(), guard: g, scope: scope, metrics: metrics, logger: logger}

	s.r.Use(middleware.RequestID)
	s.r.Use(middleware.RealIP)
	s.r.Use(s.requestLogger)
	s.r.Use(middleware.Recoverer)

	s.routes()
	return s
}

func (s *Server) routes() {
	s.r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) })

	s.r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.getStatus)
		r.Get("/alerts", s.getAlerts)
		r.Get("/threat", s.getThreat)
		r.Get("/backups", s.getBackups)
		r.Get("/backups/versions", s.getVersions)
		r.Get("/backups/changes", s.getChanges)
		r.Post("/backup", s.postBackup)
		r.Post("/restore", s.postRestore)
	})

	if s.metrics != nil {
		s.r.Method(http.MethodGet, "/metrics", s.metrics)
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.r }

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.logger.Info("api listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return fmt.Errorf("serving api: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down api: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving api: %w", err)
	}
	return nil
}

// requestLogger logs one line per request through the service logger.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
