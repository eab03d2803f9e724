// Package api exposes scan control, scan history, and reports over HTTP.
package api

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/eargollo/fsaudit/internal/api/handlers"
	"github.com/eargollo/fsaudit/internal/config"
	"github.com/eargollo/fsaudit/internal/scan"
	"github.com/eargollo/fsaudit/internal/scheduler"
)

// shutdownTimeout bounds how long Run waits for in-flight requests.
const shutdownTimeout = 10 * time.Second

// Server holds the HTTP server and all handler dependencies.
type Server struct {
	addr string
	srv  *http.Server
}

// New wires all routes and returns a Server ready to Run. Scans started over
// HTTP are parented on baseCtx.
func New(
	baseCtx context.Context,
	addr string,
	db *sql.DB,
	cfg *config.Config,
	mgr *scan.Manager,
	sched *scheduler.Scheduler,
	version string,
) *Server {
	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: NewRouter(baseCtx, db, cfg, mgr, sched, version)},
	}
}

// NewRouter returns the chi router serving the /api routes.
func NewRouter(
	baseCtx context.Context,
	db *sql.DB,
	cfg *config.Config,
	mgr *scan.Manager,
	sched *scheduler.Scheduler,
	version string,
) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	statusH := &handlers.StatusHandler{DB: db, Manager: mgr, Sched: sched, Version: version}
	scansH := &handlers.ScansHandler{DB: db, Manager: mgr, BaseCtx: baseCtx}
	statsH := &handlers.StatsHandler{DB: db}
	configH := &handlers.ConfigHandler{DB: db, Cfg: cfg, Manager: mgr, Sched: sched}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", statusH.ServeHTTP)

		r.Post("/scans", scansH.Create)
		r.Get("/scans", scansH.List)
		r.Delete("/scans/current", scansH.Cancel)
		r.Get("/scans/{id}", scansH.Get)
		r.Get("/scans/{id}/report", scansH.Report)

		r.Get("/stats", statsH.ServeHTTP)

		r.Get("/config", configH.Get)
		r.Patch("/config", configH.Update)
	})

	return r
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
