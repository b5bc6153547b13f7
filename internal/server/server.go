// Package server composes every collaborator into the listening HTTP
// process: the codex/claude proxy routes, the control API, and the
// background reaper/reload/cleanup goroutines. Grounded on the teacher's
// internal/server/server.go composition-root shape.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codex-helper/proxy/internal/authresolve"
	"github.com/codex-helper/proxy/internal/config"
	"github.com/codex-helper/proxy/internal/control"
	"github.com/codex-helper/proxy/internal/filter"
	"github.com/codex-helper/proxy/internal/lb"
	"github.com/codex-helper/proxy/internal/logging"
	"github.com/codex-helper/proxy/internal/logsink"
	"github.com/codex-helper/proxy/internal/metrics"
	"github.com/codex-helper/proxy/internal/orchestrator"
	"github.com/codex-helper/proxy/internal/state"
	"github.com/codex-helper/proxy/internal/transport"
)

// Server is the proxy's composition root and listening HTTP server.
type Server struct {
	env          config.Env
	store        *config.Store
	state        *state.RuntimeState
	lbReg        *lb.Registry
	filter       *filter.Filter
	auth         *authresolve.Resolver
	transportMgr *transport.Manager
	metricsReg   *metrics.Registry
	logSink      *logsink.Sink
	orc          *orchestrator.Orchestrator
	control      *control.Controller
	httpServer   *http.Server
	startTime    time.Time
}

// New wires every collaborator together and builds the listening
// http.Server, but does not start it.
func New(env config.Env, store *config.Store, st *state.RuntimeState, lbReg *lb.Registry, f *filter.Filter, auth *authresolve.Resolver, tm *transport.Manager, mx *metrics.Registry, sink *logsink.Sink, logHandler *logging.Handler, debugHeaders bool) *Server {
	orc := orchestrator.New(env, store, st, lbReg, f, auth, tm, mx, sink, debugHeaders)
	ctrl := control.New(st, store, mx, logHandler)

	srv := &Server{
		env:          env,
		store:        store,
		state:        st,
		lbReg:        lbReg,
		filter:       f,
		auth:         auth,
		transportMgr: tm,
		metricsReg:   mx,
		logSink:      sink,
		orc:          orc,
		control:      ctrl,
		startTime:    time.Now(),
	}

	mux := http.NewServeMux()
	srv.registerRoutes(mux)

	srv.httpServer = &http.Server{
		Addr:           fmt.Sprintf("%s:%d", env.Host, env.Port),
		Handler:        requestLogger(mux),
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   10 * time.Minute, // long-polling/streaming upstream responses run well over 30s
		MaxHeaderBytes: 1 << 20,
	}
	return srv
}

// registerRoutes mounts the control API first (higher specificity per
// spec §4.8), then the two proxy services as wildcard prefixes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	s.control.Register(mux)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	mux.HandleFunc("/codex/", func(w http.ResponseWriter, r *http.Request) {
		s.orc.Handle(w, r, "codex")
	})
	mux.HandleFunc("/claude/", func(w http.ResponseWriter, r *http.Request) {
		s.orc.Handle(w, r, "claude")
	})
}

// Run starts the background goroutines and the HTTP server, blocking until
// a shutdown signal arrives or the server errors out.
func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan struct{})
	go s.transportMgr.RunCleanup(stop, 5*time.Minute)
	go s.state.RunReaper(ctx, s.env.SessionOverrideTTL, s.env.CwdCacheTTL, s.env.CwdCacheMaxEntries)
	go s.store.Watch(ctx)
	go s.filter.Watch(ctx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("proxy starting", "addr", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		close(stop)
		return err
	case sig := <-sigCh:
		slog.Info("shutdown signal received", "signal", sig)
		close(stop)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return s.logSink.Close()
	}
}

// requestLogger logs every inbound request at debug level, grounded on the
// teacher's server.go requestLogger middleware.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}
