// Package server exposes the session service over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"jamsession/looper/internal/dispatch"
	"jamsession/looper/internal/graph"
	"jamsession/looper/internal/history"
	"jamsession/looper/internal/service"
	"jamsession/looper/internal/session"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 10 * time.Second

	// Speak texts for transport-level failures.
	msgBadRequest = "I couldn't read that request."
	msgNotFound   = "I can't find that point in the session history."
	msgInternal   = "Something went wrong on my side. Please try again."
)

// Backend is the service surface the HTTP handlers call.
type Backend interface {
	Root() string
	Command(ctx context.Context, req service.Request) (dispatch.Response, error)
	Snapshot(ctx context.Context, id string) (*session.Snapshot, error)
	Lineage(ctx context.Context, id string) ([]string, error)
	Subtree(ctx context.Context, id string) ([]string, error)
	Check(ctx context.Context, topN int) (*graph.FsckReport, error)
}

// Server routes HTTP requests to a Backend.
type Server struct {
	backend Backend
	logger  *slog.Logger
	router  chi.Router
}

// New builds the router.
func New(backend Backend, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{backend: backend, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "root": backend.Root()})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/command", s.handleCommand)
	r.Get("/tree", s.handleTree)
	r.Route("/history/{id}", func(r chi.Router) {
		r.Get("/", s.handleSnapshot)
		r.Get("/lineage", s.handleLineage)
		r.Get("/subtree", s.handleSubtree)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is canceled, then drains in-flight
// requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	err := g.Wait()
	s.logger.Info("server stopped")
	return err
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req service.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, msgBadRequest, err)
		return
	}
	resp, err := s.backend.Command(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.backend.Snapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleLineage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ids, err := s.backend.Lineage(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history_node_id": id, "lineage": ids})
}

func (s *Server) handleSubtree(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ids, err := s.backend.Subtree(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history_node_id": id, "subtree": ids})
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	report, err := s.backend.Check(r.Context(), 20)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, history.ErrNotFound) {
		s.writeError(w, r, http.StatusNotFound, msgNotFound, err)
		return
	}
	s.writeError(w, r, http.StatusInternalServerError, msgInternal, err)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, code int, speak string, err error) {
	level := slog.LevelWarn
	if code >= 500 {
		level = slog.LevelError
	}
	s.logger.Log(r.Context(), level, "request failed",
		"path", r.URL.Path, "status", code, "request_id", middleware.GetReqID(r.Context()), "error", err)
	writeJSON(w, code, map[string]string{"speak": speak, "error": err.Error()})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, `{"speak":%q}`, msgInternal)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(append(body, '\n'))
}
