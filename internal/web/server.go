// Package web serves the HTTP surface of viewbot: Slack interactivity
// callbacks, a health probe and a read-only delivery history API.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"viewbot/internal/delivery"
	"viewbot/internal/scheduler"
	logx "viewbot/pkg/logx"
)

const (
	defaultAddr     = ":8080"
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 5 * time.Second
	maxHistoryLimit = 500
)

// History reads recent delivery records, newest first.
type History interface {
	RecentDeliveries(ctx context.Context, view string, limit int) ([]delivery.Record, error)
}

type Config struct {
	Addr string
	// Interactions handles POST /slack/interactions. Nil leaves the route
	// unregistered.
	Interactions http.Handler
	// History backs GET /api/history. Nil answers 404.
	History History
	// Schedules backs GET /api/schedules. Nil answers 404.
	Schedules func() scheduler.Snapshot
}

type Server struct {
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = defaultAddr
	}
	return &Server{cfg: cfg, log: log.With(logx.String("comp", "web"))}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		s.requestLog,
		middleware.Recoverer,
		middleware.Timeout(requestTimeout),
	)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	if s.cfg.Interactions != nil {
		r.Method(http.MethodPost, "/slack/interactions", s.cfg.Interactions)
	}
	r.Route("/api", func(r chi.Router) {
		r.Get("/history", s.handleHistory)
		r.Get("/history/{view}", s.handleHistory)
		r.Get("/schedules", s.handleSchedules)
	})
	return r
}

// Serve listens until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("web listen %s: %w", s.cfg.Addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	eg, egctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return egctx },
	}

	s.log.Info("web server listening", logx.String("addr", ln.Addr().String()))
	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("web server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		s.log.Debug("web server shutting down")
		return srv.Shutdown(sctx)
	})
	return eg.Wait()
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.cfg.History == nil {
		writeError(w, http.StatusNotFound, "history storage is not configured")
		return
	}
	view := chi.URLParam(r, "view")
	if view == "" {
		view = r.URL.Query().Get("view")
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	recs, err := s.cfg.History.RecentDeliveries(r.Context(), view, limit)
	if err != nil {
		s.log.Warn("history query failed", logx.String("view", view), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	if recs == nil {
		recs = []delivery.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleSchedules(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Schedules == nil {
		writeError(w, http.StatusNotFound, "scheduler is not running")
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Schedules())
}

// requestLog logs each request at debug level with chi's request id.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("req_id", middleware.GetReqID(r.Context())),
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
