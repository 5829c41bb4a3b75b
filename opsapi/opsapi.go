// Package opsapi exposes the scheduler's narrow lifecycle surface over
// HTTP: health, status, and a manual trigger. It carries no
// domain/business endpoints and no authentication — those are external
// collaborators this module never implements.
package opsapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v3"
	"github.com/go-chi/httprate"
	httprateredis "github.com/go-chi/httprate-redis"
	"github.com/redis/go-redis/v9"

	"github.com/brinkhollow/ingestor/config"
	"github.com/brinkhollow/ingestor/scheduler"
)

// SchedulerHandle is the narrow surface the ops API drives.
type SchedulerHandle interface {
	Status() scheduler.Status
	Initialize(ctx context.Context)
	Stop()
	Reinitialize(ctx context.Context)
}

// Server wires chi routes for /healthz, /status, and /trigger.
type Server struct {
	router    *chi.Mux
	scheduler SchedulerHandle
	addr      string
}

// NewServer builds the ops HTTP surface. cfg.Enabled callers should check
// before calling ListenAndServe; NewServer fails only when the rate
// limiter cannot be built from cfg.
func NewServer(cfg config.OpsAPIConfig, sched SchedulerHandle, logger *slog.Logger) (*Server, error) {
	r := chi.NewRouter()

	httpLogger := httplog.NewLogger("ingestord", httplog.Options{
		JSON:    true,
		Concise: true,
	})
	r.Use(httplog.RequestLogger(httpLogger))
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	limiter, err := buildRateLimiter(cfg)
	if err != nil {
		return nil, err
	}
	r.Use(limiter)

	s := &Server{router: r, scheduler: sched, addr: cfg.GetListenAddr()}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	r.Post("/trigger", s.handleTrigger)

	return s, nil
}

func buildRateLimiter(cfg config.OpsAPIConfig) (func(http.Handler) http.Handler, error) {
	limitHandler := func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
	}

	opts := []httprate.Option{
		httprate.WithLimitHandler(limitHandler),
		httprate.WithKeyByRealIP(),
	}

	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		client := redis.NewClient(redisOpts)
		opts = append(opts, httprateredis.WithRedisLimitCounter(&httprateredis.Config{
			Client:    client,
			PrefixKey: "ingestord:ratelimit",
		}))
	}

	rl := httprate.NewRateLimiter(cfg.GetRateLimitRequests(), cfg.GetRateLimitWindow(), opts...)
	return rl.Handler, nil
}

// ListenAndServe blocks serving the ops API until ctx-driven shutdown is
// handled by the caller (main wires http.Server.Shutdown on signal).
func (s *Server) ListenAndServe() error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	return srv.ListenAndServe()
}

// Handler exposes the underlying router for callers that manage their own
// http.Server (e.g. to wire graceful shutdown alongside other listeners).
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.Status())
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	status := s.scheduler.Status()
	if status.IsRunning {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "already running"})
		return
	}
	s.scheduler.Reinitialize(r.Context())
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
