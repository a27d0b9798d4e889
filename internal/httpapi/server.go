package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hamed0406/watchdog/internal/domain"
	"github.com/hamed0406/watchdog/internal/httpapi/middleware"
	"github.com/hamed0406/watchdog/internal/queue"
	"github.com/hamed0406/watchdog/internal/repo"
)

// Snapshotter exposes the queue counters and recent history.
type Snapshotter interface {
	Snapshot() queue.Snapshot
}

type Options struct {
	APIKeys  []string
	RPM      int
	Burst    int
	Registry http.Handler // metrics handler; promhttp.Handler() when nil
}

// Server is the read-only ops surface of the worker.
type Server struct {
	Logger  *zap.Logger
	Targets repo.TargetStore
	Results repo.ResultStore
	Queue   Snapshotter
	opts    Options
}

func NewServer(l *zap.Logger, ts repo.TargetStore, rs repo.ResultStore, q Snapshotter, opts Options) *Server {
	return &Server{Logger: l, Targets: ts, Results: rs, Queue: q, opts: opts}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.AllowAll().Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	metricsHandler := s.opts.Registry
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RateLimit(s.opts.RPM, s.opts.Burst))
		r.Use(middleware.RequireKey(s.opts.APIKeys))

		r.Get("/queue", s.handleQueue)
		r.Get("/targets", s.handleListTargets)
		r.Get("/targets/{id}/outcomes", s.handleOutcomes)
	})

	return r
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Queue.Snapshot())
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	ts, err := s.Targets.List(r.Context())
	if err != nil {
		s.Logger.Error("list_targets", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list error")
		return
	}
	if ts == nil {
		ts = []domain.Target{}
	}
	writeJSON(w, http.StatusOK, ts)
}

func (s *Server) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	id := domain.TargetID(chi.URLParam(r, "id"))

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be 1..1000")
			return
		}
		limit = n
	}

	t, err := s.Targets.Get(r.Context(), id)
	if err != nil {
		s.Logger.Error("get_target", zap.String("target_id", string(id)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup error")
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "target not found")
		return
	}

	rows, err := s.Results.ListOutcomes(r.Context(), id, limit)
	if err != nil {
		s.Logger.Error("list_outcomes", zap.String("target_id", string(id)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list error")
		return
	}
	if rows == nil {
		rows = []domain.Outcome{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
