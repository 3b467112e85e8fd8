package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"prpulse/internal/aggregate"
	"prpulse/internal/cache"
	"prpulse/internal/config"
	"prpulse/internal/github"
	"prpulse/internal/metrics"
)

// Engine is the query surface the API serves.
type Engine interface {
	TeamNames() []string
	TeamMetrics(ctx context.Context, team string, filter *metrics.DateRange) (*aggregate.TeamSnapshot, error)
	Compare(ctx context.Context, filter *metrics.DateRange) (*aggregate.GlobalSnapshot, error)
	CacheStats() cache.Stats
	ClearTeamCache(team string) ([]string, error)
	ClearCache() int
	RateLimit(ctx context.Context) (github.RateLimitState, error)
}

// Tracker records product analytics events.
type Tracker interface {
	TeamMetricsViewed(distinctID, team, strategy string, partial bool)
	CacheCleared(distinctID, scope string, removed int)
}

// Handler holds all dependencies.
type Handler struct {
	engine  Engine
	tracker Tracker
	log     *zap.Logger
}

func New(engine Engine, tracker Tracker, log *zap.Logger) *Handler {
	return &Handler{
		engine:  engine,
		tracker: tracker,
		log:     log.Named("http"),
	}
}

// Routes mounts the API. Global middleware is the caller's.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Get("/teams", h.Teams)
		r.Get("/github/metrics", h.Metrics)
		r.Get("/github/metrics/{team}", h.Metrics)
		r.Get("/team-comparison", h.TeamComparison)
		r.Get("/global-users", h.GlobalUsers)

		r.Post("/clear-cache", h.ClearCache)
		r.Post("/clear-cache/{team}", h.ClearTeamCache)
		r.Post("/refresh-all-teams", h.RefreshAllTeams)
		r.Get("/cache-stats", h.CacheStats)
		r.Get("/rate-limit", h.RateLimit)
	})
	return r
}

// AccessLog logs one line per request.
func (h *Handler) AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		}
		if status >= http.StatusInternalServerError {
			h.log.Error("request", fields...)
			return
		}
		h.log.Info("request", fields...)
	})
}

// ── Responses ─────────────────────────────────────────────────────────────────

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn("writing response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, code int, msg string) {
	h.writeJSON(w, code, errorResponse{Success: false, Error: msg})
}

// fail maps an engine error onto a status code.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, config.ErrUnknownTeam):
		code = http.StatusNotFound
	case errors.Is(err, metrics.ErrInvalidRange):
		code = http.StatusBadRequest
	case errors.Is(err, github.ErrRateLimitExceeded):
		code = http.StatusTooManyRequests
	case isRemote(err):
		code = http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusServiceUnavailable
	}
	if code >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	h.writeError(w, code, err.Error())
}

func isRemote(err error) bool {
	var (
		apiErr *github.APIError
		netErr *github.NetworkError
	)
	return errors.As(err, &apiErr) || errors.As(err, &netErr)
}

// clientID identifies the caller for analytics. RealIP runs first.
func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
