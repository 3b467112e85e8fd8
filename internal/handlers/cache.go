package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"prpulse/internal/cache"
	"prpulse/internal/github"
)

type clearResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Details string   `json:"details,omitempty"`
	Removed int      `json:"removed"`
	Keys    []string `json:"keys,omitempty"`
}

func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	n := h.engine.ClearCache()
	h.tracker.CacheCleared(clientID(r), "all", n)
	h.writeJSON(w, http.StatusOK, clearResponse{
		Success: true,
		Message: "All cache cleared successfully",
		Removed: n,
	})
}

func (h *Handler) ClearTeamCache(w http.ResponseWriter, r *http.Request) {
	team := chi.URLParam(r, "team")
	keys, err := h.engine.ClearTeamCache(team)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.tracker.CacheCleared(clientID(r), team, len(keys))
	h.writeJSON(w, http.StatusOK, clearResponse{
		Success: true,
		Message: fmt.Sprintf("Cache cleared for team %q", team),
		Details: fmt.Sprintf("Cleared %d cache entries", len(keys)),
		Removed: len(keys),
		Keys:    keys,
	})
}

// RefreshAllTeams clears every team's entries, then whatever is left.
func (h *Handler) RefreshAllTeams(w http.ResponseWriter, r *http.Request) {
	names := h.engine.TeamNames()
	total := 0
	for _, team := range names {
		keys, err := h.engine.ClearTeamCache(team)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		total += len(keys)
	}
	total += h.engine.ClearCache()
	h.tracker.CacheCleared(clientID(r), "refresh", total)
	h.writeJSON(w, http.StatusOK, clearResponse{
		Success: true,
		Message: fmt.Sprintf("Cache cleared for all %d teams", len(names)),
		Details: fmt.Sprintf("Cleared %d cache entries", total),
		Removed: total,
	})
}

type statsResponse struct {
	Success    bool        `json:"success"`
	CacheStats cache.Stats `json:"cache_stats"`
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, statsResponse{Success: true, CacheStats: h.engine.CacheStats()})
}

type rateLimitResponse struct {
	Success   bool                  `json:"success"`
	RateLimit github.RateLimitState `json:"rate_limit"`
}

func (h *Handler) RateLimit(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.RateLimit(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rateLimitResponse{Success: true, RateLimit: st})
}
