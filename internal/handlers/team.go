package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"prpulse/internal/aggregate"
	"prpulse/internal/metrics"
)

type teamsResponse struct {
	Success bool     `json:"success"`
	Teams   []string `json:"teams"`
}

func (h *Handler) Teams(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, teamsResponse{Success: true, Teams: h.engine.TeamNames()})
}

type metricsResponse struct {
	Success   bool    `json:"success"`
	TeamName  string  `json:"team_name"`
	StartDate *string `json:"start_date"`
	EndDate   *string `json:"end_date"`
	*aggregate.TeamSnapshot
}

// parseFilter reads start_date and end_date. Each must be YYYY-MM-DD when
// present; the range applies only when both are.
func parseFilter(r *http.Request) (*metrics.DateRange, error) {
	start := r.URL.Query().Get("start_date")
	end := r.URL.Query().Get("end_date")
	for name, v := range map[string]string{"start_date": start, "end_date": end} {
		if v == "" {
			continue
		}
		if _, err := time.Parse(metrics.DateLayout, v); err != nil {
			return nil, fmt.Errorf("%w: invalid %s format, use YYYY-MM-DD", metrics.ErrInvalidRange, name)
		}
	}
	if start == "" || end == "" {
		return nil, nil
	}
	dr, err := metrics.ParseDateRange(start, end)
	if err != nil {
		return nil, err
	}
	return &dr, nil
}

// Metrics serves /api/github/metrics and /api/github/metrics/{team}. With
// no team in the path the first configured team is used.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	team := chi.URLParam(r, "team")
	if team == "" {
		names := h.engine.TeamNames()
		if len(names) == 0 {
			h.writeError(w, http.StatusNotFound, "no teams found in configuration")
			return
		}
		team = names[0]
	}

	filter, err := parseFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	snap, err := h.engine.TeamMetrics(r.Context(), team, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.tracker.TeamMetricsViewed(clientID(r), team, snap.Strategy, snap.Partial() != nil)

	resp := metricsResponse{Success: true, TeamName: team, TeamSnapshot: snap}
	if filter != nil {
		s, e := filter.StartDate(), filter.EndDate()
		resp.StartDate, resp.EndDate = &s, &e
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type comparisonData struct {
	Teams       []aggregate.Summary     `json:"teams"`
	TotalTeams  int                     `json:"total_teams"`
	Failures    []aggregate.TeamFailure `json:"failures"`
	LastUpdated time.Time               `json:"last_updated"`
}

type comparisonResponse struct {
	Success bool           `json:"success"`
	Data    comparisonData `json:"data"`
}

func (h *Handler) TeamComparison(w http.ResponseWriter, r *http.Request) {
	global, ok := h.compare(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, comparisonResponse{
		Success: true,
		Data: comparisonData{
			Teams:       global.Teams,
			TotalTeams:  len(global.Teams),
			Failures:    global.Failures,
			LastUpdated: global.GeneratedAt,
		},
	})
}

type globalUsersResponse struct {
	Success bool                      `json:"success"`
	Data    *aggregate.GlobalSnapshot `json:"data"`
}

func (h *Handler) GlobalUsers(w http.ResponseWriter, r *http.Request) {
	global, ok := h.compare(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, globalUsersResponse{Success: true, Data: global})
}

func (h *Handler) compare(w http.ResponseWriter, r *http.Request) (*aggregate.GlobalSnapshot, bool) {
	filter, err := parseFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	global, err := h.engine.Compare(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	return global, true
}
