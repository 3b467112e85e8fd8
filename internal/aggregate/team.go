package aggregate

import (
	"encoding/json"
	"time"

	"prpulse/internal/metrics"
)

// Summary is a team's headline numbers. Means are weighted by each
// repository's PR count.
type Summary struct {
	Team               string      `json:"team_name"`
	Throughput         metrics.Avg `json:"pr_throughput"`
	MRTime             metrics.Avg `json:"mr_time"`
	Lifecycle          metrics.Avg `json:"first_commit_to_merge"`
	AvgPRSize          metrics.Avg `json:"avg_pr_size"`
	TotalPRs           int         `json:"total_prs"`
	MergedPRs          int         `json:"total_merged_prs"`
	Repositories       []string    `json:"repositories"`
	RepositoriesCount  int         `json:"repositories_count"`
	FailedRepositories int         `json:"failed_repositories"`
}

// TeamSnapshot is everything the dashboard shows for one team.
type TeamSnapshot struct {
	Team           string                 `json:"team"`
	Strategy       string                 `json:"cache_strategy,omitempty"`
	Window         metrics.DateRange      `json:"window"`
	Filter         *metrics.DateRange     `json:"applied_filters,omitempty"`
	Summary        Summary                `json:"summary"`
	Metrics        []metrics.RepoSnapshot `json:"metrics"`
	Leaderboard    []metrics.Contributor  `json:"team_leaderboard"`
	SlowestReviews []metrics.SlowReview   `json:"top_mr_times"`
	Span           metrics.DataSpan       `json:"overall_date_range"`
	Failures       []RepoFailure          `json:"failures"`
	Warning        string                 `json:"warning,omitempty"`
	Chart          json.RawMessage        `json:"chart,omitempty"`
	GeneratedAt    time.Time              `json:"last_updated"`
}

// Partial returns a *PartialResultWarning when some repositories failed or
// came back incomplete.
func (s *TeamSnapshot) Partial() error {
	if len(s.Failures) == 0 {
		return nil
	}
	return &PartialResultWarning{Failures: s.Failures}
}

// Team combines per-repository snapshots, given in configuration order,
// into a team snapshot.
func Team(name string, repos []metrics.RepoSnapshot, failures []RepoFailure, slowestN int) TeamSnapshot {
	snap := TeamSnapshot{
		Team:           name,
		Metrics:        repos,
		Failures:       failures,
		Summary:        Summarize(name, repos, countFailed(failures)),
		Leaderboard:    mergeLeaderboards(repos),
		SlowestReviews: mergeSlowest(repos, slowestN),
		Span:           mergeSpans(repos),
	}
	if snap.Metrics == nil {
		snap.Metrics = []metrics.RepoSnapshot{}
	}
	if snap.Failures == nil {
		snap.Failures = []RepoFailure{}
	}
	if w := snap.Partial(); w != nil {
		snap.Warning = w.Error()
	}
	return snap
}

// countFailed skips degraded repositories, which still have data.
func countFailed(failures []RepoFailure) int {
	n := 0
	for _, f := range failures {
		if !f.Degraded() {
			n++
		}
	}
	return n
}

// Summarize computes the PR-count weighted means across repos that have
// data for each metric.
func Summarize(name string, repos []metrics.RepoSnapshot, failed int) Summary {
	s := Summary{Team: name, Repositories: []string{}, FailedRepositories: failed}
	var throughput, mr, lifecycle, size metrics.WeightedMean
	for _, r := range repos {
		s.Repositories = append(s.Repositories, r.Repository)
		s.TotalPRs += r.TotalPRs
		s.MergedPRs += r.MergedPRs

		throughput.Add(metrics.Avg{Value: r.Throughput, Valid: true}, r.TotalPRs)
		mr.Add(r.MRTime, r.TotalPRs)
		lifecycle.Add(r.Lifecycle, r.TotalPRs)
		size.Add(r.AvgPRSize, r.TotalPRs)
	}
	s.RepositoriesCount = len(s.Repositories)
	s.Throughput = throughput.Avg()
	s.MRTime = mr.Avg()
	s.Lifecycle = lifecycle.Avg()
	s.AvgPRSize = size.Avg()
	return s
}

func mergeLeaderboards(repos []metrics.RepoSnapshot) []metrics.Contributor {
	byUser := make(map[string]*metrics.Contributor)
	for _, r := range repos {
		for _, c := range r.Leaderboard {
			merged, ok := byUser[c.Username]
			if !ok {
				merged = &metrics.Contributor{Username: c.Username}
				byUser[c.Username] = merged
			}
			merged.Merge(c)
		}
	}
	out := make([]metrics.Contributor, 0, len(byUser))
	for _, c := range byUser {
		out = append(out, *c)
	}
	metrics.RankContributors(out)
	return out
}

// Each repository already holds its own top N, so the team top N is among
// their union.
func mergeSlowest(repos []metrics.RepoSnapshot, n int) []metrics.SlowReview {
	all := []metrics.SlowReview{}
	for _, r := range repos {
		all = append(all, r.SlowestReviews...)
	}
	return metrics.TopSlowest(all, n)
}

func mergeSpans(repos []metrics.RepoSnapshot) metrics.DataSpan {
	var times []time.Time
	for _, r := range repos {
		for _, rec := range r.Records {
			times = append(times, rec.CreatedAt)
		}
	}
	return metrics.SpanOf(times)
}
