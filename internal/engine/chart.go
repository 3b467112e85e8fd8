package engine

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"prpulse/internal/aggregate"
	"prpulse/internal/metrics"
)

const chartLeaders = 10

// chartPayload is marshaled once per snapshot and embedded in the API
// response for the dashboard charts.
type chartPayload struct {
	Labels      []string         `json:"labels"`
	Throughput  []float64        `json:"pr_throughput"`
	MRTime      []metrics.Avg    `json:"mr_time"`
	Lifecycle   []metrics.Avg    `json:"first_commit_to_merge"`
	Weekly      weeklyPayload    `json:"weekly_counts"`
	Leaderboard leaderboardChart `json:"leaderboard"`
}

type weeklyPayload struct {
	Labels  []string `json:"labels"`
	Created []int    `json:"created"`
	Merged  []int    `json:"merged"`
}

type leaderboardChart struct {
	Labels       []string `json:"labels"`
	PRCounts     []int    `json:"pr_counts"`
	LinesChanged []int    `json:"lines_changed"`
}

func buildChart(snap *aggregate.TeamSnapshot) json.RawMessage {
	p := chartPayload{
		Labels:     []string{},
		Throughput: []float64{},
		MRTime:     []metrics.Avg{},
		Lifecycle:  []metrics.Avg{},
		Weekly:     weeklyPayload{Labels: []string{}, Created: []int{}, Merged: []int{}},
		Leaderboard: leaderboardChart{
			Labels: []string{}, PRCounts: []int{}, LinesChanged: []int{},
		},
	}

	weeks := make(map[time.Time]*metrics.WeekBucket)
	for _, r := range snap.Metrics {
		p.Labels = append(p.Labels, r.Repository)
		p.Throughput = append(p.Throughput, roundTo1(r.Throughput))
		p.MRTime = append(p.MRTime, r.MRTime)
		p.Lifecycle = append(p.Lifecycle, r.Lifecycle)
		for _, w := range r.Weekly {
			b, ok := weeks[w.WeekStart]
			if !ok {
				b = &metrics.WeekBucket{WeekStart: w.WeekStart, Label: w.Label}
				weeks[w.WeekStart] = b
			}
			b.Created += w.Created
			b.Merged += w.Merged
		}
	}

	starts := make([]time.Time, 0, len(weeks))
	for s := range weeks {
		starts = append(starts, s)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	for _, s := range starts {
		p.Weekly.Labels = append(p.Weekly.Labels, weeks[s].Label)
		p.Weekly.Created = append(p.Weekly.Created, weeks[s].Created)
		p.Weekly.Merged = append(p.Weekly.Merged, weeks[s].Merged)
	}

	for i, c := range snap.Leaderboard {
		if i == chartLeaders {
			break
		}
		p.Leaderboard.Labels = append(p.Leaderboard.Labels, c.Username)
		p.Leaderboard.PRCounts = append(p.Leaderboard.PRCounts, c.TotalPRs)
		p.Leaderboard.LinesChanged = append(p.Leaderboard.LinesChanged, c.LinesChanged)
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	return raw
}

func roundTo1(v float64) float64 { return math.Round(v*10) / 10 }
