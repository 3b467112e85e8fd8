package aggregate

import (
	"fmt"
	"sort"
	"time"

	"prpulse/internal/metrics"
)

const (
	topGlobal       = 5
	topPerMonth     = 3
	chartMaxSeries  = 10
	monthKeyLayout  = "2006-01"
	monthLabelShort = "Jan 2006"
)

// GlobalSnapshot ranks contributors across every team.
type GlobalSnapshot struct {
	Teams             []Summary             `json:"teams"`
	Contributors      []metrics.Contributor `json:"global_users"`
	TopContributors   []metrics.Contributor `json:"top_5_global"`
	Monthly           []MonthStats          `json:"monthly_stats"`
	MonthlyChart      MonthlyChart          `json:"monthly_chart_data"`
	TotalContributors int                   `json:"total_contributors"`
	TotalMonths       int                   `json:"total_months"`
	Failures          []TeamFailure         `json:"failures"`
	GeneratedAt       time.Time             `json:"last_updated"`
}

type TeamFailure struct {
	Team string `json:"team"`
	RepoFailure
}

// MonthUser is one contributor's merged work in one month.
type MonthUser struct {
	Username     string  `json:"username"`
	TotalPRs     int     `json:"total_prs"`
	LinesChanged int     `json:"total_lines_changed"`
	AvgPRSize    float64 `json:"avg_pr_size"`
}

type MonthStats struct {
	Key      string      `json:"month_key"`
	Label    string      `json:"month_label"`
	Users    []MonthUser `json:"users"`
	TotalPRs int         `json:"total_prs_month"`
	Top      []MonthUser `json:"top_3_users"`
}

// MonthlyChart is one series per top contributor, aligned with Labels.
type MonthlyChart struct {
	Labels   []string       `json:"labels"`
	Datasets []ChartDataset `json:"datasets"`
}

type ChartDataset struct {
	Label string `json:"label"`
	Data  []int  `json:"data"`
}

// Global merges team snapshots. A PR in a repository owned by several teams
// is counted once; the contributor is credited to each of those teams.
func Global(teams []TeamSnapshot) GlobalSnapshot {
	out := GlobalSnapshot{
		Teams:    make([]Summary, 0, len(teams)),
		Failures: []TeamFailure{},
	}

	repoTeams := make(map[string]map[string]bool)
	for _, t := range teams {
		out.Teams = append(out.Teams, t.Summary)
		for _, f := range t.Failures {
			out.Failures = append(out.Failures, TeamFailure{Team: t.Team, RepoFailure: f})
		}
		for _, r := range t.Metrics {
			if repoTeams[r.Repository] == nil {
				repoTeams[r.Repository] = make(map[string]bool)
			}
			repoTeams[r.Repository][t.Team] = true
		}
	}

	byUser := make(map[string]*metrics.Contributor)
	userMonths := make(map[string]map[string]bool)
	months := make(map[string]map[string]*MonthUser)
	seen := make(map[string]bool)

	for _, t := range teams {
		for _, r := range t.Metrics {
			for _, rec := range r.Records {
				id := fmt.Sprintf("%s#%d", rec.Repository, rec.Number)
				if seen[id] || rec.Author == "" {
					continue
				}
				seen[id] = true

				c, ok := byUser[rec.Author]
				if !ok {
					c = &metrics.Contributor{Username: rec.Author}
					byUser[rec.Author] = c
					userMonths[rec.Author] = make(map[string]bool)
				}
				c.Merge(metrics.Contributor{
					TotalPRs:     1,
					LinesChanged: rec.Size(),
					Additions:    rec.Additions,
					Deletions:    rec.Deletions,
					Repositories: []string{rec.Repository},
					Teams:        setKeys(repoTeams[rec.Repository]),
				})

				key := rec.CreatedAt.UTC().Format(monthKeyLayout)
				userMonths[rec.Author][key] = true
				if !rec.Merged() {
					continue
				}
				if months[key] == nil {
					months[key] = make(map[string]*MonthUser)
				}
				mu, ok := months[key][rec.Author]
				if !ok {
					mu = &MonthUser{Username: rec.Author}
					months[key][rec.Author] = mu
				}
				mu.TotalPRs++
				mu.LinesChanged += rec.Size()
			}
		}
	}

	for user, c := range byUser {
		c.MonthsActive = len(userMonths[user])
		out.Contributors = append(out.Contributors, *c)
	}
	if out.Contributors == nil {
		out.Contributors = []metrics.Contributor{}
	}
	metrics.RankContributors(out.Contributors)
	out.TopContributors = out.Contributors[:min(topGlobal, len(out.Contributors))]
	out.Monthly = monthlyStats(months)
	out.MonthlyChart = monthlyChart(out.Monthly)
	out.TotalContributors = len(out.Contributors)
	out.TotalMonths = len(out.Monthly)
	return out
}

// monthlyStats lists months newest first, users ranked within each month.
func monthlyStats(months map[string]map[string]*MonthUser) []MonthStats {
	keys := make([]string, 0, len(months))
	for k := range months {
		keys = append(keys, k)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	out := make([]MonthStats, 0, len(keys))
	for _, k := range keys {
		first, _ := time.Parse(monthKeyLayout, k)
		ms := MonthStats{Key: k, Label: first.Format(monthLabelShort)}
		for _, u := range months[k] {
			u.AvgPRSize = float64(u.LinesChanged) / float64(u.TotalPRs)
			ms.Users = append(ms.Users, *u)
			ms.TotalPRs += u.TotalPRs
		}
		sort.Slice(ms.Users, func(i, j int) bool {
			a, b := ms.Users[i], ms.Users[j]
			if a.TotalPRs != b.TotalPRs {
				return a.TotalPRs > b.TotalPRs
			}
			if a.LinesChanged != b.LinesChanged {
				return a.LinesChanged > b.LinesChanged
			}
			return a.Username < b.Username
		})
		ms.Top = ms.Users[:min(topPerMonth, len(ms.Users))]
		out = append(out, ms)
	}
	return out
}

// monthlyChart builds one series per top contributor by merged PR count.
func monthlyChart(months []MonthStats) MonthlyChart {
	chart := MonthlyChart{Labels: []string{}, Datasets: []ChartDataset{}}
	totals := make(map[string]int)
	for _, m := range months {
		chart.Labels = append(chart.Labels, m.Label)
		for _, u := range m.Users {
			totals[u.Username] += u.TotalPRs
		}
	}

	users := make([]string, 0, len(totals))
	for u := range totals {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		if totals[users[i]] != totals[users[j]] {
			return totals[users[i]] > totals[users[j]]
		}
		return users[i] < users[j]
	})
	users = users[:min(chartMaxSeries, len(users))]

	for _, user := range users {
		ds := ChartDataset{Label: user, Data: make([]int, len(months))}
		for i, m := range months {
			for _, u := range m.Users {
				if u.Username == user {
					ds.Data[i] = u.TotalPRs
					break
				}
			}
		}
		chart.Datasets = append(chart.Datasets, ds)
	}
	return chart
}

func setKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
