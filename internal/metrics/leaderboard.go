package metrics

import (
	"sort"
)

// Contributor is one author's totals within a scope: a repository, a team,
// or every team.
type Contributor struct {
	Username          string   `json:"username"`
	TotalPRs          int      `json:"total_prs"`
	LinesChanged      int      `json:"total_lines_changed"`
	Additions         int      `json:"total_additions"`
	Deletions         int      `json:"total_deletions"`
	AvgPRSize         float64  `json:"avg_pr_size"`
	Repositories      []string `json:"repositories"`
	RepositoriesCount int      `json:"repositories_count"`
	Teams             []string `json:"teams,omitempty"`
	TeamsCount        int      `json:"teams_count,omitempty"`
	MonthsActive      int      `json:"months_active,omitempty"`
}

// Merge folds o into c. Repository and team sets are unioned and the
// average is recomputed from totals.
func (c *Contributor) Merge(o Contributor) {
	c.TotalPRs += o.TotalPRs
	c.LinesChanged += o.LinesChanged
	c.Additions += o.Additions
	c.Deletions += o.Deletions
	c.Repositories = union(c.Repositories, o.Repositories)
	c.Teams = union(c.Teams, o.Teams)
	c.finish()
}

func (c *Contributor) finish() {
	c.RepositoriesCount = len(c.Repositories)
	c.TeamsCount = len(c.Teams)
	if c.TotalPRs > 0 {
		c.AvgPRSize = roundTo1(float64(c.LinesChanged) / float64(c.TotalPRs))
	}
}

func union(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// Leaderboard groups records by author and ranks them. Records without an
// author are skipped.
func Leaderboard(records []PullRequestRecord) []Contributor {
	byUser := make(map[string]*Contributor)
	for _, r := range records {
		if r.Author == "" {
			continue
		}
		c, ok := byUser[r.Author]
		if !ok {
			c = &Contributor{Username: r.Author}
			byUser[r.Author] = c
		}
		c.Merge(Contributor{
			TotalPRs:     1,
			LinesChanged: r.Size(),
			Additions:    r.Additions,
			Deletions:    r.Deletions,
			Repositories: nonEmpty(r.Repository),
		})
	}

	out := make([]Contributor, 0, len(byUser))
	for _, c := range byUser {
		out = append(out, *c)
	}
	RankContributors(out)
	return out
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

// RankContributors orders by PR count desc, lines changed desc, then
// username asc.
func RankContributors(cs []Contributor) {
	sort.Slice(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.TotalPRs != b.TotalPRs {
			return a.TotalPRs > b.TotalPRs
		}
		if a.LinesChanged != b.LinesChanged {
			return a.LinesChanged > b.LinesChanged
		}
		return a.Username < b.Username
	})
}
