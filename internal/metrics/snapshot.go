package metrics

// RepoSnapshot holds every metric for one repository over one window.
type RepoSnapshot struct {
	Repository     string              `json:"repository"`
	Throughput     float64             `json:"pr_throughput"`
	MRTime         Avg                 `json:"mr_time"`
	Lifecycle      Avg                 `json:"first_commit_to_merge"`
	AvgPRSize      Avg                 `json:"avg_pr_size"`
	TotalPRs       int                 `json:"total_prs"`
	MergedPRs      int                 `json:"merged_prs"`
	Weekly         []WeekBucket        `json:"weekly_counts"`
	WeeklyCreated  int                 `json:"weekly_total_created"`
	WeeklyMerged   int                 `json:"weekly_total_merged"`
	Leaderboard    []Contributor       `json:"leaderboard"`
	SlowestReviews []SlowReview        `json:"top_mr_times"`
	Span           DataSpan            `json:"date_range"`
	Records        []PullRequestRecord `json:"pr_data"`
	Skipped        int                 `json:"skipped_records,omitempty"`
}

// ComputeRepo sanitizes records, keeps those created inside window and
// derives the snapshot. It has no side effects.
func ComputeRepo(repo string, records []PullRequestRecord, window DateRange, slowestN int) RepoSnapshot {
	clean, skipped := Sanitize(records)
	scoped := InRange(clean, window)

	merged := 0
	for _, r := range scoped {
		if r.Merged() {
			merged++
		}
	}
	weekly := Weekly(scoped, window)
	created, weeklyMerged := WeeklyTotals(weekly)

	return RepoSnapshot{
		Repository:     repo,
		Throughput:     Throughput(scoped, window),
		MRTime:         MRTime(scoped),
		Lifecycle:      Lifecycle(scoped),
		AvgPRSize:      AvgPRSize(scoped),
		TotalPRs:       len(scoped),
		MergedPRs:      merged,
		Weekly:         weekly,
		WeeklyCreated:  created,
		WeeklyMerged:   weeklyMerged,
		Leaderboard:    Leaderboard(scoped),
		SlowestReviews: SlowestReviews(scoped, slowestN),
		Span:           Span(scoped),
		Records:        scoped,
		Skipped:        skipped,
	}
}
