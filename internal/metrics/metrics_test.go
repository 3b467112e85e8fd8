package metrics

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func ptr(t time.Time) *time.Time { return &t }

func mustRange(t *testing.T, start, end string) DateRange {
	t.Helper()
	r, err := ParseDateRange(start, end)
	require.NoError(t, err)
	return r
}

func TestThroughput(t *testing.T) {
	r := mustRange(t, "2025-01-01", "2025-01-06")
	var records []PullRequestRecord
	for i := 0; i < 10; i++ {
		created := r.Start.Add(time.Duration(i) * 12 * time.Hour)
		records = append(records, PullRequestRecord{Number: i, CreatedAt: created, MergedAt: ptr(created.Add(time.Hour))})
	}
	assert.Equal(t, 5.0, r.Days())
	assert.Equal(t, 2.0, Throughput(records, r))

	zero := DateRange{Start: r.Start, End: r.Start}
	assert.Equal(t, 0.0, Throughput(records, zero))
}

func TestMRTime_ExcludesUnreviewed(t *testing.T) {
	created := at("2025-01-01T00:00:00Z")
	records := []PullRequestRecord{
		{CreatedAt: created, FirstReviewAt: ptr(created.Add(4 * time.Hour))},
		{CreatedAt: created, FirstReviewAt: ptr(created.Add(8 * time.Hour))},
		{CreatedAt: created},
	}
	got := MRTime(records)
	assert.True(t, got.Valid)
	assert.Equal(t, 6.0, got.Value)

	assert.False(t, MRTime(records[2:]).Valid)
}

func TestLifecycle_SkipsNegativeAndUnmerged(t *testing.T) {
	created := at("2025-01-01T00:00:00Z")
	records := []PullRequestRecord{
		{CreatedAt: created, FirstCommitAt: ptr(created.Add(-2 * time.Hour)), MergedAt: ptr(created.Add(10 * time.Hour))},
		{CreatedAt: created, FirstCommitAt: ptr(created.Add(20 * time.Hour)), MergedAt: ptr(created.Add(10 * time.Hour))},
		{CreatedAt: created, FirstCommitAt: ptr(created)},
	}
	got := Lifecycle(records)
	assert.True(t, got.Valid)
	assert.Equal(t, 12.0, got.Value)
}

func TestAvg_JSON(t *testing.T) {
	b, err := json.Marshal(struct {
		A Avg `json:"a"`
		B Avg `json:"b"`
	}{A: Avg{Value: 2.346, Valid: true}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 2.35, "b": null}`, string(b))
}

func TestSanitize(t *testing.T) {
	created := at("2025-01-02T00:00:00Z")
	records := []PullRequestRecord{
		{Number: 1, CreatedAt: created},
		{Number: 2, CreatedAt: created, MergedAt: ptr(created.Add(-time.Hour))},
		{Number: 3, CreatedAt: created, FirstReviewAt: ptr(created.Add(-time.Minute))},
	}
	kept, skipped := Sanitize(records)
	assert.Equal(t, 2, skipped)
	require.Len(t, kept, 1)
	assert.Equal(t, 1, kept[0].Number)
}

func TestWeekly_ZeroFilledAndMondayAligned(t *testing.T) {
	r := mustRange(t, "2025-01-01", "2025-01-20")
	records := []PullRequestRecord{
		{CreatedAt: at("2025-01-01T10:00:00Z"), MergedAt: ptr(at("2025-01-02T00:00:00Z"))},
		{CreatedAt: at("2025-01-05T23:00:00Z")},
		{CreatedAt: at("2025-01-15T00:00:00Z"), MergedAt: ptr(at("2025-01-16T00:00:00Z"))},
	}
	weeks := Weekly(records, r)
	require.Len(t, weeks, 4)

	assert.Equal(t, "Dec 30", weeks[0].Label)
	assert.Equal(t, 2, weeks[0].Created)
	assert.Equal(t, 1, weeks[0].Merged)
	assert.Equal(t, "Jan 06", weeks[1].Label)
	assert.Equal(t, 0, weeks[1].Created)
	assert.Equal(t, "Jan 13", weeks[2].Label)
	assert.Equal(t, 1, weeks[2].Merged)
	assert.Equal(t, "Jan 20", weeks[3].Label)

	created, merged := WeeklyTotals(weeks)
	assert.Equal(t, 3, created)
	assert.Equal(t, 2, merged)
}

func TestLeaderboard_TieBreaks(t *testing.T) {
	created := at("2025-01-01T00:00:00Z")
	records := []PullRequestRecord{
		{Repository: "api", Author: "zoe", CreatedAt: created, Additions: 10},
		{Repository: "api", Author: "zoe", CreatedAt: created, Additions: 10},
		{Repository: "web", Author: "adam", CreatedAt: created, Additions: 5, Deletions: 5},
		{Repository: "api", Author: "adam", CreatedAt: created, Additions: 10},
		{Repository: "api", Author: "bob", CreatedAt: created, Additions: 50},
		{Repository: "api", Author: "bob", CreatedAt: created, Deletions: 50},
		{Repository: "api", Author: "", CreatedAt: created},
	}
	board := Leaderboard(records)
	require.Len(t, board, 3)

	assert.Equal(t, []string{"bob", "adam", "zoe"}, []string{board[0].Username, board[1].Username, board[2].Username})
	assert.Equal(t, 100, board[0].LinesChanged)
	assert.Equal(t, 50.0, board[0].AvgPRSize)
	assert.Equal(t, []string{"api", "web"}, board[1].Repositories)
	assert.Equal(t, 2, board[1].RepositoriesCount)
}

func TestRankContributors_UsernameTie(t *testing.T) {
	cs := []Contributor{
		{Username: "carol", TotalPRs: 2, LinesChanged: 10},
		{Username: "alice", TotalPRs: 2, LinesChanged: 10},
		{Username: "bob", TotalPRs: 3},
	}
	RankContributors(cs)
	assert.Equal(t, "bob", cs[0].Username)
	assert.Equal(t, "alice", cs[1].Username)
	assert.Equal(t, "carol", cs[2].Username)
}

func TestSlowestReviews(t *testing.T) {
	created := at("2025-01-01T00:00:00Z")
	records := []PullRequestRecord{
		{Repository: "web", Number: 1, CreatedAt: created, FirstReviewAt: ptr(created.Add(5 * time.Hour))},
		{Repository: "api", Number: 9, CreatedAt: created, FirstReviewAt: ptr(created.Add(5 * time.Hour))},
		{Repository: "api", Number: 2, CreatedAt: created, FirstReviewAt: ptr(created.Add(5 * time.Hour))},
		{Repository: "api", Number: 3, CreatedAt: created, FirstReviewAt: ptr(created.Add(9 * time.Hour))},
		{Repository: "api", Number: 4, CreatedAt: created},
	}
	got := SlowestReviews(records, 3)
	require.Len(t, got, 3)
	assert.Equal(t, 3, got[0].Number)
	assert.Equal(t, 9.0, got[0].MRTimeHours)
	assert.Equal(t, "api", got[1].Repository)
	assert.Equal(t, 2, got[1].Number)
	assert.Equal(t, 9, got[2].Number)
}

func TestSpanAndFilterDescription(t *testing.T) {
	span := SpanOf([]time.Time{at("2025-01-03T10:00:00Z"), at("2025-01-01T00:00:00Z")})
	assert.True(t, span.HasData)
	assert.Equal(t, "Jan 01, 2025 – Jan 03, 2025", span.Formatted)
	assert.Equal(t, 3, span.TotalDays)

	single := SpanOf([]time.Time{at("2025-01-03T10:00:00Z"), at("2025-01-03T12:00:00Z")})
	assert.Equal(t, "Jan 03, 2025", single.Formatted)
	assert.False(t, SpanOf(nil).HasData)

	jan := MonthRange(2025, time.January)
	assert.Equal(t, "January 2025 (2025-01-01 → 2025-01-31)", FilterDescription(&jan.Start, &jan.End))
	cross := mustRange(t, "2025-01-20", "2025-02-03")
	assert.Equal(t, "Jan 20, 2025 → Feb 03, 2025", FilterDescription(&cross.Start, &cross.End))
	assert.Equal(t, "From Jan 20, 2025", FilterDescription(&cross.Start, nil))
	assert.Equal(t, "Until Feb 03, 2025", FilterDescription(nil, &cross.End))
	assert.Equal(t, "All available data", FilterDescription(nil, nil))

	withFilter := span.WithFilter(&jan)
	assert.Equal(t, "2025-01-01", withFilter.AppliedStart)
	assert.Equal(t, "2025-01-31", withFilter.AppliedEnd)
}

func TestDateRange(t *testing.T) {
	_, err := ParseDateRange("2025/01/01", "2025-01-02")
	assert.ErrorIs(t, err, ErrInvalidRange)
	_, err = ParseDateRange("2025-01-05", "2025-01-01")
	assert.ErrorIs(t, err, ErrInvalidRange)

	r := mustRange(t, "2025-02-01", "2025-02-28")
	y, m, ok := r.FullMonth()
	assert.True(t, ok)
	assert.Equal(t, 2025, y)
	assert.Equal(t, time.February, m)

	_, _, ok = mustRange(t, "2025-02-03", "2025-02-10").FullMonth()
	assert.False(t, ok)
	_, _, ok = mustRange(t, "2025-02-03", "2025-02-10").SameMonth()
	assert.True(t, ok)

	now := at("2025-03-31T12:00:00Z")
	last := LastDays(now, 30)
	assert.Equal(t, 30.0, last.Days())
	assert.Equal(t, "2025-03-01", last.StartDate())
}

func TestComputeRepo_Backend(t *testing.T) {
	r := mustRange(t, "2025-01-01", "2025-01-05")
	c1 := at("2025-01-01T00:00:00Z")
	c2 := at("2025-01-03T00:00:00Z")
	records := []PullRequestRecord{
		{Repository: "api", Number: 1, Author: "alice", CreatedAt: c1, MergedAt: ptr(at("2025-01-02T00:00:00Z")), FirstReviewAt: ptr(c1.Add(4 * time.Hour)), Additions: 30},
		{Repository: "api", Number: 2, Author: "bob", CreatedAt: c2, MergedAt: ptr(at("2025-01-04T00:00:00Z")), FirstReviewAt: ptr(c2.Add(2 * time.Hour)), Deletions: 10},
		{Repository: "api", Number: 3, Author: "bob", CreatedAt: at("2024-12-20T00:00:00Z")},
	}

	snap := ComputeRepo("api", records, r, 5)
	assert.Equal(t, 0.5, snap.Throughput)
	assert.Equal(t, 3.0, snap.MRTime.Value)
	assert.False(t, snap.Lifecycle.Valid)
	assert.Equal(t, 2, snap.TotalPRs)
	assert.Equal(t, 2, snap.MergedPRs)
	require.Len(t, snap.Weekly, 1)
	assert.Equal(t, 2, snap.Weekly[0].Created)
	assert.Equal(t, 2, snap.WeeklyMerged)
	assert.Equal(t, 20.0, snap.AvgPRSize.Value)
	require.Len(t, snap.SlowestReviews, 2)
	assert.Equal(t, 1, snap.SlowestReviews[0].Number)
	assert.Equal(t, "Jan 01, 2025 – Jan 03, 2025", snap.Span.Formatted)
}

func TestDateRange_CoversLastDay(t *testing.T) {
	jan := MonthRange(2025, time.January)
	assert.True(t, jan.Contains(at("2025-01-31T23:59:59Z")))
	assert.False(t, jan.Contains(at("2025-02-01T00:00:00Z")))
	assert.Equal(t, 30.0, jan.Days())

	r := mustRange(t, "2025-01-01", "2025-01-05")
	assert.True(t, r.Contains(at("2025-01-05T18:00:00Z")))
	assert.Equal(t, 4.0, r.Days())

	instant := DateRange{Start: r.Start, End: at("2025-01-05T12:00:00Z")}
	assert.True(t, instant.Contains(instant.End))
	assert.False(t, instant.Contains(instant.End.Add(time.Second)))

	records := []PullRequestRecord{{
		Repository: "r", Number: 1, Author: "alice",
		CreatedAt: at("2025-01-31T10:00:00Z"), MergedAt: ptr(at("2025-01-31T12:00:00Z")),
	}}
	snap := ComputeRepo("r", records, jan, 5)
	assert.Equal(t, 1, snap.TotalPRs)
	assert.Equal(t, 1, snap.MergedPRs)
	assert.Greater(t, snap.Throughput, 0.0)
	created, merged := WeeklyTotals(snap.Weekly)
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, merged)
}
