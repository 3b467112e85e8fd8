package metrics

import (
	"sort"
	"time"
)

// ── Scalar metrics ───────────────────────────────────────────────────────────

// Throughput is merged PRs per day, counting merges inside r. A range of zero
// days yields 0.
func Throughput(records []PullRequestRecord, r DateRange) float64 {
	days := r.Days()
	if days <= 0 {
		return 0
	}
	merged := 0
	for _, rec := range records {
		if rec.MergedAt != nil && r.Contains(*rec.MergedAt) {
			merged++
		}
	}
	return float64(merged) / days
}

// MRTime is the mean hours from creation to first review. Unreviewed PRs are
// left out of the mean.
func MRTime(records []PullRequestRecord) Avg {
	var hours []float64
	for _, rec := range records {
		if d, ok := rec.MRTime(); ok {
			hours = append(hours, d.Hours())
		}
	}
	return Mean(hours)
}

// Lifecycle is the mean hours from first commit to merge over merged PRs.
func Lifecycle(records []PullRequestRecord) Avg {
	var hours []float64
	for _, rec := range records {
		if d, ok := rec.Lifecycle(); ok {
			hours = append(hours, d.Hours())
		}
	}
	return Mean(hours)
}

func AvgPRSize(records []PullRequestRecord) Avg {
	sizes := make([]float64, 0, len(records))
	for _, rec := range records {
		sizes = append(sizes, float64(rec.Size()))
	}
	return Mean(sizes)
}

// ── Weekly buckets ───────────────────────────────────────────────────────────

type WeekBucket struct {
	WeekStart time.Time `json:"week_start"`
	Label     string    `json:"week_label"`
	Created   int       `json:"total_prs"`
	Merged    int       `json:"merged_prs"`
}

// WeekStart is 00:00 UTC on the Monday of t's week.
func WeekStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	offset := (int(midnight.Weekday()) + 6) % 7
	return midnight.AddDate(0, 0, -offset)
}

// Weekly emits one bucket per Monday-aligned week intersecting r, in order and
// zero-filled. A PR counts in the week it was created; Merged counts those
// PRs that have since merged.
func Weekly(records []PullRequestRecord, r DateRange) []WeekBucket {
	if r.End.Before(r.Start) {
		return nil
	}
	var buckets []WeekBucket
	index := make(map[time.Time]int)
	last := WeekStart(r.End)
	for w := WeekStart(r.Start); !w.After(last); w = w.AddDate(0, 0, 7) {
		index[w] = len(buckets)
		buckets = append(buckets, WeekBucket{WeekStart: w, Label: w.Format("Jan 02")})
	}

	for _, rec := range records {
		if !r.Contains(rec.CreatedAt) {
			continue
		}
		i := index[WeekStart(rec.CreatedAt)]
		buckets[i].Created++
		if rec.Merged() {
			buckets[i].Merged++
		}
	}
	return buckets
}

// WeeklyTotals sums created and merged counts across buckets.
func WeeklyTotals(buckets []WeekBucket) (created, merged int) {
	for _, b := range buckets {
		created += b.Created
		merged += b.Merged
	}
	return created, merged
}

// ── Slowest reviews ──────────────────────────────────────────────────────────

type SlowReview struct {
	Repository    string    `json:"repository"`
	Number        int       `json:"pr_number"`
	Title         string    `json:"pr_title"`
	URL           string    `json:"pr_url"`
	Author        string    `json:"author"`
	CreatedAt     time.Time `json:"created_at"`
	FirstReviewAt time.Time `json:"first_review_at"`
	MRTimeHours   float64   `json:"mr_time_hours"`
}

// SlowestReviews returns the n reviewed PRs with the longest MR time.
func SlowestReviews(records []PullRequestRecord, n int) []SlowReview {
	out := []SlowReview{}
	for _, rec := range records {
		d, ok := rec.MRTime()
		if !ok {
			continue
		}
		out = append(out, SlowReview{
			Repository:    rec.Repository,
			Number:        rec.Number,
			Title:         rec.Title,
			URL:           rec.URL,
			Author:        rec.Author,
			CreatedAt:     rec.CreatedAt,
			FirstReviewAt: *rec.FirstReviewAt,
			MRTimeHours:   d.Hours(),
		})
	}
	return TopSlowest(out, n)
}

// TopSlowest orders by MR time desc, then repository and number asc, and
// keeps the first n.
func TopSlowest(reviews []SlowReview, n int) []SlowReview {
	sort.SliceStable(reviews, func(i, j int) bool {
		a, b := reviews[i], reviews[j]
		if a.MRTimeHours != b.MRTimeHours {
			return a.MRTimeHours > b.MRTimeHours
		}
		if a.Repository != b.Repository {
			return a.Repository < b.Repository
		}
		return a.Number < b.Number
	})
	if n >= 0 && len(reviews) > n {
		reviews = reviews[:n]
	}
	return reviews
}

// ── Data span ────────────────────────────────────────────────────────────────

// DataSpan describes the creation dates actually present in the data, plus
// the filter the caller applied.
type DataSpan struct {
	Start     *time.Time `json:"start_date"`
	End       *time.Time `json:"end_date"`
	Formatted string     `json:"formatted_range"`
	HasData   bool       `json:"has_data"`
	TotalDays int        `json:"total_days,omitempty"`

	AppliedStart      string `json:"applied_start_date,omitempty"`
	AppliedEnd        string `json:"applied_end_date,omitempty"`
	FilterDescription string `json:"filter_description,omitempty"`
}

func Span(records []PullRequestRecord) DataSpan {
	times := make([]time.Time, 0, len(records))
	for _, r := range records {
		times = append(times, r.CreatedAt)
	}
	return SpanOf(times)
}

func SpanOf(times []time.Time) DataSpan {
	if len(times) == 0 {
		return DataSpan{Formatted: "No data available for the selected period"}
	}
	start, end := times[0].UTC(), times[0].UTC()
	for _, t := range times[1:] {
		t = t.UTC()
		if t.Before(start) {
			start = t
		}
		if t.After(end) {
			end = t
		}
	}

	const layout = "Jan 02, 2006"
	formatted := start.Format(layout)
	if start.Format(DateLayout) != end.Format(DateLayout) {
		formatted += " – " + end.Format(layout)
	}
	return DataSpan{
		Start:     &start,
		End:       &end,
		Formatted: formatted,
		HasData:   true,
		TotalDays: int(end.Sub(start).Hours()/24) + 1,
	}
}

// WithFilter annotates the span with the applied range. A nil range means
// no filter.
func (s DataSpan) WithFilter(r *DateRange) DataSpan {
	if r == nil {
		return s
	}
	s.AppliedStart = r.StartDate()
	s.AppliedEnd = r.EndDate()
	s.FilterDescription = FilterDescription(&r.Start, &r.End)
	return s
}
