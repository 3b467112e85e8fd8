package metrics

import (
	"sort"
	"time"
)

// PullRequestRecord is one PR normalized from the remote API, carrying the
// timestamps every metric is derived from.
type PullRequestRecord struct {
	Repository    string     `json:"repository"`
	Number        int        `json:"pr_number"`
	Title         string     `json:"pr_title"`
	URL           string     `json:"pr_url"`
	Author        string     `json:"author"`
	State         string     `json:"state"`
	CreatedAt     time.Time  `json:"created_at"`
	FirstCommitAt *time.Time `json:"first_commit_at"`
	FirstReviewAt *time.Time `json:"first_review_at"`
	MergedAt      *time.Time `json:"merged_at"`
	Additions     int        `json:"additions"`
	Deletions     int        `json:"deletions"`
}

func (r PullRequestRecord) Merged() bool { return r.MergedAt != nil }

// Size is additions plus deletions.
func (r PullRequestRecord) Size() int { return r.Additions + r.Deletions }

// MRTime is the time from creation to first review.
func (r PullRequestRecord) MRTime() (time.Duration, bool) {
	if r.FirstReviewAt == nil {
		return 0, false
	}
	return r.FirstReviewAt.Sub(r.CreatedAt), true
}

// Lifecycle is the time from first commit to merge. Commits authored after
// the merge (rebased history) give a negative span and are ignored.
func (r PullRequestRecord) Lifecycle() (time.Duration, bool) {
	if r.MergedAt == nil || r.FirstCommitAt == nil {
		return 0, false
	}
	d := r.MergedAt.Sub(*r.FirstCommitAt)
	if d < 0 {
		return 0, false
	}
	return d, true
}

// Sanitize drops records whose merge or first review precedes creation.
// It returns the kept records and how many were dropped.
func Sanitize(records []PullRequestRecord) ([]PullRequestRecord, int) {
	kept := make([]PullRequestRecord, 0, len(records))
	for _, r := range records {
		if r.MergedAt != nil && r.MergedAt.Before(r.CreatedAt) {
			continue
		}
		if r.FirstReviewAt != nil && r.FirstReviewAt.Before(r.CreatedAt) {
			continue
		}
		kept = append(kept, r)
	}
	return kept, len(records) - len(kept)
}

// InRange returns records created inside r, ordered by creation time then
// repository and number.
func InRange(records []PullRequestRecord, r DateRange) []PullRequestRecord {
	out := make([]PullRequestRecord, 0, len(records))
	for _, rec := range records {
		if r.Contains(rec.CreatedAt) {
			out = append(out, rec)
		}
	}
	SortRecords(out)
	return out
}

func SortRecords(records []PullRequestRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.Repository != b.Repository {
			return a.Repository < b.Repository
		}
		return a.Number < b.Number
	})
}
