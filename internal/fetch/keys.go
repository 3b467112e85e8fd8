package fetch

import (
	"fmt"
	"math"
	"strings"

	"prpulse/internal/metrics"
)

// Cache namespaces owned by the orchestrator.
const (
	NamespacePRs     = "prs"
	NamespaceReviews = "all_reviews"
	NamespaceCommits = "all_commits"
	NamespaceDetails = "detailed_prs"
)

// PRListKey is prs_{repo}_{days}, with _start_{s}_end_{e} when the caller
// filtered by explicit dates.
func PRListKey(repo string, window metrics.DateRange, filter *metrics.DateRange) string {
	key := fmt.Sprintf("%s_%s_%d", NamespacePRs, repo, int(math.Round(window.Days())))
	if filter != nil {
		key += "_start_" + filter.StartDate() + "_end_" + filter.EndDate()
	}
	return key
}

func ReviewsKey(repo string) string { return NamespaceReviews + "_" + repo }
func CommitsKey(repo string) string { return NamespaceCommits + "_" + repo }
func DetailsKey(repo string) string { return NamespaceDetails + "_" + repo }

// OwnsKey reports whether key is one of repo's orchestrator cache entries.
// Repositories whose names share a prefix do not match each other.
func OwnsKey(repo, key string) bool {
	switch key {
	case ReviewsKey(repo), CommitsKey(repo), DetailsKey(repo):
		return true
	}
	rest, ok := strings.CutPrefix(key, NamespacePRs+"_"+repo+"_")
	if !ok {
		return false
	}
	days, suffix, _ := strings.Cut(rest, "_")
	if days == "" || strings.Trim(days, "0123456789") != "" {
		return false
	}
	return suffix == "" || strings.HasPrefix(suffix, "start_")
}
