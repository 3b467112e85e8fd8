package engine

import (
	"fmt"
	"strings"
	"time"

	"prpulse/internal/fetch"
	"prpulse/internal/metrics"
)

const RateLimitKey = "rate_limit"

const repoMetricsPrefix = "repo_metrics_"

// Team cache strategies.
const (
	StrategyDefault        = "default"
	StrategyQuickMonth     = "quick_month"
	StrategyFromMonthCache = "filter_from_month_cache"
	StrategyCustom         = "custom"
)

// TeamDefaultKey names the default-window snapshot. The name is fixed at
// _last30PR whatever Fetch.DefaultWindowDays is set to, since external tools
// read these keys; the snapshot's Window carries the actual span.
func TeamDefaultKey(team string) string { return team + "_last30PR" }

func TeamMonthKey(team string, year int, month time.Month) string {
	return fmt.Sprintf("%s_month_%d-%02d", team, year, int(month))
}

func TeamRangeKey(team string, r metrics.DateRange) string {
	return fmt.Sprintf("%s_start_%s_end_%s", team, r.StartDate(), r.EndDate())
}

// RepoMetricsKey is repo_metrics_{repo}, suffixed with the explicit range if
// there is one.
func RepoMetricsKey(repo string, filter *metrics.DateRange) string {
	key := repoMetricsPrefix + repo
	if filter != nil {
		key += "_start_" + filter.StartDate() + "_end_" + filter.EndDate()
	}
	return key
}

// ownsTeamKey matches the three team snapshot keys and nothing belonging to
// a team whose name merely starts with team.
func ownsTeamKey(team, key string) bool {
	return key == TeamDefaultKey(team) ||
		strings.HasPrefix(key, team+"_month_") ||
		strings.HasPrefix(key, team+"_start_")
}

func ownsRepoMetricsKey(repo, key string) bool {
	base := repoMetricsPrefix + repo
	return key == base || strings.HasPrefix(key, base+"_start_")
}

// Namespace maps a cache key to its statistics bucket.
func Namespace(key string) string {
	switch {
	case key == RateLimitKey:
		return "rate_limit"
	case strings.HasPrefix(key, repoMetricsPrefix):
		return "repo_metrics"
	case strings.HasPrefix(key, fetch.NamespaceReviews+"_"):
		return fetch.NamespaceReviews
	case strings.HasPrefix(key, fetch.NamespaceCommits+"_"):
		return fetch.NamespaceCommits
	case strings.HasPrefix(key, fetch.NamespaceDetails+"_"):
		return fetch.NamespaceDetails
	case strings.HasPrefix(key, fetch.NamespacePRs+"_"):
		return fetch.NamespacePRs
	case strings.HasSuffix(key, "_last30PR"):
		return "team_default"
	case strings.Contains(key, "_month_"):
		return "team_month"
	case strings.Contains(key, "_start_"):
		return "team_range"
	default:
		return "other"
	}
}
