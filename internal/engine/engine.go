// Package engine answers team, comparison and cache questions, choosing
// the cheapest cache strategy for each request.
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"prpulse/internal/aggregate"
	"prpulse/internal/cache"
	"prpulse/internal/config"
	"prpulse/internal/fetch"
	"prpulse/internal/github"
	"prpulse/internal/metrics"
)

// TeamFetcher fetches normalized records for a set of repositories.
type TeamFetcher interface {
	FetchTeamData(ctx context.Context, repos []string, window metrics.DateRange, filter *metrics.DateRange) fetch.TeamData
}

// QuotaSource reports the remote API quota.
type QuotaSource interface {
	RateLimits(ctx context.Context) (github.RateLimitState, error)
}

type Engine struct {
	cfg     *config.Config
	cache   *cache.Store
	fetcher TeamFetcher
	quota   QuotaSource
	log     *zap.Logger
	now     func() time.Time
}

type Option func(*Engine)

// WithClock replaces time.Now for window and timestamp computation.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func New(cfg *config.Config, store *cache.Store, fetcher TeamFetcher, quota QuotaSource, log *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg,
		cache:   store,
		fetcher: fetcher,
		quota:   quota,
		log:     log.Named("engine"),
		now:     time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) TeamNames() []string { return e.cfg.TeamNames() }

// ── Team metrics ──────────────────────────────────────────────────────────────

type plan struct {
	strategy string
	key      string
	window   metrics.DateRange
	filter   *metrics.DateRange
}

func (e *Engine) plan(team string, filter *metrics.DateRange) plan {
	if filter == nil {
		return plan{
			strategy: StrategyDefault,
			key:      TeamDefaultKey(team),
			window:   metrics.LastDays(e.now(), e.cfg.Fetch.DefaultWindowDays),
		}
	}
	if y, m, ok := filter.FullMonth(); ok {
		return plan{strategy: StrategyQuickMonth, key: TeamMonthKey(team, y, m), window: *filter, filter: filter}
	}
	if y, m, ok := filter.SameMonth(); ok {
		monthKey := TeamMonthKey(team, y, m)
		if _, cached := e.cache.Get(monthKey); cached {
			return plan{strategy: StrategyFromMonthCache, key: monthKey, window: *filter, filter: filter}
		}
	}
	return plan{strategy: StrategyCustom, key: TeamRangeKey(team, *filter), window: *filter, filter: filter}
}

// TeamMetrics returns the snapshot for team over the default window, or
// over filter when it is non-nil. Repository failures are reported inside
// the snapshot; only configuration errors and cancellation are returned.
func (e *Engine) TeamMetrics(ctx context.Context, team string, filter *metrics.DateRange) (*aggregate.TeamSnapshot, error) {
	t, err := e.cfg.Team(team)
	if err != nil {
		return nil, err
	}
	p := e.plan(team, filter)
	log := e.log.With(zap.String("team", team), zap.String("strategy", p.strategy))

	if p.strategy == StrategyFromMonthCache {
		if month, ok := cache.Peek[*aggregate.TeamSnapshot](e.cache, p.key); ok {
			log.Debug("narrowing cached month", zap.String("cache_key", p.key))
			return e.narrow(month, p), nil
		}
		// The month expired between planning and now.
		p.strategy, p.key = StrategyCustom, TeamRangeKey(team, *filter)
	}

	snap, err := cache.FetchTTL(ctx, e.cache, p.key, func(ctx context.Context) (*aggregate.TeamSnapshot, time.Duration, error) {
		snap := e.build(ctx, t, p)
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		ttl := e.cfg.Cache.TTL
		if len(snap.Failures) > 0 {
			ttl = e.cfg.Cache.ErrorTTL
			log.Warn("partial team snapshot", zap.Int("failed", len(snap.Failures)), zap.Duration("ttl", ttl))
		}
		return snap, ttl, nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (e *Engine) build(ctx context.Context, team config.Team, p plan) *aggregate.TeamSnapshot {
	repos := dedupe(team.Repositories)
	data := e.fetcher.FetchTeamData(ctx, repos, p.window, p.filter)

	degraded := make(map[string]bool)
	for _, f := range data.Failures {
		if f.Degraded() {
			degraded[f.Repository] = true
		}
	}

	snaps := make([]metrics.RepoSnapshot, 0, len(repos))
	for _, repo := range repos {
		recs, ok := data.Records[repo]
		if !ok {
			continue
		}
		key := RepoMetricsKey(repo, p.filter)
		rs, cached := cache.Peek[metrics.RepoSnapshot](e.cache, key)
		if !cached || degraded[repo] {
			rs = metrics.ComputeRepo(repo, recs, p.window, e.cfg.Fetch.SlowestReviews)
			ttl := e.cfg.Cache.TTL
			if degraded[repo] {
				ttl = e.cfg.Cache.ErrorTTL
			}
			e.cache.Set(key, rs, ttl)
		}
		snaps = append(snaps, rs)
	}
	snap := aggregate.Team(team.Name, snaps, data.Failures, e.cfg.Fetch.SlowestReviews)
	return e.finish(&snap, p)
}

// narrow recomputes a cached month snapshot for a sub-range of that month.
func (e *Engine) narrow(month *aggregate.TeamSnapshot, p plan) *aggregate.TeamSnapshot {
	snaps := make([]metrics.RepoSnapshot, 0, len(month.Metrics))
	for _, r := range month.Metrics {
		snaps = append(snaps, metrics.ComputeRepo(r.Repository, r.Records, p.window, e.cfg.Fetch.SlowestReviews))
	}
	snap := aggregate.Team(month.Team, snaps, month.Failures, e.cfg.Fetch.SlowestReviews)
	return e.finish(&snap, p)
}

func (e *Engine) finish(snap *aggregate.TeamSnapshot, p plan) *aggregate.TeamSnapshot {
	snap.Strategy = p.strategy
	snap.Window = p.window
	snap.Filter = p.filter
	snap.Span = snap.Span.WithFilter(p.filter)
	snap.GeneratedAt = e.now().UTC()
	snap.Chart = buildChart(snap)
	return snap
}

func dedupe(repos []string) []string {
	seen := make(map[string]bool, len(repos))
	out := make([]string, 0, len(repos))
	for _, r := range repos {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

// ── Comparison ────────────────────────────────────────────────────────────────

// Compare computes every team concurrently and ranks contributors across
// all of them.
func (e *Engine) Compare(ctx context.Context, filter *metrics.DateRange) (*aggregate.GlobalSnapshot, error) {
	names := e.cfg.TeamNames()
	teams := make([]aggregate.TeamSnapshot, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			snap, err := e.TeamMetrics(gctx, name, filter)
			if err != nil {
				return err
			}
			teams[i] = *snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	global := aggregate.Global(teams)
	global.GeneratedAt = e.now().UTC()
	e.log.Info("teams compared",
		zap.Int("teams", len(names)),
		zap.Int("contributors", global.TotalContributors),
		zap.Int("failures", len(global.Failures)))
	return &global, nil
}

// ── Cache management ──────────────────────────────────────────────────────────

func (e *Engine) CacheStats() cache.Stats { return e.cache.Stats() }

// ClearTeamCache drops the team's snapshots and every cached entry of its
// repositories, returning the removed keys.
func (e *Engine) ClearTeamCache(team string) ([]string, error) {
	t, err := e.cfg.Team(team)
	if err != nil {
		return nil, err
	}
	repos := dedupe(t.Repositories)
	removed := e.cache.InvalidateFunc(func(key string) bool {
		if ownsTeamKey(team, key) {
			return true
		}
		for _, repo := range repos {
			if fetch.OwnsKey(repo, key) || ownsRepoMetricsKey(repo, key) {
				return true
			}
		}
		return false
	})
	e.log.Info("team cache cleared", zap.String("team", team), zap.Int("removed", len(removed)))
	return removed, nil
}

func (e *Engine) ClearCache() int {
	n := e.cache.Clear()
	e.log.Info("cache cleared", zap.Int("removed", n))
	return n
}

// ── Rate limit ────────────────────────────────────────────────────────────────

// RateLimit returns the remote quota, cached briefly.
func (e *Engine) RateLimit(ctx context.Context) (github.RateLimitState, error) {
	return cache.Fetch(ctx, e.cache, RateLimitKey, e.cfg.Cache.RateLimitTTL, func(ctx context.Context) (github.RateLimitState, error) {
		st, err := e.quota.RateLimits(ctx)
		if err != nil {
			return github.RateLimitState{}, err
		}
		fields := []zap.Field{
			zap.Int("remaining", st.Remaining),
			zap.Int("limit", st.Limit),
			zap.Time("reset", st.Reset),
		}
		switch {
		case st.Remaining == 0:
			e.log.Error("rate limit exhausted", fields...)
		case st.Low(e.cfg.Fetch.RateLimitThreshold, e.now()):
			e.log.Warn("rate limit low", fields...)
		default:
			e.log.Info("rate limit checked", fields...)
		}
		return st, nil
	})
}

