package fetch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"prpulse/internal/aggregate"
	"prpulse/internal/cache"
	"prpulse/internal/config"
	"prpulse/internal/github"
	"prpulse/internal/metrics"
	"prpulse/internal/worker"
)

// Client is the part of the GitHub client the orchestrator uses.
type Client interface {
	ListPullRequests(ctx context.Context, repo string, since time.Time, perPage, maxPages int) ([]github.PullRequest, error)
	ListReviews(ctx context.Context, repo string, number int) ([]github.Review, error)
	ListCommits(ctx context.Context, repo string, number int) ([]github.Commit, error)
	GetPullRequest(ctx context.Context, repo string, number int) (github.PullRequest, error)
}

type Options struct {
	PerPage       int
	MaxPages      int
	PRConcurrency int
	RequestDelay  time.Duration
	TTL           time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PerPage:       cfg.Fetch.PerPage,
		MaxPages:      cfg.Fetch.MaxPages,
		PRConcurrency: cfg.Fetch.PRConcurrency,
		RequestDelay:  cfg.Fetch.RequestDelay,
		TTL:           cfg.Cache.TTL,
	}
}

// TeamData is the normalized PR records of every repository that could be
// fetched, plus a failure entry for every one that could not. A repository
// whose per-PR requests partly failed has both records and a KindIncomplete
// entry.
type TeamData struct {
	RunID    string
	Records  map[string][]metrics.PullRequestRecord
	Failures []aggregate.RepoFailure
}

// Orchestrator fans repository fetches out over the shared worker pool.
type Orchestrator struct {
	client Client
	cache  *cache.Store
	pool   *worker.Pool
	opts   Options
	log    *zap.Logger

	// flights coalesces per-PR requests, keyed cache key#number.
	flights singleflight.Group
}

func New(client Client, store *cache.Store, pool *worker.Pool, opts Options, log *zap.Logger) *Orchestrator {
	if opts.PRConcurrency <= 0 {
		opts.PRConcurrency = 1
	}
	return &Orchestrator{
		client: client,
		cache:  store,
		pool:   pool,
		opts:   opts,
		log:    log.Named("fetch"),
	}
}

type repoResult struct {
	records    []metrics.PullRequestRecord
	incomplete int
	err        error
}

// FetchTeamData fetches every repository in repos concurrently. PRs created
// inside window are kept. filter is the caller's explicit date range, or nil
// for the default window; it only affects cache keys. One repository's
// failure never affects another's result.
func (o *Orchestrator) FetchTeamData(ctx context.Context, repos []string, window metrics.DateRange, filter *metrics.DateRange) TeamData {
	runID := uuid.NewString()
	log := o.log.With(zap.String("run_id", runID))
	start := time.Now()
	log.Info("fetching team data",
		zap.Strings("repositories", repos),
		zap.String("start", window.StartDate()),
		zap.String("end", window.EndDate()))

	results := make([]repoResult, len(repos))
	var wg sync.WaitGroup
	for i, repo := range repos {
		wg.Add(1)
		err := o.pool.Submit(ctx, func(ctx context.Context) {
			defer wg.Done()
			recs, incomplete, err := o.fetchRepo(ctx, log, repo, window, filter)
			results[i] = repoResult{records: recs, incomplete: incomplete, err: err}
		})
		if err != nil {
			wg.Done()
			results[i] = repoResult{err: err}
		}
	}
	wg.Wait()

	data := TeamData{
		RunID:    runID,
		Records:  make(map[string][]metrics.PullRequestRecord, len(repos)),
		Failures: []aggregate.RepoFailure{},
	}
	for i, repo := range repos {
		if err := results[i].err; err != nil {
			f := Classify(repo, err)
			log.Warn("repository fetch failed",
				zap.String("repository", repo),
				zap.String("kind", string(f.Kind)),
				zap.Error(err))
			data.Failures = append(data.Failures, f)
			continue
		}
		data.Records[repo] = results[i].records
		if n := results[i].incomplete; n > 0 {
			log.Warn("repository data incomplete", zap.String("repository", repo), zap.Int("failed_requests", n))
			data.Failures = append(data.Failures, aggregate.RepoFailure{
				Repository: repo,
				Kind:       aggregate.KindIncomplete,
				Message:    fmt.Sprintf("%d per-PR requests failed, some fields are empty", n),
			})
		}
	}

	log.Info("team data fetched",
		zap.Int("ok", len(data.Records)),
		zap.Int("failed", len(data.Failures)),
		zap.Duration("took", time.Since(start)))
	return data
}

// ── Per repository ────────────────────────────────────────────────────────────

// fetchRepo returns repo's records in window and how many per-PR requests
// failed.
func (o *Orchestrator) fetchRepo(ctx context.Context, log *zap.Logger, repo string, window metrics.DateRange, filter *metrics.DateRange) ([]metrics.PullRequestRecord, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	log = log.With(zap.String("repository", repo))
	pace := rate.NewLimiter(rate.Every(o.opts.RequestDelay), 1)

	prs, err := cache.Fetch(ctx, o.cache, PRListKey(repo, window, filter), o.opts.TTL, func(ctx context.Context) ([]github.PullRequest, error) {
		if err := pace.Wait(ctx); err != nil {
			return nil, err
		}
		return o.client.ListPullRequests(ctx, repo, window.Start, o.opts.PerPage, o.opts.MaxPages)
	})
	if err != nil {
		return nil, 0, err
	}

	var scoped []github.PullRequest
	var all, merged []int
	for _, pr := range prs {
		if !window.Contains(pr.CreatedAt) {
			continue
		}
		scoped = append(scoped, pr)
		all = append(all, pr.Number)
		if pr.MergedAt != nil {
			merged = append(merged, pr.Number)
		}
	}
	log.Debug("pull requests in window", zap.Int("listed", len(prs)), zap.Int("in_window", len(scoped)))

	reviews, failedReviews, err := fetchMissing(ctx, o, log, pace, ReviewsKey(repo), all, func(ctx context.Context, n int) ([]github.Review, error) {
		return o.client.ListReviews(ctx, repo, n)
	})
	if err != nil {
		return nil, 0, err
	}
	commits, failedCommits, err := fetchMissing(ctx, o, log, pace, CommitsKey(repo), merged, func(ctx context.Context, n int) ([]github.Commit, error) {
		return o.client.ListCommits(ctx, repo, n)
	})
	if err != nil {
		return nil, 0, err
	}
	details, failedDetails, err := fetchMissing(ctx, o, log, pace, DetailsKey(repo), all, func(ctx context.Context, n int) (github.PullRequest, error) {
		return o.client.GetPullRequest(ctx, repo, n)
	})
	if err != nil {
		return nil, 0, err
	}

	return normalize(repo, scoped, reviews, commits, details), failedReviews + failedCommits + failedDetails, nil
}

// fetchMissing returns the per-PR map cached under key, fetching numbers it
// lacks with bounded concurrency. It also returns how many fetches failed; a
// failed number is left out. Only throttling and cancellation abort.
func fetchMissing[T any](ctx context.Context, o *Orchestrator, log *zap.Logger, pace *rate.Limiter, key string, numbers []int, fetch func(ctx context.Context, n int) (T, error)) (map[int]T, int, error) {
	cached, _ := cache.Peek[map[int]T](o.cache, key)
	var missing []int
	for _, n := range numbers {
		if _, ok := cached[n]; !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) == 0 {
		return cached, 0, nil
	}

	var (
		mu      sync.Mutex
		fetched = make(map[int]T, len(missing))
		failed  int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.PRConcurrency)
	for _, n := range missing {
		g.Go(func() error {
			if err := pace.Wait(gctx); err != nil {
				return err
			}
			v, err := fetchOnce(gctx, o, key, n, fetch)
			if err != nil {
				if fatal(gctx, err) {
					return err
				}
				log.Warn("sub-fetch failed, leaving fields empty",
					zap.String("cache_key", key),
					zap.Int("number", n),
					zap.Error(err))
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			mu.Lock()
			fetched[n] = v
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	latest, _ := cache.Peek[map[int]T](o.cache, key)
	out := make(map[int]T, len(latest)+len(fetched))
	for k, v := range latest {
		out[k] = v
	}
	// The entry may have been cleared while fetching.
	for k, v := range fetched {
		out[k] = v
	}
	return out, failed, nil
}

// fetchOnce runs fetch for PR n at most once across concurrent callers. The
// result is merged into key's map before the flight ends, so a caller that
// arrives later finds it cached. The shared call is detached from the
// leader's cancellation; each caller still stops waiting when its own ctx
// ends.
func fetchOnce[T any](ctx context.Context, o *Orchestrator, key string, n int, fetch func(ctx context.Context, n int) (T, error)) (T, error) {
	var zero T
	ch := o.flights.DoChan(key+"#"+strconv.Itoa(n), func() (any, error) {
		if cached, ok := cache.Peek[map[int]T](o.cache, key); ok {
			if v, ok := cached[n]; ok {
				return v, nil
			}
		}
		v, err := fetch(context.WithoutCancel(ctx), n)
		if err != nil {
			return nil, err
		}
		o.cache.Update(key, o.opts.TTL, func(old any, ok bool) any {
			var prev map[int]T
			if ok {
				prev, _ = old.(map[int]T)
			}
			next := make(map[int]T, len(prev)+1)
			for k, pv := range prev {
				next[k] = pv
			}
			next[n] = v
			return next
		})
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

func fatal(ctx context.Context, err error) bool {
	return errors.Is(err, github.ErrRateLimitExceeded) || ctx.Err() != nil
}

func normalize(repo string, prs []github.PullRequest, reviews map[int][]github.Review, commits map[int][]github.Commit, details map[int]github.PullRequest) []metrics.PullRequestRecord {
	out := make([]metrics.PullRequestRecord, 0, len(prs))
	for _, pr := range prs {
		r := metrics.PullRequestRecord{
			Repository: repo,
			Number:     pr.Number,
			Title:      pr.Title,
			URL:        pr.URL,
			Author:     pr.Author,
			State:      pr.State,
			CreatedAt:  pr.CreatedAt,
			MergedAt:   pr.MergedAt,
			Additions:  pr.Additions,
			Deletions:  pr.Deletions,
		}
		if d, ok := details[pr.Number]; ok {
			r.Additions, r.Deletions = d.Additions, d.Deletions
		}
		if rs := reviews[pr.Number]; len(rs) > 0 {
			t := rs[0].SubmittedAt
			r.FirstReviewAt = &t
		}
		if cs := commits[pr.Number]; len(cs) > 0 {
			t := cs[0].AuthoredAt
			r.FirstCommitAt = &t
		}
		out = append(out, r)
	}
	metrics.SortRecords(out)
	return out
}

// Classify turns a repository fetch error into a failure entry.
func Classify(repo string, err error) aggregate.RepoFailure {
	var (
		apiErr *github.APIError
		netErr *github.NetworkError
	)
	kind := aggregate.KindInternal
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, worker.ErrPoolClosed):
		kind = aggregate.KindCanceled
	case errors.Is(err, github.ErrRateLimitExceeded):
		kind = aggregate.KindRateLimited
	case errors.Is(err, github.ErrNotFound):
		kind = aggregate.KindNotFound
	case errors.As(err, &apiErr):
		kind = aggregate.KindRemoteAPI
	case errors.As(err, &netErr):
		kind = aggregate.KindNetwork
	case errors.Is(err, context.DeadlineExceeded):
		kind = aggregate.KindCanceled
	}
	return aggregate.RepoFailure{Repository: repo, Kind: kind, Message: err.Error()}
}
