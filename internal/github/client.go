package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	gh "github.com/google/go-github/v74/github"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"prpulse/internal/config"
)

const pageSize = 100 // reviews and commits are fetched in full

// Options tune retries, quota handling and concurrency for a Client.
type Options struct {
	Token        string
	Organization string
	BaseURL      string // empty means api.github.com

	MaxInFlight        int
	RequestTimeout     time.Duration
	MaxRetries         int
	BackoffBase        time.Duration
	BackoffMax         time.Duration
	RateLimitThreshold int
	MaxRateLimitWait   time.Duration
	FailFast           bool
}

// OptionsFromConfig copies the GitHub section of the application config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Token:              cfg.GitHubToken,
		Organization:       cfg.Organization,
		MaxInFlight:        cfg.Fetch.MaxInFlight,
		RequestTimeout:     cfg.Fetch.RequestTimeout,
		MaxRetries:         cfg.Fetch.MaxRetries,
		BackoffBase:        cfg.Fetch.BackoffBase,
		BackoffMax:         cfg.Fetch.BackoffMax,
		RateLimitThreshold: cfg.Fetch.RateLimitThreshold,
		MaxRateLimitWait:   cfg.Fetch.MaxRateLimitWait,
		FailFast:           cfg.Fetch.FailFast,
	}
}

// Client is a rate-limit aware GitHub REST client scoped to one organization.
// It is safe for concurrent use; every call shares the quota tracker and the
// in-flight semaphore.
type Client struct {
	gh     *gh.Client
	org    string
	opts   Options
	limits *rateTracker
	sem    *semaphore.Weighted
	log    *zap.Logger
}

func NewClient(opts Options, log *zap.Logger) (*Client, error) {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 1
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = opts.BackoffBase
	}

	client := gh.NewClient(&http.Client{})
	if opts.Token != "" {
		client = client.WithAuthToken(opts.Token)
	}
	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parsing GitHub base URL: %w", err)
		}
		client.BaseURL = u
	}

	return &Client{
		gh:     client,
		org:    opts.Organization,
		opts:   opts,
		limits: newRateTracker(time.Now),
		sem:    semaphore.NewWeighted(int64(opts.MaxInFlight)),
		log:    log.Named("github"),
	}, nil
}

// Organization is the owner every repository name is resolved against.
func (c *Client) Organization() string { return c.org }

// RateLimit returns the last observed quota without a network call.
func (c *Client) RateLimit() RateLimitState { return c.limits.snapshot() }

// ── Transport ─────────────────────────────────────────────────────────────────

// do runs call under the quota gate, the in-flight semaphore and a per-call
// timeout, retrying throttling, 5xx and network failures with jittered
// exponential backoff.
func (c *Client) do(ctx context.Context, op string, call func(context.Context) (*gh.Response, error)) error {
	attempt := 0
	operation := func() error {
		attempt++
		if err := c.awaitQuota(ctx, op); err != nil {
			return backoff.Permanent(err)
		}
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return backoff.Permanent(err)
		}
		defer c.sem.Release(1)

		callCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()

		resp, err := call(callCtx)
		if resp != nil {
			c.limits.update(resp.Rate)
		}
		if err == nil {
			return nil
		}
		return c.classify(ctx, op, err)
	}

	notify := func(err error, wait time.Duration) {
		c.log.Warn("retrying GitHub call",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	retries := c.opts.MaxRetries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(retries)), ctx)
	return backoff.RetryNotify(operation, policy, notify)
}

func (c *Client) newBackOff() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.opts.BackoffBase,
		RandomizationFactor: 0.5,
		Multiplier:          2,
		MaxInterval:         c.opts.BackoffMax,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// classify maps a go-github error onto this package's taxonomy. Errors
// wrapped in backoff.Permanent are not retried.
func (c *Client) classify(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return backoff.Permanent(ctxErr)
	}

	var (
		primary   *gh.RateLimitError
		secondary *gh.AbuseRateLimitError
		apiErr    *gh.ErrorResponse
	)
	switch {
	case errors.As(err, &primary):
		return fmt.Errorf("%s: %w", op, ErrRateLimitExceeded)
	case errors.As(err, &secondary):
		if secondary.RetryAfter != nil {
			c.limits.holdFor(*secondary.RetryAfter)
		}
		return fmt.Errorf("%s: %w", op, ErrRateLimitExceeded)
	case errors.As(err, &apiErr):
		status := 0
		if apiErr.Response != nil {
			status = apiErr.Response.StatusCode
		}
		e := &APIError{Op: op, Status: status, Body: apiErr.Message}
		switch {
		case status == http.StatusForbidden || status == http.StatusTooManyRequests:
			return fmt.Errorf("%s: %w", op, ErrRateLimitExceeded)
		case status >= 500:
			return e
		default:
			return backoff.Permanent(e)
		}
	default:
		return &NetworkError{Op: op, Err: err}
	}
}

// awaitQuota blocks while the tracked quota is at or below the threshold,
// until reset. It refuses to wait in fail-fast mode or past MaxRateLimitWait.
func (c *Client) awaitQuota(ctx context.Context, op string) error {
	wait := c.limits.delay(c.opts.RateLimitThreshold)
	if wait <= 0 {
		return nil
	}
	if c.opts.FailFast || (c.opts.MaxRateLimitWait > 0 && wait > c.opts.MaxRateLimitWait) {
		return fmt.Errorf("%s: %w (reset in %s)", op, ErrRateLimitExceeded, wait.Round(time.Second))
	}

	state := c.limits.snapshot()
	c.log.Warn("GitHub quota low, waiting for reset",
		zap.String("op", op),
		zap.Int("remaining", state.Remaining),
		zap.Duration("wait", wait))

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ── Public API ────────────────────────────────────────────────────────────────

// ListPullRequests lists PRs in any state, most recently updated first. It
// stops after maxPages pages, or as soon as a page ends with a PR last
// updated before since.
func (c *Client) ListPullRequests(ctx context.Context, repo string, since time.Time, perPage, maxPages int) ([]PullRequest, error) {
	opts := &gh.PullRequestListOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gh.ListOptions{PerPage: perPage},
	}
	op := "list pulls " + repo

	var out []PullRequest
	for page := 1; maxPages <= 0 || page <= maxPages; page++ {
		opts.Page = page
		var (
			prs  []*gh.PullRequest
			resp *gh.Response
		)
		err := c.do(ctx, op, func(ctx context.Context) (*gh.Response, error) {
			var err error
			prs, resp, err = c.gh.PullRequests.List(ctx, c.org, repo, opts)
			return resp, err
		})
		if err != nil {
			return nil, err
		}
		if len(prs) == 0 {
			break
		}
		for _, p := range prs {
			out = append(out, toPullRequest(p))
		}
		if last := prs[len(prs)-1]; !since.IsZero() && last.GetUpdatedAt().Time.Before(since) {
			break
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
	}
	return out, nil
}

// ListReviews returns submitted reviews ordered by submission time. Pending
// reviews have no submission time and are dropped.
func (c *Client) ListReviews(ctx context.Context, repo string, number int) ([]Review, error) {
	op := fmt.Sprintf("list reviews %s#%d", repo, number)
	opts := &gh.ListOptions{PerPage: pageSize}

	var out []Review
	for {
		var (
			reviews []*gh.PullRequestReview
			resp    *gh.Response
		)
		err := c.do(ctx, op, func(ctx context.Context) (*gh.Response, error) {
			var err error
			reviews, resp, err = c.gh.PullRequests.ListReviews(ctx, c.org, repo, number, opts)
			return resp, err
		})
		if err != nil {
			return nil, err
		}
		for _, r := range reviews {
			if r.SubmittedAt == nil || r.SubmittedAt.IsZero() {
				continue
			}
			out = append(out, toReview(r))
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

// ListCommits returns the PR's commits ordered by author date.
func (c *Client) ListCommits(ctx context.Context, repo string, number int) ([]Commit, error) {
	op := fmt.Sprintf("list commits %s#%d", repo, number)
	opts := &gh.ListOptions{PerPage: pageSize}

	var out []Commit
	for {
		var (
			commits []*gh.RepositoryCommit
			resp    *gh.Response
		)
		err := c.do(ctx, op, func(ctx context.Context) (*gh.Response, error) {
			var err error
			commits, resp, err = c.gh.PullRequests.ListCommits(ctx, c.org, repo, number, opts)
			return resp, err
		})
		if err != nil {
			return nil, err
		}
		for _, cm := range commits {
			out = append(out, toCommit(cm))
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].AuthoredAt.Before(out[j].AuthoredAt) })
	return out, nil
}

// GetPullRequest fetches a single PR, including line counts that the list
// endpoint omits.
func (c *Client) GetPullRequest(ctx context.Context, repo string, number int) (PullRequest, error) {
	var pr *gh.PullRequest
	err := c.do(ctx, fmt.Sprintf("get pull %s#%d", repo, number), func(ctx context.Context) (*gh.Response, error) {
		var (
			resp *gh.Response
			err  error
		)
		pr, resp, err = c.gh.PullRequests.Get(ctx, c.org, repo, number)
		return resp, err
	})
	if err != nil {
		return PullRequest{}, err
	}
	return toPullRequest(pr), nil
}

// RateLimits asks GitHub for the current core quota and records it.
func (c *Client) RateLimits(ctx context.Context) (RateLimitState, error) {
	var limits *gh.RateLimits
	err := c.do(ctx, "rate limit", func(ctx context.Context) (*gh.Response, error) {
		var (
			resp *gh.Response
			err  error
		)
		limits, resp, err = c.gh.RateLimit.Get(ctx)
		return resp, err
	})
	if err != nil {
		return RateLimitState{}, err
	}
	if core := limits.GetCore(); core != nil {
		c.limits.update(*core)
	}
	return c.limits.snapshot(), nil
}
