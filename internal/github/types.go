package github

import (
	"time"

	gh "github.com/google/go-github/v74/github"
)

// ── Public types (used by fetch and handlers) ────────────────────────────────

// PullRequest is the subset of a GitHub pull request the metrics need.
type PullRequest struct {
	Number    int
	Title     string
	URL       string
	Author    string // login
	State     string // "open" or "closed"
	CreatedAt time.Time
	UpdatedAt time.Time
	MergedAt  *time.Time
	Additions int
	Deletions int
}

// Review is a single submitted review on a PR.
type Review struct {
	ID          int64
	Author      string
	State       string
	SubmittedAt time.Time
}

// Commit is a commit attached to a PR, dated by its author.
type Commit struct {
	SHA        string
	Author     string
	AuthoredAt time.Time
}

// ── Mapping from go-github ───────────────────────────────────────────────────

func toPullRequest(p *gh.PullRequest) PullRequest {
	pr := PullRequest{
		Number:    p.GetNumber(),
		Title:     p.GetTitle(),
		URL:       p.GetHTMLURL(),
		Author:    p.GetUser().GetLogin(),
		State:     p.GetState(),
		CreatedAt: p.GetCreatedAt().Time,
		UpdatedAt: p.GetUpdatedAt().Time,
		Additions: p.GetAdditions(),
		Deletions: p.GetDeletions(),
	}
	if p.MergedAt != nil && !p.MergedAt.IsZero() {
		t := p.MergedAt.Time
		pr.MergedAt = &t
	}
	return pr
}

func toReview(r *gh.PullRequestReview) Review {
	return Review{
		ID:          r.GetID(),
		Author:      r.GetUser().GetLogin(),
		State:       r.GetState(),
		SubmittedAt: r.GetSubmittedAt().Time,
	}
}

func toCommit(c *gh.RepositoryCommit) Commit {
	author := c.GetAuthor().GetLogin()
	if author == "" {
		author = c.GetCommit().GetAuthor().GetName()
	}
	return Commit{
		SHA:        c.GetSHA(),
		Author:     author,
		AuthoredAt: c.GetCommit().GetAuthor().GetDate().Time,
	}
}
