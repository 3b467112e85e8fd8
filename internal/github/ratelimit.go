package github

import (
	"sync"
	"time"

	gh "github.com/google/go-github/v74/github"
)

// RateLimitState is the last quota GitHub reported for the core bucket.
type RateLimitState struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Used      int       `json:"used"`
	Reset     time.Time `json:"reset"`
	Observed  bool      `json:"observed"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Low reports whether remaining quota is at or below threshold with the
// reset still ahead of now.
func (s RateLimitState) Low(threshold int, now time.Time) bool {
	return s.Observed && s.Remaining <= threshold && now.Before(s.Reset)
}

// rateTracker is shared by every goroutine issuing calls through a Client.
type rateTracker struct {
	mu        sync.RWMutex
	state     RateLimitState
	holdUntil time.Time // secondary-limit Retry-After
	now       func() time.Time
}

func newRateTracker(now func() time.Time) *rateTracker {
	return &rateTracker{now: now}
}

// update records quota headers. Responses without headers are ignored.
func (t *rateTracker) update(r gh.Rate) {
	if r.Limit == 0 && r.Reset.IsZero() {
		return
	}
	t.mu.Lock()
	t.state = RateLimitState{
		Limit:     r.Limit,
		Remaining: r.Remaining,
		Used:      r.Used,
		Reset:     r.Reset.Time,
		Observed:  true,
		UpdatedAt: t.now(),
	}
	t.mu.Unlock()
}

func (t *rateTracker) holdFor(d time.Duration) {
	until := t.now().Add(d)
	t.mu.Lock()
	if until.After(t.holdUntil) {
		t.holdUntil = until
	}
	t.mu.Unlock()
}

func (t *rateTracker) snapshot() RateLimitState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// delay is how long a caller must wait before its next request.
func (t *rateTracker) delay(threshold int) time.Duration {
	now := t.now()
	t.mu.RLock()
	defer t.mu.RUnlock()

	var d time.Duration
	if t.state.Low(threshold, now) {
		d = t.state.Reset.Sub(now)
	}
	if now.Before(t.holdUntil) {
		if hold := t.holdUntil.Sub(now); hold > d {
			d = hold
		}
	}
	return d
}
