package github

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRateLimitExceeded is returned once the quota is exhausted and the
	// backoff budget is spent, or immediately in fail-fast mode.
	ErrRateLimitExceeded = errors.New("github rate limit exceeded")
	ErrNotFound          = errors.New("not found")
)

// NetworkError is a transport failure or a per-call timeout.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("%s: network error: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// APIError is a non-throttling HTTP error returned by GitHub.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: GitHub API error %d %s: %s", e.Op, e.Status, http.StatusText(e.Status), e.Body)
}

// Is lets errors.Is(err, ErrNotFound) match a 404.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}
