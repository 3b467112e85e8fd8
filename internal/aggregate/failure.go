package aggregate

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// FailureKind classifies why a repository produced no data, or only some.
type FailureKind string

const (
	KindRateLimited FailureKind = "rate_limited"
	KindNetwork     FailureKind = "network"
	KindRemoteAPI   FailureKind = "remote_api"
	KindNotFound    FailureKind = "not_found"
	KindCanceled    FailureKind = "canceled"
	KindInternal    FailureKind = "internal"

	// KindIncomplete marks a repository whose PRs were listed but some of
	// whose per-PR requests failed. Its records are present with empty fields.
	KindIncomplete FailureKind = "incomplete"
)

// RepoFailure is one repository's failed fetch.
type RepoFailure struct {
	Repository string      `json:"repository"`
	Kind       FailureKind `json:"kind"`
	Message    string      `json:"message"`
}

// Degraded reports whether the repository still contributed records.
func (f RepoFailure) Degraded() bool { return f.Kind == KindIncomplete }

func (f RepoFailure) Error() string {
	return fmt.Sprintf("%s: %s: %s", f.Repository, f.Kind, f.Message)
}

// PartialResultWarning accompanies a snapshot that is missing some
// repositories or some of their data. It is not fatal; callers render what
// is there.
type PartialResultWarning struct {
	Failures []RepoFailure
}

func (w *PartialResultWarning) Error() string {
	return fmt.Sprintf("partial result, %d repositories failed or incomplete: %v", len(w.Failures), w.combined())
}

func (w *PartialResultWarning) Unwrap() []error {
	return multierr.Errors(w.combined())
}

func (w *PartialResultWarning) combined() error {
	var err error
	for _, f := range w.Failures {
		err = multierr.Append(err, f)
	}
	return err
}

// IsPartial reports whether err carries a PartialResultWarning.
func IsPartial(err error) bool {
	var w *PartialResultWarning
	return errors.As(err, &w)
}
