package resolver

import "errors"

// ErrNoStream is the normal empty outcome: every applicable provider was
// scanned and nothing playable came back. Not every title is findable.
var ErrNoStream = errors.New("resolver: no playable stream found")

// ErrRunCancelled reports that the caller's context ended the run. The
// returned error also matches the underlying context error.
var ErrRunCancelled = errors.New("resolver: run cancelled")

// IsNoStream reports whether err is the normal not-found outcome.
func IsNoStream(err error) bool {
	return errors.Is(err, ErrNoStream)
}

// IsCancelled reports whether err means the run was cancelled.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrRunCancelled)
}
