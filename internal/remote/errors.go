package remote

import (
	"errors"
	"fmt"
)

// ErrInvalidToken indicates a sync token that is empty or still the full-sync
// sentinel where an incremental token was required. This is a programmer or
// data error and is raised before any network I/O.
var ErrInvalidToken = errors.New("remote: invalid sync token")

// AuthError indicates the remote service rejected the account credential.
// It is fatal for the account: auto-sync must be disabled and the failure
// surfaced to the user.
type AuthError struct {
	Status int
	Body   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("remote: credential rejected (status %d): %s", e.Status, e.Body)
}

// UnavailableError indicates a transient network or HTTP failure. Passes
// that hit it are retried via the scheduler's normal backoff.
type UnavailableError struct {
	Status int
	Body   string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("remote: request failed (status %d): %s", e.Status, e.Body)
}

// IsAuthError reports whether err wraps an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
