package service

import (
	"errors"
	"fmt"
)

var (
	// ErrRemoteUnavailable matches any *RemoteUnavailableError
	ErrRemoteUnavailable = errors.New("remote ledger unavailable")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrMalformedPayload  = errors.New("malformed payload")
	ErrScopeTooLarge     = errors.New("scope too large")
	ErrEntityNotFound    = errors.New("entity not found remotely")
	ErrJobNotFound       = errors.New("sync job not found")
	ErrJobFinished       = errors.New("sync job already finished")
	ErrJobCancelled      = errors.New("sync job cancelled")
	ErrUnknownEntityKind = errors.New("unknown entity kind")
)

// RemoteUnavailableError is returned once a remote call has used up its attempts.
type RemoteUnavailableError struct {
	Attempts int
	Err      error
}

func (e *RemoteUnavailableError) Error() string {
	return fmt.Sprintf("remote ledger unavailable after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *RemoteUnavailableError) Unwrap() error {
	return e.Err
}

func (e *RemoteUnavailableError) Is(target error) bool {
	return target == ErrRemoteUnavailable
}
