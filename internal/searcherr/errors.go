// Package searcherr holds the failure taxonomy shared by the instance client,
// the response adapters and the dispatcher.
package searcherr

import (
	"errors"
	"fmt"
)

var (
	// ErrInstanceTimeout means an instance did not answer within its deadline.
	ErrInstanceTimeout = errors.New("instance timeout")
	// ErrInstanceUnreachable covers connection, DNS and TLS failures.
	ErrInstanceUnreachable = errors.New("instance unreachable")
	// ErrMalformedResponse means the body could not be used: bad status, bad
	// JSON, a block page or markup with no recognisable results.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrEmptyResultSet means the instance answered correctly but returned nothing
	// usable for the requested category.
	ErrEmptyResultSet = errors.New("empty result set")
	// ErrNoResultsFound is the terminal outcome when every path is exhausted.
	ErrNoResultsFound = errors.New("no results found")
	// ErrCancelled marks work abandoned because a sibling won or the caller
	// went away. It never counts against instance health.
	ErrCancelled = errors.New("cancelled")
)

// InstanceError ties a failure to the instance that produced it.
type InstanceError struct {
	Instance string
	Kind     error
	Err      error
}

// NewInstanceError wraps err with the taxonomy kind and the instance URL.
func NewInstanceError(instance string, kind, err error) *InstanceError {
	return &InstanceError{Instance: instance, Kind: kind, Err: err}
}

func (e *InstanceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Instance, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Instance, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As.
func (e *InstanceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Kind returns the taxonomy sentinel err belongs to, or nil.
func Kind(err error) error {
	for _, kind := range []error{
		ErrCancelled,
		ErrInstanceTimeout,
		ErrInstanceUnreachable,
		ErrMalformedResponse,
		ErrEmptyResultSet,
		ErrNoResultsFound,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// Penalized reports whether err should count against instance health.
func Penalized(err error) bool {
	return err != nil && !errors.Is(err, ErrCancelled)
}

// Transport reports whether err is a network-level failure, in which case a
// second request to the same instance is pointless.
func Transport(err error) bool {
	return errors.Is(err, ErrInstanceTimeout) || errors.Is(err, ErrInstanceUnreachable)
}
