package apply

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/steveyegge/twinsync/internal/reconcile"
)

// ErrRefetch matches every RefetchError.
var ErrRefetch = errors.New("source refetch failed")

// ApplyError is the failure of a single change. The batch it belongs to
// was still attempted in full.
type ApplyError struct {
	Change reconcile.Change
	Err    error
}

// Error implements the error interface.
func (e *ApplyError) Error() string {
	return fmt.Sprintf("failed to apply %s: %v", e.Change, e.Err)
}

// Unwrap returns the underlying error.
func (e *ApplyError) Unwrap() error {
	return e.Err
}

// RefetchError is returned when the fresh source of a move flagged
// NeedRefetch could not be read from the store.
type RefetchError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *RefetchError) Error() string {
	return fmt.Sprintf("failed to refetch %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *RefetchError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrRefetch) match.
func (e *RefetchError) Is(target error) bool {
	return target == ErrRefetch
}

// Failed returns the per-change failures carried by an error returned from
// Applier.Apply.
func Failed(err error) []*ApplyError {
	if err == nil {
		return nil
	}
	var merr *multierror.Error
	if !errors.As(err, &merr) {
		var ae *ApplyError
		if errors.As(err, &ae) {
			return []*ApplyError{ae}
		}
		return nil
	}
	var out []*ApplyError
	for _, e := range merr.Errors {
		var ae *ApplyError
		if errors.As(e, &ae) {
			out = append(out, ae)
		}
	}
	return out
}
