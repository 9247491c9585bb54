/*
errors.go - Error taxonomy for the appraisal engine

PURPOSE:
  All error kinds in one place. Callers branch on the kind with errors.Is
  and show the Message of a WorkflowError to the user verbatim.

ERROR CATEGORIES:
  1. Validation   - bad input or a row not in the required status. Never retried.
  2. Unauthorized - actor is not the owner / assigned manager. Never retried.
  3. Conflict     - a compare-and-swap write affected zero rows. The caller
                    may refetch and retry the user action, not the write.
  4. Not found    - referenced row, user or request does not exist.
  5. Datastore    - I/O failure in the store. Logged, surfaced generically.
  6. Timeout      - a store call exceeded its deadline. Retryable, but only
                    batch operations retry it.

USAGE:
  if errors.Is(err, performance.ErrConflict) {
      // refetch the row and let the user decide
  }

SEE ALSO:
  - workflow/workflow.go: Raises validation, authorization and conflict errors
  - scoring/pipeline.go: Raises datastore and timeout errors
*/
package performance

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("not authorized")
	ErrConflict     = errors.New("concurrent modification detected")
	ErrNotFound     = errors.New("not found")
	ErrDatastore    = errors.New("datastore failure")
	ErrTimeout      = errors.New("datastore call timed out")

	// ErrDuplicatePendingUnlock is returned by stores when a second pending
	// unlock request is created for the same row.
	ErrDuplicatePendingUnlock = fmt.Errorf("%w: row already has a pending unlock request", ErrConflict)

	// ErrDuplicateRow is returned by stores when inserting a second row for
	// the same (user, entity, month).
	ErrDuplicateRow = fmt.Errorf("%w: row already exists for user, entity and month", ErrConflict)
)

// =============================================================================
// STRUCTURED ERRORS - Carry the user-visible reason
// =============================================================================

// WorkflowError is a typed business error. Message is safe to show to users.
type WorkflowError struct {
	Kind    error
	Op      string
	Message string
}

func (e *WorkflowError) Error() string { return e.Message }

func (e *WorkflowError) Unwrap() error { return e.Kind }

func Validationf(op, format string, args ...any) error {
	return &WorkflowError{Kind: ErrValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

func Unauthorizedf(op, format string, args ...any) error {
	return &WorkflowError{Kind: ErrUnauthorized, Op: op, Message: fmt.Sprintf(format, args...)}
}

func Conflictf(op, format string, args ...any) error {
	return &WorkflowError{Kind: ErrConflict, Op: op, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(op, format string, args ...any) error {
	return &WorkflowError{Kind: ErrNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

// StoreError wraps a failed store call. It unwraps to ErrTimeout when the
// call ran out of time and to ErrDatastore otherwise, and also exposes the
// underlying cause.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	if e.timedOut() {
		return fmt.Sprintf("%s: %v", e.Op, ErrTimeout)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error {
	if e.timedOut() {
		return []error{ErrTimeout, e.Err}
	}
	return []error{ErrDatastore, e.Err}
}

func (e *StoreError) timedOut() bool {
	return errors.Is(e.Err, context.DeadlineExceeded) || errors.Is(e.Err, ErrTimeout)
}

// WrapStore classifies a store error. Business errors coming out of a store
// (duplicate row, duplicate pending unlock) pass through untouched.
func WrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	var we *WorkflowError
	var se *StoreError
	if errors.As(err, &we) || errors.As(err, &se) ||
		errors.Is(err, ErrConflict) || errors.Is(err, ErrValidation) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsClientError returns true if the error is due to the caller's input or
// identity rather than the system.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrNotFound)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
