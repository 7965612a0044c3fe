package reconciler

import (
	"context"
	"errors"
	"fmt"

	"github.com/blackwell-systems/cratesync/internal/catalog"
	"github.com/blackwell-systems/cratesync/internal/store"
)

// TransactionError is returned when the pass transaction could not be
// opened or committed, or when another writer held the database lock.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("import transaction %s: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

// Retryable reports whether re-running the whole pass can succeed. Passes
// are idempotent for a given source snapshot, so lock conflicts are safe to
// retry; the reconciler never retries by itself.
func (e *TransactionError) Retryable() bool {
	return errors.Is(e.Err, store.ErrBusy)
}

// IsSourceError reports whether err came from the record source.
func IsSourceError(err error) bool {
	var se *catalog.SourceError
	return errors.As(err, &se)
}

// IsConstraintViolation reports whether err is a broken uniqueness or
// referential rule. Inside a pass this is a reconciler defect.
func IsConstraintViolation(err error) bool {
	return errors.Is(err, store.ErrConstraintViolation)
}

// IsRetryable reports whether the caller may re-run the pass.
func IsRetryable(err error) bool {
	if IsSourceError(err) {
		return true
	}
	var te *TransactionError
	return errors.As(err, &te) && te.Retryable()
}

// sourceError normalizes a failure of Source.Next.
func sourceError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("import cancelled: %w", err)
	}
	var se *catalog.SourceError
	if errors.As(err, &se) {
		return se
	}
	return &catalog.SourceError{Err: err}
}

// storeError sorts a store failure into the error kinds callers act on.
func storeError(op string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("import cancelled: %w", err)
	case errors.Is(err, store.ErrConstraintViolation):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, store.ErrBusy):
		return &TransactionError{Op: op, Err: err}
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
