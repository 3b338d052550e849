package ledger

import (
	"context"
	"errors"
	"fmt"

	"finapp/internal/core"
	"finapp/internal/storage"
)

var (
	ErrGoalAbandoned = errors.New("goal abandoned")
	ErrGoalCompleted = errors.New("goal completed")
	ErrKeyReused     = errors.New("idempotency key reused for a different operation")
	ErrKeyMismatch   = errors.New("idempotency key reused with a different payload")

	// ErrUnreadableDocument marks a stored document that no longer decodes.
	// It is never retried and surfaces as an internal failure.
	ErrUnreadableDocument = errors.New("stored document is unreadable")
)

// storeError converts storage failures into core kinds. Conflicts are
// returned untouched so the coordinator can retry them. Only transient
// failures become StoreUnavailable; anything unclassified stays internal.
func storeError(err error, notFoundMsg string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrConflict), core.Kind(err) != nil:
		return err
	case errors.Is(err, storage.ErrNotFound):
		return core.NotFound(notFoundMsg, err)
	case errors.Is(err, storage.ErrAlreadyExists):
		return core.AlreadyExists("document already exists", err)
	case errors.Is(err, storage.ErrUnavailable):
		return core.Unavailable("storage is temporarily unavailable", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return core.Unavailable("request cancelled or timed out", err)
	default:
		return fmt.Errorf("unexpected storage failure: %w", err)
	}
}

func unreadable(what string, err error) error {
	return fmt.Errorf("%s: %w: %w", what, ErrUnreadableDocument, err)
}
