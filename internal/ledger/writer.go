package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"finapp/internal/core"
	"finapp/internal/storage"
)

// Writer stages immutable ledger entries. It never touches aggregates.
type Writer struct {
	now   func() time.Time
	newID func() string
}

func NewWriter(now func() time.Time, newID func() string) *Writer {
	if now == nil {
		now = time.Now
	}
	if newID == nil {
		newID = uuid.NewString
	}
	return &Writer{now: now, newID: newID}
}

// AppendEntry stages an expense under users/{userID}/expenses. The user
// document must exist in the transaction's snapshot.
func (w *Writer) AppendEntry(ctx context.Context, tx storage.Tx, userID string, in core.ExpenseInput) (core.LedgerEntry, error) {
	if err := in.Validate(); err != nil {
		return core.LedgerEntry{}, err
	}
	var u core.User
	if err := tx.Get(ctx, storage.UserPath(userID), &u); err != nil {
		return core.LedgerEntry{}, storeError(err, "user not found")
	}

	entry := w.newEntry(core.EntryExpense, in.Amount, in.OccurredAt)
	entry.Category = strings.TrimSpace(in.Category)
	entry.Description = strings.TrimSpace(in.Description)
	entry.Icon = in.Icon

	if err := tx.Create(storage.ExpensePath(userID, entry.ID), entry); err != nil {
		return core.LedgerEntry{}, storeError(err, "user not found")
	}
	return entry, nil
}

// AppendContribution stages a contribution under the goal it funds. The
// caller is responsible for having read the goal in the same transaction.
func (w *Writer) AppendContribution(ctx context.Context, tx storage.Tx, userID, goalID string, in core.ContributionInput) (core.LedgerEntry, error) {
	if err := in.Validate(); err != nil {
		return core.LedgerEntry{}, err
	}
	entry := w.newEntry(core.EntryContribution, in.Amount, in.OccurredAt)
	entry.GoalID = goalID
	entry.Description = strings.TrimSpace(in.Note)

	if err := tx.Create(storage.ContributionPath(userID, goalID, entry.ID), entry); err != nil {
		return core.LedgerEntry{}, storeError(err, "goal not found")
	}
	return entry, nil
}

func (w *Writer) newEntry(kind core.EntryKind, amount core.Money, occurredAt time.Time) core.LedgerEntry {
	written := w.now().UTC()
	if occurredAt.IsZero() {
		occurredAt = written
	}
	return core.LedgerEntry{
		ID:         w.newID(),
		Kind:       kind,
		Amount:     amount,
		Period:     core.PeriodOf(occurredAt),
		OccurredAt: occurredAt.UTC(),
		WrittenAt:  written,
	}
}
