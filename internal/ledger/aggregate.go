package ledger

import (
	"context"
	"errors"
	"time"

	"finapp/internal/core"
	"finapp/internal/storage"
)

// AggregateUpdater folds one entry into its monthly rollup. It is the only
// code that writes users/{userId}/monthlyStats documents.
type AggregateUpdater struct {
	now func() time.Time
}

func NewAggregateUpdater(now func() time.Time) *AggregateUpdater {
	if now == nil {
		now = time.Now
	}
	return &AggregateUpdater{now: now}
}

// Apply must run inside tx: the read and the write below are only safe
// against the transaction's snapshot.
func (u *AggregateUpdater) Apply(ctx context.Context, tx storage.Tx, userID, period string, amount core.Money, category string) (core.MonthlyAggregate, error) {
	path := storage.MonthlyStatsPath(userID, period)

	agg := core.NewMonthlyAggregate(period)
	if err := tx.Get(ctx, path, &agg); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return core.MonthlyAggregate{}, storeError(err, "monthly aggregate not found")
	}
	if agg.Subtotals == nil {
		agg.Subtotals = map[string]core.Money{}
	}

	total, err := agg.Total.Add(amount)
	if err != nil {
		return core.MonthlyAggregate{}, core.Invalid("monthly total would overflow", err)
	}
	sub, err := agg.Subtotals[category].Add(amount)
	if err != nil {
		return core.MonthlyAggregate{}, core.Invalid("category subtotal would overflow", err)
	}

	agg.Period = period
	agg.Total = total
	agg.Subtotals[category] = sub
	agg.EntryCount++
	agg.UpdatedAt = u.now().UTC()

	if err := tx.Set(path, agg); err != nil {
		return core.MonthlyAggregate{}, storeError(err, "monthly aggregate not found")
	}
	return agg, nil
}
