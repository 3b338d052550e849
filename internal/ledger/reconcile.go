package ledger

import (
	"context"
	"errors"
	"maps"
	"slices"

	"golang.org/x/sync/errgroup"

	"finapp/internal/core"
	"finapp/internal/log"
	"finapp/internal/storage"
)

// Drift describes a stored aggregate that disagrees with its entries.
type Drift struct {
	UserID   string
	Period   string
	Stored   core.MonthlyAggregate
	Expected core.MonthlyAggregate
}

// Reconciler recomputes monthly aggregates from the entry log. It only
// reports; repairing is left to an operator.
type Reconciler struct {
	store   storage.Store
	metrics *Metrics
	logger  *log.Logger
}

func NewReconciler(store storage.Store, metrics *Metrics, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.Nop()
	}
	return &Reconciler{store: store, metrics: metrics, logger: logger.WithComponent(log.ComponentReconcile)}
}

const reconcileAttempts = 3

// VerifyMonthlyAggregate returns nil when the stored aggregate for period
// matches the entries. A write landing during the check restarts it.
func (r *Reconciler) VerifyMonthlyAggregate(ctx context.Context, userID, period string) (*Drift, error) {
	period, err := core.ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	for attempt := 0; attempt < reconcileAttempts; attempt++ {
		before, err := r.readAggregate(ctx, userID, period)
		if err != nil {
			return nil, err
		}
		entries, err := listEntries(ctx, r.store, userID, period)
		if err != nil {
			return nil, err
		}
		after, err := r.readAggregate(ctx, userID, period)
		if err != nil {
			return nil, err
		}
		if before.EntryCount != after.EntryCount || !before.UpdatedAt.Equal(after.UpdatedAt) {
			continue
		}

		expected, err := Recompute(period, entries)
		if err != nil {
			return nil, err
		}
		if sameTotals(after, expected) {
			return nil, nil
		}
		d := &Drift{UserID: userID, Period: period, Stored: after, Expected: expected}
		r.report(ctx, d)
		return d, nil
	}
	return nil, core.Conflict("aggregate kept changing during reconciliation", nil)
}

// VerifyUser checks every period that has either entries or an aggregate.
func (r *Reconciler) VerifyUser(ctx context.Context, userID string) ([]Drift, error) {
	var (
		entries []core.LedgerEntry
		stored  = map[string]core.MonthlyAggregate{}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entries, err = listEntries(gctx, r.store, userID, "")
		return err
	})
	g.Go(func() error {
		snaps, err := r.store.List(gctx, storage.MonthlyStatsCollection(userID))
		if err != nil {
			return storeError(err, "user not found")
		}
		for _, s := range snaps {
			agg := core.NewMonthlyAggregate(s.ID())
			if err := s.DataTo(&agg); err != nil {
				return unreadable("stored aggregate", err)
			}
			stored[s.ID()] = agg
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byPeriod := map[string][]core.LedgerEntry{}
	for _, e := range entries {
		byPeriod[e.Period] = append(byPeriod[e.Period], e)
	}
	periods := slices.Sorted(maps.Keys(byPeriod))
	for p := range stored {
		if _, ok := byPeriod[p]; !ok {
			periods = append(periods, p)
		}
	}
	slices.Sort(periods)

	var suspects []string
	for _, p := range periods {
		expected, err := Recompute(p, byPeriod[p])
		if err != nil {
			return nil, err
		}
		agg, ok := stored[p]
		if !ok {
			agg = core.NewMonthlyAggregate(p)
		}
		if !sameTotals(agg, expected) {
			suspects = append(suspects, p)
		}
	}

	// The two listings above are not one snapshot, so confirm each suspect.
	var drifts []Drift
	for _, p := range suspects {
		d, err := r.VerifyMonthlyAggregate(ctx, userID, p)
		if err != nil {
			return drifts, err
		}
		if d != nil {
			drifts = append(drifts, *d)
		}
	}
	return drifts, nil
}

// Recompute folds entries into a fresh aggregate for period.
func Recompute(period string, entries []core.LedgerEntry) (core.MonthlyAggregate, error) {
	agg := core.NewMonthlyAggregate(period)
	for _, e := range entries {
		total, err := agg.Total.Add(e.Amount)
		if err != nil {
			return core.MonthlyAggregate{}, core.Invalid("entry amounts overflow", err)
		}
		sub, err := agg.Subtotals[e.Category].Add(e.Amount)
		if err != nil {
			return core.MonthlyAggregate{}, core.Invalid("entry amounts overflow", err)
		}
		agg.Total = total
		agg.Subtotals[e.Category] = sub
		agg.EntryCount++
	}
	return agg, nil
}

func sameTotals(a, b core.MonthlyAggregate) bool {
	return a.Total == b.Total &&
		a.EntryCount == b.EntryCount &&
		maps.Equal(a.Subtotals, b.Subtotals)
}

func (r *Reconciler) readAggregate(ctx context.Context, userID, period string) (core.MonthlyAggregate, error) {
	agg := core.NewMonthlyAggregate(period)
	err := r.store.Get(ctx, storage.MonthlyStatsPath(userID, period), &agg)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return core.MonthlyAggregate{}, storeError(err, "monthly aggregate not found")
	}
	if agg.Subtotals == nil {
		agg.Subtotals = map[string]core.Money{}
	}
	return agg, nil
}

func (r *Reconciler) report(ctx context.Context, d *Drift) {
	r.metrics.drift()
	r.logger.WarnContext(ctx, "Monthly aggregate drift detected",
		log.FieldUserID, d.UserID,
		log.FieldPeriod, d.Period,
		"stored_total_cents", d.Stored.Total.Cents,
		"expected_total_cents", d.Expected.Total.Cents,
		"stored_entry_count", d.Stored.EntryCount,
		"expected_entry_count", d.Expected.EntryCount)
}
