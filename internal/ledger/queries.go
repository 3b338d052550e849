package ledger

import (
	"context"
	"errors"

	"finapp/internal/core"
	"finapp/internal/storage"
)

// GetMonthlyAggregate returns the stored rollup, or a zero one when the
// period has no entries yet.
func (c *Coordinator) GetMonthlyAggregate(ctx context.Context, userID, period string) (core.MonthlyAggregate, error) {
	if _, err := c.GetUser(ctx, userID); err != nil {
		return core.MonthlyAggregate{}, err
	}
	period, err := core.ParsePeriod(period)
	if err != nil {
		return core.MonthlyAggregate{}, err
	}
	agg := core.NewMonthlyAggregate(period)
	err = c.store.Get(ctx, storage.MonthlyStatsPath(userID, period), &agg)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return core.MonthlyAggregate{}, storeError(err, "monthly aggregate not found")
	}
	return agg, nil
}

// ListMonthlyAggregates returns stored rollups with from <= period <= to,
// oldest first. Empty bounds are open.
func (c *Coordinator) ListMonthlyAggregates(ctx context.Context, userID, from, to string) ([]core.MonthlyAggregate, error) {
	if _, err := c.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	var err error
	if from != "" {
		if from, err = core.ParsePeriod(from); err != nil {
			return nil, err
		}
	}
	if to != "" {
		if to, err = core.ParsePeriod(to); err != nil {
			return nil, err
		}
	}
	if from != "" && to != "" && from > to {
		return nil, core.Invalid("from must not be after to", nil)
	}

	snaps, err := c.store.List(ctx, storage.MonthlyStatsCollection(userID))
	if err != nil {
		return nil, storeError(err, "user not found")
	}
	out := make([]core.MonthlyAggregate, 0, len(snaps))
	for _, s := range snaps {
		id := s.ID()
		if (from != "" && id < from) || (to != "" && id > to) {
			continue
		}
		agg := core.NewMonthlyAggregate(id)
		if err := s.DataTo(&agg); err != nil {
			return nil, unreadable("stored aggregate", err)
		}
		out = append(out, agg)
	}
	return out, nil
}

func (c *Coordinator) GetGoal(ctx context.Context, userID, goalID string) (core.Goal, error) {
	if err := core.ValidateUserID(userID); err != nil {
		return core.Goal{}, err
	}
	if err := validateDocID(goalID, "goal id is required"); err != nil {
		return core.Goal{}, err
	}
	var g core.Goal
	if err := c.store.Get(ctx, storage.GoalPath(userID, goalID), &g); err != nil {
		return core.Goal{}, storeError(err, "goal not found")
	}
	return g, nil
}

func (c *Coordinator) ListGoals(ctx context.Context, userID string) ([]core.Goal, error) {
	if _, err := c.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	snaps, err := c.store.List(ctx, storage.GoalsCollection(userID))
	if err != nil {
		return nil, storeError(err, "user not found")
	}
	goals := make([]core.Goal, 0, len(snaps))
	for _, s := range snaps {
		var g core.Goal
		if err := s.DataTo(&g); err != nil {
			return nil, unreadable("stored goal", err)
		}
		goals = append(goals, g)
	}
	return goals, nil
}

// ListContributions returns the contribution entries of a goal, ordered by id.
func (c *Coordinator) ListContributions(ctx context.Context, userID, goalID string) ([]core.LedgerEntry, error) {
	if _, err := c.GetGoal(ctx, userID, goalID); err != nil {
		return nil, err
	}
	snaps, err := c.store.List(ctx, storage.ContributionsCollection(userID, goalID))
	if err != nil {
		return nil, storeError(err, "goal not found")
	}
	entries := make([]core.LedgerEntry, 0, len(snaps))
	for _, s := range snaps {
		var e core.LedgerEntry
		if err := s.DataTo(&e); err != nil {
			return nil, unreadable("stored contribution", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ListEntries returns the expenses recorded for period, or all of them when
// period is empty.
func (c *Coordinator) ListEntries(ctx context.Context, userID, period string) ([]core.LedgerEntry, error) {
	if _, err := c.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	if period != "" {
		var err error
		if period, err = core.ParsePeriod(period); err != nil {
			return nil, err
		}
	}
	return listEntries(ctx, c.store, userID, period)
}

func listEntries(ctx context.Context, store storage.Store, userID, period string) ([]core.LedgerEntry, error) {
	snaps, err := store.List(ctx, storage.ExpensesCollection(userID))
	if err != nil {
		return nil, storeError(err, "user not found")
	}
	entries := make([]core.LedgerEntry, 0, len(snaps))
	for _, s := range snaps {
		var e core.LedgerEntry
		if err := s.DataTo(&e); err != nil {
			return nil, unreadable("stored entry", err)
		}
		if period != "" && e.Period != period {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ListUserIDs returns the ids of every stored user, ordered.
func (c *Coordinator) ListUserIDs(ctx context.Context) ([]string, error) {
	snaps, err := c.store.List(ctx, storage.UsersCollection)
	if err != nil {
		return nil, storeError(err, "users not found")
	}
	ids := make([]string, 0, len(snaps))
	for _, s := range snaps {
		ids = append(ids, s.ID())
	}
	return ids, nil
}
