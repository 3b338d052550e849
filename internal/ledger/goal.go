package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"finapp/internal/core"
	"finapp/internal/storage"
)

// GoalUpdater owns every write to users/{userId}/goals documents.
//
// Status moves active -> completed exactly once, when Current first reaches
// Target. Completed goals keep accepting contributions and never reopen.
// Abandoned goals reject contributions.
type GoalUpdater struct {
	now   func() time.Time
	newID func() string
}

func NewGoalUpdater(now func() time.Time, newID func() string) *GoalUpdater {
	if now == nil {
		now = time.Now
	}
	if newID == nil {
		newID = uuid.NewString
	}
	return &GoalUpdater{now: now, newID: newID}
}

// ApplyContribution adds amount to the goal and reports whether this call
// completed it.
func (u *GoalUpdater) ApplyContribution(ctx context.Context, tx storage.Tx, userID, goalID string, amount core.Money) (core.Goal, bool, error) {
	if err := amount.Validate(); err != nil {
		return core.Goal{}, false, core.Invalid("contribution must be a non-negative monetary value", err)
	}

	path := storage.GoalPath(userID, goalID)
	var g core.Goal
	if err := tx.Get(ctx, path, &g); err != nil {
		return core.Goal{}, false, storeError(err, "goal not found")
	}
	if g.Status == core.GoalAbandoned {
		return core.Goal{}, false, core.Invalid("goal has been abandoned", ErrGoalAbandoned)
	}

	current, err := g.Current.Add(amount)
	if err != nil {
		return core.Goal{}, false, core.Invalid("goal amount would overflow", err)
	}
	now := u.now().UTC()
	g.Current = current
	g.Progress = core.ComputeProgress(g.Current, g.Target)
	g.UpdatedAt = now

	completed := false
	if g.Status == core.GoalActive && g.Current.Cents >= g.Target.Cents {
		g.Status = core.GoalCompleted
		g.CompletedAt = &now
		completed = true
	}

	if err := tx.Set(path, g); err != nil {
		return core.Goal{}, false, storeError(err, "goal not found")
	}
	return g, completed, nil
}

// Create stages a new active goal for an existing user.
func (u *GoalUpdater) Create(ctx context.Context, tx storage.Tx, userID string, in core.GoalInput) (core.Goal, error) {
	if err := in.Validate(); err != nil {
		return core.Goal{}, err
	}
	var usr core.User
	if err := tx.Get(ctx, storage.UserPath(userID), &usr); err != nil {
		return core.Goal{}, storeError(err, "user not found")
	}

	now := u.now().UTC()
	g := core.Goal{
		ID:        u.newID(),
		Title:     strings.TrimSpace(in.Title),
		Target:    in.Target,
		Status:    core.GoalActive,
		Deadline:  in.Deadline.UTC(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	g.Progress = core.ComputeProgress(g.Current, g.Target)

	if err := tx.Create(storage.GoalPath(userID, g.ID), g); err != nil {
		return core.Goal{}, storeError(err, "user not found")
	}
	return g, nil
}

// Abandon moves an active goal to abandoned. Abandoning twice is a no-op.
func (u *GoalUpdater) Abandon(ctx context.Context, tx storage.Tx, userID, goalID string) (core.Goal, error) {
	path := storage.GoalPath(userID, goalID)
	var g core.Goal
	if err := tx.Get(ctx, path, &g); err != nil {
		return core.Goal{}, storeError(err, "goal not found")
	}
	switch g.Status {
	case core.GoalAbandoned:
		return g, nil
	case core.GoalCompleted:
		return core.Goal{}, core.Invalid("completed goals cannot be abandoned", ErrGoalCompleted)
	}

	g.Status = core.GoalAbandoned
	g.UpdatedAt = u.now().UTC()
	if err := tx.Set(path, g); err != nil {
		return core.Goal{}, storeError(err, "goal not found")
	}
	return g, nil
}
