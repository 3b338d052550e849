package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"finapp/internal/core"
	"finapp/internal/events"
	"finapp/internal/storage"
)

func contribute(t *testing.T, f *fixture, goalID string, amount int64) ContributionResult {
	t.Helper()
	res, err := f.coord.RecordGoalContribution(context.Background(), f.userID, goalID, core.ContributionInput{Amount: cents(amount)})
	require.NoError(t, err)
	return res
}

func TestGoalContribution_Scenario(t *testing.T) {
	f := newFixture(t)
	g := f.goal(t, "1000")
	assert.Equal(t, core.GoalActive, g.Status)
	assert.Zero(t, g.Progress)

	res := contribute(t, f, g.ID, 25000)
	assert.Equal(t, cents(25000), res.Goal.Current)
	assert.InDelta(t, 0.25, res.Goal.Progress, 1e-9)
	assert.Equal(t, core.GoalActive, res.Goal.Status)
	assert.False(t, res.Completed)

	res = contribute(t, f, g.ID, 80000)
	assert.Equal(t, cents(105000), res.Goal.Current, "overshoot is kept")
	assert.Equal(t, 1.0, res.Goal.Progress)
	assert.Equal(t, core.GoalCompleted, res.Goal.Status)
	assert.True(t, res.Completed)
	require.NotNil(t, res.Goal.CompletedAt)
	assert.Equal(t, fixedNow, *res.Goal.CompletedAt)

	stored, err := f.coord.GetGoal(context.Background(), f.userID, g.ID)
	require.NoError(t, err)
	assert.Equal(t, cents(105000), stored.Current)
	assert.Equal(t, core.GoalCompleted, stored.Status)

	assert.Equal(t, []events.Type{events.GoalContributed, events.GoalContributed, events.GoalCompleted}, f.events.types())
}

func TestGoalContribution_ConcurrentContributors(t *testing.T) {
	f := newFixture(t, WithRetryPolicy(RetryPolicy{MaxAttempts: 100, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}))
	ctx := context.Background()
	g := f.goal(t, "10")

	const contributors = 16
	var eg errgroup.Group
	for range contributors {
		eg.Go(func() error {
			_, err := f.coord.RecordGoalContribution(ctx, f.userID, g.ID, core.ContributionInput{Amount: cents(100)})
			return err
		})
	}
	require.NoError(t, eg.Wait())

	stored, err := f.coord.GetGoal(ctx, f.userID, g.ID)
	require.NoError(t, err)
	assert.Equal(t, cents(contributors*100), stored.Current, "no contribution lost")
	assert.Equal(t, core.ComputeProgress(stored.Current, stored.Target), stored.Progress)
	assert.Equal(t, core.GoalCompleted, stored.Status)

	entries, err := f.coord.ListContributions(ctx, f.userID, g.ID)
	require.NoError(t, err)
	assert.Len(t, entries, contributors)

	var contributed, completed int
	for _, typ := range f.events.types() {
		switch typ {
		case events.GoalContributed:
			contributed++
		case events.GoalCompleted:
			completed++
		}
	}
	assert.Equal(t, contributors, contributed)
	assert.Equal(t, 1, completed, "completion is published once")
}

func TestGoalContribution_CompletedStaysCompleted(t *testing.T) {
	f := newFixture(t)
	g := f.goal(t, "10")

	first := contribute(t, f, g.ID, 1000)
	require.True(t, first.Completed)

	res := contribute(t, f, g.ID, 500)
	assert.False(t, res.Completed, "completion fires once")
	assert.Equal(t, core.GoalCompleted, res.Goal.Status)
	assert.Equal(t, cents(1500), res.Goal.Current)
	assert.Equal(t, 1.0, res.Goal.Progress)
	assert.Equal(t, first.Goal.CompletedAt, res.Goal.CompletedAt)

	completedEvents := 0
	for _, typ := range f.events.types() {
		if typ == events.GoalCompleted {
			completedEvents++
		}
	}
	assert.Equal(t, 1, completedEvents)

	_, err := f.coord.AbandonGoal(context.Background(), f.userID, g.ID)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestGoalContribution_Monotonic(t *testing.T) {
	f := newFixture(t)
	g := f.goal(t, "100")

	var last int64
	for _, amount := range []int64{0, 1, 2999, 5000, 0, 7000} {
		res := contribute(t, f, g.ID, amount)
		assert.GreaterOrEqual(t, res.Goal.Current.Cents, last)
		assert.Equal(t, core.ComputeProgress(res.Goal.Current, res.Goal.Target), res.Goal.Progress)
		last = res.Goal.Current.Cents
	}
	assert.Equal(t, int64(15000), last)
}

func TestGoalContribution_WritesContributionEntry(t *testing.T) {
	f := newFixture(t)
	g := f.goal(t, "100")

	res, err := f.coord.RecordGoalContribution(context.Background(), f.userID, g.ID, core.ContributionInput{Amount: cents(300), Note: " birthday "})
	require.NoError(t, err)

	var entry core.LedgerEntry
	require.NoError(t, f.store.Get(context.Background(), storage.ContributionPath(f.userID, g.ID, res.Entry.ID), &entry))
	assert.Equal(t, core.EntryContribution, entry.Kind)
	assert.Equal(t, g.ID, entry.GoalID)
	assert.Equal(t, "birthday", entry.Description)
	assert.Equal(t, cents(300), entry.Amount)

	agg, err := f.coord.GetMonthlyAggregate(context.Background(), f.userID, "2024-01")
	require.NoError(t, err)
	assert.Zero(t, agg.Total.Cents, "contributions are not expenses")
}

func TestGoalContribution_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.goal(t, "100")

	_, err := f.coord.RecordGoalContribution(ctx, f.userID, "missing", core.ContributionInput{Amount: cents(1)})
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = f.coord.RecordGoalContribution(ctx, f.userID, g.ID, core.ContributionInput{Amount: cents(-5)})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	_, err = f.coord.RecordGoalContribution(ctx, f.userID, "a/b", core.ContributionInput{Amount: cents(1)})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	abandoned, err := f.coord.AbandonGoal(ctx, f.userID, g.ID)
	require.NoError(t, err)
	assert.Equal(t, core.GoalAbandoned, abandoned.Status)

	again, err := f.coord.AbandonGoal(ctx, f.userID, g.ID)
	require.NoError(t, err)
	assert.Equal(t, core.GoalAbandoned, again.Status)

	_, err = f.coord.RecordGoalContribution(ctx, f.userID, g.ID, core.ContributionInput{Amount: cents(1)})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
	assert.ErrorIs(t, err, ErrGoalAbandoned)
}

func TestGoalContribution_IdempotentReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.goal(t, "100")
	other := f.goal(t, "100")
	in := core.ContributionInput{Amount: cents(10000), IdempotencyKey: "c-1"}

	first, err := f.coord.RecordGoalContribution(ctx, f.userID, g.ID, in)
	require.NoError(t, err)
	require.True(t, first.Completed)

	second, err := f.coord.RecordGoalContribution(ctx, f.userID, g.ID, in)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.False(t, second.Completed)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)
	assert.Equal(t, cents(10000), second.Goal.Current)

	_, err = f.coord.RecordGoalContribution(ctx, f.userID, other.ID, in)
	assert.ErrorIs(t, err, ErrKeyReused)

	_, err = f.coord.RecordGoalContribution(ctx, f.userID, g.ID, core.ContributionInput{Amount: cents(500), IdempotencyKey: "c-1"})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
	assert.ErrorIs(t, err, ErrKeyMismatch)
}

func TestCreateGoal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coord.CreateGoal(ctx, f.userID, core.GoalInput{Title: "x", Target: cents(0)})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	_, err = f.coord.CreateGoal(ctx, f.userID, core.GoalInput{Title: " ", Target: cents(1)})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	_, err = f.coord.CreateGoal(ctx, "ghost", core.GoalInput{Title: "x", Target: cents(1)})
	assert.ErrorIs(t, err, core.ErrNotFound)

	a := f.goal(t, "5")
	b := f.goal(t, "6")
	goals, err := f.coord.ListGoals(ctx, f.userID)
	require.NoError(t, err)
	ids := []string{goals[0].ID, goals[1].ID}
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)
}

func TestRetryPolicyBackoff(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Zero(t, p.Backoff(0))
	assert.Equal(t, p.BaseBackoff, p.Backoff(1))
	assert.Equal(t, 2*p.BaseBackoff, p.Backoff(2))
	assert.Equal(t, 8*p.BaseBackoff, p.Backoff(4))
	assert.Equal(t, p.MaxBackoff, p.Backoff(10))

	for i := 0; i < 100; i++ {
		d := jitter(p.MaxBackoff)
		assert.GreaterOrEqual(t, d, p.MaxBackoff/2)
		assert.LessOrEqual(t, d, p.MaxBackoff)
	}

	n := RetryPolicy{MaxAttempts: 0, BaseBackoff: 50, MaxBackoff: 10}.normalized()
	assert.Equal(t, 5, n.MaxAttempts)
	assert.Equal(t, n.BaseBackoff, n.MaxBackoff)
}
