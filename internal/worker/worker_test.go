package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finapp/internal/core"
	"finapp/internal/events"
	"finapp/internal/ledger"
	"finapp/internal/notify"
	"finapp/internal/storage"
	"finapp/internal/storage/memory"
)

type recordingNotifier struct {
	sent []notify.Message
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, _ core.User, msg notify.Message) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

type setup struct {
	store    *memory.Store
	coord    *ledger.Coordinator
	metrics  *ledger.Metrics
	notifier *recordingNotifier
	worker   *Worker
}

func newSetup(t *testing.T) *setup {
	t.Helper()
	s := &setup{
		store:    memory.New(),
		metrics:  ledger.NewMetrics(prometheus.NewRegistry()),
		notifier: &recordingNotifier{},
	}
	s.coord = ledger.NewCoordinator(s.store)
	s.worker = New(ledger.NewReconciler(s.store, s.metrics, nil), s.coord, s.notifier, nil)
	return s
}

func TestHandle_GoalCompletedNotifies(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()

	on, err := s.coord.CreateUser(ctx, "On", "on@example.com", core.Settings{Notifications: true})
	require.NoError(t, err)
	off, err := s.coord.CreateUser(ctx, "Off", "off@example.com", core.Settings{Notifications: false})
	require.NoError(t, err)

	for _, u := range []core.User{on, off} {
		g, err := s.coord.CreateGoal(ctx, u.ID, core.GoalInput{Title: "Bike", Target: core.Money{Cents: 100}})
		require.NoError(t, err)
		res, err := s.coord.RecordGoalContribution(ctx, u.ID, g.ID, core.ContributionInput{Amount: core.Money{Cents: 100}})
		require.NoError(t, err)
		require.True(t, res.Completed)

		e := events.New(events.GoalCompleted, u.ID)
		e.GoalID = g.ID
		require.NoError(t, s.worker.Handle(ctx, e))
	}

	require.Len(t, s.notifier.sent, 1)
	assert.Equal(t, "Goal reached", s.notifier.sent[0].Title)
}

func TestHandle_NotifierFailureIsRetried(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()
	s.notifier.err = errors.New("fcm unavailable")

	u, err := s.coord.CreateUser(ctx, "On", "on@example.com", core.Settings{Notifications: true})
	require.NoError(t, err)
	g, err := s.coord.CreateGoal(ctx, u.ID, core.GoalInput{Title: "Bike", Target: core.Money{Cents: 100}})
	require.NoError(t, err)

	e := events.New(events.GoalCompleted, u.ID)
	e.GoalID = g.ID
	assert.Error(t, s.worker.Handle(ctx, e))
}

func TestHandle_MissingTargetsAreDropped(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()

	e := events.New(events.GoalCompleted, "ghost")
	e.GoalID = "g"
	assert.NoError(t, s.worker.Handle(ctx, e))

	bad := events.New(events.ExpenseRecorded, "u")
	bad.Period = "not-a-period"
	assert.NoError(t, s.worker.Handle(ctx, bad))

	assert.NoError(t, s.worker.Handle(ctx, events.Event{Type: "something.else"}))
}

func TestHandle_ExpenseRecordedReconciles(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()

	u, err := s.coord.CreateUser(ctx, "A", "a@example.com", core.Settings{})
	require.NoError(t, err)
	res, err := s.coord.RecordExpense(ctx, u.ID, core.ExpenseInput{Amount: core.Money{Cents: 500}, Category: "food"})
	require.NoError(t, err)

	e := events.New(events.ExpenseRecorded, u.ID)
	e.Period = res.Entry.Period
	require.NoError(t, s.worker.Handle(ctx, e))
	assert.Zero(t, testutil.ToFloat64(s.metrics.Drift))

	broken := core.NewMonthlyAggregate(res.Entry.Period)
	broken.Total = core.Money{Cents: 1}
	require.NoError(t, s.store.Set(ctx, storage.MonthlyStatsPath(u.ID, res.Entry.Period), broken))
	require.NoError(t, s.worker.Handle(ctx, e))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.Drift))
}

func TestSweep(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()

	for _, email := range []string{"a@example.com", "b@example.com"} {
		u, err := s.coord.CreateUser(ctx, "X", email, core.Settings{})
		require.NoError(t, err)
		_, err = s.coord.RecordExpense(ctx, u.ID, core.ExpenseInput{Amount: core.Money{Cents: 100}, Category: "food", OccurredAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)})
		require.NoError(t, err)
	}
	ids, err := s.coord.ListUserIDs(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	require.NoError(t, s.store.Set(ctx, storage.MonthlyStatsPath(ids[0], "2024-03"), core.NewMonthlyAggregate("2024-03")))

	require.NoError(t, s.worker.Sweep(ctx))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.Drift))
}
