package ledger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"finapp/internal/core"
	"finapp/internal/events"
	"finapp/internal/storage"
	"finapp/internal/storage/memory"
)

var fixedNow = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

type fixture struct {
	store   *memory.Store
	coord   *Coordinator
	metrics *Metrics
	events  *recordingPublisher
	userID  string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:   memory.New(),
		metrics: NewMetrics(prometheus.NewRegistry()),
		events:  &recordingPublisher{},
	}
	base := []Option{
		WithClock(fixedClock),
		WithMetrics(f.metrics),
		WithPublisher(f.events),
		WithRetryPolicy(RetryPolicy{MaxAttempts: 5}),
	}
	f.coord = NewCoordinator(f.store, append(base, opts...)...)

	u, err := f.coord.CreateUser(context.Background(), "Ada", "ada@example.com", core.Settings{Notifications: true})
	require.NoError(t, err)
	f.userID = u.ID
	return f
}

func (f *fixture) expense(t *testing.T, amount, category string) ExpenseResult {
	t.Helper()
	res, err := f.coord.RecordExpense(context.Background(), f.userID, core.ExpenseInput{
		Amount:     mustAmount(t, amount),
		Category:   category,
		OccurredAt: time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) goal(t *testing.T, target string) core.Goal {
	t.Helper()
	g, err := f.coord.CreateGoal(context.Background(), f.userID, core.GoalInput{
		Title:  "Holiday",
		Target: mustAmount(t, target),
	})
	require.NoError(t, err)
	return g
}

func mustAmount(t *testing.T, s string) core.Money {
	t.Helper()
	m, err := core.ParseAmount(s)
	require.NoError(t, err)
	return m
}

func cents(c int64) core.Money { return core.Money{Cents: c} }

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// interferingStore commits an unrelated write to path between a
// transaction's reads and its commit, for the first n transactions.
type interferingStore struct {
	*memory.Store
	path string

	mu sync.Mutex
	n  int
}

func (s *interferingStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	return s.Store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.n == 0 {
			return nil
		}
		s.n--
		var doc map[string]any
		if err := s.Store.Get(ctx, s.path, &doc); err != nil {
			return err
		}
		return s.Store.Set(ctx, s.path, doc)
	})
}

// failingStore makes every transactional Set under a matching path fail.
type failingStore struct {
	*memory.Store
	match string
}

var errInjected = errors.New("injected write failure")

func (s *failingStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	return s.Store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		return fn(ctx, failingTx{Tx: tx, match: s.match})
	})
}

type failingTx struct {
	storage.Tx
	match string
}

func (t failingTx) Set(path string, src any) error {
	if strings.Contains(path, t.match) {
		return storage.Unavailable("set "+path, errInjected)
	}
	return t.Tx.Set(path, src)
}
