// Package storagetest holds the behavioural contract every storage.Store
// implementation must satisfy.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"finapp/internal/storage"
)

type Options struct {
	// SkipInterleavedWrite skips the test that writes outside a transaction
	// while it is open. Stores with server-side locking block on it.
	SkipInterleavedWrite bool
}

type counter struct {
	N int `json:"n" firestore:"n"`
}

// Run executes the contract against stores built by newStore. Each subtest
// gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store, opts Options) {
	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		var c counter
		err := s.Get(context.Background(), "things/missing", &c)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("set then get", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "things/a", counter{N: 3}))
		require.NoError(t, s.Set(ctx, "things/a", counter{N: 4}))
		var c counter
		require.NoError(t, s.Get(ctx, "things/a", &c))
		assert.Equal(t, 4, c.N)
	})

	t.Run("list returns direct children ordered by id", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "users/u1/monthlyStats/2024-02", counter{N: 2}))
		require.NoError(t, s.Set(ctx, "users/u1/monthlyStats/2024-01", counter{N: 1}))
		require.NoError(t, s.Set(ctx, "users/u1/monthlyStats/2024-01/nested/x", counter{N: 9}))
		require.NoError(t, s.Set(ctx, "users/u2/monthlyStats/2024-01", counter{N: 7}))

		snaps, err := s.List(ctx, "users/u1/monthlyStats")
		require.NoError(t, err)
		require.Len(t, snaps, 2)
		assert.Equal(t, "2024-01", snaps[0].ID())
		assert.Equal(t, "2024-02", snaps[1].ID())
		var c counter
		require.NoError(t, snaps[1].DataTo(&c))
		assert.Equal(t, 2, c.N)
	})

	t.Run("transaction commits all writes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		err := s.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
			var c counter
			if err := tx.Get(ctx, "things/a", &c); !errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("expected not found, got %v", err)
			}
			if err := tx.Create("things/a", counter{N: 1}); err != nil {
				return err
			}
			// read-your-writes
			if err := tx.Get(ctx, "things/a", &c); err != nil || c.N != 1 {
				return fmt.Errorf("staged read: n=%d err=%v", c.N, err)
			}
			return tx.Set("things/b", counter{N: 2})
		})
		require.NoError(t, err)

		var a, b counter
		require.NoError(t, s.Get(ctx, "things/a", &a))
		require.NoError(t, s.Get(ctx, "things/b", &b))
		assert.Equal(t, 1, a.N)
		assert.Equal(t, 2, b.N)
	})

	t.Run("failed transaction leaves no writes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		boom := errors.New("boom")
		err := s.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
			if err := tx.Create("things/a", counter{N: 1}); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)
		var c counter
		assert.ErrorIs(t, s.Get(ctx, "things/a", &c), storage.ErrNotFound)
	})

	t.Run("create existing document", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "things/a", counter{N: 1}))
		err := s.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
			return tx.Create("things/a", counter{N: 2})
		})
		require.ErrorIs(t, err, storage.ErrAlreadyExists)
		var c counter
		require.NoError(t, s.Get(ctx, "things/a", &c))
		assert.Equal(t, 1, c.N)
	})

	t.Run("interleaved write conflicts", func(t *testing.T) {
		if opts.SkipInterleavedWrite {
			t.Skip("store locks documents read by open transactions")
		}
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "things/a", counter{N: 1}))
		err := s.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
			var c counter
			if err := tx.Get(ctx, "things/a", &c); err != nil {
				return err
			}
			if err := s.Set(ctx, "things/a", counter{N: 10}); err != nil {
				return err
			}
			return tx.Set("things/a", counter{N: c.N + 1})
		})
		require.ErrorIs(t, err, storage.ErrConflict)
		var c counter
		require.NoError(t, s.Get(ctx, "things/a", &c))
		assert.Equal(t, 10, c.N, "the conflicting write must not be overwritten")
	})

	t.Run("concurrent increments are not lost", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		const writers = 8
		var g errgroup.Group
		for i := 0; i < writers; i++ {
			g.Go(func() error {
				for {
					err := s.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
						var c counter
						if err := tx.Get(ctx, "things/counter", &c); err != nil && !errors.Is(err, storage.ErrNotFound) {
							return err
						}
						return tx.Set("things/counter", counter{N: c.N + 1})
					})
					if errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrAlreadyExists) {
						continue
					}
					return err
				}
			})
		}
		require.NoError(t, g.Wait())
		var c counter
		require.NoError(t, s.Get(ctx, "things/counter", &c))
		assert.Equal(t, writers, c.N)
	})
}
