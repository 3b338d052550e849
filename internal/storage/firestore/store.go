// Package firestore adapts Cloud Firestore to storage.Store. Transactions
// run with a single attempt so the ledger owns the retry policy.
package firestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"finapp/internal/storage"
)

type Config struct {
	ProjectID       string
	CredentialsFile string
	// EmulatorHost points the client at a local emulator, e.g. localhost:8080.
	EmulatorHost string
}

type Store struct {
	client *firestore.Client
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.EmulatorHost != "" {
		// The SDK only reads the emulator address from the environment.
		if err := os.Setenv("FIRESTORE_EMULATOR_HOST", cfg.EmulatorHost); err != nil {
			return nil, fmt.Errorf("set emulator host: %w", err)
		}
		slog.InfoContext(ctx, "Using Firestore emulator", "host", cfg.EmulatorHost)
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" && cfg.EmulatorHost == "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialize firestore client: %w", err)
	}
	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Get(ctx context.Context, path string, dst any) error {
	snap, err := s.client.Doc(path).Get(ctx)
	if err != nil {
		return mapError("get "+path, err)
	}
	return snap.DataTo(dst)
}

func (s *Store) Set(ctx context.Context, path string, src any) error {
	if _, err := s.client.Doc(path).Set(ctx, src); err != nil {
		return mapError("set "+path, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, collection string) ([]storage.Snapshot, error) {
	docs, err := s.client.Collection(collection).Documents(ctx).GetAll()
	if err != nil {
		return nil, mapError("list "+collection, err)
	}
	out := make([]storage.Snapshot, len(docs))
	for i, d := range docs {
		out[i] = snapshot{d}
	}
	return out, nil
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, ftx *firestore.Transaction) error {
		tx := &transaction{client: s.client, ftx: ftx, staged: make(map[string]any)}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		// Firestore rejects reads after writes, so writes are applied last.
		for _, w := range tx.writes {
			ref := s.client.Doc(w.path)
			var err error
			if w.create {
				err = ftx.Create(ref, w.src)
			} else {
				err = ftx.Set(ref, w.src)
			}
			if err != nil {
				return err
			}
		}
		return nil
	}, firestore.MaxAttempts(1))
	if err != nil {
		return mapError("transaction", err)
	}
	return nil
}

type snapshot struct {
	*firestore.DocumentSnapshot
}

func (s snapshot) ID() string { return s.Ref.ID }

type write struct {
	path   string
	src    any
	create bool
}

type transaction struct {
	client *firestore.Client
	ftx    *firestore.Transaction
	writes []write
	staged map[string]any
}

func (t *transaction) Get(ctx context.Context, path string, dst any) error {
	if src, ok := t.staged[path]; ok {
		data, err := json.Marshal(src)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, dst)
	}
	snap, err := t.ftx.Get(t.client.Doc(path))
	if err != nil {
		return mapError("get "+path, err)
	}
	return snap.DataTo(dst)
}

func (t *transaction) Create(path string, src any) error {
	if _, ok := t.staged[path]; ok {
		return errors.Wrapf(storage.ErrAlreadyExists, "create %s", path)
	}
	t.writes = append(t.writes, write{path: path, src: src, create: true})
	t.staged[path] = src
	return nil
}

func (t *transaction) Set(path string, src any) error {
	t.writes = append(t.writes, write{path: path, src: src})
	t.staged[path] = src
	return nil
}

// mapError translates gRPC status codes into storage errors. Errors that
// carry no status (for example ones returned by the transaction function)
// pass through untouched.
func mapError(op string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return errors.Wrap(storage.ErrNotFound, op)
	case codes.AlreadyExists:
		return errors.Wrap(storage.ErrAlreadyExists, op)
	case codes.Aborted, codes.FailedPrecondition:
		return fmt.Errorf("%s: %w: %w", op, storage.ErrConflict, err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Internal:
		return storage.Unavailable(op, err)
	default:
		return err
	}
}
