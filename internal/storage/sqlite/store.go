// Package sqlite persists documents in a single SQLite table and layers
// optimistic transactions on top of per-document version numbers.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"finapp/internal/storage"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection serializes commits, which makes the version check and
	// the writes that follow it atomic with respect to other commits.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) Get(ctx context.Context, path string, dst any) error {
	data, _, err := s.read(ctx, s.db, path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func (s *Store) Set(ctx context.Context, path string, src any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return errors.Wrapf(err, "encode %s", path)
	}
	if err := upsert(ctx, s.db, path, data); err != nil {
		return storage.Unavailable("set "+path, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, collection string) ([]storage.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data FROM documents WHERE collection = ? ORDER BY id`, collection)
	if err != nil {
		return nil, storage.Unavailable("list "+collection, err)
	}
	defer rows.Close()

	var out []storage.Snapshot
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, storage.Unavailable("scan "+collection, err)
		}
		out = append(out, storage.NewJSONSnapshot(id, []byte(data)))
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Unavailable("list "+collection, err)
	}
	return out, nil
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	tx := &transaction{
		store:  s,
		reads:  make(map[string]int64),
		staged: make(map[string][]byte),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(ctx, tx)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// read returns the document body and version; version 0 means absent.
func (s *Store) read(ctx context.Context, q querier, path string) ([]byte, int64, error) {
	var (
		data    string
		version int64
	)
	err := q.QueryRowContext(ctx, `SELECT data, version FROM documents WHERE path = ?`, path).Scan(&data, &version)
	if err == sql.ErrNoRows {
		return nil, 0, errors.Wrapf(storage.ErrNotFound, "get %s", path)
	}
	if err != nil {
		return nil, 0, storage.Unavailable("get "+path, err)
	}
	return []byte(data), version, nil
}

func (s *Store) version(ctx context.Context, q querier, path string) (int64, error) {
	_, v, err := s.read(ctx, q, path)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	return v, err
}

func upsert(ctx context.Context, q querier, path string, data []byte) error {
	collection, id := storage.SplitPath(path)
	_, err := q.ExecContext(ctx, `
		INSERT INTO documents (path, collection, id, data, version, updated_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(path) DO UPDATE SET
			data = excluded.data,
			version = documents.version + 1,
			updated_at = excluded.updated_at`,
		path, collection, id, string(data), time.Now().UTC())
	return err
}

func (s *Store) commit(ctx context.Context, tx *transaction) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Unavailable("begin", err)
	}
	defer func() {
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				slog.WarnContext(ctx, "Rollback failed", "error", rbErr)
			}
		}
	}()

	for path, seen := range tx.reads {
		current, err := s.version(ctx, sqlTx, path)
		if err != nil {
			return err
		}
		if current != seen {
			return errors.Wrapf(storage.ErrConflict, "%s changed since read", path)
		}
	}

	for _, w := range tx.writes {
		if w.create {
			current, err := s.version(ctx, sqlTx, w.path)
			if err != nil {
				return err
			}
			if current != 0 {
				if _, read := tx.reads[w.path]; read {
					return errors.Wrapf(storage.ErrConflict, "%s created concurrently", w.path)
				}
				return errors.Wrapf(storage.ErrAlreadyExists, "create %s", w.path)
			}
		}
		if err := upsert(ctx, sqlTx, w.path, w.data); err != nil {
			return classify("write "+w.path, err)
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return classify("commit", err)
	}
	return nil
}

// classify maps SQLite lock contention to a retryable conflict and anything
// else to an unavailable store.
func classify(op string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrConflict, err)
	}
	return storage.Unavailable(op, err)
}

type write struct {
	path   string
	data   []byte
	create bool
}

type transaction struct {
	store  *Store
	reads  map[string]int64
	writes []write
	staged map[string][]byte
}

func (t *transaction) Get(ctx context.Context, path string, dst any) error {
	if data, ok := t.staged[path]; ok {
		return json.Unmarshal(data, dst)
	}
	data, version, err := t.store.read(ctx, t.store.db, path)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if _, seen := t.reads[path]; !seen {
		t.reads[path] = version
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func (t *transaction) Create(path string, src any) error {
	if _, ok := t.staged[path]; ok {
		return errors.Wrapf(storage.ErrAlreadyExists, "create %s", path)
	}
	return t.stage(path, src, true)
}

func (t *transaction) Set(path string, src any) error {
	return t.stage(path, src, false)
}

func (t *transaction) stage(path string, src any, create bool) error {
	data, err := json.Marshal(src)
	if err != nil {
		return errors.Wrapf(err, "encode %s", path)
	}
	t.writes = append(t.writes, write{path: path, data: data, create: create})
	t.staged[path] = data
	return nil
}
