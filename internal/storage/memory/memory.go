// Package memory is an in-process document store with optimistic
// transactions. Documents are kept JSON-encoded so callers never share
// mutable state with the store.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"finapp/internal/storage"
)

type record struct {
	data    []byte
	version int64
}

type Store struct {
	mu   sync.Mutex
	docs map[string]record
}

func New() *Store {
	return &Store{docs: make(map[string]record)}
}

func (s *Store) Get(ctx context.Context, path string, dst any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	r, ok := s.docs[path]
	s.mu.Unlock()
	if !ok {
		return errors.Wrapf(storage.ErrNotFound, "get %s", path)
	}
	return json.Unmarshal(r.data, dst)
}

func (s *Store) Set(ctx context.Context, path string, src any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(src)
	if err != nil {
		return errors.Wrapf(err, "encode %s", path)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(path, data)
	return nil
}

func (s *Store) List(ctx context.Context, collection string) ([]storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := collection + "/"
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for path := range s.docs {
		rest, ok := strings.CutPrefix(path, prefix)
		if !ok || rest == "" || strings.Contains(rest, "/") {
			continue
		}
		ids = append(ids, rest)
	}
	sort.Strings(ids)

	out := make([]storage.Snapshot, len(ids))
	for i, id := range ids {
		out[i] = storage.NewJSONSnapshot(id, s.docs[prefix+id].data)
	}
	return out, nil
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &transaction{
		store:  s,
		reads:  make(map[string]int64),
		staged: make(map[string][]byte),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) Close() error { return nil }

// Len reports the number of stored documents.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

func (s *Store) put(path string, data []byte) {
	r := s.docs[path]
	s.docs[path] = record{data: data, version: r.version + 1}
}

func (s *Store) commit(tx *transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for path, seen := range tx.reads {
		if s.docs[path].version != seen {
			return errors.Wrapf(storage.ErrConflict, "%s changed since read", path)
		}
	}
	for _, w := range tx.writes {
		if !w.create {
			continue
		}
		if _, exists := s.docs[w.path]; exists {
			if _, read := tx.reads[w.path]; read {
				return errors.Wrapf(storage.ErrConflict, "%s created concurrently", w.path)
			}
			return errors.Wrapf(storage.ErrAlreadyExists, "create %s", w.path)
		}
	}
	for _, w := range tx.writes {
		s.put(w.path, w.data)
	}
	return nil
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
	t.store.mu.Lock()
	r, ok := t.store.docs[path]
	t.store.mu.Unlock()

	if _, seen := t.reads[path]; !seen {
		t.reads[path] = r.version
	}
	if !ok {
		return errors.Wrapf(storage.ErrNotFound, "get %s", path)
	}
	return json.Unmarshal(r.data, dst)
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
