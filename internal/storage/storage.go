// Package storage defines the document store contract used by the ledger
// and the logical document layout under users/{userId}.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")
	// ErrConflict means another transaction committed a document this one
	// read or wrote. The whole transaction function may be retried.
	ErrConflict    = errors.New("transaction conflict")
	ErrUnavailable = errors.New("store unavailable")
)

// Tx is a single optimistic transaction attempt.
//
// Reads record the version they observed and see the transaction's own
// staged writes. Writes are buffered and become visible only on commit.
type Tx interface {
	Get(ctx context.Context, path string, dst any) error
	Create(path string, src any) error
	Set(path string, src any) error
}

// Snapshot is one document returned by List.
type Snapshot interface {
	ID() string
	DataTo(dst any) error
}

type Store interface {
	Get(ctx context.Context, path string, dst any) error
	Set(ctx context.Context, path string, src any) error
	// List returns the documents directly under collection, ordered by id.
	List(ctx context.Context, collection string) ([]Snapshot, error)
	// RunTransaction runs fn once and commits its writes atomically.
	// It never retries; conflicts surface as ErrConflict.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}

const UsersCollection = "users"

func UserPath(userID string) string {
	return UsersCollection + "/" + userID
}

func ExpensesCollection(userID string) string {
	return UserPath(userID) + "/expenses"
}

func ExpensePath(userID, entryID string) string {
	return ExpensesCollection(userID) + "/" + entryID
}

func MonthlyStatsCollection(userID string) string {
	return UserPath(userID) + "/monthlyStats"
}

func MonthlyStatsPath(userID, period string) string {
	return MonthlyStatsCollection(userID) + "/" + period
}

func GoalsCollection(userID string) string {
	return UserPath(userID) + "/goals"
}

func GoalPath(userID, goalID string) string {
	return GoalsCollection(userID) + "/" + goalID
}

func ContributionsCollection(userID, goalID string) string {
	return GoalPath(userID, goalID) + "/contributions"
}

func ContributionPath(userID, goalID, entryID string) string {
	return ContributionsCollection(userID, goalID) + "/" + entryID
}

func IdempotencyPath(userID, key string) string {
	return UserPath(userID) + "/idempotency/" + key
}

// EmailIndexPath keys the unique-email index by the normalized address.
func EmailIndexPath(normalizedEmail string) string {
	return "emails/" + strings.ReplaceAll(normalizedEmail, "/", "_")
}

// SplitPath returns the parent collection and document id of a document path.
func SplitPath(path string) (collection, id string) {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

// Unavailable marks an infrastructure failure while keeping its cause.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

type jsonSnapshot struct {
	id   string
	data []byte
}

// NewJSONSnapshot wraps a JSON-encoded document for stores that persist JSON.
func NewJSONSnapshot(id string, data []byte) Snapshot {
	return jsonSnapshot{id: id, data: data}
}

func (s jsonSnapshot) ID() string { return s.id }

func (s jsonSnapshot) DataTo(dst any) error {
	return json.Unmarshal(s.data, dst)
}
