// Package ledger is the transactional write path: it appends ledger entries
// and keeps monthly aggregates and goal progress consistent with them.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"finapp/internal/core"
	"finapp/internal/events"
	"finapp/internal/log"
	"finapp/internal/storage"
)

// Coordinator runs every write as one optimistic transaction and retries
// the whole unit when the store reports a conflict.
type Coordinator struct {
	store      storage.Store
	writer     *Writer
	aggregates *AggregateUpdater
	goals      *GoalUpdater
	publisher  events.Publisher
	policy     RetryPolicy
	metrics    *Metrics
	logger     *log.Logger
	now        func() time.Time
	newID      func() string
}

type Option func(*Coordinator)

func WithPublisher(p events.Publisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Coordinator) { c.policy = p }
}

func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithLogger(l *log.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(c *Coordinator) { c.newID = newID }
}

func NewCoordinator(store storage.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     store,
		publisher: events.NopPublisher{},
		policy:    DefaultRetryPolicy(),
		logger:    log.Nop(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.policy = c.policy.normalized()
	c.logger = c.logger.WithComponent(log.ComponentLedger)
	c.writer = NewWriter(c.now, c.newID)
	c.aggregates = NewAggregateUpdater(c.now)
	c.goals = NewGoalUpdater(c.now, c.newID)
	return c
}

type ExpenseResult struct {
	Entry     core.LedgerEntry
	Aggregate core.MonthlyAggregate
	// Replayed is set when the idempotency key matched an earlier write.
	Replayed bool
}

func (r ExpenseResult) EntryID() string { return r.Entry.ID }

type ContributionResult struct {
	Entry     core.LedgerEntry
	Goal      core.Goal
	Completed bool // this write moved the goal to completed
	Replayed  bool
}

// idempotencyRecord is stored at users/{uid}/idempotency/{key}.
type idempotencyRecord struct {
	Kind        core.EntryKind `json:"kind" firestore:"kind"`
	EntryID     string         `json:"entryId" firestore:"entryId"`
	GoalID      string         `json:"goalId,omitempty" firestore:"goalId"`
	Period      string         `json:"period,omitempty" firestore:"period"`
	Fingerprint string         `json:"fingerprint,omitempty" firestore:"fingerprint"` // hash of the request payload
	CreatedAt   time.Time      `json:"createdAt" firestore:"createdAt"`
}

// RecordExpense appends an expense and folds it into its monthly aggregate
// in a single commit.
func (c *Coordinator) RecordExpense(ctx context.Context, userID string, in core.ExpenseInput) (ExpenseResult, error) {
	if err := core.ValidateUserID(userID); err != nil {
		return ExpenseResult{}, err
	}
	if err := in.Validate(); err != nil {
		return ExpenseResult{}, err
	}

	var res ExpenseResult
	err := c.run(ctx, log.OpRecordExpense, func(ctx context.Context, tx storage.Tx) error {
		res = ExpenseResult{}

		if in.IdempotencyKey != "" {
			rec, found, err := lookupKey(ctx, tx, userID, in.IdempotencyKey, core.EntryExpense, expenseFingerprint(in))
			if err != nil {
				return err
			}
			if found {
				return c.replayExpense(ctx, tx, userID, rec, &res)
			}
		}

		entry, err := c.writer.AppendEntry(ctx, tx, userID, in)
		if err != nil {
			return err
		}
		agg, err := c.aggregates.Apply(ctx, tx, userID, entry.Period, entry.Amount, entry.Category)
		if err != nil {
			return err
		}
		if in.IdempotencyKey != "" {
			rec := idempotencyRecord{
				Kind:        core.EntryExpense,
				EntryID:     entry.ID,
				Period:      entry.Period,
				Fingerprint: expenseFingerprint(in),
				CreatedAt:   entry.WrittenAt,
			}
			if err := tx.Create(storage.IdempotencyPath(userID, in.IdempotencyKey), rec); err != nil {
				return err
			}
		}
		res.Entry, res.Aggregate = entry, agg
		return nil
	})
	if err != nil {
		return ExpenseResult{}, err
	}

	fields := log.NewFields().WithEntry(userID, res.Entry.ID, res.Entry.Period, res.Entry.Category, res.Entry.Amount.Cents)
	if res.Replayed {
		c.logger.DebugContext(ctx, "Expense replayed from idempotency key", fields.ToSlice()...)
		return res, nil
	}
	c.logger.DebugContext(ctx, "Expense recorded", fields.ToSlice()...)

	e := events.New(events.ExpenseRecorded, userID)
	e.EntryID = res.Entry.ID
	e.Period = res.Entry.Period
	e.Category = res.Entry.Category
	e.AmountCents = res.Entry.Amount.Cents
	c.publish(ctx, e)
	return res, nil
}

func (c *Coordinator) replayExpense(ctx context.Context, tx storage.Tx, userID string, rec idempotencyRecord, res *ExpenseResult) error {
	if err := tx.Get(ctx, storage.ExpensePath(userID, rec.EntryID), &res.Entry); err != nil {
		return storeError(err, "recorded expense not found")
	}
	res.Aggregate = core.NewMonthlyAggregate(rec.Period)
	if err := tx.Get(ctx, storage.MonthlyStatsPath(userID, rec.Period), &res.Aggregate); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	res.Replayed = true
	return nil
}

// RecordGoalContribution applies a contribution to a goal and appends the
// matching contribution entry in a single commit.
func (c *Coordinator) RecordGoalContribution(ctx context.Context, userID, goalID string, in core.ContributionInput) (ContributionResult, error) {
	if err := core.ValidateUserID(userID); err != nil {
		return ContributionResult{}, err
	}
	if err := validateDocID(goalID, "goal id is required"); err != nil {
		return ContributionResult{}, err
	}
	if err := in.Validate(); err != nil {
		return ContributionResult{}, err
	}

	var res ContributionResult
	err := c.run(ctx, log.OpRecordContribution, func(ctx context.Context, tx storage.Tx) error {
		res = ContributionResult{}

		if in.IdempotencyKey != "" {
			rec, found, err := lookupKey(ctx, tx, userID, in.IdempotencyKey, core.EntryContribution, contributionFingerprint(in))
			if err != nil {
				return err
			}
			if found {
				if rec.GoalID != goalID {
					return core.Invalid("idempotency key already used for another goal", ErrKeyReused)
				}
				return c.replayContribution(ctx, tx, userID, rec, &res)
			}
		}

		goal, completed, err := c.goals.ApplyContribution(ctx, tx, userID, goalID, in.Amount)
		if err != nil {
			return err
		}
		entry, err := c.writer.AppendContribution(ctx, tx, userID, goalID, in)
		if err != nil {
			return err
		}
		if in.IdempotencyKey != "" {
			rec := idempotencyRecord{
				Kind:        core.EntryContribution,
				EntryID:     entry.ID,
				GoalID:      goalID,
				Fingerprint: contributionFingerprint(in),
				CreatedAt:   entry.WrittenAt,
			}
			if err := tx.Create(storage.IdempotencyPath(userID, in.IdempotencyKey), rec); err != nil {
				return err
			}
		}
		res.Entry, res.Goal, res.Completed = entry, goal, completed
		return nil
	})
	if err != nil {
		return ContributionResult{}, err
	}

	fields := log.NewFields().WithGoal(userID, goalID, res.Entry.Amount.Cents)
	if res.Replayed {
		c.logger.DebugContext(ctx, "Contribution replayed from idempotency key", fields.ToSlice()...)
		return res, nil
	}
	fields[log.FieldEntryID] = res.Entry.ID
	c.logger.DebugContext(ctx, "Contribution recorded", fields.ToSlice()...)

	e := events.New(events.GoalContributed, userID)
	e.EntryID = res.Entry.ID
	e.GoalID = goalID
	e.AmountCents = res.Entry.Amount.Cents
	e.GoalStatus = string(res.Goal.Status)
	c.publish(ctx, e)

	if res.Completed {
		done := events.New(events.GoalCompleted, userID)
		done.GoalID = goalID
		done.AmountCents = res.Goal.Current.Cents
		done.GoalStatus = string(res.Goal.Status)
		c.publish(ctx, done)
	}
	return res, nil
}

func (c *Coordinator) replayContribution(ctx context.Context, tx storage.Tx, userID string, rec idempotencyRecord, res *ContributionResult) error {
	if err := tx.Get(ctx, storage.ContributionPath(userID, rec.GoalID, rec.EntryID), &res.Entry); err != nil {
		return storeError(err, "recorded contribution not found")
	}
	if err := tx.Get(ctx, storage.GoalPath(userID, rec.GoalID), &res.Goal); err != nil {
		return storeError(err, "goal not found")
	}
	res.Replayed = true
	return nil
}

// CreateGoal stores a new active goal with zero progress.
func (c *Coordinator) CreateGoal(ctx context.Context, userID string, in core.GoalInput) (core.Goal, error) {
	if err := core.ValidateUserID(userID); err != nil {
		return core.Goal{}, err
	}
	if err := in.Validate(); err != nil {
		return core.Goal{}, err
	}
	var goal core.Goal
	err := c.run(ctx, log.OpCreateGoal, func(ctx context.Context, tx storage.Tx) error {
		g, err := c.goals.Create(ctx, tx, userID, in)
		goal = g
		return err
	})
	if err != nil {
		return core.Goal{}, err
	}
	c.logger.DebugContext(ctx, "Goal created", log.NewFields().WithGoal(userID, goal.ID, goal.Target.Cents).ToSlice()...)
	return goal, nil
}

func (c *Coordinator) AbandonGoal(ctx context.Context, userID, goalID string) (core.Goal, error) {
	if err := core.ValidateUserID(userID); err != nil {
		return core.Goal{}, err
	}
	if err := validateDocID(goalID, "goal id is required"); err != nil {
		return core.Goal{}, err
	}
	var goal core.Goal
	err := c.run(ctx, log.OpAbandonGoal, func(ctx context.Context, tx storage.Tx) error {
		g, err := c.goals.Abandon(ctx, tx, userID, goalID)
		goal = g
		return err
	})
	if err != nil {
		return core.Goal{}, err
	}
	c.logger.InfoContext(ctx, "Goal abandoned", log.NewFields().WithGoal(userID, goalID, goal.Current.Cents).ToSlice()...)
	return goal, nil
}

// run executes fn in a fresh transaction until it commits, fails with a
// non-conflict error, or the retry policy is exhausted.
func (c *Coordinator) run(ctx context.Context, op string, fn func(ctx context.Context, tx storage.Tx) error) error {
	var err error
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		c.metrics.attempt(op)
		err = c.store.RunTransaction(ctx, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return storeError(err, "document not found")
		}

		c.metrics.conflict(op)
		c.logger.DebugContext(ctx, "Transaction conflict, retrying",
			log.FieldOperation, op,
			log.FieldAttempt, attempt,
			log.FieldError, err.Error())

		if attempt == c.policy.MaxAttempts {
			break
		}
		if serr := sleep(ctx, jitter(c.policy.Backoff(attempt))); serr != nil {
			return core.Unavailable("request cancelled while retrying", serr)
		}
	}

	c.metrics.exhausted(op)
	c.logger.WarnContext(ctx, "Transaction retries exhausted",
		log.FieldOperation, op,
		log.FieldAttempt, c.policy.MaxAttempts,
		log.FieldError, err.Error())
	return core.Conflict("too many concurrent updates, please retry", err)
}

func (c *Coordinator) publish(ctx context.Context, e events.Event) {
	if err := c.publisher.Publish(ctx, e); err != nil {
		c.logger.WarnContext(ctx, "Failed to publish event",
			log.FieldEventType, string(e.Type),
			log.FieldEventID, e.ID,
			log.FieldUserID, e.UserID,
			log.FieldError, err.Error())
	}
}

func lookupKey(ctx context.Context, tx storage.Tx, userID, key string, kind core.EntryKind, fingerprint string) (idempotencyRecord, bool, error) {
	var rec idempotencyRecord
	err := tx.Get(ctx, storage.IdempotencyPath(userID, key), &rec)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return idempotencyRecord{}, false, nil
	case err != nil:
		return idempotencyRecord{}, false, err
	case rec.Kind != kind:
		return idempotencyRecord{}, false, core.Invalid("idempotency key already used for a different operation", ErrKeyReused)
	case rec.Fingerprint != "" && rec.Fingerprint != fingerprint:
		return idempotencyRecord{}, false, core.Invalid("idempotency key already used with a different request", ErrKeyMismatch)
	}
	return rec, true, nil
}

func expenseFingerprint(in core.ExpenseInput) string {
	return fingerprint(strconv.FormatInt(in.Amount.Cents, 10), in.Category, in.Description, in.Icon, occurredKey(in.OccurredAt))
}

// The goal id is left out; a key reused across goals has its own error.
func contributionFingerprint(in core.ContributionInput) string {
	return fingerprint(strconv.FormatInt(in.Amount.Cents, 10), in.Note, occurredKey(in.OccurredAt))
}

func occurredKey(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.UnixNano(), 10)
}

func fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(strconv.Itoa(len(p))))
		h.Write([]byte{':'})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func validateDocID(id, msg string) error {
	if strings.TrimSpace(id) == "" || len(id) > 128 || strings.Contains(id, "/") {
		return core.Invalid(msg, nil)
	}
	return nil
}
