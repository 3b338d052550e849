// Package worker reacts to ledger events off the write path: it
// re-verifies aggregates and notifies users about completed goals.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finapp/internal/core"
	"finapp/internal/events"
	"finapp/internal/ledger"
	"finapp/internal/log"
	"finapp/internal/notify"
)

type Reconciler interface {
	VerifyMonthlyAggregate(ctx context.Context, userID, period string) (*ledger.Drift, error)
	VerifyUser(ctx context.Context, userID string) ([]ledger.Drift, error)
}

type Directory interface {
	GetUser(ctx context.Context, userID string) (core.User, error)
	GetGoal(ctx context.Context, userID, goalID string) (core.Goal, error)
	ListUserIDs(ctx context.Context) ([]string, error)
}

type Worker struct {
	reconciler Reconciler
	directory  Directory
	notifier   notify.Notifier
	logger     *log.Logger
}

func New(reconciler Reconciler, directory Directory, notifier notify.Notifier, logger *log.Logger) *Worker {
	if logger == nil {
		logger = log.Nop()
	}
	return &Worker{
		reconciler: reconciler,
		directory:  directory,
		notifier:   notifier,
		logger:     logger.WithComponent(log.ComponentWorker),
	}
}

// Handle processes one event. Errors ask the transport to redeliver, so
// events about users or goals that no longer exist are acknowledged.
func (w *Worker) Handle(ctx context.Context, e events.Event) error {
	var err error
	switch e.Type {
	case events.ExpenseRecorded:
		err = w.reconcile(ctx, e)
	case events.GoalCompleted:
		err = w.notifyCompleted(ctx, e)
	case events.GoalContributed:
		w.logger.DebugContext(ctx, "Contribution event received",
			log.FieldUserID, e.UserID,
			log.FieldGoalID, e.GoalID)
	default:
		w.logger.WarnContext(ctx, "Ignoring unknown event type", log.FieldEventType, string(e.Type))
	}
	if errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrInvalidArgument) {
		w.logger.WarnContext(ctx, "Dropping event",
			log.FieldEventType, string(e.Type),
			log.FieldEventID, e.ID,
			log.FieldError, err.Error())
		return nil
	}
	return err
}

func (w *Worker) reconcile(ctx context.Context, e events.Event) error {
	drift, err := w.reconciler.VerifyMonthlyAggregate(ctx, e.UserID, e.Period)
	if err != nil {
		return fmt.Errorf("verify %s/%s: %w", e.UserID, e.Period, err)
	}
	if drift == nil {
		w.logger.DebugContext(ctx, "Aggregate verified",
			log.FieldUserID, e.UserID,
			log.FieldPeriod, e.Period)
	}
	return nil
}

func (w *Worker) notifyCompleted(ctx context.Context, e events.Event) error {
	user, err := w.directory.GetUser(ctx, e.UserID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if !user.Settings.Notifications {
		return nil
	}
	goal, err := w.directory.GetGoal(ctx, e.UserID, e.GoalID)
	if err != nil {
		return fmt.Errorf("get goal: %w", err)
	}
	if err := w.notifier.Notify(ctx, user, notify.GoalCompleted(goal)); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	w.logger.InfoContext(ctx, "Goal completion notified",
		log.FieldUserID, user.ID,
		log.FieldGoalID, goal.ID)
	return nil
}

// Sweep verifies every user's aggregates. It backs up the event path when
// messages are lost or the worker was down.
func (w *Worker) Sweep(ctx context.Context) error {
	ids, err := w.directory.ListUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	drifted := 0
	for _, id := range ids {
		drifts, err := w.reconciler.VerifyUser(ctx, id)
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to verify user", log.FieldUserID, id, log.FieldError, err.Error())
			continue
		}
		drifted += len(drifts)
	}
	w.logger.InfoContext(ctx, "Reconciliation sweep completed",
		"users", len(ids),
		"drifted_periods", drifted)
	return nil
}

// RunSweeps calls Sweep every interval until ctx is done.
func (w *Worker) RunSweeps(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Sweep(ctx); err != nil {
				w.logger.ErrorContext(ctx, "Reconciliation sweep failed", log.FieldError, err.Error())
			}
		}
	}
}
