// Package events defines the domain events published after a ledger commit
// and the transport-neutral publisher/consumer ports.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	ExpenseRecorded Type = "expense.recorded"
	GoalContributed Type = "goal.contributed"
	GoalCompleted   Type = "goal.completed"
)

// Event is a lightweight notification; consumers re-read the documents
// they care about instead of trusting the payload as state.
type Event struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	UserID      string    `json:"userId"`
	EntryID     string    `json:"entryId,omitempty"`
	GoalID      string    `json:"goalId,omitempty"`
	Period      string    `json:"period,omitempty"`
	Category    string    `json:"category,omitempty"`
	AmountCents int64     `json:"amountCents"`
	GoalStatus  string    `json:"goalStatus,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func New(t Type, userID string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
	}
}

func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func FromJSON(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, err
	}
	return e, nil
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Handler processes one event. Returning an error asks the transport to redeliver.
type Handler func(ctx context.Context, e Event) error

type Consumer interface {
	Consume(ctx context.Context, h Handler) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
