package core

import (
	"errors"
	"strings"
	"time"
)

const (
	TrackingManual TrackingMethod = "manual"
	TrackingSMS    TrackingMethod = "sms"

	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalAbandoned GoalStatus = "abandoned"

	EntryExpense      EntryKind = "expense"
	EntryContribution EntryKind = "contribution"
)

type (
	TrackingMethod string
	GoalStatus     string
	EntryKind      string

	Settings struct {
		TrackingMethod TrackingMethod `json:"trackingMethod" firestore:"trackingMethod"`
		Notifications  bool           `json:"notifications" firestore:"notifications"`
	}

	User struct {
		ID           string    `json:"id" firestore:"id"`
		Name         string    `json:"name" firestore:"name"`
		Email        string    `json:"email" firestore:"email"`
		Settings     Settings  `json:"settings" firestore:"settings"`
		DeviceTokens []string  `json:"deviceTokens,omitempty" firestore:"deviceTokens"`
		CreatedAt    time.Time `json:"createdAt" firestore:"createdAt"`
	}

	// LedgerEntry is an immutable expense or goal contribution.
	// OccurredAt drives period bucketing; WrittenAt is assigned by the writer.
	LedgerEntry struct {
		ID          string    `json:"id" firestore:"id"`
		Kind        EntryKind `json:"kind" firestore:"kind"`
		Amount      Money     `json:"amount" firestore:"amount"`
		Category    string    `json:"category,omitempty" firestore:"category"`
		GoalID      string    `json:"goalId,omitempty" firestore:"goalId"`
		Description string    `json:"description,omitempty" firestore:"description"`
		Icon        string    `json:"icon,omitempty" firestore:"icon"`
		Period      string    `json:"period" firestore:"period"`
		OccurredAt  time.Time `json:"occurredAt" firestore:"occurredAt"`
		WrittenAt   time.Time `json:"writtenAt" firestore:"writtenAt"`
	}

	// MonthlyAggregate is the per (user, period) rollup of expense entries.
	MonthlyAggregate struct {
		Period     string           `json:"period" firestore:"period"`
		Total      Money            `json:"total" firestore:"total"`
		Subtotals  map[string]Money `json:"subtotals" firestore:"subtotals"`
		EntryCount int64            `json:"entryCount" firestore:"entryCount"`
		UpdatedAt  time.Time        `json:"updatedAt" firestore:"updatedAt"`
	}

	// Goal tracks savings progress. Current is never clamped; Progress is.
	Goal struct {
		ID          string     `json:"id" firestore:"id"`
		Title       string     `json:"title" firestore:"title"`
		Target      Money      `json:"target" firestore:"target"`
		Current     Money      `json:"current" firestore:"current"`
		Progress    float64    `json:"progress" firestore:"progress"`
		Status      GoalStatus `json:"status" firestore:"status"`
		Deadline    time.Time  `json:"deadline,omitempty" firestore:"deadline"`
		CreatedAt   time.Time  `json:"createdAt" firestore:"createdAt"`
		UpdatedAt   time.Time  `json:"updatedAt" firestore:"updatedAt"`
		CompletedAt *time.Time `json:"completedAt,omitempty" firestore:"completedAt"`
	}

	ExpenseInput struct {
		Amount         Money
		Category       string
		Description    string
		Icon           string
		OccurredAt     time.Time // zero means "use write time"
		IdempotencyKey string
	}

	ContributionInput struct {
		Amount         Money
		Note           string
		OccurredAt     time.Time
		IdempotencyKey string
	}

	GoalInput struct {
		Title    string
		Target   Money
		Deadline time.Time
	}
)

var (
	ErrEmptyUserID     = errors.New("empty user id")
	ErrEmptyCategory   = errors.New("empty category")
	ErrEmptyTitle      = errors.New("empty goal title")
	ErrEmptyName       = errors.New("empty name")
	ErrInvalidEmail    = errors.New("invalid email")
	ErrInvalidTarget   = errors.New("goal target must be positive")
	ErrInvalidTracking = errors.New("invalid tracking method")
	ErrInvalidKey      = errors.New("invalid idempotency key")
)

const maxIdempotencyKeyLen = 128

func (t TrackingMethod) IsValid() bool {
	switch t {
	case TrackingManual, TrackingSMS:
		return true
	}
	return false
}

func (s GoalStatus) IsValid() bool {
	switch s {
	case GoalActive, GoalCompleted, GoalAbandoned:
		return true
	}
	return false
}

// NewMonthlyAggregate returns the zero rollup used when a period has no document yet.
func NewMonthlyAggregate(period string) MonthlyAggregate {
	return MonthlyAggregate{
		Period:    period,
		Subtotals: map[string]Money{},
	}
}

// Sum of all subtotals. Equal to Total for any committed aggregate.
func (a MonthlyAggregate) SubtotalSum() Money {
	var sum Money
	for _, v := range a.Subtotals {
		sum.Cents += v.Cents
	}
	return sum
}

// ComputeProgress returns current/target clamped to [0,1].
// A non-positive target is a programming error.
func ComputeProgress(current, target Money) float64 {
	if target.Cents <= 0 {
		panic("core: goal target must be positive")
	}
	p := float64(current.Cents) / float64(target.Cents)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

func (in ExpenseInput) Validate() error {
	if err := in.Amount.Validate(); err != nil {
		return Invalid("amount must be a non-negative monetary value", err)
	}
	if strings.TrimSpace(in.Category) == "" {
		return Invalid("category is required", ErrEmptyCategory)
	}
	if len(in.Description) > 200 {
		return Invalid("description too long (max 200 characters)", nil)
	}
	return validateKey(in.IdempotencyKey)
}

func (in ContributionInput) Validate() error {
	if err := in.Amount.Validate(); err != nil {
		return Invalid("contribution must be a non-negative monetary value", err)
	}
	return validateKey(in.IdempotencyKey)
}

func (in GoalInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return Invalid("title is required", ErrEmptyTitle)
	}
	if in.Target.Cents <= 0 {
		return Invalid("target amount must be positive", ErrInvalidTarget)
	}
	return nil
}

// ValidateUser checks the fields required at signup.
func ValidateUser(name, email string, s Settings) error {
	if strings.TrimSpace(name) == "" {
		return Invalid("name is required", ErrEmptyName)
	}
	email = strings.TrimSpace(email)
	at := strings.IndexByte(email, '@')
	if at < 1 || at == len(email)-1 || strings.ContainsAny(email, " /") {
		return Invalid("email is not valid", ErrInvalidEmail)
	}
	if s.TrackingMethod != "" && !s.TrackingMethod.IsValid() {
		return Invalid("tracking method must be manual or sms", ErrInvalidTracking)
	}
	return nil
}

// NormalizeEmail lowercases and trims an email for uniqueness checks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func ValidateUserID(id string) error {
	if strings.TrimSpace(id) == "" || strings.Contains(id, "/") {
		return Invalid("user id is required", ErrEmptyUserID)
	}
	return nil
}

func validateKey(key string) error {
	if key == "" {
		return nil
	}
	if len(key) > maxIdempotencyKeyLen || strings.ContainsAny(key, "/ \t\n") {
		return Invalid("idempotency key must be at most 128 characters without spaces or slashes", ErrInvalidKey)
	}
	return nil
}
