// Package http exposes the ledger over a JSON API.
//
// This file holds request decoding: bounded JSON bodies, textual amounts
// and the optional timestamps and idempotency key a write may carry.

package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"finapp/internal/core"
)

const (
	maxBodyBytes = 64 << 10

	// HeaderIdempotencyKey carries the caller's deduplication token on writes.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderReplayed is set on responses that replay an earlier write.
	HeaderReplayed = "Idempotent-Replayed"
)

var errEmptyBody = errors.New("empty request body")

// AmountText holds a monetary amount exactly as the client wrote it. Both
// JSON strings ("12.34") and JSON numbers (12.34) are accepted; the text is
// converted to cents without passing through a float.
type AmountText string

func (a *AmountText) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*a = ""
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = AmountText(s)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return errors.Errorf("amount must be a decimal string or number, got %s", b)
		}
		*a = AmountText(n.String())
		return nil
	}
}

// Money converts the text to cents. field names the JSON key in errors.
func (a AmountText) Money(field string) (core.Money, error) {
	if strings.TrimSpace(string(a)) == "" {
		return core.Money{}, core.Invalid(field+" is required", core.ErrInvalidAmount)
	}
	m, err := core.ParseAmount(string(a))
	if err != nil {
		return core.Money{}, core.Invalid(field+" must be a non-negative decimal amount", err)
	}
	return m, nil
}

type settingsRequest struct {
	TrackingMethod string `json:"trackingMethod"`
	Notifications  bool   `json:"notifications"`
}

type createUserRequest struct {
	Name     string          `json:"name"`
	Email    string          `json:"email"`
	Settings settingsRequest `json:"settings"`
}

type deviceRequest struct {
	Token string `json:"token"`
}

type expenseRequest struct {
	Amount      AmountText `json:"amount"`
	Category    string     `json:"category"`
	Description string     `json:"description"`
	Icon        string     `json:"icon"`
	OccurredAt  string     `json:"occurredAt"`
}

type goalRequest struct {
	Title    string     `json:"title"`
	Target   AmountText `json:"target"`
	Deadline string     `json:"deadline"`
}

type contributionRequest struct {
	Amount     AmountText `json:"amount"`
	Note       string     `json:"note"`
	OccurredAt string     `json:"occurredAt"`
}

// decodeJSON reads one JSON object from the body into dst. Unknown fields,
// trailing data and bodies over maxBodyBytes are rejected as InvalidArgument.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return core.Invalid("request body is required", errEmptyBody)
		case errors.As(err, &maxErr):
			return core.Invalid("request body too large", err)
		default:
			return core.Invalid("request body is not valid JSON: "+err.Error(), err)
		}
	}
	if dec.More() {
		return core.Invalid("request body must contain a single JSON object", nil)
	}
	return nil
}

// parseOptionalTime accepts RFC 3339 timestamps or plain YYYY-MM-DD dates.
// Empty input yields the zero time.
func parseOptionalTime(field, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, core.Invalid(field+" must be an RFC 3339 timestamp or YYYY-MM-DD date", err)
	}
	return t, nil
}

func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
}

// sanitizeInput removes control characters other than tab and newlines and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s)
}

func (req expenseRequest) input(key string) (core.ExpenseInput, error) {
	amount, err := req.Amount.Money("amount")
	if err != nil {
		return core.ExpenseInput{}, err
	}
	occurred, err := parseOptionalTime("occurredAt", req.OccurredAt)
	if err != nil {
		return core.ExpenseInput{}, err
	}
	return core.ExpenseInput{
		Amount:         amount,
		Category:       sanitizeInput(req.Category),
		Description:    sanitizeInput(req.Description),
		Icon:           sanitizeInput(req.Icon),
		OccurredAt:     occurred,
		IdempotencyKey: key,
	}, nil
}

func (req contributionRequest) input(key string) (core.ContributionInput, error) {
	amount, err := req.Amount.Money("amount")
	if err != nil {
		return core.ContributionInput{}, err
	}
	occurred, err := parseOptionalTime("occurredAt", req.OccurredAt)
	if err != nil {
		return core.ContributionInput{}, err
	}
	return core.ContributionInput{
		Amount:         amount,
		Note:           sanitizeInput(req.Note),
		OccurredAt:     occurred,
		IdempotencyKey: key,
	}, nil
}

func (req goalRequest) input() (core.GoalInput, error) {
	target, err := req.Target.Money("target")
	if err != nil {
		return core.GoalInput{}, err
	}
	deadline, err := parseOptionalTime("deadline", req.Deadline)
	if err != nil {
		return core.GoalInput{}, err
	}
	return core.GoalInput{
		Title:    sanitizeInput(req.Title),
		Target:   target,
		Deadline: deadline,
	}, nil
}

func (req createUserRequest) settings() core.Settings {
	return core.Settings{
		TrackingMethod: core.TrackingMethod(strings.ToLower(strings.TrimSpace(req.Settings.TrackingMethod))),
		Notifications:  req.Settings.Notifications,
	}
}
