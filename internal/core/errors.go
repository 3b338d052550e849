package core

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrConflict         = errors.New("conflict")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Error carries a kind, a caller-safe message and the internal cause.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func Invalid(msg string, err error) error {
	return &Error{Kind: ErrInvalidArgument, Message: msg, Err: err}
}

func NotFound(msg string, err error) error {
	return &Error{Kind: ErrNotFound, Message: msg, Err: err}
}

func AlreadyExists(msg string, err error) error {
	return &Error{Kind: ErrAlreadyExists, Message: msg, Err: err}
}

func Conflict(msg string, err error) error {
	return &Error{Kind: ErrConflict, Message: msg, Err: err}
}

func Unavailable(msg string, err error) error {
	return &Error{Kind: ErrStoreUnavailable, Message: msg, Err: err}
}

// PublicMessage returns the message safe to show to callers.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// Kind returns the kind sentinel of err, or nil when err has none.
func Kind(err error) error {
	for _, k := range []error{ErrInvalidArgument, ErrNotFound, ErrAlreadyExists, ErrConflict, ErrStoreUnavailable} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
