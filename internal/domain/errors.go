package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not_found")
	ErrUsernameTaken      = errors.New("username_taken")
	ErrEmailTaken         = errors.New("email_taken")
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrAlreadyFriends     = errors.New("already_friends")
	ErrAlreadyRequested   = errors.New("already_requested")
	ErrAlreadyBlocked     = errors.New("already_blocked")
	ErrValidation         = errors.New("validation")

	ErrExternalAccountExists = errors.New("external_account_exists")
)

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func NewValidationError(fields map[string]string) error {
	return &ValidationError{Fields: fields}
}

// DeniedReason says why two users may not exchange messages.
type DeniedReason string

const (
	DeniedNotFriends DeniedReason = "not_friends"
	DeniedBlocked    DeniedReason = "blocked"
)

// DeniedError is returned when an operation is refused by the relationship
// graph. It matches ErrForbidden with errors.Is.
type DeniedError struct {
	Reason DeniedReason
}

func (e *DeniedError) Error() string {
	switch e.Reason {
	case DeniedBlocked:
		return "forbidden: user is blocked"
	case DeniedNotFriends:
		return "forbidden: users are not friends"
	default:
		return "forbidden"
	}
}

func (e *DeniedError) Unwrap() error { return ErrForbidden }

// DenialReason extracts the reason from a DeniedError anywhere in err's chain.
func DenialReason(err error) (DeniedReason, bool) {
	var d *DeniedError
	if errors.As(err, &d) {
		return d.Reason, true
	}
	return "", false
}
