package internal

import (
	"errors"
	"fmt"
)

// Kind groups errors by how callers are expected to react to them.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindForbidden
	KindConflict
	KindUpstream
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindUpstream:
		return "upstream"
	case KindPersistence:
		return "persistence"
	default:
		return "internal"
	}
}

// Error is the application error. Code is stable and meant for clients,
// Message is human readable. Two errors are equal under errors.Is when
// their codes match.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Fields  map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// Wrap returns a copy of e carrying err as its cause.
func (e *Error) Wrap(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

var (
	ErrValidation       = &Error{Kind: KindValidation, Code: "validation_error", Message: "invalid request"}
	ErrUserNotFound     = &Error{Kind: KindNotFound, Code: "user_not_found", Message: "user not found"}
	ErrLinkNotFound     = &Error{Kind: KindNotFound, Code: "link_not_found", Message: "link not found"}
	ErrNoSubscription   = &Error{Kind: KindForbidden, Code: "no_subscription", Message: "no active subscription"}
	ErrLimitExceeded    = &Error{Kind: KindForbidden, Code: "limit_exceeded", Message: "qr code limit reached"}
	ErrUnauthorized     = &Error{Kind: KindForbidden, Code: "unauthorized", Message: "invalid credentials"}
	ErrConflict         = &Error{Kind: KindConflict, Code: "conflict", Message: "already exists"}
	ErrUpstream         = &Error{Kind: KindUpstream, Code: "upstream_error", Message: "link shortening service failed"}
	ErrPersistence      = &Error{Kind: KindPersistence, Code: "persistence_error", Message: "failed to save changes"}
	ErrAggregation      = &Error{Kind: KindPersistence, Code: "aggregation_failed", Message: "failed to compute statistics"}
	ErrFreePlanNotFound = &Error{Kind: KindPersistence, Code: "free_plan_missing", Message: "free plan is not configured"}
)

func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Code: ErrValidation.Code, Message: msg}
}

func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Code: ErrConflict.Code, Message: msg}
}

func Upstream(msg string, err error) *Error {
	return &Error{Kind: KindUpstream, Code: ErrUpstream.Code, Message: msg, Err: err}
}

func Persistence(err error) *Error {
	return ErrPersistence.Wrap(err)
}

// LimitExceeded reports a plan ceiling hit together with the usage that hit it.
func LimitExceeded(current, max int, planName string) *Error {
	return &Error{
		Kind:    KindForbidden,
		Code:    ErrLimitExceeded.Code,
		Message: fmt.Sprintf("you have reached the limit of %d qr codes for %s", max, planName),
		Fields: map[string]any{
			"current_count": current,
			"max_allowed":   max,
			"plan":          planName,
		},
	}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
