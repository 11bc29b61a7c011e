package task

import (
	"errors"
	"fmt"
	"strings"
)

// Kind groups errors by how callers should react to them.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindInvariant  Kind = "invariant"
	KindTransient  Kind = "transient"
	KindPermanent  Kind = "permanent"
	KindSystem     Kind = "system"
)

// Error is a tagged error carrying a stable, script-friendly Tag alongside
// a human-readable message.
type Error struct {
	Kind Kind
	Tag  string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Tag, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Tag, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, tag, msg string, err error) *Error {
	return &Error{Kind: kind, Tag: tag, Msg: msg, Err: err}
}

// Validation error constructors.
func ErrCycleDetected(msg string) error { return newErr(KindValidation, "CycleDetected", msg, nil) }
func ErrMissingPrerequisite(msg string) error {
	return newErr(KindValidation, "MissingPrerequisite", msg, nil)
}
func ErrInvalidField(msg string) error { return newErr(KindValidation, "InvalidField", msg, nil) }

// NotFound error constructor.
func ErrNotFound(msg string) error { return newErr(KindNotFound, "NotFound", msg, nil) }

// Invariant error constructor, for operations that would break a lifecycle
// or tree invariant (a transition out of a terminal state, a subtree prune
// over a non-terminal node). It is returned to the caller like any other
// tagged error.
func ErrInvariant(msg string) error { return newErr(KindInvariant, "InvariantViolated", msg, nil) }

// System error constructor, for store failures and similar.
func ErrSystem(msg string, cause error) error { return newErr(KindSystem, "SystemError", msg, cause) }

// TagOf extracts the stable error tag, or "" if err is not a tagged *Error.
func TagOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Tag
	}
	return ""
}

// KindOf extracts the Kind, or "" if err is not a tagged *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// transientIndicators classifies an agent-invocation error message as
// transient (retriable) vs permanent by substring match.
var transientIndicators = []string{
	"timeout", "rate limit", "connection", "network", "temporary",
	"503", "429", "service unavailable",
}

// IsTransient reports whether an error message describes a transient
// failure eligible for retry.
func IsTransient(errMsg string) bool {
	lower := strings.ToLower(errMsg)
	for _, ind := range transientIndicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}
