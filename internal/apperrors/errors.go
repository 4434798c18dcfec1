// Package apperrors gives every error that crosses a component boundary a
// distinguishable Kind, the way the reference's AuthError gives every auth
// failure a stable Code — callers switch on Kind instead of string-matching.
package apperrors

import "fmt"

// Kind distinguishes error categories at the boundary.
type Kind string

const (
	Validation       Kind = "Validation"
	NotFound         Kind = "NotFound"
	Conflict         Kind = "Conflict"
	RiskRejection    Kind = "RiskRejection"
	SimulationFailure Kind = "SimulationFailure"
	TransientRPC     Kind = "TransientRpc"
	FatalRPC         Kind = "FatalRpc"
	UpstreamReasoning Kind = "UpstreamReasoning"
	Internal         Kind = "Internal"
)

// Error is a typed error carrying a Kind, a human message, optional
// structured details (surfaced verbatim on Validation errors), and an
// optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func WithDetails(kind Kind, message string, details map[string]interface{}) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, else
// Internal.
func KindOf(err error) Kind {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return Internal
}

// As is a thin wrapper over errors.As kept local to avoid importing the
// standard errors package in every call site that only wants KindOf.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
