// Package apperr defines the error kinds shared by the onboarding and
// authentication layers. Every typed failure surfaced to a caller wraps one of
// the sentinels below so transports can translate it without string matching.
package apperr

import "errors"

// Kind classifies an error for callers.
type Kind int

const (
	KindUnknown Kind = iota
	KindDuplicateEmail
	KindNotFound
	KindInvalidState
	KindInvalidCredentials
	KindAccountNotActive
	KindInvalidToken
	KindConfiguration
	KindInvalidInput
)

func (k Kind) String() string {
	switch k {
	case KindDuplicateEmail:
		return "duplicate_email"
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindAccountNotActive:
		return "account_not_active"
	case KindInvalidToken:
		return "invalid_token"
	case KindConfiguration:
		return "configuration"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// Error is a typed sentinel. Compare with errors.Is against the package-level
// values; wrap with fmt.Errorf("...: %w", ErrX) to add context.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

var (
	ErrDuplicateEmail     = &Error{Kind: KindDuplicateEmail, Msg: "email already registered"}
	ErrNotFound           = &Error{Kind: KindNotFound, Msg: "not found"}
	ErrInvalidState       = &Error{Kind: KindInvalidState, Msg: "invalid state transition"}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials, Msg: "invalid credentials"}
	ErrAccountNotActive   = &Error{Kind: KindAccountNotActive, Msg: "account is not active"}
	ErrInvalidToken       = &Error{Kind: KindInvalidToken, Msg: "invalid token"}
	ErrConfiguration      = &Error{Kind: KindConfiguration, Msg: "configuration error"}
	ErrInvalidInput       = &Error{Kind: KindInvalidInput, Msg: "invalid input"}
)

// KindOf returns the kind of the first typed error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
