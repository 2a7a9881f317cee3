package core

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure classes a ledger operation can
// report. Callers branch on the kind, never on the message text.
type ErrorKind string

const (
	KindUnknown              ErrorKind = "unknown"
	KindNotFound             ErrorKind = "not_found"
	KindBadRequest           ErrorKind = "bad_request"
	KindInsufficientFunds    ErrorKind = "insufficient_funds"
	KindBalanceInconsistency ErrorKind = "balance_inconsistency"
	KindForbidden            ErrorKind = "forbidden"
)

// Error is a classified ledger error. It satisfies errors.As so kinds
// survive wrapping with fmt.Errorf("%w").
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func NotFoundf(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func BadRequestf(format string, args ...any) error {
	return &Error{Kind: KindBadRequest, Msg: fmt.Sprintf(format, args...)}
}

func InsufficientFundsf(format string, args ...any) error {
	return &Error{Kind: KindInsufficientFunds, Msg: fmt.Sprintf(format, args...)}
}

func BalanceInconsistencyf(format string, args ...any) error {
	return &Error{Kind: KindBalanceInconsistency, Msg: fmt.Sprintf(format, args...)}
}

func Forbiddenf(format string, args ...any) error {
	return &Error{Kind: KindForbidden, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from anywhere in err's chain. Plain errors and
// nil report KindUnknown.
func KindOf(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
