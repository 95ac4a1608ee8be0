package errorsx

import (
	"errors"
	"fmt"
)

// ReasonedError tags an error with the ReasonCode logged and counted for it.
// The innermost reason wins: wrapping an already reasoned error keeps it.
type ReasonedError struct {
	Err    error
	Reason ReasonCode
}

func (e ReasonedError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return e.Err.Error()
}

func (e ReasonedError) Unwrap() error { return e.Err }

// New formats a message like fmt.Errorf and tags it with reason.
func New(reason ReasonCode, format string, args ...any) error {
	return ReasonedError{Err: fmt.Errorf(format, args...), Reason: reason}
}

// Wrap tags err with reason. Nil stays nil and an error that already carries
// a reason is returned unchanged.
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	if _, ok := asReasoned(err); ok {
		return err
	}
	return ReasonedError{Err: err, Reason: reason}
}

// Reason returns the reason carried by err, or ReasonUnknown.
func Reason(err error) ReasonCode {
	if re, ok := asReasoned(err); ok {
		return re.Reason
	}
	return ReasonUnknown
}

func HasReason(err error, reason ReasonCode) bool {
	return Reason(err) == reason
}

func asReasoned(err error) (ReasonedError, bool) {
	var re ReasonedError
	if err == nil || !errors.As(err, &re) {
		return ReasonedError{}, false
	}
	return re, true
}
