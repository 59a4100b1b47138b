package security

import "fmt"

// ErrCode identifies the class of failure within the security domain. These
// match the error identifier strings the device's outer layers surface to
// callers.
type ErrCode string

const (
	ErrInvalidParams           ErrCode = "invalidParams"
	ErrDeviceBusy              ErrCode = "deviceBusy"
	ErrUnknownSession          ErrCode = "unknownSession"
	ErrInvalidFormat           ErrCode = "invalidFormat"
	ErrCommitmentMismatch      ErrCode = "commitmentMismatch"
	ErrInvalidClientCommitment ErrCode = "invalidClientCommitment"
	ErrAlreadyExpired          ErrCode = "already_expired"
	ErrAccessDenied            ErrCode = "access_denied"
)

// Error is the structured error type the security core returns: a fixed
// domain, a taxonomy code, and a human-readable message, plus an optional
// wrapped cause. Callers branch on the code with Code(err), not on
// Error()'s text.
type Error struct {
	Domain  string
	Code    ErrCode
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Domain, e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Domain, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Code extracts the ErrCode from err if it is (or wraps) a *Error, and
// reports whether one was found.
func Code(err error) (ErrCode, bool) {
	var se *Error
	if err == nil {
		return "", false
	}
	if e, ok := err.(*Error); ok {
		se = e
	} else if as, ok := err.(interface{ Unwrap() error }); ok {
		return Code(as.Unwrap())
	}
	if se == nil {
		return "", false
	}
	return se.Code, true
}

// newError builds a structured Error in the "security" domain, with the
// message built printf-style, matching the way the original's
// Error::AddToPrintf constructs its diagnostic text.
func newError(code ErrCode, format string, args ...any) *Error {
	return &Error{
		Domain:  "security",
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

func wrapError(code ErrCode, cause error, format string, args ...any) *Error {
	e := newError(code, format, args...)
	e.cause = cause
	return e
}
