package usecase

import "fmt"

type ErrorCode string

const (
	ErrorAuthentication   ErrorCode = "AUTHENTICATION_ERROR"
	ErrorInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrorStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrorCompletion       ErrorCode = "COMPLETION_ERROR"
	ErrorDispatch         ErrorCode = "DISPATCH_ERROR"
	ErrorInternal         ErrorCode = "INTERNAL_ERROR"
)

// reasonMemoryInconsistency marks a turn whose reply was delivered but whose
// exchange could not be persisted.
const reasonMemoryInconsistency = "memory_inconsistency"

// Error is the classified failure of a webhook or a single turn. Stage is the
// last stage the pipeline reached before failing.
type Error struct {
	Code   ErrorCode
	Reason string
	Stage  Stage
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s) at %s", e.Code, e.Reason, e.Stage)
	}
	return fmt.Sprintf("usecase: %s (%s) at %s: %v", e.Code, e.Reason, e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Delivered reports whether the user received the reply despite the error.
func (e *Error) Delivered() bool {
	return e != nil && e.Reason == reasonMemoryInconsistency
}

func newError(code ErrorCode, reason string, stage Stage, err error) *Error {
	return &Error{Code: code, Reason: reason, Stage: stage, Err: err}
}
