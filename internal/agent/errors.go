package agent

import "fmt"

// Code classifies agent failures. The set is closed: every run-level error
// carries exactly one of these.
type Code string

const (
	CodeAborted               Code = "ABORTED"
	CodeInvalidPlanFormat     Code = "INVALID_PLAN_FORMAT"
	CodeInvalidPlanFinal      Code = "INVALID_PLAN_FINAL"
	CodePlanEmptyActions      Code = "PLAN_EMPTY_ACTIONS"
	CodeMaxActionsExceeded    Code = "MAX_ACTIONS_EXCEEDED"
	CodeUnknownTool           Code = "UNKNOWN_TOOL"
	CodeToolExecutionFailed   Code = "TOOL_EXECUTION_FAILED"
	CodeToolNotAllowed        Code = "TOOL_NOT_ALLOWED"
	CodeToolValidationFailed  Code = "TOOL_VALIDATION_FAILED"
	CodeQuotaExceeded         Code = "QUOTA_EXCEEDED"
	CodeMaxIterationsExceeded Code = "MAX_ITERATIONS_EXCEEDED"
	CodeUnexpectedError       Code = "UNEXPECTED_ERROR"
)

// Error is a classified agent failure with an optional cause and
// structured details.
type Error struct {
	Code    Code
	Msg     string
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Unwrap exposes the cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.Cause }

func newError(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

func wrapError(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Msg: msg, Cause: cause}
}
