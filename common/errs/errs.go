package errs

import (
	"errors"
	"fmt"
)

// Error codes surfaced at the API boundary
const (
	CodeInvalidWorkflow    = "invalid_workflow"
	CodeUnknownNode        = "unknown_node"
	CodeCycle              = "invariant_violation.cycle"
	CodeInvariantViolation = "invariant_violation"
	CodeExecutionNotFound  = "execution_not_found"
	CodeWorkflowNotFound   = "workflow_not_found"
	CodeNotPaused          = "not_paused"
	CodeNodeFailed         = "node_failed"
	CodeCredentialsMissing = "credentials_missing"
	CodeDeploymentFailed   = "deployment_failed"
	CodeSignatureInvalid   = "signature_invalid"
	CodeTimeout            = "timeout"
	CodeConversionFailed   = "conversion_failed"
)

// AppError is the structured error carried through the API boundary.
// Solution, when present, tells the user how to unblock themselves
// (e.g. "connect account at /integrations/connect/slack").
type AppError struct {
	Code     string         `json:"error_code"`
	Message  string         `json:"error_message"`
	Details  map[string]any `json:"error_details,omitempty"`
	Solution string         `json:"solution,omitempty"`

	cause error
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap creates a new AppError wrapping an underlying cause
func Wrap(code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, cause: cause}
}

// WithDetail attaches a detail field
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithSolution attaches a user-facing remediation hint
func (e *AppError) WithSolution(solution string) *AppError {
	e.Solution = solution
	return e
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.cause
}

// Code extracts the error code from err, or "internal" if it is not an AppError
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return "internal"
}

// As extracts an AppError from err, or wraps err into a generic one
func As(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return &AppError{Code: "internal", Message: err.Error(), cause: err}
}
