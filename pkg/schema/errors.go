package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeCycleDetected      = "CYCLE_DETECTED"
	ErrCodeCredentialNotFound = "CREDENTIAL_NOT_FOUND"
	ErrCodeExternalCall       = "EXTERNAL_CALL_ERROR"
	ErrCodeUnknownNodeType    = "UNKNOWN_NODE_TYPE"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeInvalidTransition  = "INVALID_TRANSITION"
	ErrCodeStore              = "STORE_ERROR"
	ErrCodeVault              = "VAULT_ERROR"
	ErrCodeTemplate           = "TEMPLATE_ERROR"
)

// nonRetriable lists the codes that never succeed on a second attempt with the
// same input. External call failures are absent: they may be transient, but run
// level redelivery is disabled so they are still terminal for the run.
var nonRetriable = map[string]bool{
	ErrCodeValidation:         true,
	ErrCodeCycleDetected:      true,
	ErrCodeCredentialNotFound: true,
	ErrCodeUnknownNodeType:    true,
	ErrCodeNotFound:           true,
	ErrCodeConflict:           true,
	ErrCodeInvalidTransition:  true,
	ErrCodeTemplate:           true,
}

// FlowError is the structured error type for all engine operations.
type FlowError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FlowError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// NewError creates a new FlowError.
func NewError(code, message string) *FlowError {
	return &FlowError{Code: code, Message: message}
}

// NewErrorf creates a new FlowError with a formatted message.
func NewErrorf(code, format string, args ...any) *FlowError {
	return &FlowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a node ID to the error.
func (e *FlowError) WithNode(nodeID string) *FlowError {
	e.NodeID = nodeID
	return e
}

// WithCause attaches an underlying cause.
func (e *FlowError) WithCause(err error) *FlowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FlowError) WithDetails(details map[string]any) *FlowError {
	e.Details = details
	return e
}

// ErrorCode returns the code of the first FlowError in err's chain, or "" when
// the chain carries none.
func ErrorCode(err error) string {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// HasCode reports whether err's chain carries a FlowError with the given code.
func HasCode(err error, code string) bool {
	return ErrorCode(err) == code
}

// IsNonRetriable reports whether err can never succeed when retried with the
// same input.
func IsNonRetriable(err error) bool {
	return nonRetriable[ErrorCode(err)]
}

// ErrorStack renders err and its cause chain one entry per line, outermost
// first. It is stored alongside the message of a failed execution.
func ErrorStack(err error) string {
	var out string
	for depth := 0; err != nil; depth++ {
		if depth > 0 {
			out += "\n"
		}
		out += fmt.Sprintf("#%d %T: %s", depth, err, err.Error())
		err = errors.Unwrap(err)
	}
	return out
}
