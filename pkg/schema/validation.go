package schema

import "fmt"

// ValidationSeverity indicates whether an issue is an error or warning.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is a single validation problem with location context.
type ValidationIssue struct {
	Path     string             `json:"path"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

// ValidationResult aggregates all issues found in a workflow document.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid returns true if there are no errors (warnings are acceptable).
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddError appends an error-severity issue.
func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{
		Path: path, Code: code, Message: message, Severity: SeverityError,
	})
}

// AddWarning appends a warning-severity issue.
func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{
		Path: path, Code: code, Message: message, Severity: SeverityWarning,
	})
}

// Merge appends other's issues to r.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// Err converts the result into a FlowError, or nil when valid.
func (r *ValidationResult) Err() error {
	if r.Valid() {
		return nil
	}
	if len(r.Errors) == 1 {
		issue := r.Errors[0]
		return NewErrorf(ErrCodeValidation, "%s: %s", issue.Path, issue.Message).
			WithDetails(map[string]any{"issues": r.Errors})
	}
	return NewErrorf(ErrCodeValidation, "workflow document has %d errors", len(r.Errors)).
		WithDetails(map[string]any{"issues": r.Errors})
}

// MissingConfig builds the validation error raised when a node lacks a
// required configuration field.
func MissingConfig(nodeLabel, field string) *FlowError {
	return NewError(ErrCodeValidation, fmt.Sprintf("%s: %s is not configured", nodeLabel, field)).
		WithDetails(map[string]any{"field": field})
}
