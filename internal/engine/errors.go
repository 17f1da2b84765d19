package engine

import "fmt"

// StepError represents a step that exhausted its retries or failed on the
// underlying chat exchange.
type StepError struct {
	StepID   string
	StepName string
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("step %q failed: %s: %v", e.StepName, e.Message, e.Cause)
	}
	return fmt.Sprintf("step %q failed: %s", e.StepName, e.Message)
}

// Unwrap returns the underlying error.
func (e *StepError) Unwrap() error {
	return e.Cause
}

// NewStepError creates a new StepError.
func NewStepError(stepID, stepName, message string, cause error) *StepError {
	return &StepError{StepID: stepID, StepName: stepName, Message: message, Cause: cause}
}

// IsStepError checks if the error is a step failure.
func IsStepError(err error) bool {
	_, ok := err.(*StepError)
	return ok
}
