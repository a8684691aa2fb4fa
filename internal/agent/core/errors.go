package core

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a run ended in Failed.
type FailureKind string

const (
	BlueprintMissing  FailureKind = "BlueprintMissing"
	PlanFormatError   FailureKind = "PlanFormatError"
	NoResultProduced  FailureKind = "NoResultProduced"
	CollaboratorError FailureKind = "CollaboratorError"
)

// RunError is the terminal error of a failed run.
type RunError struct {
	Kind FailureKind
	Err  error
}

func (e *RunError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// KindOf returns the failure kind carried by err, or CollaboratorError for
// any other non-nil error.
func KindOf(err error) FailureKind {
	if err == nil {
		return ""
	}
	var re *RunError
	if errors.As(err, &re) {
		return re.Kind
	}
	return CollaboratorError
}

func fail(kind FailureKind, format string, args ...interface{}) *RunError {
	return &RunError{Kind: kind, Err: fmt.Errorf(format, args...)}
}
