package exec

import (
	"errors"
	"fmt"

	"github.com/nodeflow/nodeflow/flow"
)

// Code classifies an execution failure for callers that branch on failure
// class rather than message text.
type Code string

const (
	CodeInvalidWorkflow     Code = "INVALID_WORKFLOW"
	CodeInsufficientCredits Code = "INSUFFICIENT_CREDITS"
	CodeNodeTypeMissing     Code = "NODE_TYPE_MISSING"
	CodeNodeExecution       Code = "NODE_EXECUTION"
	CodeCancelled           Code = "CANCELLED"
	CodeStoreFailure        Code = "STORE_FAILURE"
	CodeUnknown             Code = "UNKNOWN"
)

// ExecError is the executor's failure envelope: a failure code, the
// execution it belongs to and the underlying cause. It unwraps to the
// sentinel errors, so errors.Is works through it.
type ExecError struct {
	Code        Code
	ExecutionID string
	Err         error
}

func (e *ExecError) Error() string {
	if e.ExecutionID == "" {
		return fmt.Sprintf("[%s] %v", e.Code, e.Err)
	}
	return fmt.Sprintf("[%s] execution %s: %v", e.Code, e.ExecutionID, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// classify maps an error to its failure code by sentinel.
func classify(err error) Code {
	switch {
	case errors.Is(err, flow.ErrInvalidWorkflow):
		return CodeInvalidWorkflow
	case errors.Is(err, flow.ErrInsufficientCredits):
		return CodeInsufficientCredits
	case errors.Is(err, flow.ErrNodeTypeMissing):
		return CodeNodeTypeMissing
	case errors.Is(err, ErrNodeExecution):
		return CodeNodeExecution
	case errors.Is(err, ErrCancelled):
		return CodeCancelled
	case errors.Is(err, ErrStoreFailure):
		return CodeStoreFailure
	}
	return CodeUnknown
}

// wrapErr envelopes a failure with its code and execution id. Nil stays nil.
func wrapErr(executionID string, err error) error {
	if err == nil {
		return nil
	}
	return &ExecError{Code: classify(err), ExecutionID: executionID, Err: err}
}
