package flow

import "errors"

// ErrInvalidWorkflow indicates the workflow failed structural validation.
// The Issue list returned by Validate carries the specifics.
var ErrInvalidWorkflow = errors.New("workflow failed validation")

// ErrCycleDetected indicates the planner found a cycle. Validate rejects
// cyclic graphs first, so this error surfacing from Plan means a validated
// workflow was mutated after the fact.
var ErrCycleDetected = errors.New("workflow graph contains a cycle")

// ErrNodeTypeMissing indicates the registry has no implementation for a
// node's type string.
var ErrNodeTypeMissing = errors.New("node type not registered")

// ErrInsufficientCredits indicates the compute credit balance and the
// overage allowance are both exhausted.
var ErrInsufficientCredits = errors.New("insufficient compute credits")
