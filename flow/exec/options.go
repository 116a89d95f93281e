package exec

import (
	"time"

	"github.com/nodeflow/nodeflow/flow/emit"
)

// Defaults for the executor's tunables.
const (
	DefaultExecutionTimeout = 10 * time.Minute
	DefaultStepTimeout      = 10 * time.Minute
	DefaultToolDepth        = 4
)

// Option configures an Executor.
type Option func(*Executor)

// WithEmitter sets the observability sink. The default is emit.NullEmitter.
func WithEmitter(e emit.Emitter) Option {
	return func(x *Executor) {
		if e != nil {
			x.emitter = e
		}
	}
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(x *Executor) { x.metrics = m }
}

// WithExecutionTimeout bounds a whole run.
func WithExecutionTimeout(d time.Duration) Option {
	return func(x *Executor) {
		if d > 0 {
			x.execTimeout = d
		}
	}
}

// WithStepTimeout bounds each durable step.
func WithStepTimeout(d time.Duration) Option {
	return func(x *Executor) {
		if d > 0 {
			x.stepTimeout = d
		}
	}
}

// WithStepRetries sets how many times a node step body is retried after a
// node-level error. The default is zero: nodes are assumed idempotent or to
// retry internally, and their errors are results, not faults.
func WithStepRetries(n int) Option {
	return func(x *Executor) {
		if n >= 0 {
			x.stepRetries = n
		}
	}
}

// WithToolDepth bounds tool-call recursion.
func WithToolDepth(n int) Option {
	return func(x *Executor) {
		if n > 0 {
			x.toolDepth = n
		}
	}
}
