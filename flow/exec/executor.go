// Package exec drives workflow executions.
//
// The Executor takes a validated workflow and a parameter bag from a
// trigger, runs the graph node by node in deterministic topological order,
// and produces a terminal Execution record. Every unit of work is a durable
// step journaled before its effects are observable, so a run interrupted by
// a host restart resumes at the first unrecorded step with identical
// results.
package exec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nodeflow/nodeflow/flow"
	"github.com/nodeflow/nodeflow/flow/codec"
	"github.com/nodeflow/nodeflow/flow/emit"
	"github.com/nodeflow/nodeflow/flow/registry"
	"github.com/nodeflow/nodeflow/flow/store"
)

// ErrNodeExecution indicates at least one node returned an error and its
// downstream nodes were skipped. The per-node details live on the
// Execution's NodeExecution entries.
var ErrNodeExecution = errors.New("node execution failed")

// ErrStoreFailure indicates persistence I/O failed after retries.
var ErrStoreFailure = errors.New("store failure")

// ErrCancelled indicates the run was stopped by external cancellation, via
// either the caller's context or a cancel flag on the execution record.
var ErrCancelled = errors.New("execution cancelled")

// Request is everything needed to start one execution.
type Request struct {
	// Workflow is the graph to run. The executor treats it as immutable
	// apart from promoting trigger parameters into input defaults on its
	// own copy.
	Workflow flow.Workflow

	UserID         string
	OrganizationID string

	// ComputeCredits is the credit balance at submission. OverageLimit,
	// when non-nil, allows that much extra spend past the balance.
	ComputeCredits float64
	OverageLimit   *float64

	SubscriptionStatus string
	UserPlan           string

	// DeploymentID selects production mode: the workflow snapshot is read
	// from the deployment store instead of using Workflow.
	DeploymentID string

	// Parameters are trigger-supplied values. A key of the form
	// "<nodeId>.<input>" targets one input; a bare key applies to
	// matching inputs on entry nodes.
	Parameters map[string]any

	Trigger flow.Trigger
	Mode    registry.Mode

	// HTTPRequest carries the inbound request for http_request and
	// http_webhook triggers; nil otherwise.
	HTTPRequest *registry.HTTPRequest

	// GetIntegration resolves credential bundles for nodes that need
	// them. Nil when the host provides no credential isolator.
	GetIntegration registry.IntegrationLookup

	// Env is an opaque service handle passed through to nodes.
	Env any
}

// Executor runs workflows. Construct once with New and share across runs;
// all per-run state lives on the run, not the Executor.
type Executor struct {
	store   store.Store
	reg     *registry.Registry
	codec   *codec.Codec
	emitter emit.Emitter
	metrics *Metrics

	execTimeout time.Duration
	stepTimeout time.Duration
	stepRetries int
	toolDepth   int
}

// New builds an executor over the given store, registry and codec.
func New(st store.Store, reg *registry.Registry, cdc *codec.Codec, opts ...Option) (*Executor, error) {
	if st == nil {
		return nil, errors.New("exec: nil store")
	}
	if reg == nil {
		return nil, errors.New("exec: nil registry")
	}
	if cdc == nil {
		return nil, errors.New("exec: nil codec")
	}
	x := &Executor{
		store:       st,
		reg:         reg,
		codec:       cdc,
		emitter:     emit.NewNullEmitter(),
		execTimeout: DefaultExecutionTimeout,
		stepTimeout: DefaultStepTimeout,
		toolDepth:   DefaultToolDepth,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x, nil
}

// run is the mutable state of one execution attempt. It is owned by a
// single goroutine for the duration of the run.
type run struct {
	req Request
	w   flow.Workflow
	ex  *flow.Execution
	j   *journal
	led *ledger

	// integrations is the per-run memoizing wrapper around the request's
	// credential lookup.
	integrations registry.IntegrationLookup

	order       []string
	nodeOutputs map[string]map[string]any
	nodeErrors  map[string]string
	partial     bool
	cancelled   bool

	// fatal is the first error that forces terminal status error.
	fatal error
}

// Execute runs a workflow to a terminal state. The returned Execution is
// always non-nil once the run was admitted; the error mirrors its terminal
// status (nil for completed runs, including partial ones).
//
// Sentinels observable through errors.Is: flow.ErrInvalidWorkflow,
// flow.ErrInsufficientCredits, flow.ErrNodeTypeMissing, ErrNodeExecution,
// ErrStoreFailure.
func (x *Executor) Execute(ctx context.Context, req Request) (*flow.Execution, error) {
	led := newLedger(req.ComputeCredits, req.OverageLimit)
	if led.Remaining() <= 0 {
		return nil, wrapErr("", fmt.Errorf("%w: balance %.3f", flow.ErrInsufficientCredits, req.ComputeCredits))
	}

	w := req.Workflow
	if req.DeploymentID != "" {
		snap, err := x.store.ReadWorkflowSnapshot(ctx, req.DeploymentID)
		if err != nil {
			return nil, fmt.Errorf("%w: read deployment %s: %v", ErrStoreFailure, req.DeploymentID, err)
		}
		w = *snap
	}

	userID := req.UserID
	if userID == "" {
		userID = flow.MCPAgentUserID
	}

	ex := &flow.Execution{
		ID:             uuid.NewString(),
		WorkflowID:     w.ID,
		DeploymentID:   req.DeploymentID,
		OrganizationID: req.OrganizationID,
		UserID:         userID,
		Status:         flow.StatusSubmitted,
		StartedAt:      time.Now().UTC(),
	}
	if err := x.store.CreateExecution(ctx, ex); err != nil {
		return nil, fmt.Errorf("%w: create execution: %v", ErrStoreFailure, err)
	}

	r := &run{
		req:          req,
		w:            cloneWorkflow(&w),
		ex:           ex,
		j:            newJournal(x.store, ex.ID),
		led:          led,
		integrations: cachedIntegrations(req.GetIntegration),
		nodeOutputs:  make(map[string]map[string]any),
		nodeErrors:   make(map[string]string),
	}
	return x.drive(ctx, r)
}

// cachedIntegrations memoizes successful credential lookups for the life of
// one run. A fresh execution always re-fetches; failed lookups are not
// cached so transient isolator errors stay retryable.
func cachedIntegrations(fn registry.IntegrationLookup) registry.IntegrationLookup {
	if fn == nil {
		return nil
	}
	var mu sync.Mutex
	cache := make(map[string]registry.Integration)
	return func(ctx context.Context, id string) (registry.Integration, error) {
		mu.Lock()
		defer mu.Unlock()
		if v, ok := cache[id]; ok {
			return v, nil
		}
		v, err := fn(ctx, id)
		if err != nil {
			return v, err
		}
		cache[id] = v
		return v, nil
	}
}

// cloneWorkflow deep-copies the graph structure so parameter promotion
// never mutates the caller's value. Parameter values themselves are shared;
// the executor only reads them.
func cloneWorkflow(w *flow.Workflow) flow.Workflow {
	out := *w
	out.Nodes = make([]flow.Node, len(w.Nodes))
	for i := range w.Nodes {
		n := w.Nodes[i]
		n.Inputs = append([]flow.Parameter(nil), n.Inputs...)
		n.Outputs = append([]flow.Parameter(nil), n.Outputs...)
		out.Nodes[i] = n
	}
	out.Edges = append([]flow.Edge(nil), w.Edges...)
	return out
}

// Resume continues an interrupted execution from its journal. Completed
// steps replay from their recorded results; the run proceeds at the first
// unrecorded step. Credit gating applied at submission is not re-applied.
func (x *Executor) Resume(ctx context.Context, executionID string) (*flow.Execution, error) {
	ex, err := x.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("%w: load execution: %v", ErrStoreFailure, err)
	}
	if ex.Status.Terminal() {
		return ex, nil
	}

	var w *flow.Workflow
	if ex.DeploymentID != "" {
		w, err = x.store.ReadWorkflowSnapshot(ctx, ex.DeploymentID)
	} else {
		w, err = x.store.GetWorkflow(ctx, ex.WorkflowID, ex.OrganizationID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load workflow: %v", ErrStoreFailure, err)
	}

	r := &run{
		req:         Request{Workflow: *w, UserID: ex.UserID, OrganizationID: ex.OrganizationID},
		w:           *w,
		ex:          ex,
		j:           newJournal(x.store, ex.ID),
		led:         newLedger(unbounded, nil),
		nodeOutputs: make(map[string]map[string]any),
		nodeErrors:  make(map[string]string),
	}
	r.integrations = cachedIntegrations(r.req.GetIntegration)
	r.ex.Data.NodeExecutions = nil
	if err := r.j.load(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return x.drive(ctx, r)
}

// unbounded is the resume-path credit limit. Admission already charged the
// gate once; a resumed run finishes what was admitted.
const unbounded = 1 << 52

// drive runs the step loop to finalize. It always attempts to finalize,
// even after a fatal step, so the terminal record is persisted.
func (x *Executor) drive(parent context.Context, r *run) (*flow.Execution, error) {
	ctx, cancel := context.WithTimeout(parent, x.execTimeout)
	defer cancel()

	r.ex.Status = flow.StatusExecuting
	x.emit(emit.Event{ExecutionID: r.ex.ID, Msg: emit.MsgExecutionStarted, Meta: map[string]any{
		"workflowId": r.w.ID,
		"trigger":    string(r.req.Trigger),
	}})

	x.runValidate(ctx, r)
	if r.fatal == nil {
		x.runPlan(ctx, r)
	}
	if r.fatal == nil {
		x.runNodes(ctx, r)
	}
	// Finalization must persist the terminal record even when the caller's
	// context is already cancelled or past its deadline.
	x.runFinalize(context.WithoutCancel(parent), r)

	x.emit(emit.Event{ExecutionID: r.ex.ID, Msg: emit.MsgExecutionFinished, Meta: map[string]any{
		"status":  string(r.ex.Status),
		"usage":   r.ex.Usage,
		"partial": r.ex.Partial,
	}})
	x.metrics.execution(string(r.ex.Status))

	return r.ex, wrapErr(r.ex.ID, r.fatal)
}

func (x *Executor) runValidate(ctx context.Context, r *run) {
	applyParameters(&r.w, r.req.Parameters)

	raw, _, err := r.j.run(ctx, "validate", 0, func(context.Context) (any, error) {
		return flow.Validate(&r.w), nil
	})
	if err != nil {
		r.fatal = fmt.Errorf("%w: %v", ErrStoreFailure, err)
		return
	}
	var issues []flow.Issue
	if err := json.Unmarshal(raw, &issues); err != nil {
		r.fatal = fmt.Errorf("%w: corrupt validate step: %v", ErrStoreFailure, err)
		return
	}
	if len(issues) > 0 {
		r.fatal = fmt.Errorf("%w: %d issue(s), first: %s", flow.ErrInvalidWorkflow, len(issues), issues[0])
	}
	x.emitStep(r, "validate")
}

func (x *Executor) runPlan(ctx context.Context, r *run) {
	raw, _, err := r.j.run(ctx, "plan", 0, func(context.Context) (any, error) {
		return flow.Plan(&r.w)
	})
	if err != nil {
		if errors.Is(err, flow.ErrCycleDetected) {
			r.fatal = fmt.Errorf("%w: %v", flow.ErrInvalidWorkflow, err)
		} else {
			r.fatal = fmt.Errorf("%w: %v", ErrStoreFailure, err)
		}
		return
	}
	if err := json.Unmarshal(raw, &r.order); err != nil {
		r.fatal = fmt.Errorf("%w: corrupt plan step: %v", ErrStoreFailure, err)
		return
	}
	x.emitStep(r, "plan")
}

func (x *Executor) runNodes(ctx context.Context, r *run) {
	for i, id := range r.order {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.Canceled) {
				x.cancelRun(ctx, r, r.order[i:])
			} else {
				x.skipRemaining(ctx, r, r.order[i:], "Timeout")
				r.fatal = fmt.Errorf("%w: execution timed out", ErrNodeExecution)
			}
			return
		}
		if x.cancelRequested(ctx, r) {
			x.cancelRun(ctx, r, r.order[i:])
			return
		}

		node := r.w.NodeByID(id)
		if node == nil {
			r.fatal = fmt.Errorf("%w: plan names unknown node %q", ErrStoreFailure, id)
			return
		}
		desc, descErr := x.reg.GetNodeType(node.Type)

		// The credit gate holds across replays because ledger state is
		// rebuilt from the same journal in the same order.
		if descErr == nil && desc.ComputeCost > 0 && !r.led.Covers(desc.ComputeCost) {
			r.partial = true
			x.skipRemaining(ctx, r, r.order[i:], "insufficient compute credits")
			return
		}

		ne, replayed, err := x.runNodeStep(ctx, r, node)
		if err != nil {
			r.fatal = fmt.Errorf("%w: node %s: %v", ErrStoreFailure, id, err)
			return
		}
		x.record(r, ne, replayed)
	}
}

// runNodeStep journals and runs one node, returning its journal entry.
func (x *Executor) runNodeStep(ctx context.Context, r *run, node *flow.Node) (flow.NodeExecution, bool, error) {
	started := time.Now()
	raw, replayed, err := r.j.run(ctx, "node:"+node.ID, x.stepRetries, func(stepCtx context.Context) (any, error) {
		runCtx, cancel := context.WithTimeout(stepCtx, x.stepTimeout)
		defer cancel()
		return x.runNode(runCtx, r, node), nil
	})
	if err != nil {
		return flow.NodeExecution{}, false, err
	}
	var ne flow.NodeExecution
	if err := json.Unmarshal(raw, &ne); err != nil {
		return flow.NodeExecution{}, false, fmt.Errorf("corrupt node step: %w", err)
	}
	if !replayed {
		x.metrics.node(string(ne.Status), float64(time.Since(started).Milliseconds()))
	}
	return ne, replayed, nil
}

// runNode produces the NodeExecution for one node: the skip decision, input
// resolution, codec conversion and the node body itself. Node failures are
// values on the returned entry, never errors.
func (x *Executor) runNode(ctx context.Context, r *run, node *flow.Node) flow.NodeExecution {
	x.emit(emit.Event{ExecutionID: r.ex.ID, NodeID: node.ID, Msg: emit.MsgNodeStarted, Meta: map[string]any{"type": node.Type}})

	if reason, blocked := upstreamFailure(&r.w, node, r.nodeErrors); blocked {
		return flow.NodeExecution{
			NodeID: node.ID,
			Status: flow.NodeSkipped,
			Error:  reason,
		}
	}

	wire, err := resolveInputs(&r.w, node, r.nodeOutputs)
	if err != nil {
		return nodeFailure(node.ID, nil, err)
	}

	inputs, err := x.decodeInputs(ctx, node, wire)
	if err != nil {
		return nodeFailure(node.ID, wire, err)
	}

	executable, err := x.reg.Create(*node)
	if err != nil {
		return nodeFailure(node.ID, wire, err)
	}
	desc, _ := x.reg.GetNodeType(node.Type)

	rc := &registry.Context{
		NodeID:         node.ID,
		WorkflowID:     r.w.ID,
		OrganizationID: r.req.OrganizationID,
		Mode:           r.req.Mode,
		Inputs:         inputs,
		Env:            r.req.Env,
		GetIntegration: r.integrations,
	}
	if desc.FunctionCalling {
		rc.Tools = &toolRunner{x: x, r: r, chain: map[string]bool{
			toolKey(r.w.ID, node.ID): true,
		}}
	}
	if r.req.Trigger == flow.TriggerHTTPRequest || r.req.Trigger == flow.TriggerHTTPWebhook {
		rc.HTTPRequest = r.req.HTTPRequest
	}

	ne := executable.Execute(ctx, rc)
	ne.NodeID = node.ID
	ne.Inputs = wire

	if ne.Status == flow.NodeCompleted {
		encoded, err := x.encodeOutputs(ctx, node, ne.Outputs)
		if err != nil {
			return nodeFailure(node.ID, wire, err)
		}
		ne.Outputs = encoded
	}
	return ne
}

// record folds a node's journal entry into the run state.
func (x *Executor) record(r *run, ne flow.NodeExecution, replayed bool) {
	switch ne.Status {
	case flow.NodeCompleted:
		if ne.Usage == 0 {
			if node := r.w.NodeByID(ne.NodeID); node != nil {
				if desc, err := x.reg.GetNodeType(node.Type); err == nil {
					ne.Usage = desc.ComputeCost
				}
			}
		}
		r.nodeOutputs[ne.NodeID] = ne.Outputs
		r.led.Spend(ne.Usage)
		if !replayed {
			x.metrics.spend(ne.Usage)
			x.emit(emit.Event{ExecutionID: r.ex.ID, NodeID: ne.NodeID, Msg: emit.MsgNodeCompleted, Meta: map[string]any{"usage": ne.Usage}})
		}
	case flow.NodeError:
		r.nodeErrors[ne.NodeID] = ne.Error
		if isTypeMissing(ne.Error) {
			r.fatal = fmt.Errorf("%w: node %s", flow.ErrNodeTypeMissing, ne.NodeID)
		}
		if !replayed {
			x.emit(emit.Event{ExecutionID: r.ex.ID, NodeID: ne.NodeID, Msg: emit.MsgNodeError, Meta: map[string]any{"error": ne.Error}})
		}
	case flow.NodeSkipped:
		r.nodeErrors[ne.NodeID] = ne.Error
		if !replayed {
			x.emit(emit.Event{ExecutionID: r.ex.ID, NodeID: ne.NodeID, Msg: emit.MsgNodeSkipped, Meta: map[string]any{"reason": ne.Error}})
		}
	}
	r.ex.Data.NodeExecutions = append(r.ex.Data.NodeExecutions, ne)
}

// cancelRun journals the remaining nodes as skipped and marks the run
// cancelled. Skip entries are journaled on a detached context so they land
// even when the caller's context is already gone.
func (x *Executor) cancelRun(ctx context.Context, r *run, rest []string) {
	x.skipRemaining(context.WithoutCancel(ctx), r, rest, "execution cancelled")
	r.cancelled = true
	r.fatal = ErrCancelled
}

// cancelRequested reloads the execution record so a cancel flag set by the
// trigger layer stops the run at the next step boundary. A failed reload
// reads as not cancelled; the next boundary checks again.
func (x *Executor) cancelRequested(ctx context.Context, r *run) bool {
	cur, err := x.store.GetExecution(ctx, r.ex.ID)
	if err != nil {
		return false
	}
	if cur.CancelRequested {
		r.ex.CancelRequested = true
	}
	return cur.CancelRequested
}

// Cancel flags an execution for cancellation. The running executor observes
// the flag between steps; a node already mid-step finishes first. Cancelling
// a terminal execution is a no-op.
func (x *Executor) Cancel(ctx context.Context, executionID string) error {
	ex, err := x.store.GetExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("%w: load execution: %v", ErrStoreFailure, err)
	}
	if ex.Status.Terminal() {
		return nil
	}
	ex.CancelRequested = true
	if err := x.store.UpdateExecution(ctx, ex); err != nil {
		return fmt.Errorf("%w: flag cancellation: %v", ErrStoreFailure, err)
	}
	return nil
}

// skipRemaining journals skipped entries for every node in rest.
func (x *Executor) skipRemaining(ctx context.Context, r *run, rest []string, reason string) {
	for _, id := range rest {
		ne := flow.NodeExecution{NodeID: id, Status: flow.NodeSkipped, Error: reason}
		raw, replayed, err := r.j.run(ctx, "node:"+id, 0, func(context.Context) (any, error) {
			return ne, nil
		})
		if err != nil {
			r.fatal = fmt.Errorf("%w: node %s: %v", ErrStoreFailure, id, err)
			return
		}
		if replayed {
			_ = json.Unmarshal(raw, &ne)
		}
		x.record(r, ne, replayed)
	}
}

func (x *Executor) runFinalize(ctx context.Context, r *run) {
	now := time.Now().UTC()
	r.ex.EndedAt = &now
	r.ex.Usage = r.led.Spent()
	r.ex.Partial = r.partial

	switch {
	case r.cancelled:
		r.ex.Status = flow.StatusCancelled
		r.ex.Error = "execution cancelled"
	case r.fatal != nil:
		r.ex.Status = flow.StatusError
		r.ex.Error = r.fatal.Error()
	case r.anyNodeErrored():
		r.ex.Status = flow.StatusError
		first := r.firstNodeError()
		r.ex.Error = first
		r.fatal = fmt.Errorf("%w: %s", ErrNodeExecution, first)
	default:
		r.ex.Status = flow.StatusCompleted
		if r.partial {
			r.ex.Error = "insufficient compute credits: remaining nodes skipped"
		}
	}

	_, replayed, err := r.j.run(ctx, "finalize", storeRetries, func(stepCtx context.Context) (any, error) {
		if err := x.store.UpdateExecution(stepCtx, r.ex); err != nil {
			return nil, err
		}
		return string(r.ex.Status), nil
	})
	if err != nil && r.fatal == nil {
		r.fatal = fmt.Errorf("%w: finalize: %v", ErrStoreFailure, err)
	}
	if replayed {
		// The step was journaled but the terminal record may not have
		// landed before the interruption. The rewrite is idempotent.
		if err := x.store.UpdateExecution(ctx, r.ex); err != nil && r.fatal == nil {
			r.fatal = fmt.Errorf("%w: finalize: %v", ErrStoreFailure, err)
		}
	}
	x.emitStep(r, "finalize")
}

func (r *run) anyNodeErrored() bool {
	for _, ne := range r.ex.Data.NodeExecutions {
		if ne.Status == flow.NodeError {
			return true
		}
	}
	return false
}

// firstNodeError returns the first failed node's error verbatim. Node
// attribution lives on the NodeExecution entry, not here.
func (r *run) firstNodeError() string {
	for _, ne := range r.ex.Data.NodeExecutions {
		if ne.Status == flow.NodeError {
			return ne.Error
		}
	}
	return ""
}

// upstreamFailure reports whether a failed or skipped direct upstream
// blocks the node, with the propagated reason. An upstream feeding only
// optional inputs does not block; neither does one whose required target
// input still resolves from a default or another healthy source.
func upstreamFailure(w *flow.Workflow, node *flow.Node, nodeErrors map[string]string) (string, bool) {
	for _, e := range w.EdgesInto(node.ID) {
		msg, bad := nodeErrors[e.Source]
		if !bad {
			continue
		}
		p := inputParam(node, e.TargetInput)
		if p == nil || !p.Required {
			continue
		}
		if p.Value != nil {
			continue
		}
		if healthySourceFor(w, node.ID, e.TargetInput, nodeErrors) {
			continue
		}
		return fmt.Sprintf("upstream error: node %s: %s", e.Source, msg), true
	}
	return "", false
}

func inputParam(n *flow.Node, name string) *flow.Parameter {
	for i := range n.Inputs {
		if n.Inputs[i].Name == name {
			return &n.Inputs[i]
		}
	}
	return nil
}

// healthySourceFor reports whether some other upstream that did not fail
// feeds the same input. Upstreams run before their downstreams, so a source
// absent from nodeErrors has completed.
func healthySourceFor(w *flow.Workflow, nodeID, input string, nodeErrors map[string]string) bool {
	for _, e := range w.EdgesInto(nodeID) {
		if e.TargetInput != input {
			continue
		}
		if _, bad := nodeErrors[e.Source]; !bad {
			return true
		}
	}
	return false
}

func nodeFailure(nodeID string, inputs map[string]any, err error) flow.NodeExecution {
	return flow.NodeExecution{
		NodeID: nodeID,
		Status: flow.NodeError,
		Inputs: inputs,
		Error:  err.Error(),
	}
}

// isTypeMissing recognizes the registry's missing-type failure after it has
// round-tripped through a journal entry as plain text.
func isTypeMissing(msg string) bool {
	return strings.Contains(msg, flow.ErrNodeTypeMissing.Error())
}

func (x *Executor) emit(e emit.Event) {
	x.emitter.Emit(e)
}

func (x *Executor) emitStep(r *run, name string) {
	x.emit(emit.Event{ExecutionID: r.ex.ID, Step: r.j.seq, Msg: emit.MsgStepJournaled, Meta: map[string]any{"name": name}})
}
