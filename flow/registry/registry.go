// Package registry holds the process-wide catalog of node implementations.
//
// Each node type registers a factory carrying its descriptor and
// constructor. Registration is gated by environment capability: a factory
// that requires a credential the host has not configured is silently kept
// out of the catalog, so discovery tools never advertise nodes that cannot
// run. The registry itself never reads credentials.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nodeflow/nodeflow/flow"
)

// ErrDuplicateType is returned when two factories claim the same node type.
// Callers treat this as a fatal configuration error at startup.
var ErrDuplicateType = errors.New("node type already registered")

// Capability names an environment prerequisite for a node type, typically a
// configured credential ("openai", "anthropic", "google") or an allowed
// side effect ("http").
type Capability string

const (
	CapHTTP      Capability = "http"
	CapOpenAI    Capability = "openai"
	CapAnthropic Capability = "anthropic"
	CapGoogle    Capability = "google"
)

// NodeType is the static descriptor a factory publishes for discovery.
type NodeType struct {
	ID          string           `json:"id"`
	Type        string           `json:"type"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
	Icon        string           `json:"icon,omitempty"`
	Inputs      []flow.Parameter `json:"inputs"`
	Outputs     []flow.Parameter `json:"outputs"`

	// Inlinable node types may run on the caller's goroutine without a
	// journal entry of their own.
	Inlinable bool `json:"inlinable,omitempty"`

	// AsTool marks types that other nodes may invoke as tools.
	AsTool bool `json:"asTool,omitempty"`

	// FunctionCalling marks types that themselves drive tool calls.
	FunctionCalling bool `json:"functionCalling,omitempty"`

	// ComputeCost is the credit charge per execution of this type.
	ComputeCost float64 `json:"computeCost,omitempty"`
}

// Factory binds a descriptor to a constructor.
type Factory struct {
	Descriptor NodeType

	// Requires lists capabilities that must all be configured for this
	// factory to enter the catalog.
	Requires []Capability

	// New builds an executable bound to the concrete node, with its ids
	// and current parameter values.
	New func(node flow.Node) (Executable, error)
}

// Registry is the catalog. Construct once per process with the configured
// capability set, register factories during startup, then read concurrently.
type Registry struct {
	mu        sync.RWMutex
	caps      map[Capability]bool
	factories map[string]Factory
}

// New creates a registry configured with the given capabilities.
func New(caps ...Capability) *Registry {
	set := make(map[Capability]bool, len(caps))
	for _, c := range caps {
		set[c] = true
	}
	return &Registry{
		caps:      set,
		factories: make(map[string]Factory),
	}
}

// Has reports whether a capability is configured.
func (r *Registry) Has(c Capability) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.caps[c]
}

// Register adds a factory to the catalog. A factory whose capability
// requirements are unmet is skipped without error. Two different factories
// claiming the same type is ErrDuplicateType.
func (r *Registry) Register(f Factory) error {
	if f.Descriptor.Type == "" {
		return errors.New("factory descriptor has empty type")
	}
	if f.New == nil {
		return fmt.Errorf("factory %q has nil constructor", f.Descriptor.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range f.Requires {
		if !r.caps[c] {
			return nil
		}
	}
	if _, exists := r.factories[f.Descriptor.Type]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateType, f.Descriptor.Type)
	}
	r.factories[f.Descriptor.Type] = f
	return nil
}

// MustRegister is Register for startup paths where a failure means the
// process is misconfigured and must not come up.
func (r *Registry) MustRegister(f Factory) {
	if err := r.Register(f); err != nil {
		panic(err)
	}
}

// Create builds an executable for the node, or flow.ErrNodeTypeMissing
// when no implementation is registered for its type.
func (r *Registry) Create(node flow.Node) (Executable, error) {
	r.mu.RLock()
	f, ok := r.factories[node.Type]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", flow.ErrNodeTypeMissing, node.Type)
	}
	return f.New(node)
}

// NodeTypes returns a snapshot of all registered descriptors, sorted by
// type name. Drives discovery tooling.
func (r *Registry) NodeTypes() []NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]NodeType, 0, len(r.factories))
	for _, f := range r.factories {
		out = append(out, f.Descriptor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// GetNodeType returns one descriptor, or flow.ErrNodeTypeMissing.
func (r *Registry) GetNodeType(typ string) (NodeType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factories[typ]
	if !ok {
		return NodeType{}, fmt.Errorf("%w: %q", flow.ErrNodeTypeMissing, typ)
	}
	return f.Descriptor, nil
}
