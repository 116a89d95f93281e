package flow

import "time"

// Trigger identifies how an execution of a workflow is initiated.
type Trigger string

// Trigger flavors. Every flavor reduces to the same execution request shape;
// they differ only in how parameters are sourced and in durability policy
// (webhooks always run on the workflow runtime).
const (
	TriggerManual       Trigger = "manual"
	TriggerHTTPWebhook  Trigger = "http_webhook"
	TriggerHTTPRequest  Trigger = "http_request"
	TriggerEmailMessage Trigger = "email_message"
	TriggerQueueMessage Trigger = "queue_message"
	TriggerScheduled    Trigger = "scheduled"
)

// Runtime selects the execution profile for a workflow.
type Runtime string

const (
	// RuntimeWorker is the fast single-shot profile: no step retries,
	// minimal journaling overhead.
	RuntimeWorker Runtime = "worker"

	// RuntimeWorkflow is the durable multi-step profile: every step is
	// journaled before it runs and I/O steps are retried with backoff.
	RuntimeWorkflow Runtime = "workflow"
)

// ParamType names a declared parameter type. The set is fixed; the codec
// table (package flow/codec) has exactly one converter per type and missing
// entries are an init-time error.
type ParamType string

const (
	TypeString   ParamType = "string"
	TypeNumber   ParamType = "number"
	TypeBoolean  ParamType = "boolean"
	TypeJSON     ParamType = "json"
	TypeAny      ParamType = "any"
	TypeGeoJSON  ParamType = "geojson"
	TypeImage    ParamType = "image"
	TypeAudio    ParamType = "audio"
	TypeDocument ParamType = "document"
)

// ParamTypes returns every declared parameter type. The slice is fresh on
// each call; callers may mutate it.
func ParamTypes() []ParamType {
	return []ParamType{
		TypeString, TypeNumber, TypeBoolean,
		TypeJSON, TypeAny, TypeGeoJSON,
		TypeImage, TypeAudio, TypeDocument,
	}
}

// Binary reports whether the type carries raw bytes and crosses the wire as
// a {data, mimeType} envelope.
func (t ParamType) Binary() bool {
	return t == TypeImage || t == TypeAudio || t == TypeDocument
}

// Compatible reports whether a value produced at type a may flow into an
// input declared at type b.
//
// Rules:
//   - exact equality is always compatible
//   - any and json accept and produce everything
//   - geojson is a specialization of json: edges in either direction are
//     accepted and the value passes through at runtime
//   - image, audio and document are compatible only with themselves (and
//     any/json per the rule above)
func Compatible(a, b ParamType) bool {
	if a == b {
		return true
	}
	if a == TypeAny || b == TypeAny || a == TypeJSON || b == TypeJSON {
		return true
	}
	if (a == TypeGeoJSON && b == TypeJSON) || (a == TypeJSON && b == TypeGeoJSON) {
		return true
	}
	return false
}

// Parameter is a named, typed input or output of a node.
type Parameter struct {
	// Name is unique within the node's input list or output list.
	Name string `json:"name"`

	// Type is one of the declared parameter type names.
	Type ParamType `json:"type"`

	// Required marks an input that must resolve to a value before the
	// node runs. Meaningless on outputs.
	Required bool `json:"required,omitempty"`

	// Hidden hides the parameter from discovery surfaces. The executor
	// treats hidden parameters like any other.
	Hidden bool `json:"hidden,omitempty"`

	// Repeated marks an input that accepts fan-in from many edges. The
	// resolved value is an ordered list following edge-declaration order.
	Repeated bool `json:"repeated,omitempty"`

	// Value is the default or literal value for the parameter in wire
	// form. A nil Value means "no default".
	Value any `json:"value,omitempty"`

	// Description documents the parameter for discovery tools.
	Description string `json:"description,omitempty"`
}

// Position is the canvas location of a node. The executor only reads it as
// the deterministic tie-break key for the planner; layout semantics live
// elsewhere.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is one typed unit of computation in a workflow graph.
type Node struct {
	// ID is unique within the workflow.
	ID string `json:"id"`

	// Type is the registry key selecting the implementation.
	Type string `json:"type"`

	// Name is the display name.
	Name string `json:"name,omitempty"`

	// Position is the canvas location, used only for plan tie-breaking.
	Position Position `json:"position"`

	// Inputs and Outputs are the declared parameters, in declaration
	// order.
	Inputs  []Parameter `json:"inputs"`
	Outputs []Parameter `json:"outputs"`
}

// Input returns the declared input parameter with the given name, or nil.
func (n *Node) Input(name string) *Parameter {
	for i := range n.Inputs {
		if n.Inputs[i].Name == name {
			return &n.Inputs[i]
		}
	}
	return nil
}

// Output returns the declared output parameter with the given name, or nil.
func (n *Node) Output(name string) *Parameter {
	for i := range n.Outputs {
		if n.Outputs[i].Name == name {
			return &n.Outputs[i]
		}
	}
	return nil
}

// Edge is a directed, typed connection from one node's output to another
// node's input. Edges are uniquely identified by the full endpoint tuple
// (Source, SourceOutput, Target, TargetInput).
type Edge struct {
	Source       string `json:"source"`
	SourceOutput string `json:"sourceOutput"`
	Target       string `json:"target"`
	TargetInput  string `json:"targetInput"`
}

// Workflow is an immutable (for the duration of a run) directed graph of
// typed nodes. The executor treats its received copy as read-only.
type Workflow struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Handle is a URL-safe identifier, unique within the organization.
	Handle string `json:"handle"`

	Trigger Trigger `json:"trigger"`
	Runtime Runtime `json:"runtime"`

	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`

	OrganizationID string `json:"organizationId"`

	// ActiveDeploymentID names the deployment snapshot used for
	// production runs. Empty when the workflow has never been deployed.
	ActiveDeploymentID string `json:"activeDeploymentId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NodeByID returns the node with the given id, or nil.
func (w *Workflow) NodeByID(id string) *Node {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i]
		}
	}
	return nil
}

// EdgesInto returns the edges targeting the given node, preserving
// edge-declaration order. Fan-in into repeated inputs relies on this order.
func (w *Workflow) EdgesInto(nodeID string) []Edge {
	var in []Edge
	for _, e := range w.Edges {
		if e.Target == nodeID {
			in = append(in, e)
		}
	}
	return in
}
