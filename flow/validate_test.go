package flow

import "testing"

// twoNodeWorkflow builds a minimal A -> B string pipeline used across tests.
func twoNodeWorkflow() *Workflow {
	return &Workflow{
		ID:      "wf-1",
		Handle:  "two-node",
		Trigger: TriggerManual,
		Runtime: RuntimeWorker,
		Nodes: []Node{
			{
				ID:   "a",
				Type: "string-concat",
				Inputs: []Parameter{
					{Name: "a", Type: TypeString, Required: true, Value: "Hello"},
					{Name: "b", Type: TypeString, Value: " World"},
				},
				Outputs: []Parameter{{Name: "result", Type: TypeString}},
			},
			{
				ID:     "b",
				Type:   "string-upper",
				Inputs: []Parameter{{Name: "input", Type: TypeString, Required: true}},
				Outputs: []Parameter{
					{Name: "output", Type: TypeString},
				},
			},
		},
		Edges: []Edge{
			{Source: "a", SourceOutput: "result", Target: "b", TargetInput: "input"},
		},
	}
}

func hasIssue(issues []Issue, kind IssueKind) bool {
	for _, i := range issues {
		if i.Kind == kind {
			return true
		}
	}
	return false
}

func TestValidateAcceptsWellFormedWorkflow(t *testing.T) {
	w := twoNodeWorkflow()
	if issues := Validate(w); len(issues) != 0 {
		t.Fatalf("expected no issues, got %v", issues)
	}
}

func TestValidateUnknownNodeReference(t *testing.T) {
	w := twoNodeWorkflow()
	w.Edges = append(w.Edges, Edge{Source: "ghost", SourceOutput: "result", Target: "b", TargetInput: "input"})

	issues := Validate(w)
	if !hasIssue(issues, UnknownNodeReference) {
		t.Errorf("expected UnknownNodeReference, got %v", issues)
	}
}

func TestValidateUnknownEndpoint(t *testing.T) {
	w := twoNodeWorkflow()
	w.Edges[0].SourceOutput = "nope"

	issues := Validate(w)
	if !hasIssue(issues, UnknownEndpoint) {
		t.Errorf("expected UnknownEndpoint, got %v", issues)
	}
}

func TestValidateTypeMismatch(t *testing.T) {
	w := twoNodeWorkflow()
	w.Nodes[1].Inputs[0].Type = TypeImage

	issues := Validate(w)
	if !hasIssue(issues, TypeMismatch) {
		t.Errorf("expected TypeMismatch, got %v", issues)
	}
}

func TestValidateTypeCompatibilityBridges(t *testing.T) {
	cases := []struct {
		name string
		out  ParamType
		in   ParamType
		ok   bool
	}{
		{"string to any", TypeString, TypeAny, true},
		{"any to image", TypeAny, TypeImage, true},
		{"json to geojson", TypeJSON, TypeGeoJSON, true},
		{"geojson to json", TypeGeoJSON, TypeJSON, true},
		{"image to image", TypeImage, TypeImage, true},
		{"image to audio", TypeImage, TypeAudio, false},
		{"number to string", TypeNumber, TypeString, false},
		{"geojson to image", TypeGeoJSON, TypeImage, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Compatible(tc.out, tc.in); got != tc.ok {
				t.Errorf("Compatible(%s, %s) = %v, want %v", tc.out, tc.in, got, tc.ok)
			}
		})
	}
}

func TestValidateDuplicateEdge(t *testing.T) {
	w := twoNodeWorkflow()
	w.Nodes[1].Inputs[0].Repeated = true
	w.Edges = append(w.Edges, w.Edges[0])

	issues := Validate(w)
	if !hasIssue(issues, DuplicateEdge) {
		t.Errorf("expected DuplicateEdge, got %v", issues)
	}
}

func TestValidateMultipleEdgesToScalarInput(t *testing.T) {
	w := twoNodeWorkflow()
	w.Nodes[0].Outputs = append(w.Nodes[0].Outputs, Parameter{Name: "extra", Type: TypeString})
	w.Edges = append(w.Edges, Edge{Source: "a", SourceOutput: "extra", Target: "b", TargetInput: "input"})

	issues := Validate(w)
	if !hasIssue(issues, MultipleEdgesToScalarInput) {
		t.Errorf("expected MultipleEdgesToScalarInput, got %v", issues)
	}
}

func TestValidateMissingRequiredInput(t *testing.T) {
	w := &Workflow{
		Nodes: []Node{
			{
				ID:   "solo",
				Type: "string-concat",
				Inputs: []Parameter{
					{Name: "a", Type: TypeString, Required: true},
				},
				Outputs: []Parameter{{Name: "result", Type: TypeString}},
			},
		},
	}

	issues := Validate(w)
	if !hasIssue(issues, MissingRequiredInput) {
		t.Fatalf("expected MissingRequiredInput, got %v", issues)
	}
	if issues[0].Param != "a" {
		t.Errorf("expected issue to name input %q, got %q", "a", issues[0].Param)
	}
}

func TestValidateCycleDetected(t *testing.T) {
	w := twoNodeWorkflow()
	w.Nodes[1].Outputs = append(w.Nodes[1].Outputs, Parameter{Name: "loop", Type: TypeString})
	w.Nodes[0].Inputs = append(w.Nodes[0].Inputs, Parameter{Name: "loop", Type: TypeString})
	w.Edges = append(w.Edges, Edge{Source: "b", SourceOutput: "loop", Target: "a", TargetInput: "loop"})

	issues := Validate(w)
	if !hasIssue(issues, CycleDetected) {
		t.Errorf("expected CycleDetected, got %v", issues)
	}
}

func TestValidateDuplicateNodeID(t *testing.T) {
	w := twoNodeWorkflow()
	w.Nodes = append(w.Nodes, Node{ID: "a", Type: "string-upper"})

	issues := Validate(w)
	if !hasIssue(issues, DuplicateNodeID) {
		t.Errorf("expected DuplicateNodeId, got %v", issues)
	}
}

func TestValidateCollectsAllIssues(t *testing.T) {
	// Broken in three independent ways: missing node, bad endpoint,
	// missing required input. All three must be reported in one pass.
	w := twoNodeWorkflow()
	w.Edges = append(w.Edges,
		Edge{Source: "ghost", SourceOutput: "x", Target: "b", TargetInput: "input"},
	)
	w.Edges[0].SourceOutput = "nope"
	w.Nodes[0].Inputs[0].Value = nil

	issues := Validate(w)
	for _, kind := range []IssueKind{UnknownNodeReference, UnknownEndpoint, MissingRequiredInput} {
		if !hasIssue(issues, kind) {
			t.Errorf("expected %s among issues, got %v", kind, issues)
		}
	}
}
