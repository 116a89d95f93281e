// Package flow defines the data model for node-based workflows and the
// static analysis passes that run before execution: the Validator, which
// collects every structural issue in a graph, and the Planner, which
// produces a deterministic topological execution order.
//
// A Workflow is a directed acyclic graph of typed Nodes connected by Edges.
// Each node declares named, typed input and output Parameters; each edge
// binds one node's output to another node's input. The Executor (package
// flow/exec) drives a validated, planned workflow to completion and records
// an Execution with one NodeExecution entry per node.
package flow
