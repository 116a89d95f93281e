// Package nodes ships the built-in node implementations and registers them
// with a registry.
//
// The set is deliberately small: string utilities for plumbing and tests,
// an expression node for lightweight transforms, an HTTP client node and an
// LLM chat node with tool calling. Hosts with bespoke nodes register their
// own factories next to these.
package nodes

import (
	"net/http"

	"github.com/nodeflow/nodeflow/flow/model"
	"github.com/nodeflow/nodeflow/flow/registry"
)

// Deps carries the external services the built-in nodes need. Nil fields
// keep the corresponding nodes out of the catalog.
type Deps struct {
	// HTTPClient backs the http-request node. The http capability must
	// also be configured on the registry.
	HTTPClient *http.Client

	// Chat backs the llm-chat node.
	Chat model.ChatModel

	// ChatCapability names the capability that gates llm-chat
	// registration, matching whichever provider key the host
	// configured.
	ChatCapability registry.Capability
}

// RegisterBuiltins adds every built-in factory whose dependencies are
// satisfied. Capability gating then decides catalog membership.
func RegisterBuiltins(r *registry.Registry, deps Deps) error {
	factories := []registry.Factory{
		stringConcatFactory(),
		stringUpperFactory(),
		stringTemplateFactory(),
		exprFactory(),
	}
	if deps.HTTPClient != nil {
		factories = append(factories, httpRequestFactory(deps.HTTPClient))
	}
	if deps.Chat != nil {
		factories = append(factories, llmChatFactory(deps.Chat, deps.ChatCapability))
	}

	for _, f := range factories {
		if err := r.Register(f); err != nil {
			return err
		}
	}
	return nil
}
