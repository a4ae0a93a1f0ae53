package contract

import "context"

// Agent is one specialization in the chain. Handle must treat req.Context as
// read-only and report its contribution through the returned AgentResult.
type Agent interface {
	Handle(ctx context.Context, req AgentRequest) (AgentResult, error)
}

type Registry interface {
	ListCapabilities() []CapabilityDescriptor
	Get(id AgentID) (Agent, error)
}

// Oracle is the reasoning service as seen by the orchestrator.
type Oracle interface {
	Route(ctx context.Context, req RouteRequest) (RoutingDecision, error)
	Synthesize(ctx context.Context, req SynthesisRequest) (Synthesis, error)
}

// Sandbox runs generated analysis code against a dataset.
type Sandbox interface {
	Execute(ctx context.Context, req ExecRequest) (ExecResult, error)
}
