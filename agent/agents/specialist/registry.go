package specialist

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
	datasetx "github.com/tanpawarit/multiagent-analyst/agent/dataset"
	llmx "github.com/tanpawarit/multiagent-analyst/agent/llm"
	oraclex "github.com/tanpawarit/multiagent-analyst/agent/oracle"
	promptx "github.com/tanpawarit/multiagent-analyst/agent/prompt"
)

//go:embed capabilities.yaml
var capabilitiesRaw []byte

// LoadCapabilities decodes the embedded capability catalog.
func LoadCapabilities() ([]contractx.CapabilityDescriptor, error) {
	var out []contractx.CapabilityDescriptor
	if err := yaml.Unmarshal(capabilitiesRaw, &out); err != nil {
		return nil, fmt.Errorf("decode capabilities: %w", err)
	}
	return out, nil
}

// Registry is the fixed, read-only set of agents available to the orchestrator.
type Registry struct {
	order       []contractx.CapabilityDescriptor
	descriptors map[contractx.AgentID]contractx.CapabilityDescriptor
	agents      map[contractx.AgentID]contractx.Agent
}

var _ contractx.Registry = (*Registry)(nil)

// NewRegistry pairs descriptors with agents. Any mismatch is a configuration
// error and is reported as ErrUnknownAgent.
func NewRegistry(descs []contractx.CapabilityDescriptor, agents map[contractx.AgentID]contractx.Agent) (*Registry, error) {
	r := &Registry{
		descriptors: make(map[contractx.AgentID]contractx.CapabilityDescriptor, len(descs)),
		agents:      make(map[contractx.AgentID]contractx.Agent, len(agents)),
	}
	for _, d := range descs {
		d.ID = contractx.AgentID(strings.TrimSpace(string(d.ID)))
		if d.ID == "" {
			return nil, fmt.Errorf("%w: capability descriptor without id", contractx.ErrUnknownAgent)
		}
		if _, dup := r.descriptors[d.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate descriptor %s", contractx.ErrUnknownAgent, d.ID)
		}
		agent, ok := agents[d.ID]
		if !ok || agent == nil {
			return nil, fmt.Errorf("%w: no agent registered for %s", contractx.ErrUnknownAgent, d.ID)
		}
		r.descriptors[d.ID] = d
		r.agents[d.ID] = agent
		r.order = append(r.order, d)
	}
	for id := range agents {
		if _, ok := r.descriptors[id]; !ok {
			return nil, fmt.Errorf("%w: agent %s has no descriptor", contractx.ErrUnknownAgent, id)
		}
	}
	if _, ok := r.agents[contractx.AgentAnswerSynthesis]; !ok {
		return nil, fmt.Errorf("%w: %s is required", contractx.ErrUnknownAgent, contractx.AgentAnswerSynthesis)
	}
	return r, nil
}

// ListCapabilities returns descriptors in catalog order.
func (r *Registry) ListCapabilities() []contractx.CapabilityDescriptor {
	out := make([]contractx.CapabilityDescriptor, len(r.order))
	for i, d := range r.order {
		d.Capabilities = append([]string(nil), d.Capabilities...)
		d.Contributes = append([]string(nil), d.Contributes...)
		out[i] = d
	}
	return out
}

func (r *Registry) Get(id contractx.AgentID) (contractx.Agent, error) {
	agent, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", contractx.ErrUnknownAgent, id)
	}
	return agent, nil
}

func (r *Registry) Descriptor(id contractx.AgentID) (contractx.CapabilityDescriptor, bool) {
	d, ok := r.descriptors[id]
	return d, ok
}

// Deps are the collaborators shared by the production agents.
type Deps struct {
	LLM            llmx.Config
	Oracle         contractx.Oracle
	OracleConfig   oraclex.Config
	Prompts        promptx.PromptSet
	Sandbox        contractx.Sandbox
	MaxDatasetRows int
}

// Build constructs the production agents with one model per role.
func Build(ctx context.Context, deps Deps) (*Registry, error) {
	if deps.Oracle == nil {
		return nil, fmt.Errorf("%w: oracle is required", contractx.ErrValidation)
	}
	if err := deps.Prompts.Validate(); err != nil {
		return nil, err
	}
	descs, err := LoadCapabilities()
	if err != nil {
		return nil, err
	}

	completer := func(role llmx.Role, prompt string) (*oraclex.Completer, error) {
		m, err := deps.LLM.ChatModel(ctx, role)
		if err != nil {
			return nil, err
		}
		return oraclex.NewCompleter(ctx, "agent."+string(role), m, prompt, deps.OracleConfig)
	}

	analysis, err := completer(llmx.RoleAnalysis, deps.Prompts.Analysis)
	if err != nil {
		return nil, err
	}
	visualization, err := completer(llmx.RoleVisualization, deps.Prompts.Visualization)
	if err != nil {
		return nil, err
	}
	presentation, err := completer(llmx.RolePresentation, deps.Prompts.Presentation)
	if err != nil {
		return nil, err
	}

	loader := datasetx.NewCache(deps.MaxDatasetRows)

	dataAgent, err := NewDataAnalysisAgent(ctx, analysis, deps.Sandbox, loader)
	if err != nil {
		return nil, err
	}

	return NewRegistry(descs, map[contractx.AgentID]contractx.Agent{
		contractx.AgentDataAnalysis:    dataAgent,
		contractx.AgentVisualization:   NewVisualizationAgent(visualization, loader),
		contractx.AgentPresentation:    NewPresentationAgent(presentation),
		contractx.AgentAnswerSynthesis: NewAnswerSynthesisAgent(deps.Oracle),
	})
}
