package specialist

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
)

// AnswerSynthesisAgent writes the final answer through the oracle. It is the
// orchestrator's finalizing step rather than a routable chain member.
type AnswerSynthesisAgent struct {
	oracle contractx.Oracle
}

var _ contractx.Agent = (*AnswerSynthesisAgent)(nil)

func NewAnswerSynthesisAgent(oracle contractx.Oracle) *AnswerSynthesisAgent {
	return &AnswerSynthesisAgent{oracle: oracle}
}

func (a *AnswerSynthesisAgent) Handle(ctx context.Context, req contractx.AgentRequest) (contractx.AgentResult, error) {
	out, err := a.oracle.Synthesize(ctx, contractx.SynthesisRequest{
		Query:   req.Query.Text,
		Context: req.Context,
		History: req.History,
	})
	if err != nil {
		return contractx.AgentResult{}, fmt.Errorf("synthesize answer: %w", err)
	}

	status := contractx.StatusSuccess
	if out.Degraded {
		status = contractx.StatusPartial
	}
	return contractx.AgentResult{
		Status: status,
		Payload: contractx.Payload{
			Summary: out.Text,
			Fields: map[string]any{
				"answer":   out.Text,
				"degraded": out.Degraded,
			},
		},
	}, nil
}
