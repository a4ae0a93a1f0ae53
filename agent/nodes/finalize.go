package orchestratornode

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
)

// Finalize writes the answer from the accumulated context. When the
// synthesizer fails the templated fallback answers instead, so the turn only
// fails on cancellation or a missing synthesizer.
func Finalize(
	ctx context.Context,
	in *GraphState,
	registry contractx.Registry,
	timeouts Timeouts,
) (*GraphState, error) {
	if in == nil || in.Context == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	in.Phase = PhaseFinalizing

	synth, err := registry.Get(contractx.AgentAnswerSynthesis)
	if err != nil {
		in.Phase = PhaseFailed
		return nil, err
	}

	view := in.Context.View()
	call, err := invokeAgent(ctx, contractx.AgentAnswerSynthesis, synth, contractx.AgentRequest{
		Query:   in.Query,
		Dataset: in.Dataset.Clone(),
		Context: view,
		History: in.History,
	}, timeouts.For(contractx.AgentAnswerSynthesis))
	if err != nil {
		in.Phase = PhaseFailed
		return nil, err
	}

	answer := ""
	if !call.failed() {
		answer = strings.TrimSpace(call.result.Payload.Summary)
	}
	switch {
	case answer == "":
		if call.err != nil {
			zerolog.Ctx(ctx).Warn().Err(call.err).Msg("answer synthesis failed, using templated answer")
		}
		answer = contractx.FallbackAnswer(in.Query.Text, view)
		in.Fallback = true
	case call.result.Status == contractx.StatusPartial:
		in.Fallback = true
	}

	if strings.TrimSpace(answer) == "" {
		in.Phase = PhaseFailed
		return nil, fmt.Errorf("%w: no answer could be produced", contractx.ErrOrchestrationFailed)
	}

	in.Answer = answer
	in.Status = turnStatus(in.Steps, in.Fallback)
	return in, nil
}

func turnStatus(steps []contractx.StepRecord, fallback bool) contractx.ResultStatus {
	if fallback {
		return contractx.StatusPartial
	}
	for _, s := range steps {
		if s.Status != contractx.StatusSuccess {
			return contractx.StatusPartial
		}
	}
	return contractx.StatusSuccess
}
