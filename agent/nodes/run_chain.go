package orchestratornode

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
	tracerx "github.com/tanpawarit/multiagent-analyst/pkg/tracer"
)

const defaultContextChars = 4000

type routeChoice struct {
	next      contractx.AgentID
	source    contractx.DecisionSource
	rationale string
}

// RunChain drives Routing -> Invoking -> Merging until the chain finalizes.
// Agents run strictly one after another; each sees the merged output of
// everything before it.
func RunChain(
	ctx context.Context,
	in *GraphState,
	registry contractx.Registry,
	oracle contractx.Oracle,
	policy ChainPolicy,
) (*GraphState, error) {
	if in == nil || in.Context == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	capabilities, descriptors := routable(registry.ListCapabilities())
	logger := zerolog.Ctx(ctx)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		in.Phase = PhaseRouting
		if in.Context.Len() >= policy.maxLength() {
			logger.Debug().Int("chain_length", in.Context.Len()).Msg("max chain length reached")
			break
		}

		choice, err := route(ctx, in, oracle, policy, capabilities, descriptors)
		if err != nil {
			return nil, err
		}
		if choice.next == "" {
			break
		}

		agent, err := registry.Get(choice.next)
		if err != nil {
			// Descriptors and agents are checked against each other at startup.
			return nil, err
		}

		in.Phase = PhaseInvoking
		call, err := invokeAgent(ctx, choice.next, agent, contractx.AgentRequest{
			Query:   in.Query,
			Dataset: in.Dataset.Clone(),
			Context: in.Context.View(),
			History: in.History,
		}, policy.Timeouts.For(choice.next))
		if err != nil {
			return nil, err
		}

		step := contractx.StepRecord{
			Agent:     choice.next,
			Status:    call.result.Status,
			Source:    choice.source,
			Rationale: choice.rationale,
			Duration:  call.took,
			TimedOut:  call.result.TimedOut,
		}

		if call.failed() {
			if call.err != nil {
				step.Error = call.err.Error()
			}
			step.Status = contractx.StatusFailure
			in.Context.MarkRun(choice.next)
			in.Steps = append(in.Steps, step)
			logger.Warn().
				Err(call.err).
				Str("agent", string(choice.next)).
				Bool("timed_out", step.TimedOut).
				Msg("agent step failed, re-routing")
			continue
		}

		in.Phase = PhaseMerging
		in.Context.Merge(choice.next, call.result, call.took)
		in.Steps = append(in.Steps, step)
		if choice.next == contractx.AgentDataAnalysis && analyzedDataset(call.result, in.Dataset) {
			in.Active = in.Dataset.Clone()
		}
		logger.Debug().
			Str("agent", string(choice.next)).
			Str("status", string(call.result.Status)).
			Dur("took", call.took).
			Msg("agent step merged")
	}

	in.Phase = PhaseFinalizing
	return in, nil
}

// route asks the oracle for the next agent and falls back to the default
// policy whenever the answer is unusable. It only fails on cancellation.
func route(
	ctx context.Context,
	in *GraphState,
	oracle contractx.Oracle,
	policy ChainPolicy,
	capabilities []contractx.CapabilityDescriptor,
	descriptors map[contractx.AgentID]contractx.CapabilityDescriptor,
) (routeChoice, error) {
	ctx, span := tracerx.StartSpan(ctx, "orchestrator.route")
	defer span.End()

	logger := zerolog.Ctx(ctx)
	ctxEmpty := in.Context.IsEmpty()

	contextChars := policy.ContextChars
	if contextChars <= 0 {
		contextChars = defaultContextChars
	}

	fallback := func(reason string) routeChoice {
		next := defaultNext(ctxEmpty, in.Dataset)
		if next != "" && in.Context.HasRun(next) && !policy.AllowRepeat {
			next = ""
		}
		logger.Debug().Str("reason", reason).Str("agent", string(next)).Msg("default routing policy applied")
		return routeChoice{next: next, source: contractx.DecisionDefault, rationale: reason}
	}

	decision, err := oracle.Route(ctx, contractx.RouteRequest{
		Query:          in.Query.Text,
		Dataset:        in.Dataset.Clone(),
		ContextSummary: in.Context.View().Render(contextChars),
		History:        in.History,
		Capabilities:   capabilities,
		AlreadyRun:     in.Context.AlreadyRun(),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			tracerx.RecordError(span, ctxErr)
			return routeChoice{}, ctxErr
		}
		tracerx.RecordError(span, err)
		reason := "oracle unavailable"
		if errors.Is(err, contractx.ErrOracleMalformedResponse) {
			reason = "oracle response malformed"
		}
		logger.Warn().Err(err).Msg("routing decision unavailable")
		return fallback(reason), nil
	}

	choice := routeChoice{next: decision.Next, source: contractx.DecisionOracle, rationale: decision.Rationale}
	switch desc, known := descriptors[decision.Next]; {
	case decision.IsTerminal(), decision.Next == contractx.AgentAnswerSynthesis:
		choice.next = ""
	case !known:
		choice = fallback(fmt.Sprintf("unknown agent %q", decision.Next))
	case !eligible(desc, ctxEmpty, in.Dataset):
		choice = fallback(fmt.Sprintf("agent %q prerequisites not met", decision.Next))
	case in.Context.HasRun(decision.Next) && !policy.AllowRepeat:
		logger.Debug().Str("agent", string(decision.Next)).Msg("repeat agent selected, finalizing")
		choice.next = ""
	}

	logger.Debug().
		Str("agent", string(choice.next)).
		Str("source", string(choice.source)).
		Str("rationale", choice.rationale).
		Msg("routing decision")
	span.SetAttributes(
		tracerx.StringAttr("route.next", string(choice.next)),
		tracerx.StringAttr("route.source", string(choice.source)),
	)
	tracerx.SetOK(span)
	return choice, nil
}

// analyzedDataset reports whether an analysis result is about dataset.
func analyzedDataset(res contractx.AgentResult, dataset *contractx.DatasetRef) bool {
	if dataset.IsZero() {
		return false
	}
	id, _ := res.Payload.Fields["dataset_id"].(string)
	return id != "" && (id == dataset.ID || id == dataset.Path)
}
