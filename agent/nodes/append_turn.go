package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
	statex "github.com/tanpawarit/multiagent-analyst/agent/state"
)

// AppendTurn persists the condensed turn. The full context is never stored.
// A cancelled turn is discarded before anything is written.
func AppendTurn(
	ctx context.Context,
	in *GraphState,
	store statex.Store,
	summaryMaxChars int,
) (*GraphState, error) {
	if in == nil || in.Context == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	record := statex.TurnRecord{
		TurnID:  in.TurnID,
		Query:   in.Query.Text,
		Summary: statex.CondenseTurn(in.Context.View(), in.Answer, summaryMaxChars),
		Chain:   in.Context.AlreadyRun(),
		Status:  in.Status,
		At:      in.Now,
	}
	if in.Dataset != nil {
		record.DatasetID = in.Dataset.ID
	}

	if err := store.AppendTurn(ctx, in.Query.SessionID, record, in.Active); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// The answer is still good; only the history is behind.
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to append turn to session")
		return in, nil
	}

	in.Phase = PhaseDone
	return in, nil
}

func BuildResult(in *GraphState) (GraphOutput, error) {
	if in == nil || in.Context == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	in.Phase = PhaseDone

	view := in.Context.View()
	artifacts := view.Artifacts()
	if artifacts == nil {
		artifacts = []contractx.Artifact{}
	}
	chain := view.AlreadyRun()
	if chain == nil {
		chain = []contractx.AgentID{}
	}

	return GraphOutput{Result: contractx.TurnResult{
		SessionID: in.Query.SessionID,
		TurnID:    in.TurnID,
		Answer:    in.Answer,
		Artifacts: artifacts,
		Status:    in.Status,
		Chain:     chain,
		Steps:     append([]contractx.StepRecord(nil), in.Steps...),
	}}, nil
}
