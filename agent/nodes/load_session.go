package orchestratornode

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
	statex "github.com/tanpawarit/multiagent-analyst/agent/state"
)

// LoadSession reads the conversation and resolves the turn's dataset and
// routing history. A store outage degrades to a fresh session.
func LoadSession(
	ctx context.Context,
	in *GraphState,
	store statex.Store,
	historyWindow int,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	sess, err := loadOrCreateSession(ctx, store, in)
	if err != nil {
		return nil, err
	}

	in.Session = sess
	in.Dataset = sess.EffectiveDataset(in.Query)
	in.History = sess.History(historyWindow)
	return in, nil
}

func loadOrCreateSession(ctx context.Context, store statex.Store, in *GraphState) (*statex.Session, error) {
	sess, err := store.Load(ctx, in.Query.SessionID)
	if err == nil {
		return sess, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if !errors.Is(err, statex.ErrSessionNotFound) {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("session store unavailable, continuing with an empty session")
	}
	return statex.NewSession(in.Query.SessionID, in.Now), nil
}
