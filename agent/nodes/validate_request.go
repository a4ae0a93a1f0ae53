package orchestratornode

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
	statex "github.com/tanpawarit/multiagent-analyst/agent/state"
)

// Phase is where a turn currently sits in the routing state machine.
type Phase string

const (
	PhaseRouting    Phase = "routing"
	PhaseInvoking   Phase = "invoking"
	PhaseMerging    Phase = "merging"
	PhaseFinalizing Phase = "finalizing"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

type GraphOutput struct {
	Result contractx.TurnResult
}

// GraphState is threaded through every node of one turn. The caller keeps the
// pointer so the partial context survives a failed run for diagnostics.
type GraphState struct {
	TurnID string
	Query  contractx.Query
	Now    time.Time

	Session *statex.Session
	Dataset *contractx.DatasetRef
	History []contractx.TurnSummary

	Context *statex.SharedContext
	Phase   Phase
	Steps   []contractx.StepRecord

	// Active is the dataset to persist as the session's active one, set only
	// after a data analysis step merged output for it.
	Active *contractx.DatasetRef

	Answer   string
	Fallback bool
	Status   contractx.ResultStatus
}

func NewGraphState(turnID string, q contractx.Query, now time.Time) *GraphState {
	return &GraphState{
		TurnID:  turnID,
		Query:   q,
		Now:     now.UTC(),
		Context: statex.NewSharedContext(),
		Phase:   PhaseRouting,
	}
}

func ValidateRequest(in *GraphState) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	in.Query.SessionID = strings.TrimSpace(in.Query.SessionID)
	in.Query.Text = strings.TrimSpace(in.Query.Text)
	if err := in.Query.Validate(); err != nil {
		return nil, err
	}
	if in.Query.Dataset.IsZero() {
		in.Query.Dataset = nil
	}
	if in.Context == nil {
		in.Context = statex.NewSharedContext()
	}
	return in, nil
}
