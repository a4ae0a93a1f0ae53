package state

import (
	"strings"
	"time"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
)

// Session is the persistent record of one conversation.
// Turns are append-only; ActiveDataset follows the last dataset that an
// analysis step actually used.
type Session struct {
	ID            string                `json:"id"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
	ActiveDataset *contractx.DatasetRef `json:"active_dataset,omitempty"`
	Turns         []TurnRecord          `json:"turns,omitempty"`
}

// TurnRecord is the condensed, bounded trace of one finished turn.
type TurnRecord struct {
	TurnID    string                 `json:"turn_id"`
	Query     string                 `json:"query"`
	Summary   string                 `json:"summary"`
	Chain     []contractx.AgentID    `json:"chain,omitempty"`
	Status    contractx.ResultStatus `json:"status"`
	DatasetID string                 `json:"dataset_id,omitempty"`
	At        time.Time              `json:"at"`
}

func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:        id,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.ActiveDataset = s.ActiveDataset.Clone()
	out.Turns = make([]TurnRecord, len(s.Turns))
	for i, t := range s.Turns {
		out.Turns[i] = t.clone()
	}
	return &out
}

// Append records turn and, when active is non-nil, moves the active dataset.
func (s *Session) Append(turn TurnRecord, active *contractx.DatasetRef) {
	s.Turns = append(s.Turns, turn.clone())
	if !active.IsZero() {
		s.ActiveDataset = active.Clone()
	}
	if turn.At.After(s.UpdatedAt) {
		s.UpdatedAt = turn.At.UTC()
	}
}

// EffectiveDataset resolves the dataset for a turn: the query's own reference
// wins for that turn only, otherwise the session's active dataset is reused.
func (s *Session) EffectiveDataset(q contractx.Query) *contractx.DatasetRef {
	if !q.Dataset.IsZero() {
		return q.Dataset.Clone()
	}
	if s == nil {
		return nil
	}
	return s.ActiveDataset.Clone()
}

// History returns the condensed summaries of the last n turns, oldest first.
func (s *Session) History(n int) []contractx.TurnSummary {
	if s == nil || len(s.Turns) == 0 || n == 0 {
		return nil
	}
	turns := s.Turns
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]contractx.TurnSummary, len(turns))
	for i, t := range turns {
		out[i] = contractx.TurnSummary{TurnID: t.TurnID, Query: t.Query, Summary: t.Summary, At: t.At}
	}
	return out
}

func (t TurnRecord) clone() TurnRecord {
	out := t
	out.Chain = append([]contractx.AgentID(nil), t.Chain...)
	return out
}

func (t TurnRecord) validate() error {
	if strings.TrimSpace(t.TurnID) == "" {
		return ErrInvalidTurn
	}
	return nil
}
