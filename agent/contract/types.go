package contract

import (
	"fmt"
	"strings"
	"time"
)

type AgentID string

const (
	AgentDataAnalysis    AgentID = "data_analysis"
	AgentVisualization   AgentID = "visualization"
	AgentPresentation    AgentID = "presentation"
	AgentAnswerSynthesis AgentID = "answer_synthesis"
)

type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusPartial ResultStatus = "partial"
	StatusFailure ResultStatus = "failure"
)

// DatasetRef points at an uploaded tabular dataset.
type DatasetRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

func (d *DatasetRef) IsZero() bool {
	return d == nil || (strings.TrimSpace(d.ID) == "" && strings.TrimSpace(d.Path) == "")
}

func (d *DatasetRef) Clone() *DatasetRef {
	if d == nil {
		return nil
	}
	out := *d
	return &out
}

type Query struct {
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	Dataset   *DatasetRef `json:"dataset,omitempty"`
}

func (q Query) Validate() error {
	if strings.TrimSpace(q.SessionID) == "" {
		return fmt.Errorf("%w: session id is required", ErrValidation)
	}
	if strings.TrimSpace(q.Text) == "" && q.Dataset.IsZero() {
		return ErrInvalidQuery
	}
	return nil
}

type CapabilityDescriptor struct {
	ID              AgentID  `yaml:"id" json:"id"`
	Name            string   `yaml:"name" json:"name"`
	Description     string   `yaml:"description" json:"description"`
	Capabilities    []string `yaml:"capabilities" json:"capabilities"`
	Contributes     []string `yaml:"contributes" json:"contributes"`
	RequiresDataset bool     `yaml:"requires_dataset" json:"requires_dataset,omitempty"`
	RequiresContext bool     `yaml:"requires_context" json:"requires_context,omitempty"`
}

type Artifact struct {
	ID       string  `json:"id"`
	Agent    AgentID `json:"agent"`
	Title    string  `json:"title"`
	MIMEType string  `json:"mime_type"`
	Data     []byte  `json:"data"`
}

// Payload is what an agent contributes to the shared context.
type Payload struct {
	Summary   string         `json:"summary"`
	Fields    map[string]any `json:"fields,omitempty"`
	Artifacts []Artifact     `json:"artifacts,omitempty"`
}

type AgentResult struct {
	Status    ResultStatus `json:"status"`
	Payload   Payload      `json:"payload"`
	Suggested AgentID      `json:"suggested,omitempty"`
	Message   string       `json:"message,omitempty"`
	TimedOut  bool         `json:"timed_out,omitempty"`
}

// TurnSummary is the condensed record of a past turn used when routing later turns.
type TurnSummary struct {
	TurnID  string    `json:"turn_id"`
	Query   string    `json:"query"`
	Summary string    `json:"summary"`
	At      time.Time `json:"at"`
}

type AgentRequest struct {
	Query   Query         `json:"query"`
	Dataset *DatasetRef   `json:"dataset,omitempty"`
	Context ContextView   `json:"-"`
	History []TurnSummary `json:"history,omitempty"`
}

type TerminalKind string

const (
	TerminalNone     TerminalKind = ""
	TerminalFinalize TerminalKind = "finalize"
	TerminalNoAgent  TerminalKind = "no_agent"
)

type RoutingDecision struct {
	Next      AgentID      `json:"next_agent,omitempty"`
	Terminal  TerminalKind `json:"terminal,omitempty"`
	Rationale string       `json:"rationale,omitempty"`
}

func (d RoutingDecision) IsTerminal() bool {
	return d.Terminal != TerminalNone || d.Next == ""
}

type RouteRequest struct {
	Query          string                 `json:"query"`
	Dataset        *DatasetRef            `json:"dataset,omitempty"`
	ContextSummary string                 `json:"context_summary"`
	History        []TurnSummary          `json:"history,omitempty"`
	Capabilities   []CapabilityDescriptor `json:"capabilities"`
	AlreadyRun     []AgentID              `json:"already_run"`
}

type SynthesisRequest struct {
	Query   string        `json:"query"`
	Context ContextView   `json:"-"`
	History []TurnSummary `json:"history,omitempty"`
}

// Synthesis is a final answer. Degraded is set when the text came from the
// templated fallback instead of the oracle.
type Synthesis struct {
	Text     string `json:"text"`
	Degraded bool   `json:"degraded"`
}

type ExecRequest struct {
	Code        string        `json:"code"`
	DatasetPath string        `json:"dataset_path"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

type ExecResult struct {
	Output   string        `json:"output"`
	Error    string        `json:"error,omitempty"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

func (r ExecResult) OK() bool {
	return r.ExitCode == 0 && r.Error == ""
}

type DecisionSource string

const (
	DecisionOracle  DecisionSource = "oracle"
	DecisionDefault DecisionSource = "default"
)

// StepRecord describes one agent invocation within a turn.
type StepRecord struct {
	Agent     AgentID        `json:"agent"`
	Status    ResultStatus   `json:"status"`
	Source    DecisionSource `json:"source"`
	Rationale string         `json:"rationale,omitempty"`
	Duration  time.Duration  `json:"duration"`
	TimedOut  bool           `json:"timed_out,omitempty"`
	Error     string         `json:"error,omitempty"`
}

type TurnResult struct {
	SessionID string       `json:"session_id"`
	TurnID    string       `json:"turn_id"`
	Answer    string       `json:"answer"`
	Artifacts []Artifact   `json:"artifacts"`
	Status    ResultStatus `json:"status"`
	Chain     []AgentID    `json:"chain"`
	Steps     []StepRecord `json:"steps,omitempty"`
}
