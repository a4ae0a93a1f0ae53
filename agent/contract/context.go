package contract

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Contribution is one agent's merged output within a turn.
type Contribution struct {
	Agent    AgentID       `json:"agent"`
	Status   ResultStatus  `json:"status"`
	Payload  Payload       `json:"payload"`
	Duration time.Duration `json:"duration"`
}

// Step is one position of the agent chain. A failed step carries no
// contribution.
type Step struct {
	Agent        AgentID      `json:"agent"`
	Merged       bool         `json:"merged"`
	Contribution Contribution `json:"contribution"`
}

func MergedStep(c Contribution) Step {
	return Step{Agent: c.Agent, Merged: true, Contribution: c}
}

func FailedStep(id AgentID) Step {
	return Step{Agent: id}
}

func (s Step) Clone() Step {
	out := s
	out.Contribution = s.Contribution.Clone()
	return out
}

// ContextView is a read-only snapshot of the shared context handed to agents
// and the oracle. Steps are kept in run order, one per invocation, so an
// agent that ran twice contributes twice. Accessors return copies.
type ContextView struct {
	steps []Step
}

func NewContextView(steps []Step) ContextView {
	view := ContextView{steps: make([]Step, len(steps))}
	for i, s := range steps {
		view.steps[i] = s.Clone()
	}
	return view
}

func (v ContextView) Steps() []Step {
	out := make([]Step, len(v.steps))
	for i, s := range v.steps {
		out[i] = s.Clone()
	}
	return out
}

func (v ContextView) AlreadyRun() []AgentID {
	out := make([]AgentID, len(v.steps))
	for i, s := range v.steps {
		out[i] = s.Agent
	}
	return out
}

func (v ContextView) IsEmpty() bool {
	for _, s := range v.steps {
		if s.Merged {
			return false
		}
	}
	return true
}

func (v ContextView) Has(id AgentID) bool {
	_, ok := v.latest(id)
	return ok
}

// Get returns the most recent contribution of id.
func (v ContextView) Get(id AgentID) (Contribution, bool) {
	c, ok := v.latest(id)
	if !ok {
		return Contribution{}, false
	}
	return c.Clone(), true
}

// Field returns a single payload field of an agent's most recent contribution.
func (v ContextView) Field(id AgentID, key string) (any, bool) {
	c, ok := v.latest(id)
	if !ok || c.Payload.Fields == nil {
		return nil, false
	}
	val, ok := c.Payload.Fields[key]
	if !ok {
		return nil, false
	}
	return cloneValue(val), true
}

func (v ContextView) latest(id AgentID) (Contribution, bool) {
	for i := len(v.steps) - 1; i >= 0; i-- {
		if s := v.steps[i]; s.Agent == id && s.Merged {
			return s.Contribution, true
		}
	}
	return Contribution{}, false
}

// Contributions returns merged contributions in run order.
func (v ContextView) Contributions() []Contribution {
	out := make([]Contribution, 0, len(v.steps))
	for _, s := range v.steps {
		if s.Merged {
			out = append(out, s.Contribution.Clone())
		}
	}
	return out
}

// Artifacts returns every visual artifact in chain order.
func (v ContextView) Artifacts() []Artifact {
	var out []Artifact
	for _, c := range v.Contributions() {
		out = append(out, c.Payload.Artifacts...)
	}
	return out
}

// Render produces the condensed textual form of the context used in prompts.
// maxChars <= 0 disables truncation.
func (v ContextView) Render(maxChars int) string {
	if len(v.steps) == 0 {
		return "(empty)"
	}

	var b strings.Builder
	for _, s := range v.steps {
		if !s.Merged {
			fmt.Fprintf(&b, "- %s: failed, no output\n", s.Agent)
			continue
		}
		c := s.Contribution
		fmt.Fprintf(&b, "- %s (%s): %s\n", s.Agent, c.Status, oneLine(c.Payload.Summary))
		if keys := fieldKeys(c.Payload.Fields); len(keys) > 0 {
			fmt.Fprintf(&b, "  fields: %s\n", strings.Join(keys, ", "))
		}
		if n := len(c.Payload.Artifacts); n > 0 {
			fmt.Fprintf(&b, "  artifacts: %d\n", n)
		}
	}
	return Truncate(strings.TrimRight(b.String(), "\n"), maxChars)
}

func (c Contribution) Clone() Contribution {
	out := c
	out.Payload = c.Payload.Clone()
	return out
}

func (p Payload) Clone() Payload {
	out := Payload{Summary: p.Summary}
	if p.Fields != nil {
		out.Fields = cloneMap(p.Fields)
	}
	if p.Artifacts != nil {
		out.Artifacts = make([]Artifact, len(p.Artifacts))
		for i, a := range p.Artifacts {
			a.Data = append([]byte(nil), a.Data...)
			out.Artifacts[i] = a
		}
	}
	return out
}

// Truncate shortens s to at most maxChars runes, marking the cut with an ellipsis.
func Truncate(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	if maxChars <= 3 {
		return string(runes[:maxChars])
	}
	return string(runes[:maxChars-3]) + "..."
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func fieldKeys(fields map[string]any) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i := range t {
			out[i] = cloneMap(t[i])
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []float64:
		return append([]float64(nil), t...)
	case []byte:
		return append([]byte(nil), t...)
	default:
		return v
	}
}
