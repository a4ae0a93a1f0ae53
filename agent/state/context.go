package state

import (
	"time"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
)

// SharedContext accumulates agent contributions for a single turn, one step
// per invocation. Only the orchestrator writes to it; agents see immutable
// ContextView snapshots.
type SharedContext struct {
	steps []contractx.Step
}

func NewSharedContext() *SharedContext {
	return &SharedContext{steps: make([]contractx.Step, 0, 4)}
}

// Merge appends a successful or partial result as a new step.
func (c *SharedContext) Merge(id contractx.AgentID, result contractx.AgentResult, took time.Duration) {
	c.steps = append(c.steps, contractx.MergedStep(contractx.Contribution{
		Agent:    id,
		Status:   result.Status,
		Payload:  result.Payload.Clone(),
		Duration: took,
	}))
}

// MarkRun records that id ran without merging any payload.
func (c *SharedContext) MarkRun(id contractx.AgentID) {
	c.steps = append(c.steps, contractx.FailedStep(id))
}

func (c *SharedContext) HasRun(id contractx.AgentID) bool {
	for _, s := range c.steps {
		if s.Agent == id {
			return true
		}
	}
	return false
}

func (c *SharedContext) Len() int {
	return len(c.steps)
}

func (c *SharedContext) AlreadyRun() []contractx.AgentID {
	out := make([]contractx.AgentID, len(c.steps))
	for i, s := range c.steps {
		out[i] = s.Agent
	}
	return out
}

func (c *SharedContext) IsEmpty() bool {
	for _, s := range c.steps {
		if s.Merged {
			return false
		}
	}
	return true
}

func (c *SharedContext) View() contractx.ContextView {
	return contractx.NewContextView(c.steps)
}
