package orchestratornode

import (
	"time"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
)

const DefaultMaxChainLength = 4

// ChainPolicy bounds one turn's chain.
type ChainPolicy struct {
	MaxChainLength int
	AllowRepeat    bool
	Timeouts       Timeouts
	// ContextChars caps the context rendering sent with each route call.
	ContextChars int
}

func (p ChainPolicy) maxLength() int {
	if p.MaxChainLength <= 0 {
		return DefaultMaxChainLength
	}
	return p.MaxChainLength
}

// Timeouts resolves the invocation budget of each agent class.
type Timeouts struct {
	Default  time.Duration
	PerAgent map[contractx.AgentID]time.Duration
}

const defaultAgentTimeout = 60 * time.Second

func (t Timeouts) For(id contractx.AgentID) time.Duration {
	if d, ok := t.PerAgent[id]; ok && d > 0 {
		return d
	}
	if t.Default > 0 {
		return t.Default
	}
	return defaultAgentTimeout
}

// defaultNext is the deterministic route taken whenever the oracle's decision
// cannot be used. An empty id means finalize.
func defaultNext(ctxEmpty bool, dataset *contractx.DatasetRef) contractx.AgentID {
	if ctxEmpty && !dataset.IsZero() {
		return contractx.AgentDataAnalysis
	}
	return ""
}

// eligible reports whether desc's prerequisites hold for the current turn.
func eligible(desc contractx.CapabilityDescriptor, ctxEmpty bool, dataset *contractx.DatasetRef) bool {
	if desc.RequiresDataset && dataset.IsZero() {
		return false
	}
	if desc.RequiresContext && ctxEmpty {
		return false
	}
	return true
}

// routable is the capability list offered to the oracle. The synthesizer is
// reached through finalizing, never as a chain step.
func routable(descs []contractx.CapabilityDescriptor) ([]contractx.CapabilityDescriptor, map[contractx.AgentID]contractx.CapabilityDescriptor) {
	list := make([]contractx.CapabilityDescriptor, 0, len(descs))
	byID := make(map[contractx.AgentID]contractx.CapabilityDescriptor, len(descs))
	for _, d := range descs {
		if d.ID == contractx.AgentAnswerSynthesis {
			continue
		}
		list = append(list, d)
		byID[d.ID] = d
	}
	return list, byID
}
