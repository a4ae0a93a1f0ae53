package state

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
)

const DefaultSummaryMaxChars = 600

// CondenseTurn reduces a finished turn to the bounded summary kept in session
// history. The full per-turn context is never persisted.
func CondenseTurn(view contractx.ContextView, answer string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultSummaryMaxChars
	}

	var b strings.Builder
	for _, s := range view.Steps() {
		c := s.Contribution
		if !s.Merged || c.Status == contractx.StatusFailure {
			fmt.Fprintf(&b, "%s failed. ", s.Agent)
			continue
		}
		summary := strings.Join(strings.Fields(c.Payload.Summary), " ")
		if summary == "" {
			fmt.Fprintf(&b, "%s ran. ", c.Agent)
			continue
		}
		fmt.Fprintf(&b, "%s: %s ", c.Agent, contractx.Truncate(summary, maxChars/3))
	}
	if n := len(view.Artifacts()); n > 0 {
		fmt.Fprintf(&b, "(%d chart(s)) ", n)
	}
	if answer = strings.Join(strings.Fields(answer), " "); answer != "" {
		b.WriteString("Answer: ")
		b.WriteString(answer)
	}
	return contractx.Truncate(strings.TrimSpace(b.String()), maxChars)
}
