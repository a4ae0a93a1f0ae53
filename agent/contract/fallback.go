package contract

import (
	"fmt"
	"strings"
)

const apologyAnswer = "Sorry, something went wrong while answering your question. Please try again."

// ApologyAnswer is returned to the user when a turn fails outright.
func ApologyAnswer() string {
	return apologyAnswer
}

// FallbackAnswer builds a minimal markdown answer straight from the raw
// context. It never returns an empty string.
func FallbackAnswer(query string, view ContextView) string {
	contributions := view.Contributions()
	query = strings.TrimSpace(query)

	var b strings.Builder
	if len(contributions) == 0 {
		if query == "" {
			b.WriteString("I could not reach the reasoning service just now, so I can't give a full answer yet. Please try again shortly.")
		} else {
			fmt.Fprintf(&b, "I could not reach the reasoning service just now, so I can't fully answer %q yet. Please try again shortly.", query)
		}
		return b.String()
	}

	b.WriteString("## Results\n\n")
	if query != "" {
		fmt.Fprintf(&b, "Here is what was gathered for: _%s_\n\n", query)
	}
	for _, c := range contributions {
		fmt.Fprintf(&b, "### %s\n\n", humanize(c.Agent))
		summary := strings.TrimSpace(c.Payload.Summary)
		if summary == "" {
			summary = "No summary was produced."
		}
		b.WriteString(summary)
		b.WriteString("\n\n")
		if n := len(c.Payload.Artifacts); n > 0 {
			fmt.Fprintf(&b, "_%d chart(s) attached._\n\n", n)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func humanize(id AgentID) string {
	words := strings.Split(string(id), "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
