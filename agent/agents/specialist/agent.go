package specialist

import (
	"context"
	"errors"
	"strings"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
	datasetx "github.com/tanpawarit/multiagent-analyst/agent/dataset"
)

// Completer is the guarded free-text model call an agent uses for its sub-task.
type Completer interface {
	Complete(ctx context.Context, payload any) (string, error)
}

// TableLoader resolves a dataset reference to a parsed table.
type TableLoader interface {
	Load(ref *contractx.DatasetRef) (*datasetx.Table, error)
}

const maxPriorChars = 3000

// priorResults is the compact view of earlier contributions sent to models.
func priorResults(view contractx.ContextView) []map[string]any {
	var out []map[string]any
	for _, c := range view.Contributions() {
		entry := map[string]any{
			"agent":   string(c.Agent),
			"status":  string(c.Status),
			"summary": contractx.Truncate(c.Payload.Summary, maxPriorChars),
		}
		if titles := artifactTitles(c.Payload.Artifacts); len(titles) > 0 {
			entry["charts"] = titles
		}
		out = append(out, entry)
	}
	return out
}

func artifactTitles(artifacts []contractx.Artifact) []string {
	titles := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		titles = append(titles, a.Title)
	}
	return titles
}

func isCanceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func failure(message string) contractx.AgentResult {
	return contractx.AgentResult{Status: contractx.StatusFailure, Message: message}
}

var visualizationKeywords = []string{
	"plot", "graph", "chart", "visualize", "visualise", "show", "display",
	"trend", "distribution", "compare", "correlation",
}

var presentationKeywords = []string{"report", "presentation", "slides", "summary for", "executive"}

func containsAny(text string, words []string) bool {
	text = strings.ToLower(text)
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// NeedsVisualization reports whether a query asks for something best shown as a chart.
func NeedsVisualization(query string) bool {
	return containsAny(query, visualizationKeywords)
}

func wantsPresentation(query string) bool {
	return containsAny(query, presentationKeywords)
}
