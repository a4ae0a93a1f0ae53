package specialist

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
)

// PresentationAgent turns this turn's results into a markdown report.
type PresentationAgent struct {
	completer Completer
}

var _ contractx.Agent = (*PresentationAgent)(nil)

func NewPresentationAgent(completer Completer) *PresentationAgent {
	return &PresentationAgent{completer: completer}
}

func (a *PresentationAgent) Handle(ctx context.Context, req contractx.AgentRequest) (contractx.AgentResult, error) {
	if req.Context.IsEmpty() {
		return failure("nothing to present yet"), fmt.Errorf("%w: presentation requires earlier results", contractx.ErrAgentFailure)
	}

	artifacts := req.Context.Artifacts()
	_, hasCode := req.Context.Field(contractx.AgentDataAnalysis, "code_blocks")

	status := contractx.StatusSuccess
	report, err := a.completer.Complete(ctx, map[string]any{
		"query":   req.Query.Text,
		"results": priorResults(req.Context),
		"charts":  artifactTitles(artifacts),
	})
	if err != nil {
		if isCanceled(ctx, err) {
			return contractx.AgentResult{}, err
		}
		zerolog.Ctx(ctx).Warn().Err(err).Msg("presentation model unavailable, using templated report")
		status = contractx.StatusPartial
		report = "# Analysis Report\n\n" + contractx.FallbackAnswer(req.Query.Text, req.Context)
	}

	title, sections := ParseReport(report)
	sectionList := make([]any, len(sections))
	for i, s := range sections {
		sectionList[i] = s
	}

	return contractx.AgentResult{
		Status: status,
		Payload: contractx.Payload{
			Summary: report,
			Fields: map[string]any{
				"report":             report,
				"title":              title,
				"sections":           sectionList,
				"num_sections":       len(sections),
				"num_visualizations": len(artifacts),
				"has_code_analysis":  hasCode,
			},
		},
		Suggested: contractx.AgentAnswerSynthesis,
	}, nil
}

// ParseReport extracts the "# " title and the "## " section headings of a
// markdown report.
func ParseReport(markdown string) (string, []string) {
	var (
		title    string
		sections []string
	)
	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "## "):
			sections = append(sections, strings.TrimSpace(strings.TrimPrefix(line, "## ")))
		case strings.HasPrefix(line, "# ") && title == "":
			title = strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	if title == "" {
		title = "Analysis Report"
	}
	return title, sections
}
