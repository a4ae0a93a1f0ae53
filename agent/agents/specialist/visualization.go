package specialist

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	chartx "github.com/tanpawarit/multiagent-analyst/agent/chart"
	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
	datasetx "github.com/tanpawarit/multiagent-analyst/agent/dataset"
	oraclex "github.com/tanpawarit/multiagent-analyst/agent/oracle"
)

var chartSpecSchema = oraclex.MustCompileSchema(chartx.SpecListSchema)

// VisualizationAgent asks the model for chart specifications and renders them.
// When the model is unavailable or proposes nothing usable, a heuristic chart
// is drawn instead.
type VisualizationAgent struct {
	completer Completer
	loader    TableLoader
	renderer  *chartx.Renderer
}

var _ contractx.Agent = (*VisualizationAgent)(nil)

func NewVisualizationAgent(completer Completer, loader TableLoader) *VisualizationAgent {
	return &VisualizationAgent{completer: completer, loader: loader, renderer: chartx.NewRenderer()}
}

type columnInput struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func (a *VisualizationAgent) Handle(ctx context.Context, req contractx.AgentRequest) (contractx.AgentResult, error) {
	if req.Dataset.IsZero() {
		return failure("no dataset attached"), fmt.Errorf("%w: visualization requires a dataset", contractx.ErrDataset)
	}
	table, err := a.loader.Load(req.Dataset)
	if err != nil {
		return failure(err.Error()), err
	}

	specs, err := a.chooseSpecs(ctx, req, table)
	if err != nil {
		return contractx.AgentResult{}, err
	}

	logger := zerolog.Ctx(ctx)
	var (
		artifacts []contractx.Artifact
		charts    []any
	)
	render := func(spec chartx.Spec) {
		png, err := a.renderer.Render(table, spec)
		if err != nil {
			logger.Warn().Err(err).Str("kind", string(spec.Kind)).Str("x", spec.X).Str("y", spec.Y).Msg("chart skipped")
			return
		}
		artifacts = append(artifacts, contractx.Artifact{
			ID:       uuid.NewString(),
			Agent:    contractx.AgentVisualization,
			Title:    spec.DisplayTitle(),
			MIMEType: "image/png",
			Data:     png,
		})
		charts = append(charts, map[string]any{
			"title": spec.DisplayTitle(),
			"kind":  string(spec.Kind),
			"x":     spec.X,
			"y":     spec.Y,
		})
	}
	for _, spec := range specs {
		render(spec)
	}
	source := "model"
	if len(artifacts) == 0 {
		source = "heuristic"
		for _, spec := range chartx.DefaultSpecs(table) {
			render(spec)
		}
	}
	if len(artifacts) == 0 {
		return failure("no chart could be rendered for this dataset"), fmt.Errorf("%w: no chart rendered", contractx.ErrAgentFailure)
	}

	status := contractx.StatusSuccess
	if source == "heuristic" {
		status = contractx.StatusPartial
	}
	return contractx.AgentResult{
		Status: status,
		Payload: contractx.Payload{
			Summary: fmt.Sprintf("Rendered %d chart(s): %v", len(artifacts), artifactTitles(artifacts)),
			Fields: map[string]any{
				"charts":              charts,
				"visualization_count": len(artifacts),
				"spec_source":         source,
			},
			Artifacts: artifacts,
		},
		Suggested: contractx.AgentAnswerSynthesis,
	}, nil
}

// chooseSpecs returns the model's chart specifications, or none when the
// model fails; only cancellation is reported as an error.
func (a *VisualizationAgent) chooseSpecs(ctx context.Context, req contractx.AgentRequest, table *datasetx.Table) ([]chartx.Spec, error) {
	cols := make([]columnInput, len(table.Columns))
	for i, name := range table.Columns {
		cols[i] = columnInput{Name: name, Type: string(table.Types[i])}
	}
	payload := map[string]any{
		"query":   req.Query.Text,
		"columns": cols,
	}
	if prior := priorResults(req.Context); len(prior) > 0 {
		payload["previous_results"] = prior
	}

	text, err := a.completer.Complete(ctx, payload)
	if err == nil {
		var specs []chartx.Spec
		if err = oraclex.DecodeValidated(text, chartSpecSchema, &specs); err == nil {
			return specs, nil
		}
	}
	if isCanceled(ctx, err) {
		return nil, err
	}
	zerolog.Ctx(ctx).Warn().Err(err).Msg("chart specification unavailable, using heuristic chart")
	return nil, nil
}
