package specialist

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
	datasetx "github.com/tanpawarit/multiagent-analyst/agent/dataset"
)

const (
	maxCodeBlocks      = 3
	maxExecOutputChars = 4000
)

var (
	pythonBlockRe = regexp.MustCompile("(?s)```(?:python|py)[ \\t]*\\r?\\n(.*?)```")
	blankLinesRe  = regexp.MustCompile(`\n{3,}`)
)

// DataAnalysisAgent profiles the dataset, asks the model for analysis code and
// runs that code in the sandbox.
type DataAnalysisAgent struct {
	completer Completer
	sandbox   contractx.Sandbox
	loader    TableLoader
	runner    compose.Runnable[contractx.AgentRequest, contractx.AgentResult]
}

type analysisState struct {
	req      contractx.AgentRequest
	table    *datasetx.Table
	profile  datasetx.Profile
	analysis string
	blocks   []string
	degraded error
}

var _ contractx.Agent = (*DataAnalysisAgent)(nil)

// NewDataAnalysisAgent builds the agent. A nil sandbox disables execution;
// the generated code is still returned.
func NewDataAnalysisAgent(ctx context.Context, completer Completer, sandbox contractx.Sandbox, loader TableLoader) (*DataAnalysisAgent, error) {
	if completer == nil || loader == nil {
		return nil, fmt.Errorf("%w: data analysis agent needs a completer and a table loader", contractx.ErrValidation)
	}
	a := &DataAnalysisAgent{completer: completer, sandbox: sandbox, loader: loader}

	runner, err := compileAnalysisGraph(ctx, a.prepare, a.generate, a.execute, a.summarize, a.canExecute)
	if err != nil {
		return nil, err
	}
	a.runner = runner
	return a, nil
}

func (a *DataAnalysisAgent) Handle(ctx context.Context, req contractx.AgentRequest) (contractx.AgentResult, error) {
	if req.Dataset.IsZero() {
		return failure("no dataset attached"), fmt.Errorf("%w: data analysis requires a dataset", contractx.ErrDataset)
	}
	out, err := a.runner.Invoke(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return contractx.AgentResult{}, ctxErr
		}
		return failure(err.Error()), fmt.Errorf("%w: data analysis: %v", contractx.ErrAgentFailure, err)
	}
	return out, nil
}

func (a *DataAnalysisAgent) prepare(ctx context.Context, req contractx.AgentRequest) (*analysisState, error) {
	table, err := a.loader.Load(req.Dataset)
	if err != nil {
		return nil, err
	}
	return &analysisState{req: req, table: table, profile: table.Profile()}, nil
}

func (a *DataAnalysisAgent) generate(ctx context.Context, st *analysisState) (*analysisState, error) {
	payload := map[string]any{
		"query":   st.req.Query.Text,
		"dataset": st.profile.Text(),
	}
	if prior := priorResults(st.req.Context); len(prior) > 0 {
		payload["previous_results"] = prior
	}
	if len(st.req.History) > 0 {
		payload["history"] = st.req.History
	}

	text, err := a.completer.Complete(ctx, payload)
	if err != nil {
		if isCanceled(ctx, err) {
			return nil, err
		}
		zerolog.Ctx(ctx).Warn().Err(err).Msg("analysis model unavailable, falling back to dataset profile")
		st.degraded = err
		return st, nil
	}

	st.analysis = text
	st.blocks = ExtractPythonBlocks(text)
	if len(st.blocks) > maxCodeBlocks {
		st.blocks = st.blocks[:maxCodeBlocks]
	}
	return st, nil
}

func (a *DataAnalysisAgent) canExecute(st *analysisState) bool {
	return a.sandbox != nil && len(st.blocks) > 0
}

func (a *DataAnalysisAgent) execute(ctx context.Context, st *analysisState) (contractx.AgentResult, error) {
	executions := make([]map[string]any, 0, len(st.blocks))
	var outputs []string
	failed := 0

	for i, code := range st.blocks {
		res, err := a.sandbox.Execute(ctx, contractx.ExecRequest{Code: code, DatasetPath: st.req.Dataset.Path})
		if err != nil {
			if isCanceled(ctx, err) {
				return contractx.AgentResult{}, err
			}
			res = contractx.ExecResult{Error: err.Error(), ExitCode: -1}
		}

		entry := map[string]any{
			"block":       i + 1,
			"output":      contractx.Truncate(res.Output, maxExecOutputChars),
			"exit_code":   res.ExitCode,
			"duration_ms": res.Duration.Milliseconds(),
		}
		if !res.OK() {
			failed++
			entry["error"] = contractx.Truncate(res.Error, maxExecOutputChars)
		}
		executions = append(executions, entry)

		if out := strings.TrimSpace(res.Output); out != "" {
			outputs = append(outputs, out)
		}
		zerolog.Ctx(ctx).Debug().
			Int("block", i+1).
			Int("exit_code", res.ExitCode).
			Dur("took", res.Duration).
			Msg("analysis code executed")
	}

	result, err := a.summarize(ctx, st)
	if err != nil {
		return result, err
	}
	result.Payload.Fields["executions"] = executions
	if len(outputs) > 0 {
		result.Payload.Summary += "\n\nExecution output:\n" + contractx.Truncate(strings.Join(outputs, "\n"), maxExecOutputChars)
	}
	switch {
	case failed == len(st.blocks):
		result.Status = contractx.StatusPartial
		result.Message = "all analysis code blocks failed"
	case failed > 0:
		result.Status = contractx.StatusPartial
		result.Message = fmt.Sprintf("%d of %d analysis code blocks failed", failed, len(st.blocks))
	}
	return result, nil
}

func (a *DataAnalysisAgent) summarize(ctx context.Context, st *analysisState) (contractx.AgentResult, error) {
	ref := st.req.Dataset
	needsViz := NeedsVisualization(st.req.Query.Text)

	fields := map[string]any{
		"dataset_id":          ref.ID,
		"dataset_name":        st.profile.Name,
		"dataset_profile":     st.profile.Fields(),
		"needs_visualization": needsViz,
	}

	result := contractx.AgentResult{Status: contractx.StatusSuccess}
	if st.degraded != nil {
		result.Status = contractx.StatusPartial
		result.Message = "analysis model unavailable; returning dataset profile only"
		result.Payload.Summary = st.profile.Text()
	} else {
		fields["analysis"] = st.analysis
		result.Payload.Summary = stripCodeBlocks(st.analysis)
		if result.Payload.Summary == "" {
			result.Payload.Summary = st.profile.Text()
		}
	}
	if len(st.blocks) > 0 {
		blocks := make([]any, len(st.blocks))
		for i, b := range st.blocks {
			blocks[i] = b
		}
		fields["code_blocks"] = blocks
	}
	result.Payload.Fields = fields

	switch {
	case needsViz:
		result.Suggested = contractx.AgentVisualization
	case wantsPresentation(st.req.Query.Text):
		result.Suggested = contractx.AgentPresentation
	default:
		result.Suggested = contractx.AgentAnswerSynthesis
	}
	return result, nil
}

// ExtractPythonBlocks returns the bodies of fenced python code blocks in order.
func ExtractPythonBlocks(markdown string) []string {
	var blocks []string
	for _, m := range pythonBlockRe.FindAllStringSubmatch(markdown, -1) {
		if code := strings.TrimSpace(m[1]); code != "" {
			blocks = append(blocks, code)
		}
	}
	return blocks
}

func stripCodeBlocks(markdown string) string {
	out := pythonBlockRe.ReplaceAllString(markdown, "")
	return strings.TrimSpace(blankLinesRe.ReplaceAllString(out, "\n\n"))
}
