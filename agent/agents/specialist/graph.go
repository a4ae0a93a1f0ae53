package specialist

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
)

// compileAnalysisGraph wires prepare -> generate -> (execute | summarize) -> END.
func compileAnalysisGraph(
	ctx context.Context,
	prepare func(context.Context, contractx.AgentRequest) (*analysisState, error),
	generate func(context.Context, *analysisState) (*analysisState, error),
	execute func(context.Context, *analysisState) (contractx.AgentResult, error),
	summarize func(context.Context, *analysisState) (contractx.AgentResult, error),
	canExecute func(*analysisState) bool,
) (compose.Runnable[contractx.AgentRequest, contractx.AgentResult], error) {
	graph := compose.NewGraph[contractx.AgentRequest, contractx.AgentResult]()

	if err := graph.AddLambdaNode("prepare", compose.InvokableLambda(prepare)); err != nil {
		return nil, fmt.Errorf("add analysis prepare node: %w", err)
	}
	if err := graph.AddLambdaNode("generate", compose.InvokableLambda(generate)); err != nil {
		return nil, fmt.Errorf("add analysis generate node: %w", err)
	}
	if err := graph.AddLambdaNode("execute", compose.InvokableLambda(execute)); err != nil {
		return nil, fmt.Errorf("add analysis execute node: %w", err)
	}
	if err := graph.AddLambdaNode("summarize", compose.InvokableLambda(summarize)); err != nil {
		return nil, fmt.Errorf("add analysis summarize node: %w", err)
	}

	branch := compose.NewGraphBranch(
		func(ctx context.Context, in *analysisState) (string, error) {
			if in == nil {
				return "", fmt.Errorf("%w: analysis graph state is nil", contractx.ErrValidation)
			}
			if canExecute(in) {
				return "execute", nil
			}
			return "summarize", nil
		},
		map[string]bool{
			"execute":   true,
			"summarize": true,
		},
	)

	if err := graph.AddEdge(compose.START, "prepare"); err != nil {
		return nil, fmt.Errorf("add analysis edge start->prepare: %w", err)
	}
	if err := graph.AddEdge("prepare", "generate"); err != nil {
		return nil, fmt.Errorf("add analysis edge prepare->generate: %w", err)
	}
	if err := graph.AddBranch("generate", branch); err != nil {
		return nil, fmt.Errorf("add analysis branch: %w", err)
	}
	if err := graph.AddEdge("execute", compose.END); err != nil {
		return nil, fmt.Errorf("add analysis edge execute->end: %w", err)
	}
	if err := graph.AddEdge("summarize", compose.END); err != nil {
		return nil, fmt.Errorf("add analysis edge summarize->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("agent.data_analysis"))
	if err != nil {
		return nil, fmt.Errorf("compile data analysis graph: %w", err)
	}
	return runner, nil
}
