package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
	statex "github.com/tanpawarit/multiagent-analyst/agent/state"
)

type scriptedOracle struct {
	mu        sync.Mutex
	decisions []contractx.RoutingDecision
	err       error
	requests  []contractx.RouteRequest
}

func (o *scriptedOracle) Route(ctx context.Context, req contractx.RouteRequest) (contractx.RoutingDecision, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.requests = append(o.requests, req)
	if o.err != nil {
		return contractx.RoutingDecision{}, o.err
	}
	if len(o.decisions) == 0 {
		return contractx.RoutingDecision{Terminal: contractx.TerminalFinalize}, nil
	}
	next := o.decisions[0]
	o.decisions = o.decisions[1:]
	return next, nil
}

func (o *scriptedOracle) Synthesize(ctx context.Context, req contractx.SynthesisRequest) (contractx.Synthesis, error) {
	return contractx.Synthesis{Text: "answer"}, nil
}

func (o *scriptedOracle) routeCalls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.requests)
}

type funcAgent func(ctx context.Context, req contractx.AgentRequest) (contractx.AgentResult, error)

func (f funcAgent) Handle(ctx context.Context, req contractx.AgentRequest) (contractx.AgentResult, error) {
	return f(ctx, req)
}

func succeed(summary string) funcAgent {
	return func(ctx context.Context, req contractx.AgentRequest) (contractx.AgentResult, error) {
		return contractx.AgentResult{
			Status:  contractx.StatusSuccess,
			Payload: contractx.Payload{Summary: summary, Fields: map[string]any{"dataset_id": datasetID(req.Dataset)}},
		}, nil
	}
}

func datasetID(ref *contractx.DatasetRef) string {
	if ref == nil {
		return ""
	}
	return ref.ID
}

type stubRegistry struct {
	agents map[contractx.AgentID]contractx.Agent
}

func (r stubRegistry) ListCapabilities() []contractx.CapabilityDescriptor {
	return []contractx.CapabilityDescriptor{
		{ID: contractx.AgentDataAnalysis, RequiresDataset: true},
		{ID: contractx.AgentVisualization, RequiresDataset: true},
		{ID: contractx.AgentPresentation, RequiresContext: true},
		{ID: contractx.AgentAnswerSynthesis},
	}
}

func (r stubRegistry) Get(id contractx.AgentID) (contractx.Agent, error) {
	a, ok := r.agents[id]
	if !ok {
		return nil, contractx.ErrUnknownAgent
	}
	return a, nil
}

func newRegistry() stubRegistry {
	return stubRegistry{agents: map[contractx.AgentID]contractx.Agent{
		contractx.AgentDataAnalysis:    succeed("analysis done"),
		contractx.AgentVisualization:   succeed("chart done"),
		contractx.AgentPresentation:    succeed("report done"),
		contractx.AgentAnswerSynthesis: succeed("final answer"),
	}}
}

var salesDataset = &contractx.DatasetRef{ID: "ds-1", Name: "sales.csv", Path: "/tmp/sales.csv"}

func newState(text string, dataset *contractx.DatasetRef) *GraphState {
	in := NewGraphState("turn-1", contractx.Query{SessionID: "s1", Text: text, Dataset: dataset}, time.Now())
	in.Session = statex.NewSession("s1", in.Now)
	in.Dataset = in.Session.EffectiveDataset(in.Query)
	return in
}

func decide(id contractx.AgentID) contractx.RoutingDecision {
	return contractx.RoutingDecision{Next: id, Rationale: "test"}
}

func testPolicy() ChainPolicy {
	return ChainPolicy{MaxChainLength: 4, Timeouts: Timeouts{Default: time.Second}}
}

func TestRunChainNoDatasetFinalizesWithinOneRoute(t *testing.T) {
	t.Parallel()

	oracle := &scriptedOracle{decisions: []contractx.RoutingDecision{decide(contractx.AgentDataAnalysis)}}
	out, err := RunChain(context.Background(), newState("What is machine learning?", nil), newRegistry(), oracle, testPolicy())
	if err != nil {
		t.Fatalf("RunChain() error = %v", err)
	}
	if got := out.Context.AlreadyRun(); len(got) != 0 {
		t.Fatalf("chain = %v, want empty", got)
	}
	if oracle.routeCalls() != 1 {
		t.Fatalf("route calls = %d, want 1", oracle.routeCalls())
	}
	if out.Phase != PhaseFinalizing {
		t.Fatalf("phase = %q", out.Phase)
	}
}

func TestRunChainFollowsOracle(t *testing.T) {
	t.Parallel()

	oracle := &scriptedOracle{decisions: []contractx.RoutingDecision{
		decide(contractx.AgentDataAnalysis),
		decide(contractx.AgentVisualization),
		{Next: "FINAL_ANSWER", Terminal: contractx.TerminalFinalize},
	}}
	out, err := RunChain(context.Background(), newState("Show me sales trends over time", salesDataset), newRegistry(), oracle, testPolicy())
	if err != nil {
		t.Fatalf("RunChain() error = %v", err)
	}

	chain := out.Context.AlreadyRun()
	if len(chain) != 2 || chain[0] != contractx.AgentDataAnalysis || chain[1] != contractx.AgentVisualization {
		t.Fatalf("chain = %v", chain)
	}
	if out.Active == nil || out.Active.ID != "ds-1" {
		t.Fatalf("active dataset = %+v, want ds-1", out.Active)
	}
	if len(out.Steps) != 2 || out.Steps[0].Source != contractx.DecisionOracle {
		t.Fatalf("steps = %+v", out.Steps)
	}

	// Each route call sees the already-run set grow by exactly one.
	for i, req := range oracle.requests {
		if len(req.AlreadyRun) != i {
			t.Fatalf("route %d already_run = %v", i, req.AlreadyRun)
		}
		for _, c := range req.Capabilities {
			if c.ID == contractx.AgentAnswerSynthesis {
				t.Fatal("answer synthesis must not be offered as a chain step")
			}
		}
	}
}

func TestRunChainUnknownAgentAppliesDefaultPolicy(t *testing.T) {
	t.Parallel()

	oracle := &scriptedOracle{decisions: []contractx.RoutingDecision{decide("foo")}}
	out, err := RunChain(context.Background(), newState("foo", salesDataset), newRegistry(), oracle, testPolicy())
	if err != nil {
		t.Fatalf("RunChain() error = %v", err)
	}

	chain := out.Context.AlreadyRun()
	if len(chain) != 1 || chain[0] != contractx.AgentDataAnalysis {
		t.Fatalf("chain = %v, want [data_analysis]", chain)
	}
	if out.Steps[0].Source != contractx.DecisionDefault {
		t.Fatalf("source = %q, want default", out.Steps[0].Source)
	}
}

func TestRunChainOracleUnavailableDefaultPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		dataset *contractx.DatasetRef
		want    []contractx.AgentID
	}{
		{name: "with dataset", dataset: salesDataset, want: []contractx.AgentID{contractx.AgentDataAnalysis}},
		{name: "without dataset", dataset: nil, want: nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			oracle := &scriptedOracle{err: contractx.ErrOracleUnavailable}
			out, err := RunChain(context.Background(), newState("how are sales?", tt.dataset), newRegistry(), oracle, testPolicy())
			if err != nil {
				t.Fatalf("RunChain() error = %v", err)
			}
			chain := out.Context.AlreadyRun()
			if len(chain) != len(tt.want) {
				t.Fatalf("chain = %v, want %v", chain, tt.want)
			}
			for i := range chain {
				if chain[i] != tt.want[i] {
					t.Fatalf("chain = %v, want %v", chain, tt.want)
				}
			}
		})
	}
}

func TestRunChainIneligibleChoiceFallsBack(t *testing.T) {
	t.Parallel()

	oracle := &scriptedOracle{decisions: []contractx.RoutingDecision{decide(contractx.AgentPresentation)}}
	out, err := RunChain(context.Background(), newState("make a report", nil), newRegistry(), oracle, testPolicy())
	if err != nil {
		t.Fatalf("RunChain() error = %v", err)
	}
	if got := out.Context.AlreadyRun(); len(got) != 0 {
		t.Fatalf("chain = %v, want empty", got)
	}
}

func TestRunChainNoRepeat(t *testing.T) {
	t.Parallel()

	oracle := &scriptedOracle{decisions: []contractx.RoutingDecision{
		decide(contractx.AgentDataAnalysis),
		decide(contractx.AgentDataAnalysis),
		decide(contractx.AgentVisualization),
	}}
	out, err := RunChain(context.Background(), newState("analyze", salesDataset), newRegistry(), oracle, testPolicy())
	if err != nil {
		t.Fatalf("RunChain() error = %v", err)
	}
	if got := out.Context.AlreadyRun(); len(got) != 1 {
		t.Fatalf("chain = %v, want single data_analysis", got)
	}
}

func TestRunChainAllowRepeatStillBounded(t *testing.T) {
	t.Parallel()

	var decisions []contractx.RoutingDecision
	for i := 0; i < 10; i++ {
		decisions = append(decisions, decide(contractx.AgentDataAnalysis))
	}
	oracle := &scriptedOracle{decisions: decisions}
	policy := testPolicy()
	policy.AllowRepeat = true
	policy.MaxChainLength = 3

	out, err := RunChain(context.Background(), newState("analyze", salesDataset), newRegistry(), oracle, policy)
	if err != nil {
		t.Fatalf("RunChain() error = %v", err)
	}
	if got := out.Context.Len(); got != 3 {
		t.Fatalf("chain length = %d, want 3", got)
	}
	if oracle.routeCalls() != 3 {
		t.Fatalf("route calls = %d, want 3", oracle.routeCalls())
	}
}

func TestRunChainRepeatedAgentKeepsEveryRun(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	registry := newRegistry()
	registry.agents[contractx.AgentVisualization] = funcAgent(func(ctx context.Context, req contractx.AgentRequest) (contractx.AgentResult, error) {
		n := runs.Add(1)
		return contractx.AgentResult{
			Status: contractx.StatusSuccess,
			Payload: contractx.Payload{
				Summary:   fmt.Sprintf("chart run %d", n),
				Artifacts: []contractx.Artifact{{ID: fmt.Sprintf("chart-%d", n), MIMEType: "image/png"}},
			},
		}, nil
	})

	oracle := &scriptedOracle{decisions: []contractx.RoutingDecision{
		decide(contractx.AgentDataAnalysis),
		decide(contractx.AgentVisualization),
		decide(contractx.AgentVisualization),
	}}
	policy := testPolicy()
	policy.AllowRepeat = true

	out, err := RunChain(context.Background(), newState("plot it twice", salesDataset), registry, oracle, policy)
	if err != nil {
		t.Fatalf("RunChain() error = %v", err)
	}
	res, err := BuildResult(out)
	if err != nil {
		t.Fatalf("BuildResult() error = %v", err)
	}

	var ids []string
	for _, a := range res.Result.Artifacts {
		ids = append(ids, a.ID)
	}
	if fmt.Sprint(ids) != "[chart-1 chart-2]" {
		t.Fatalf("artifacts = %v, want [chart-1 chart-2]", ids)
	}
	if got := len(res.Result.Chain); got != 3 {
		t.Fatalf("chain = %v", res.Result.Chain)
	}

	rendered := out.Context.View().Render(0)
	for _, want := range []string{"chart run 1", "chart run 2"} {
		if n := strings.Count(rendered, want); n != 1 {
			t.Fatalf("%q appears %d times in %q", want, n, rendered)
		}
	}
}

func TestRunChainFailedAgentIsMarkedAndRerouted(t *testing.T) {
	t.Parallel()

	registry := newRegistry()
	registry.agents[contractx.AgentDataAnalysis] = funcAgent(func(ctx context.Context, req contractx.AgentRequest) (contractx.AgentResult, error) {
		panic("boom")
	})
	registry.agents[contractx.AgentVisualization] = funcAgent(func(ctx context.Context, req contractx.AgentRequest) (contractx.AgentResult, error) {
		<-ctx.Done()
		return contractx.AgentResult{}, ctx.Err()
	})

	oracle := &scriptedOracle{decisions: []contractx.RoutingDecision{
		decide(contractx.AgentDataAnalysis),
		decide(contractx.AgentVisualization),
	}}
	policy := testPolicy()
	policy.Timeouts = Timeouts{Default: time.Second, PerAgent: map[contractx.AgentID]time.Duration{
		contractx.AgentVisualization: 20 * time.Millisecond,
	}}

	out, err := RunChain(context.Background(), newState("chart sales", salesDataset), registry, oracle, policy)
	if err != nil {
		t.Fatalf("RunChain() error = %v", err)
	}

	if got := out.Context.AlreadyRun(); len(got) != 2 {
		t.Fatalf("chain = %v", got)
	}
	if !out.Context.IsEmpty() {
		t.Fatal("failed steps must not merge payloads")
	}
	if out.Steps[0].Status != contractx.StatusFailure || out.Steps[0].Error == "" {
		t.Fatalf("panic step = %+v", out.Steps[0])
	}
	if !out.Steps[1].TimedOut {
		t.Fatalf("timeout step = %+v", out.Steps[1])
	}
	if out.Active != nil {
		t.Fatal("active dataset must not move when analysis failed")
	}
	if out.Phase != PhaseFinalizing {
		t.Fatalf("phase = %q", out.Phase)
	}
}

func TestRunChainDefaultPolicyDoesNotRetryFailedAnalysis(t *testing.T) {
	t.Parallel()

	registry := newRegistry()
	registry.agents[contractx.AgentDataAnalysis] = funcAgent(func(ctx context.Context, req contractx.AgentRequest) (contractx.AgentResult, error) {
		return contractx.AgentResult{Status: contractx.StatusFailure, Message: "bad csv"}, nil
	})

	oracle := &scriptedOracle{err: contractx.ErrOracleUnavailable}
	out, err := RunChain(context.Background(), newState("analyze", salesDataset), registry, oracle, testPolicy())
	if err != nil {
		t.Fatalf("RunChain() error = %v", err)
	}
	if got := out.Context.AlreadyRun(); len(got) != 1 {
		t.Fatalf("chain = %v, want a single failed attempt", got)
	}
}

func TestRunChainCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	registry := newRegistry()
	registry.agents[contractx.AgentDataAnalysis] = funcAgent(func(ctx context.Context, req contractx.AgentRequest) (contractx.AgentResult, error) {
		cancel()
		<-ctx.Done()
		return contractx.AgentResult{}, ctx.Err()
	})

	oracle := &scriptedOracle{decisions: []contractx.RoutingDecision{decide(contractx.AgentDataAnalysis)}}
	if _, err := RunChain(ctx, newState("analyze", salesDataset), registry, oracle, testPolicy()); !errors.Is(err, context.Canceled) {
		t.Fatalf("RunChain() error = %v, want context.Canceled", err)
	}
}

func TestTimeoutsFor(t *testing.T) {
	t.Parallel()

	tm := Timeouts{Default: 5 * time.Second, PerAgent: map[contractx.AgentID]time.Duration{contractx.AgentDataAnalysis: time.Minute}}
	if got := tm.For(contractx.AgentDataAnalysis); got != time.Minute {
		t.Fatalf("For(data_analysis) = %s", got)
	}
	if got := tm.For(contractx.AgentVisualization); got != 5*time.Second {
		t.Fatalf("For(visualization) = %s", got)
	}
	if got := (Timeouts{}).For(contractx.AgentPresentation); got != defaultAgentTimeout {
		t.Fatalf("zero Timeouts = %s", got)
	}
}
