package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	specialistx "github.com/tanpawarit/multiagent-analyst/agent/agents/specialist"
	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
	statex "github.com/tanpawarit/multiagent-analyst/agent/state"
)

type fakeOracle struct {
	mu        sync.Mutex
	route     func(req contractx.RouteRequest) (contractx.RoutingDecision, error)
	synthErr  error
	routes    []contractx.RouteRequest
	synthReqs []contractx.SynthesisRequest
}

func (f *fakeOracle) Route(ctx context.Context, req contractx.RouteRequest) (contractx.RoutingDecision, error) {
	f.mu.Lock()
	f.routes = append(f.routes, req)
	route := f.route
	f.mu.Unlock()

	if route == nil {
		return contractx.RoutingDecision{Terminal: contractx.TerminalFinalize}, nil
	}
	return route(req)
}

func (f *fakeOracle) Synthesize(ctx context.Context, req contractx.SynthesisRequest) (contractx.Synthesis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.synthReqs = append(f.synthReqs, req)
	if f.synthErr != nil {
		return contractx.Synthesis{}, f.synthErr
	}
	if req.Context.IsEmpty() {
		return contractx.Synthesis{Text: "**Machine learning** is a field of AI."}, nil
	}
	return contractx.Synthesis{Text: "Sales are trending up."}, nil
}

func (f *fakeOracle) routeRequests() []contractx.RouteRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]contractx.RouteRequest(nil), f.routes...)
}

func (f *fakeOracle) synthCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.synthReqs)
}

// sequence routes through ids in order, then finalizes.
func sequence(ids ...contractx.AgentID) func(contractx.RouteRequest) (contractx.RoutingDecision, error) {
	return func(req contractx.RouteRequest) (contractx.RoutingDecision, error) {
		if n := len(req.AlreadyRun); n < len(ids) {
			return contractx.RoutingDecision{Next: ids[n], Rationale: "scripted"}, nil
		}
		return contractx.RoutingDecision{Next: "FINAL_ANSWER", Terminal: contractx.TerminalFinalize}, nil
	}
}

type agentFunc func(ctx context.Context, req contractx.AgentRequest) (contractx.AgentResult, error)

func (f agentFunc) Handle(ctx context.Context, req contractx.AgentRequest) (contractx.AgentResult, error) {
	return f(ctx, req)
}

func analysisStub() agentFunc {
	return func(ctx context.Context, req contractx.AgentRequest) (contractx.AgentResult, error) {
		if req.Dataset == nil {
			return contractx.AgentResult{Status: contractx.StatusFailure}, contractx.ErrDataset
		}
		return contractx.AgentResult{
			Status: contractx.StatusSuccess,
			Payload: contractx.Payload{
				Summary: "Monthly revenue rose from 10k to 14k.",
				Fields:  map[string]any{"dataset_id": req.Dataset.ID},
			},
			Suggested: contractx.AgentVisualization,
		}, nil
	}
}

func visualizationStub() agentFunc {
	return func(ctx context.Context, req contractx.AgentRequest) (contractx.AgentResult, error) {
		return contractx.AgentResult{
			Status: contractx.StatusSuccess,
			Payload: contractx.Payload{
				Summary: "Rendered 1 chart.",
				Artifacts: []contractx.Artifact{{
					ID:       "chart-1",
					Agent:    contractx.AgentVisualization,
					Title:    "Revenue by month",
					MIMEType: "image/png",
					Data:     []byte{0x89, 'P', 'N', 'G'},
				}},
			},
		}, nil
	}
}

func presentationStub() agentFunc {
	return func(ctx context.Context, req contractx.AgentRequest) (contractx.AgentResult, error) {
		return contractx.AgentResult{Status: contractx.StatusSuccess, Payload: contractx.Payload{Summary: "# Report"}}, nil
	}
}

type harness struct {
	orch   *Orchestrator
	oracle *fakeOracle
	store  *statex.MemoryStore
	agents map[contractx.AgentID]contractx.Agent
}

func newHarness(t *testing.T, oracle *fakeOracle, override map[contractx.AgentID]contractx.Agent, mutate func(*Config)) *harness {
	t.Helper()

	agents := map[contractx.AgentID]contractx.Agent{
		contractx.AgentDataAnalysis:    analysisStub(),
		contractx.AgentVisualization:   visualizationStub(),
		contractx.AgentPresentation:    presentationStub(),
		contractx.AgentAnswerSynthesis: specialistx.NewAnswerSynthesisAgent(oracle),
	}
	for id, a := range override {
		agents[id] = a
	}

	descs, err := specialistx.LoadCapabilities()
	if err != nil {
		t.Fatalf("LoadCapabilities() error = %v", err)
	}
	registry, err := specialistx.NewRegistry(descs, agents)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	cfg := DefaultConfig()
	cfg.AgentTimeout = 2 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}

	store := statex.NewMemoryStore()
	orch, err := New(store, registry, oracle, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var seq int
	var mu sync.Mutex
	orch.newTurnID = func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("turn-%d", seq)
	}
	return &harness{orch: orch, oracle: oracle, store: store, agents: agents}
}

var salesDataset = &contractx.DatasetRef{ID: "ds-sales", Name: "sales.csv", Path: "/data/sales.csv"}

func TestSubmitTurnConversationalQuery(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeOracle{}, nil, nil)
	res, err := h.orch.SubmitTurn(context.Background(), contractx.Query{SessionID: "s1", Text: "What is machine learning?"})
	if err != nil {
		t.Fatalf("SubmitTurn() error = %v", err)
	}

	if len(res.Chain) != 0 {
		t.Fatalf("chain = %v, want empty", res.Chain)
	}
	if len(res.Artifacts) != 0 {
		t.Fatalf("artifacts = %d, want 0", len(res.Artifacts))
	}
	if strings.TrimSpace(res.Answer) == "" {
		t.Fatal("answer must not be empty")
	}
	if res.Status != contractx.StatusSuccess {
		t.Fatalf("status = %q, want success", res.Status)
	}
	if h.oracle.synthCalls() != 1 {
		t.Fatalf("synthesize calls = %d, want 1", h.oracle.synthCalls())
	}
	if got := len(h.oracle.routeRequests()); got != 1 {
		t.Fatalf("route calls = %d, want 1", got)
	}
}

func TestSubmitTurnSalesTrends(t *testing.T) {
	t.Parallel()

	oracle := &fakeOracle{route: sequence(contractx.AgentDataAnalysis, contractx.AgentVisualization)}
	h := newHarness(t, oracle, nil, nil)

	res, err := h.orch.SubmitTurn(context.Background(), contractx.Query{
		SessionID: "s1",
		Text:      "Show me sales trends over time",
		Dataset:   salesDataset,
	})
	if err != nil {
		t.Fatalf("SubmitTurn() error = %v", err)
	}

	want := []contractx.AgentID{contractx.AgentDataAnalysis, contractx.AgentVisualization}
	if len(res.Chain) != len(want) || res.Chain[0] != want[0] || res.Chain[1] != want[1] {
		t.Fatalf("chain = %v, want %v", res.Chain, want)
	}
	if len(res.Artifacts) < 1 {
		t.Fatal("expected at least one visual artifact")
	}
	if res.Status != contractx.StatusSuccess {
		t.Fatalf("status = %q", res.Status)
	}
	if h.oracle.synthCalls() != 1 {
		t.Fatalf("synthesize calls = %d, want 1", h.oracle.synthCalls())
	}

	sess, err := h.store.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if sess.ActiveDataset == nil || sess.ActiveDataset.ID != "ds-sales" {
		t.Fatalf("active dataset = %+v", sess.ActiveDataset)
	}
	if len(sess.Turns) != 1 || sess.Turns[0].TurnID != res.TurnID {
		t.Fatalf("turns = %+v", sess.Turns)
	}
}

func TestSubmitTurnUnknownAgentUsesDefaultPolicy(t *testing.T) {
	t.Parallel()

	oracle := &fakeOracle{route: func(req contractx.RouteRequest) (contractx.RoutingDecision, error) {
		return contractx.RoutingDecision{Next: "foo"}, nil
	}}
	h := newHarness(t, oracle, nil, nil)

	res, err := h.orch.SubmitTurn(context.Background(), contractx.Query{SessionID: "s1", Text: "foo", Dataset: salesDataset})
	if err != nil {
		t.Fatalf("SubmitTurn() error = %v", err)
	}
	if len(res.Chain) != 1 || res.Chain[0] != contractx.AgentDataAnalysis {
		t.Fatalf("chain = %v, want [data_analysis]", res.Chain)
	}
	if res.Steps[0].Source != contractx.DecisionDefault {
		t.Fatalf("step source = %q, want default", res.Steps[0].Source)
	}
}

func TestSubmitTurnFailingAgentIsReroutedAndFinalized(t *testing.T) {
	t.Parallel()

	oracle := &fakeOracle{route: sequence(contractx.AgentDataAnalysis, contractx.AgentVisualization)}
	h := newHarness(t, oracle, map[contractx.AgentID]contractx.Agent{
		contractx.AgentDataAnalysis: agentFunc(func(ctx context.Context, req contractx.AgentRequest) (contractx.AgentResult, error) {
			<-ctx.Done()
			return contractx.AgentResult{}, ctx.Err()
		}),
	}, func(cfg *Config) {
		cfg.AgentTimeouts = map[string]time.Duration{string(contractx.AgentDataAnalysis): 30 * time.Millisecond}
	})

	res, err := h.orch.SubmitTurn(context.Background(), contractx.Query{SessionID: "s1", Text: "Show me sales", Dataset: salesDataset})
	if err != nil {
		t.Fatalf("SubmitTurn() error = %v", err)
	}

	if len(res.Chain) != 2 {
		t.Fatalf("chain = %v", res.Chain)
	}
	if !res.Steps[0].TimedOut || res.Steps[0].Status != contractx.StatusFailure {
		t.Fatalf("first step = %+v", res.Steps[0])
	}
	if res.Status != contractx.StatusPartial {
		t.Fatalf("status = %q, want partial", res.Status)
	}
	if strings.TrimSpace(res.Answer) == "" {
		t.Fatal("answer must not be empty")
	}

	sess, err := h.store.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if sess.ActiveDataset != nil {
		t.Fatalf("active dataset = %+v, want unset after failed analysis", sess.ActiveDataset)
	}
}

func TestSubmitTurnOracleAlwaysUnavailable(t *testing.T) {
	t.Parallel()

	oracle := &fakeOracle{
		route: func(req contractx.RouteRequest) (contractx.RoutingDecision, error) {
			return contractx.RoutingDecision{}, fmt.Errorf("%w: connection refused", contractx.ErrOracleUnavailable)
		},
		synthErr: fmt.Errorf("%w: connection refused", contractx.ErrOracleUnavailable),
	}
	h := newHarness(t, oracle, nil, nil)

	queries := []contractx.Query{
		{SessionID: "s1", Text: "What is machine learning?"},
		{SessionID: "s1", Text: "Summarize this data", Dataset: salesDataset},
		{SessionID: "s2", Text: "and now?"},
	}
	for _, q := range queries {
		res, err := h.orch.SubmitTurn(context.Background(), q)
		if err != nil {
			t.Fatalf("SubmitTurn(%q) error = %v", q.Text, err)
		}
		if strings.TrimSpace(res.Answer) == "" {
			t.Fatalf("SubmitTurn(%q) empty answer", q.Text)
		}
		if res.Status == contractx.StatusFailure {
			t.Fatalf("SubmitTurn(%q) status = failure", q.Text)
		}
	}
}

func TestSubmitTurnHistoryCarriesCondensedSummary(t *testing.T) {
	t.Parallel()

	oracle := &fakeOracle{route: sequence(contractx.AgentDataAnalysis)}
	h := newHarness(t, oracle, nil, nil)
	ctx := context.Background()

	if _, err := h.orch.SubmitTurn(ctx, contractx.Query{SessionID: "s1", Text: "Describe revenue", Dataset: salesDataset}); err != nil {
		t.Fatalf("first SubmitTurn() error = %v", err)
	}
	first, err := h.store.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	before := len(h.oracle.routeRequests())
	res, err := h.orch.SubmitTurn(ctx, contractx.Query{SessionID: "s1", Text: "And what about costs?"})
	if err != nil {
		t.Fatalf("second SubmitTurn() error = %v", err)
	}

	second := h.oracle.routeRequests()[before]
	if len(second.History) != 1 {
		t.Fatalf("history = %+v, want the first turn only", second.History)
	}
	if second.History[0].Summary != first.Turns[0].Summary {
		t.Fatalf("history summary = %q, want %q", second.History[0].Summary, first.Turns[0].Summary)
	}
	if second.Dataset == nil || second.Dataset.ID != "ds-sales" {
		t.Fatalf("second turn dataset = %+v, want session active dataset", second.Dataset)
	}
	if res.TurnID == first.Turns[0].TurnID {
		t.Fatal("turn ids must differ")
	}
}

func TestSubmitTurnChainBounds(t *testing.T) {
	t.Parallel()

	// The oracle keeps asking for more work; the chain must still stop.
	oracle := &fakeOracle{route: func(req contractx.RouteRequest) (contractx.RoutingDecision, error) {
		return contractx.RoutingDecision{Next: contractx.AgentDataAnalysis}, nil
	}}

	t.Run("no repeat", func(t *testing.T) {
		h := newHarness(t, oracle, nil, nil)
		res, err := h.orch.SubmitTurn(context.Background(), contractx.Query{SessionID: "s1", Text: "x", Dataset: salesDataset})
		if err != nil {
			t.Fatalf("SubmitTurn() error = %v", err)
		}
		if len(res.Chain) != 1 {
			t.Fatalf("chain = %v, want one data_analysis step", res.Chain)
		}
	})

	t.Run("repeat capped", func(t *testing.T) {
		h := newHarness(t, oracle, nil, func(cfg *Config) { cfg.AllowRepeat = true })
		res, err := h.orch.SubmitTurn(context.Background(), contractx.Query{SessionID: "s1", Text: "x", Dataset: salesDataset})
		if err != nil {
			t.Fatalf("SubmitTurn() error = %v", err)
		}
		if len(res.Chain) != 4 {
			t.Fatalf("chain = %v, want 4 steps", res.Chain)
		}
	})
}

func TestSubmitTurnCancellationPersistsNothing(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	oracle := &fakeOracle{route: sequence(contractx.AgentDataAnalysis)}
	h := newHarness(t, oracle, map[contractx.AgentID]contractx.Agent{
		contractx.AgentDataAnalysis: agentFunc(func(ctx context.Context, req contractx.AgentRequest) (contractx.AgentResult, error) {
			cancel()
			<-ctx.Done()
			return contractx.AgentResult{}, ctx.Err()
		}),
	}, nil)

	res, err := h.orch.SubmitTurn(ctx, contractx.Query{SessionID: "s1", Text: "analyze", Dataset: salesDataset})

	var orchErr *contractx.OrchestrationError
	if !errors.As(err, &orchErr) {
		t.Fatalf("SubmitTurn() error = %v, want *OrchestrationError", err)
	}
	if !errors.Is(err, context.Canceled) || !errors.Is(err, contractx.ErrOrchestrationFailed) {
		t.Fatalf("SubmitTurn() error = %v", err)
	}
	if res.Status != contractx.StatusFailure || res.Answer != contractx.ApologyAnswer() {
		t.Fatalf("result = %+v", res)
	}
	if _, err := h.store.Load(context.Background(), "s1"); !errors.Is(err, statex.ErrSessionNotFound) {
		t.Fatalf("Load() error = %v, want ErrSessionNotFound", err)
	}
}

func TestSubmitTurnInvalidQuery(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeOracle{}, nil, nil)
	res, err := h.orch.SubmitTurn(context.Background(), contractx.Query{SessionID: "s1", Text: "   "})
	if !errors.Is(err, contractx.ErrInvalidQuery) {
		t.Fatalf("SubmitTurn() error = %v, want ErrInvalidQuery", err)
	}
	if res.Status != contractx.StatusFailure || res.Answer == "" {
		t.Fatalf("result = %+v", res)
	}
	if len(h.oracle.routeRequests()) != 0 {
		t.Fatal("invalid query must not reach the oracle")
	}
}

func TestSubmitTurnSerializesSameSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeOracle{}, nil, nil)

	const turns = 8
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := h.orch.SubmitTurn(context.Background(), contractx.Query{SessionID: "shared", Text: fmt.Sprintf("q%d", i)}); err != nil {
				t.Errorf("SubmitTurn(q%d) error = %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	sess, err := h.store.Load(context.Background(), "shared")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(sess.Turns) != turns {
		t.Fatalf("turns = %d, want %d", len(sess.Turns), turns)
	}

	// Each turn saw every previously appended turn.
	seen := map[int]bool{}
	for _, req := range h.oracle.routeRequests() {
		seen[len(req.History)] = true
	}
	for n := 0; n < 5; n++ {
		if !seen[n] {
			t.Fatalf("no turn routed with %d history entries; appends interleaved", n)
		}
	}
}

func TestNewValidatesDependencies(t *testing.T) {
	t.Parallel()

	descs, err := specialistx.LoadCapabilities()
	if err != nil {
		t.Fatalf("LoadCapabilities() error = %v", err)
	}
	oracle := &fakeOracle{}
	registry, err := specialistx.NewRegistry(descs, map[contractx.AgentID]contractx.Agent{
		contractx.AgentDataAnalysis:    analysisStub(),
		contractx.AgentVisualization:   visualizationStub(),
		contractx.AgentPresentation:    presentationStub(),
		contractx.AgentAnswerSynthesis: specialistx.NewAnswerSynthesisAgent(oracle),
	})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	if _, err := New(nil, registry, oracle, DefaultConfig()); err == nil {
		t.Fatal("expected error without store")
	}
	if _, err := New(statex.NewMemoryStore(), nil, oracle, DefaultConfig()); err == nil {
		t.Fatal("expected error without registry")
	}

	cfg := DefaultConfig()
	cfg.MaxChainLength = 0
	if _, err := New(statex.NewMemoryStore(), registry, oracle, cfg); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("New() error = %v, want ErrValidation", err)
	}
}
