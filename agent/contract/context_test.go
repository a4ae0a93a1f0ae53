package contract

import (
	"errors"
	"strings"
	"testing"
)

func TestContextViewIsolatesCallerMutations(t *testing.T) {
	t.Parallel()

	steps := []Step{
		MergedStep(Contribution{
			Agent:  AgentDataAnalysis,
			Status: StatusSuccess,
			Payload: Payload{
				Summary: "rows=10",
				Fields: map[string]any{
					"columns": []string{"date", "sales"},
					"profile": map[string]any{"rows": 10},
				},
				Artifacts: []Artifact{{ID: "a1", Data: []byte{1, 2, 3}}},
			},
		}),
	}
	view := NewContextView(steps)

	steps[0].Contribution.Payload.Fields["profile"].(map[string]any)["rows"] = 99

	got, ok := view.Field(AgentDataAnalysis, "profile")
	if !ok {
		t.Fatal("expected profile field")
	}
	got.(map[string]any)["rows"] = 42

	again, _ := view.Field(AgentDataAnalysis, "profile")
	if rows := again.(map[string]any)["rows"]; rows != 10 {
		t.Fatalf("rows = %v, want 10", rows)
	}

	artifacts := view.Artifacts()
	artifacts[0].Data[0] = 9
	if view.Artifacts()[0].Data[0] != 1 {
		t.Fatal("artifact bytes leaked through view")
	}
}

func TestContextViewRenderListsRunOrderAndFailures(t *testing.T) {
	t.Parallel()

	view := NewContextView([]Step{
		MergedStep(Contribution{Agent: AgentDataAnalysis, Status: StatusSuccess, Payload: Payload{Summary: "sales grow\n monthly"}}),
		FailedStep(AgentVisualization),
	})

	rendered := view.Render(0)
	if !strings.Contains(rendered, "- data_analysis (success): sales grow monthly") {
		t.Fatalf("unexpected render: %q", rendered)
	}
	if !strings.Contains(rendered, "- visualization: failed, no output") {
		t.Fatalf("expected failed step in render: %q", rendered)
	}
	if got := view.Render(12); len([]rune(got)) != 12 {
		t.Fatalf("truncated render length = %d, want 12", len([]rune(got)))
	}
}

func TestContextViewKeepsEveryRunOfARepeatedAgent(t *testing.T) {
	t.Parallel()

	chart := func(id, summary string) Step {
		return MergedStep(Contribution{
			Agent:   AgentVisualization,
			Status:  StatusSuccess,
			Payload: Payload{Summary: summary, Artifacts: []Artifact{{ID: id}}},
		})
	}
	view := NewContextView([]Step{
		MergedStep(Contribution{Agent: AgentDataAnalysis, Status: StatusSuccess, Payload: Payload{Summary: "profiled"}}),
		chart("c1", "first chart"),
		chart("c2", "second chart"),
		FailedStep(AgentVisualization),
	})

	var ids []string
	for _, a := range view.Artifacts() {
		ids = append(ids, a.ID)
	}
	if strings.Join(ids, ",") != "c1,c2" {
		t.Fatalf("artifacts = %v, want [c1 c2]", ids)
	}
	if n := len(view.Contributions()); n != 3 {
		t.Fatalf("contributions = %d, want 3", n)
	}

	rendered := view.Render(0)
	for _, want := range []string{"first chart", "second chart", "- visualization: failed, no output"} {
		if strings.Count(rendered, want) != 1 {
			t.Fatalf("render should mention %q once: %q", want, rendered)
		}
	}

	latest, ok := view.Get(AgentVisualization)
	if !ok || latest.Payload.Summary != "second chart" {
		t.Fatalf("Get() = %+v, %v, want the latest merged run", latest, ok)
	}
}

func TestQueryValidate(t *testing.T) {
	t.Parallel()

	if err := (Query{SessionID: "s", Text: "  "}).Validate(); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("Validate() error = %v, want ErrInvalidQuery", err)
	}
	if err := (Query{Text: "hi"}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("Validate() error = %v, want ErrValidation", err)
	}
	withDataset := Query{SessionID: "s", Dataset: &DatasetRef{ID: "d1", Path: "/tmp/d.csv"}}
	if err := withDataset.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestFallbackAnswerNeverEmpty(t *testing.T) {
	t.Parallel()

	if got := FallbackAnswer("", ContextView{}); strings.TrimSpace(got) == "" {
		t.Fatal("fallback answer must not be empty")
	}

	view := NewContextView([]Step{
		MergedStep(Contribution{Agent: AgentDataAnalysis, Status: StatusSuccess, Payload: Payload{Summary: "Revenue rose 12%."}}),
	})
	got := FallbackAnswer("how are sales?", view)
	if !strings.Contains(got, "### Data Analysis") || !strings.Contains(got, "Revenue rose 12%.") {
		t.Fatalf("unexpected fallback answer: %q", got)
	}
}

func TestOrchestrationErrorUnwrap(t *testing.T) {
	t.Parallel()

	err := error(&OrchestrationError{SessionID: "s", TurnID: "t", Err: ErrOracleUnavailable})
	if !errors.Is(err, ErrOrchestrationFailed) {
		t.Fatal("expected ErrOrchestrationFailed")
	}
	if !errors.Is(err, ErrOracleUnavailable) {
		t.Fatal("expected wrapped cause")
	}
}
