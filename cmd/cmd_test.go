package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
	statex "github.com/tanpawarit/multiagent-analyst/agent/state"
)

func TestArtifactFileName(t *testing.T) {
	t.Parallel()

	got := artifactFileName("01HZX", 0, contractx.Artifact{Title: "Revenue by Month (2024)", MIMEType: "image/png"})
	if got != "01hzx-01-revenue-by-month-2024.png" {
		t.Fatalf("artifactFileName() = %q", got)
	}
	if got := artifactFileName("t", 2, contractx.Artifact{Title: "???"}); got != "t-03-chart.png" {
		t.Fatalf("artifactFileName() = %q", got)
	}
}

func TestWriteArtifacts(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "charts")
	res := contractx.TurnResult{TurnID: "turn", Artifacts: []contractx.Artifact{
		{Title: "a", MIMEType: "image/png", Data: []byte("png-a")},
		{Title: "b", MIMEType: "image/png", Data: []byte("png-b")},
	}}

	paths, err := writeArtifacts(dir, res)
	if err != nil {
		t.Fatalf("writeArtifacts() error = %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("paths = %v", paths)
	}
	data, err := os.ReadFile(paths[1])
	if err != nil || string(data) != "png-b" {
		t.Fatalf("second chart = %q, %v", data, err)
	}

	if paths, err := writeArtifacts(dir, contractx.TurnResult{}); err != nil || paths != nil {
		t.Fatalf("no artifacts = %v, %v", paths, err)
	}
}

func TestStatusLineShowsChain(t *testing.T) {
	t.Parallel()

	line := statusLine(contractx.TurnResult{
		TurnID: "t1",
		Status: contractx.StatusPartial,
		Chain:  []contractx.AgentID{contractx.AgentDataAnalysis, contractx.AgentVisualization},
	})
	if !strings.Contains(line, "data_analysis → visualization") || !strings.Contains(line, "partial") {
		t.Fatalf("statusLine() = %q", line)
	}
	if line := statusLine(contractx.TurnResult{Status: contractx.StatusSuccess}); !strings.Contains(line, "direct answer") {
		t.Fatalf("statusLine() = %q", line)
	}
}

func TestHandleChatCommandLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "sales.csv")
	if err := os.WriteFile(csvPath, []byte("month,revenue\n2024-01,10\n2024-02,12\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	quit, ref := handleChatCommand(&out, "/load "+csvPath, "s1", nil)
	if quit || ref == nil {
		t.Fatalf("load = quit %v ref %+v, output %q", quit, ref, out.String())
	}
	if ref.Name != "sales.csv" || ref.ID == "" || !filepath.IsAbs(ref.Path) {
		t.Fatalf("ref = %+v", ref)
	}

	out.Reset()
	_, kept := handleChatCommand(&out, "/load "+filepath.Join(dir, "notes.txt"), "s1", ref)
	if kept != ref {
		t.Fatal("a rejected upload must keep the pending dataset")
	}

	if quit, _ := handleChatCommand(&out, "/quit", "s1", nil); !quit {
		t.Fatal("/quit must end the session")
	}
}

func TestAgentsCommandListsCatalog(t *testing.T) {
	var out bytes.Buffer
	agentsCmd.SetOut(&out)
	t.Cleanup(func() { agentsCmd.SetOut(nil) })

	if err := agentsCmd.RunE(agentsCmd, nil); err != nil {
		t.Fatalf("agents error = %v", err)
	}
	for _, id := range []string{"data_analysis", "visualization", "presentation", "answer_synthesis"} {
		if !strings.Contains(out.String(), id) {
			t.Fatalf("agents output missing %s:\n%s", id, out.String())
		}
	}
}

func TestListAndClearSessions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := statex.NewMemoryStore()
	for i, sid := range []string{"alpha", "beta", "beta"} {
		rec := statex.TurnRecord{TurnID: string(rune('a' + i)), Query: "q", Status: contractx.StatusSuccess}
		if err := store.AppendTurn(ctx, sid, rec, nil); err != nil {
			t.Fatal(err)
		}
	}

	var out bytes.Buffer
	if err := listSessions(ctx, &out, store); err != nil {
		t.Fatalf("listSessions() error = %v", err)
	}
	if !strings.Contains(out.String(), "alpha") || !strings.Contains(out.String(), "2 turn(s)") {
		t.Fatalf("list output = %q", out.String())
	}

	out.Reset()
	if err := clearSessions(ctx, &out, store); err != nil {
		t.Fatalf("clearSessions() error = %v", err)
	}
	if !strings.Contains(out.String(), "deleted 2 session(s)") {
		t.Fatalf("clear output = %q", out.String())
	}

	out.Reset()
	if err := listSessions(ctx, &out, store); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "no stored sessions") {
		t.Fatalf("list after clear = %q", out.String())
	}
}

func TestSessionClearNeedsConfirmation(t *testing.T) {
	if err := sessionClearCmd.RunE(sessionClearCmd, nil); err == nil || !strings.Contains(err.Error(), "--yes") {
		t.Fatalf("clear without --yes error = %v", err)
	}
}
