package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	llmx "github.com/tanpawarit/multiagent-analyst/agent/llm"
	statex "github.com/tanpawarit/multiagent-analyst/agent/state"
	toolx "github.com/tanpawarit/multiagent-analyst/agent/tool"
	configx "github.com/tanpawarit/multiagent-analyst/pkg/config"
	openrouterx "github.com/tanpawarit/multiagent-analyst/pkg/openrouter"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, model access, session store and sandbox",
	RunE:  runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	out := cmd.OutOrStdout()
	failed := false
	check := func(name string, err error) {
		report(out, name, err)
		if err != nil {
			failed = true
		}
	}

	llmCfg, err := configx.New[llmx.Config]("LLM")
	check("llm config", err)
	if err == nil {
		check("model access", checkModelAccess(ctx, *llmCfg))
	}

	store, closeStore, err := openStore(ctx)
	check("session store", err)
	if err == nil {
		_, loadErr := store.Load(ctx, "doctor-probe")
		if errors.Is(loadErr, statex.ErrSessionNotFound) {
			loadErr = nil
		}
		check("session store read", loadErr)
		_ = closeStore()
	}

	sandboxCfg, err := configx.New[toolx.Config]("SANDBOX")
	check("sandbox config", err)
	if err == nil {
		_, lookErr := exec.LookPath(sandboxCfg.Command)
		check(fmt.Sprintf("sandbox command %q", sandboxCfg.Command), lookErr)
	}

	if failed {
		return errors.New("one or more checks failed")
	}
	return nil
}

func checkModelAccess(ctx context.Context, cfg llmx.Config) error {
	if strings.EqualFold(strings.TrimSpace(cfg.Provider), llmx.ProviderAnthropic) {
		// No model listing for anthropic; building the client checks key and model.
		_, err := cfg.ChatModel(ctx, llmx.RoleRouter)
		return err
	}

	orCfg := cfg.OpenRouterFor(llmx.RoleRouter)
	client, err := openrouterx.NewClient(orCfg)
	if err != nil {
		return err
	}
	return openrouterx.CheckModel(ctx, client, orCfg.Model)
}

func report(out io.Writer, name string, err error) {
	if err != nil {
		fmt.Fprintf(out, "%s %s: %v\n", color.RedString("✗"), name, err)
		return
	}
	fmt.Fprintf(out, "%s %s\n", color.GreenString("✓"), name)
}
