package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	orchestratorx "github.com/tanpawarit/multiagent-analyst/agent/agents/orchestrator"
	specialistx "github.com/tanpawarit/multiagent-analyst/agent/agents/specialist"
	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
	datasetx "github.com/tanpawarit/multiagent-analyst/agent/dataset"
	llmx "github.com/tanpawarit/multiagent-analyst/agent/llm"
	oraclex "github.com/tanpawarit/multiagent-analyst/agent/oracle"
	promptx "github.com/tanpawarit/multiagent-analyst/agent/prompt"
	statex "github.com/tanpawarit/multiagent-analyst/agent/state"
	toolx "github.com/tanpawarit/multiagent-analyst/agent/tool"
	configx "github.com/tanpawarit/multiagent-analyst/pkg/config"
)

type AppConfig struct {
	DatasetMaxRows int    `envconfig:"DATASET_MAX_ROWS" default:"200000"`
	ChartDir       string `envconfig:"CHART_DIR" default:"charts"`
}

type app struct {
	cfg      AppConfig
	store    statex.Store
	registry *specialistx.Registry
	orch     *orchestratorx.Orchestrator

	closeStore func() error
}

func (a *app) Close() error {
	if a == nil || a.closeStore == nil {
		return nil
	}
	return a.closeStore()
}

// openStore loads SESSION_* and opens the configured session backend.
func openStore(ctx context.Context) (statex.Store, func() error, error) {
	cfg, err := configx.New[statex.Config]("SESSION")
	if err != nil {
		return nil, nil, fmt.Errorf("load session config: %w", err)
	}
	return statex.NewStore(ctx, *cfg)
}

func buildApp(ctx context.Context) (*app, error) {
	appCfg, err := configx.New[AppConfig]("")
	if err != nil {
		return nil, fmt.Errorf("load app config: %w", err)
	}
	llmCfg, err := configx.New[llmx.Config]("LLM")
	if err != nil {
		return nil, fmt.Errorf("load llm config: %w", err)
	}
	oracleCfg, err := configx.New[oraclex.Config]("ORACLE")
	if err != nil {
		return nil, fmt.Errorf("load oracle config: %w", err)
	}
	orchCfg, err := configx.New[orchestratorx.Config]("ORCHESTRATOR")
	if err != nil {
		return nil, fmt.Errorf("load orchestrator config: %w", err)
	}
	sandboxCfg, err := configx.New[toolx.Config]("SANDBOX")
	if err != nil {
		return nil, fmt.Errorf("load sandbox config: %w", err)
	}

	prompts := promptx.LoadPromptSet()
	routerModel, err := llmCfg.ChatModel(ctx, llmx.RoleRouter)
	if err != nil {
		return nil, err
	}
	synthModel, err := llmCfg.ChatModel(ctx, llmx.RoleSynthesizer)
	if err != nil {
		return nil, err
	}
	oracle, err := oraclex.New(ctx, routerModel, synthModel, prompts, *oracleCfg)
	if err != nil {
		return nil, fmt.Errorf("build oracle: %w", err)
	}

	registry, err := specialistx.Build(ctx, specialistx.Deps{
		LLM:            *llmCfg,
		Oracle:         oracle,
		OracleConfig:   *oracleCfg,
		Prompts:        prompts,
		Sandbox:        toolx.NewProcessSandbox(*sandboxCfg),
		MaxDatasetRows: appCfg.DatasetMaxRows,
	})
	if err != nil {
		return nil, fmt.Errorf("build agents: %w", err)
	}

	store, closeStore, err := openStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	orch, err := orchestratorx.New(store, registry, oracle, *orchCfg)
	if err != nil {
		_ = closeStore()
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	return &app{
		cfg:        *appCfg,
		store:      store,
		registry:   registry,
		orch:       orch,
		closeStore: closeStore,
	}, nil
}

// datasetFromPath validates an uploaded file and gives it a fresh id.
func datasetFromPath(path string) (*contractx.DatasetRef, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if err := datasetx.CheckExtension(abs); err != nil {
		return nil, err
	}
	if _, err := datasetx.Load(&contractx.DatasetRef{Path: abs}, 1); err != nil {
		return nil, err
	}
	return &contractx.DatasetRef{
		ID:   uuid.NewString(),
		Name: filepath.Base(abs),
		Path: abs,
	}, nil
}
