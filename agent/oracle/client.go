package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
	promptx "github.com/tanpawarit/multiagent-analyst/agent/prompt"
	tracerx "github.com/tanpawarit/multiagent-analyst/pkg/tracer"
)

// Client is the Reasoning Oracle Client used by the orchestrator.
type Client struct {
	cfg Config

	router         compose.Runnable[map[string]any, *schema.Message]
	synthesizer    compose.Runnable[map[string]any, *schema.Message]
	conversational compose.Runnable[map[string]any, *schema.Message]

	routeGuard *Guard
	synthGuard *Guard
}

var _ contractx.Oracle = (*Client)(nil)

func New(
	ctx context.Context,
	routerModel einomodel.BaseChatModel,
	synthModel einomodel.BaseChatModel,
	prompts promptx.PromptSet,
	cfg Config,
) (*Client, error) {
	if routerModel == nil {
		return nil, errors.New("router model is required")
	}
	if synthModel == nil {
		return nil, errors.New("synthesizer model is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(prompts.Router) == "" || strings.TrimSpace(prompts.Synthesizer) == "" || strings.TrimSpace(prompts.Conversational) == "" {
		return nil, fmt.Errorf("%w: router, synthesizer and conversational prompts are required", contractx.ErrPromptMissing)
	}

	router, err := compileTextGraph(ctx, routerModel, prompts.Router, "oracle.route")
	if err != nil {
		return nil, err
	}
	synthesizer, err := compileTextGraph(ctx, synthModel, prompts.Synthesizer, "oracle.synthesize")
	if err != nil {
		return nil, err
	}
	conversational, err := compileTextGraph(ctx, synthModel, prompts.Conversational, "oracle.converse")
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:            cfg,
		router:         router,
		synthesizer:    synthesizer,
		conversational: conversational,
		routeGuard:     NewGuard("router", cfg),
		synthGuard:     NewGuard("synthesizer", cfg),
	}, nil
}

type routeAgentInput struct {
	ID              contractx.AgentID `json:"id"`
	Name            string            `json:"name"`
	Description     string            `json:"description"`
	Capabilities    []string          `json:"capabilities"`
	Contributes     []string          `json:"contributes"`
	RequiresDataset bool              `json:"requires_dataset,omitempty"`
}

type routeDatasetInput struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type routeInput struct {
	Query          string                  `json:"query"`
	Dataset        *routeDatasetInput      `json:"dataset"`
	ContextSummary string                  `json:"context_summary"`
	History        []contractx.TurnSummary `json:"history"`
	Agents         []routeAgentInput       `json:"agents"`
	AlreadyRun     []contractx.AgentID     `json:"already_run"`
	Feedback       string                  `json:"feedback,omitempty"`
}

func (c *Client) Route(ctx context.Context, req contractx.RouteRequest) (contractx.RoutingDecision, error) {
	ctx, span := tracerx.StartSpan(ctx, "oracle.route")
	defer span.End()

	in := routeInput{
		Query:          req.Query,
		ContextSummary: req.ContextSummary,
		History:        req.History,
		AlreadyRun:     req.AlreadyRun,
	}
	if in.AlreadyRun == nil {
		in.AlreadyRun = []contractx.AgentID{}
	}
	if !req.Dataset.IsZero() {
		in.Dataset = &routeDatasetInput{ID: req.Dataset.ID, Name: req.Dataset.Name}
	}

	known := make(map[contractx.AgentID]bool, len(req.Capabilities))
	ids := make([]string, 0, len(req.Capabilities))
	for _, capability := range req.Capabilities {
		known[capability.ID] = true
		ids = append(ids, string(capability.ID))
		in.Agents = append(in.Agents, routeAgentInput{
			ID:              capability.ID,
			Name:            capability.Name,
			Description:     capability.Description,
			Capabilities:    capability.Capabilities,
			Contributes:     capability.Contributes,
			RequiresDataset: capability.RequiresDataset,
		})
	}

	logger := zerolog.Ctx(ctx)
	var lastErr error
	for attempt := 0; attempt <= c.cfg.Reformulations; attempt++ {
		payload, err := encodeInput(in)
		if err != nil {
			tracerx.RecordError(span, err)
			return contractx.RoutingDecision{}, err
		}

		msg, err := c.routeGuard.Call(ctx, func(ctx context.Context) (*schema.Message, error) {
			return c.router.Invoke(ctx, payload)
		})
		if err != nil {
			tracerx.RecordError(span, err)
			return contractx.RoutingDecision{}, err
		}

		decision, err := DecodeRoutingDecision(msg.Content, known)
		if err == nil {
			span.SetAttributes(
				tracerx.StringAttr("oracle.next_agent", string(decision.Next)),
				tracerx.StringAttr("oracle.terminal", string(decision.Terminal)),
				tracerx.IntAttr("oracle.reformulations", attempt),
			)
			tracerx.SetOK(span)
			return decision, nil
		}

		lastErr = err
		logger.Debug().Err(err).Int("reformulation", attempt).Msg("router reply rejected")
		in.Feedback = fmt.Sprintf(
			"Your previous reply was rejected (%v). Reply with one JSON object whose next_agent is one of: %s, %s, %s.",
			err, strings.Join(ids, ", "), sentinelFinalAnswer, sentinelNone,
		)
	}

	tracerx.RecordError(span, lastErr)
	return contractx.RoutingDecision{}, lastErr
}

type synthesisResult struct {
	Agent   contractx.AgentID      `json:"agent"`
	Status  contractx.ResultStatus `json:"status"`
	Summary string                 `json:"summary"`
	Details string                 `json:"details,omitempty"`
	Charts  []string               `json:"charts,omitempty"`
}

type synthesisInput struct {
	Query   string                  `json:"query"`
	Results []synthesisResult       `json:"results,omitempty"`
	Failed  []contractx.AgentID     `json:"failed_steps,omitempty"`
	History []contractx.TurnSummary `json:"history"`
}

// Synthesize writes the final answer. Oracle failures degrade to a templated
// answer built from the raw context; only cancellation is returned as an error.
func (c *Client) Synthesize(ctx context.Context, req contractx.SynthesisRequest) (contractx.Synthesis, error) {
	ctx, span := tracerx.StartSpan(ctx, "oracle.synthesize")
	defer span.End()

	in := synthesisInput{Query: req.Query, History: req.History}
	for _, step := range req.Context.Steps() {
		if !step.Merged {
			in.Failed = append(in.Failed, step.Agent)
			continue
		}
		contribution := step.Contribution
		result := synthesisResult{
			Agent:   step.Agent,
			Status:  contribution.Status,
			Summary: contribution.Payload.Summary,
		}
		if len(contribution.Payload.Fields) > 0 {
			if raw, err := json.Marshal(contribution.Payload.Fields); err == nil {
				result.Details = contractx.Truncate(string(raw), c.cfg.MaxFieldChars)
			}
		}
		for _, artifact := range contribution.Payload.Artifacts {
			result.Charts = append(result.Charts, artifact.Title)
		}
		in.Results = append(in.Results, result)
	}

	runner := c.synthesizer
	if req.Context.IsEmpty() {
		runner = c.conversational
	}

	fallback := func(cause error) (contractx.Synthesis, error) {
		zerolog.Ctx(ctx).Warn().Err(cause).Msg("synthesis degraded to templated answer")
		tracerx.RecordError(span, cause)
		return contractx.Synthesis{
			Text:     contractx.FallbackAnswer(req.Query, req.Context),
			Degraded: true,
		}, nil
	}

	payload, err := encodeInput(in)
	if err != nil {
		return fallback(err)
	}

	msg, err := c.synthGuard.Call(ctx, func(ctx context.Context) (*schema.Message, error) {
		return runner.Invoke(ctx, payload)
	})
	if err != nil {
		if ctx.Err() != nil {
			tracerx.RecordError(span, ctx.Err())
			return contractx.Synthesis{}, ctx.Err()
		}
		return fallback(err)
	}

	text := strings.TrimSpace(msg.Content)
	if text == "" {
		return fallback(fmt.Errorf("%w: empty synthesis", contractx.ErrOracleMalformedResponse))
	}

	tracerx.SetOK(span)
	return contractx.Synthesis{Text: text}, nil
}
