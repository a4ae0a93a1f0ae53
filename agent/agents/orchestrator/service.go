package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
	nodex "github.com/tanpawarit/multiagent-analyst/agent/nodes"
	statex "github.com/tanpawarit/multiagent-analyst/agent/state"
	logx "github.com/tanpawarit/multiagent-analyst/pkg/logger"
	tracerx "github.com/tanpawarit/multiagent-analyst/pkg/tracer"
)

type Config struct {
	MaxChainLength  int                      `envconfig:"MAX_CHAIN_LENGTH" split_words:"true" default:"4"`
	AllowRepeat     bool                     `envconfig:"ALLOW_REPEAT" split_words:"true" default:"false"`
	AgentTimeout    time.Duration            `envconfig:"AGENT_TIMEOUT" split_words:"true" default:"60s"`
	AgentTimeouts   map[string]time.Duration `envconfig:"AGENT_TIMEOUTS" split_words:"true"`
	HistoryWindow   int                      `envconfig:"HISTORY_WINDOW" split_words:"true" default:"5"`
	SummaryMaxChars int                      `envconfig:"SUMMARY_MAX_CHARS" split_words:"true" default:"600"`
	ContextMaxChars int                      `envconfig:"CONTEXT_MAX_CHARS" split_words:"true" default:"4000"`
}

func DefaultConfig() Config {
	return Config{
		MaxChainLength:  nodex.DefaultMaxChainLength,
		AgentTimeout:    60 * time.Second,
		HistoryWindow:   5,
		SummaryMaxChars: statex.DefaultSummaryMaxChars,
		ContextMaxChars: 4000,
	}
}

func (c Config) Validate() error {
	if c.MaxChainLength < 1 {
		return fmt.Errorf("%w: max chain length must be at least 1", contractx.ErrValidation)
	}
	if c.AgentTimeout <= 0 {
		return fmt.Errorf("%w: agent timeout must be positive", contractx.ErrValidation)
	}
	for id, d := range c.AgentTimeouts {
		if d <= 0 {
			return fmt.Errorf("%w: timeout for %s must be positive", contractx.ErrValidation, id)
		}
	}
	if c.HistoryWindow < 0 {
		return fmt.Errorf("%w: history window must not be negative", contractx.ErrValidation)
	}
	return nil
}

func (c Config) policy() nodex.ChainPolicy {
	perAgent := make(map[contractx.AgentID]time.Duration, len(c.AgentTimeouts))
	for id, d := range c.AgentTimeouts {
		perAgent[contractx.AgentID(strings.TrimSpace(id))] = d
	}
	return nodex.ChainPolicy{
		MaxChainLength: c.MaxChainLength,
		AllowRepeat:    c.AllowRepeat,
		Timeouts:       nodex.Timeouts{Default: c.AgentTimeout, PerAgent: perAgent},
		ContextChars:   c.ContextMaxChars,
	}
}

// Orchestrator answers user turns by chaining agents over a shared context.
type Orchestrator struct {
	store    statex.Store
	registry contractx.Registry
	oracle   contractx.Oracle
	locks    *statex.SessionLocker

	graphRunner compose.Runnable[*nodex.GraphState, nodex.GraphOutput]

	policy          nodex.ChainPolicy
	historyWindow   int
	summaryMaxChars int

	now       func() time.Time
	newTurnID func() string
}

func New(
	store statex.Store,
	registry contractx.Registry,
	oracle contractx.Oracle,
	cfg Config,
) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if registry == nil {
		return nil, errors.New("agent registry is required")
	}
	if oracle == nil {
		return nil, errors.New("oracle is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := registry.Get(contractx.AgentAnswerSynthesis); err != nil {
		return nil, fmt.Errorf("answer synthesis agent: %w", err)
	}
	for _, desc := range registry.ListCapabilities() {
		if _, err := registry.Get(desc.ID); err != nil {
			return nil, fmt.Errorf("agent %s: %w", desc.ID, err)
		}
	}

	o := &Orchestrator{
		store:           store,
		registry:        registry,
		oracle:          oracle,
		locks:           statex.NewSessionLocker(),
		policy:          cfg.policy(),
		historyWindow:   cfg.HistoryWindow,
		summaryMaxChars: cfg.SummaryMaxChars,
		now:             time.Now,
		newTurnID:       func() string { return ulid.Make().String() },
	}

	graphRunner, err := o.compileSubmitTurnGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// SubmitTurn runs one turn. It always returns a usable TurnResult; the error
// is an *OrchestrationError only when the turn failed and was not persisted.
func (o *Orchestrator) SubmitTurn(ctx context.Context, q contractx.Query) (contractx.TurnResult, error) {
	turnID := o.newTurnID()
	q.SessionID = strings.TrimSpace(q.SessionID)

	ctx = logx.WithTurn(ctx, q.SessionID, turnID)
	ctx, span := tracerx.StartSpan(ctx, "orchestrator.turn")
	defer span.End()
	span.SetAttributes(
		tracerx.StringAttr("session.id", q.SessionID),
		tracerx.StringAttr("turn.id", turnID),
	)

	logger := zerolog.Ctx(ctx)
	in := nodex.NewGraphState(turnID, q, o.now())

	if err := q.Validate(); err != nil {
		tracerx.RecordError(span, err)
		return o.failed(in, err)
	}

	unlock, err := o.locks.Lock(ctx, q.SessionID)
	if err != nil {
		tracerx.RecordError(span, err)
		return o.failed(in, err)
	}
	defer unlock()

	started := time.Now()
	out, err := o.graphRunner.Invoke(ctx, in)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		logger.Error().Err(err).Str("phase", string(in.Phase)).Msg("turn failed")
		tracerx.RecordError(span, err)
		return o.failed(in, err)
	}

	res := out.Result
	logger.Info().
		Str("status", string(res.Status)).
		Int("chain_length", len(res.Chain)).
		Int("artifacts", len(res.Artifacts)).
		Dur("took", time.Since(started)).
		Msg("turn completed")
	span.SetAttributes(
		tracerx.StringAttr("turn.status", string(res.Status)),
		tracerx.IntAttr("turn.chain_length", len(res.Chain)),
	)
	tracerx.SetOK(span)
	return res, nil
}

func (o *Orchestrator) failed(in *nodex.GraphState, err error) (contractx.TurnResult, error) {
	in.Phase = nodex.PhaseFailed

	var partial contractx.ContextView
	chain := []contractx.AgentID{}
	if in.Context != nil {
		partial = in.Context.View()
		chain = partial.AlreadyRun()
		if chain == nil {
			chain = []contractx.AgentID{}
		}
	}

	res := contractx.TurnResult{
		SessionID: in.Query.SessionID,
		TurnID:    in.TurnID,
		Answer:    contractx.ApologyAnswer(),
		Artifacts: []contractx.Artifact{},
		Status:    contractx.StatusFailure,
		Chain:     chain,
		Steps:     append([]contractx.StepRecord(nil), in.Steps...),
	}
	return res, &contractx.OrchestrationError{
		SessionID: in.Query.SessionID,
		TurnID:    in.TurnID,
		Partial:   partial,
		Err:       err,
	}
}
