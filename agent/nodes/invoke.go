package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
	tracerx "github.com/tanpawarit/multiagent-analyst/pkg/tracer"
)

type invocation struct {
	result contractx.AgentResult
	err    error
	took   time.Duration
}

// failed reports whether the step must be marked run without merging.
func (i invocation) failed() bool {
	return i.err != nil || i.result.Status == contractx.StatusFailure
}

// invokeAgent runs agent.Handle under its own deadline. A panic or an overrun
// becomes a failure result; only the caller's cancellation is returned as an
// error so the turn can be discarded.
func invokeAgent(
	ctx context.Context,
	id contractx.AgentID,
	agent contractx.Agent,
	req contractx.AgentRequest,
	timeout time.Duration,
) (invocation, error) {
	ctx, span := tracerx.StartSpan(ctx, "orchestrator.invoke")
	defer span.End()
	span.SetAttributes(tracerx.StringAttr("agent.id", string(id)))

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan invocation, 1)
	started := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- invocation{err: fmt.Errorf("%w: %s panicked: %v", contractx.ErrAgentFailure, id, r)}
			}
		}()
		res, err := agent.Handle(callCtx, req)
		done <- invocation{result: res, err: err}
	}()

	var out invocation
	select {
	case out = <-done:
	case <-callCtx.Done():
	}
	out.took = time.Since(started)

	if err := ctx.Err(); err != nil {
		tracerx.RecordError(span, err)
		return out, err
	}

	switch {
	case out.err == nil && out.result.Status == "" && callCtx.Err() == nil:
		out.err = fmt.Errorf("%w: %s returned no status", contractx.ErrAgentFailure, id)
	case callCtx.Err() != nil && (out.err != nil || out.result.Status == ""):
		out.err = fmt.Errorf("%w: %s after %s", contractx.ErrAgentTimeout, id, timeout)
		out.result = contractx.AgentResult{Status: contractx.StatusFailure, TimedOut: true}
	}

	if out.err != nil {
		if !errors.Is(out.err, contractx.ErrAgentTimeout) && !errors.Is(out.err, contractx.ErrAgentFailure) {
			out.err = fmt.Errorf("%w: %s: %w", contractx.ErrAgentFailure, id, out.err)
		}
		out.result.Status = contractx.StatusFailure
		tracerx.RecordError(span, out.err)
		return out, nil
	}

	span.SetAttributes(tracerx.StringAttr("agent.status", string(out.result.Status)))
	tracerx.SetOK(span)
	return out, nil
}
