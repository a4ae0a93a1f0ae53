package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
)

// Completer is a guarded free-text call used by agents for their own sub-tasks.
type Completer struct {
	name   string
	runner compose.Runnable[map[string]any, *schema.Message]
	guard  *Guard
}

func NewCompleter(
	ctx context.Context,
	name string,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
	cfg Config,
) (*Completer, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("%s: chat model is required", name)
	}
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, fmt.Errorf("%w: %s", contractx.ErrPromptMissing, name)
	}

	runner, err := compileTextGraph(ctx, chatModel, systemPrompt, name)
	if err != nil {
		return nil, err
	}

	return &Completer{
		name:   name,
		runner: runner,
		guard:  NewGuard(name, cfg),
	}, nil
}

// Complete sends payload as JSON and returns the non-empty reply text.
func (c *Completer) Complete(ctx context.Context, payload any) (string, error) {
	if c == nil || c.runner == nil {
		return "", errors.New("completer is not initialized")
	}

	input, err := encodeInput(payload)
	if err != nil {
		return "", err
	}

	msg, err := c.guard.Call(ctx, func(ctx context.Context) (*schema.Message, error) {
		return c.runner.Invoke(ctx, input)
	})
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(msg.Content)
	if text == "" {
		return "", fmt.Errorf("%w: %s returned empty text", contractx.ErrOracleMalformedResponse, c.name)
	}
	return text, nil
}
