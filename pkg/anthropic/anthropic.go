// Package anthropic adapts the Anthropic Messages API to eino's chat model
// interface so it can sit in the same graphs as the OpenRouter models.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

var ErrStreamingUnsupported = errors.New("anthropic: streaming is not supported")

type Config struct {
	BaseURL     string        `envconfig:"BASE_URL" split_words:"true"`
	APIKey      string        `envconfig:"API_KEY" split_words:"true"`
	Model       string        `envconfig:"MODEL" split_words:"true" default:"claude-3-5-sonnet-latest"`
	MaxTokens   int64         `envconfig:"MAX_TOKENS" split_words:"true" default:"2000"`
	Temperature float64       `envconfig:"TEMPERATURE" split_words:"true" default:"0.2"`
	Timeout     time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"60s"`
}

type ChatModel struct {
	client *anthropicsdk.Client
	cfg    Config
}

var _ einomodel.BaseChatModel = (*ChatModel)(nil)

func New(cfg Config) (*ChatModel, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("anthropic: model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2000
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	client := anthropicsdk.NewClient(opts...)
	return &ChatModel{client: &client, cfg: cfg}, nil
}

func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	common := einomodel.GetCommonOptions(&einomodel.Options{}, opts...)

	params := anthropicsdk.MessageNewParams{
		Model:       anthropicsdk.Model(m.cfg.Model),
		MaxTokens:   m.cfg.MaxTokens,
		Temperature: anthropicsdk.Float(m.cfg.Temperature),
	}
	if common.Model != nil && strings.TrimSpace(*common.Model) != "" {
		params.Model = anthropicsdk.Model(*common.Model)
	}
	if common.MaxTokens != nil && *common.MaxTokens > 0 {
		params.MaxTokens = int64(*common.MaxTokens)
	}
	if common.Temperature != nil {
		params.Temperature = anthropicsdk.Float(float64(*common.Temperature))
	}

	system, messages := convertMessages(input)
	if len(messages) == 0 {
		return nil, errors.New("anthropic: at least one user message is required")
	}
	params.Messages = messages
	if len(system) > 0 {
		params.System = system
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: create message: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}

	return schema.AssistantMessage(text.String(), nil), nil
}

func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, ErrStreamingUnsupported
}

func convertMessages(input []*schema.Message) ([]anthropicsdk.TextBlockParam, []anthropicsdk.MessageParam) {
	var system []anthropicsdk.TextBlockParam
	var messages []anthropicsdk.MessageParam

	for _, msg := range input {
		if msg == nil || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		switch msg.Role {
		case schema.System:
			system = append(system, anthropicsdk.TextBlockParam{Text: msg.Content})
		case schema.Assistant:
			messages = append(messages, anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(msg.Content)))
		}
	}
	return system, messages
}
