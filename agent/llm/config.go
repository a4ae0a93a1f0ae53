package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
	anthropicx "github.com/tanpawarit/multiagent-analyst/pkg/anthropic"
	openrouterx "github.com/tanpawarit/multiagent-analyst/pkg/openrouter"
)

// Role names a model consumer. Each role may override the default model and temperature.
type Role string

const (
	RoleRouter        Role = "router"
	RoleSynthesizer   Role = "synthesizer"
	RoleAnalysis      Role = "analysis"
	RoleVisualization Role = "visualization"
	RolePresentation  Role = "presentation"
)

const (
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
)

type Config struct {
	Provider           string        `envconfig:"PROVIDER" split_words:"true" default:"openrouter"`
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" default:"openai/gpt-4o-mini"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.2"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"60s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	RouterModel              string  `envconfig:"ROUTER_MODEL" split_words:"true"`
	SynthesizerModel         string  `envconfig:"SYNTHESIZER_MODEL" split_words:"true"`
	AnalysisModel            string  `envconfig:"ANALYSIS_MODEL" split_words:"true"`
	VisualizationModel       string  `envconfig:"VISUALIZATION_MODEL" split_words:"true"`
	PresentationModel        string  `envconfig:"PRESENTATION_MODEL" split_words:"true"`
	RouterTemperature        float32 `envconfig:"ROUTER_TEMPERATURE" split_words:"true" default:"0"`
	SynthesizerTemperature   float32 `envconfig:"SYNTHESIZER_TEMPERATURE" split_words:"true" default:"-1"`
	AnalysisTemperature      float32 `envconfig:"ANALYSIS_TEMPERATURE" split_words:"true" default:"-1"`
	VisualizationTemperature float32 `envconfig:"VISUALIZATION_TEMPERATURE" split_words:"true" default:"-1"`
	PresentationTemperature  float32 `envconfig:"PRESENTATION_TEMPERATURE" split_words:"true" default:"-1"`
}

func (c Config) Validate() error {
	switch c.provider() {
	case ProviderOpenRouter, ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("%w: unsupported llm provider %q", contractx.ErrValidation, c.Provider)
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: llm api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	return nil
}

func (c Config) provider() string {
	p := strings.ToLower(strings.TrimSpace(c.Provider))
	if p == "" {
		return ProviderOpenRouter
	}
	return p
}

// resolve returns the model name and temperature for role.
func (c Config) resolve(role Role) (string, float32) {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature

	var override string
	overrideTemp := float32(-1)
	switch role {
	case RoleRouter:
		override, overrideTemp = c.RouterModel, c.RouterTemperature
	case RoleSynthesizer:
		override, overrideTemp = c.SynthesizerModel, c.SynthesizerTemperature
	case RoleAnalysis:
		override, overrideTemp = c.AnalysisModel, c.AnalysisTemperature
	case RoleVisualization:
		override, overrideTemp = c.VisualizationModel, c.VisualizationTemperature
	case RolePresentation:
		override, overrideTemp = c.PresentationModel, c.PresentationTemperature
	}

	if v := strings.TrimSpace(override); v != "" {
		modelName = v
	}
	if overrideTemp >= 0 {
		temp = overrideTemp
	}
	return modelName, temp
}

func (c Config) OpenRouterFor(role Role) openrouterx.Config {
	modelName, temp := c.resolve(role)
	maxCompletionToken := c.MaxCompletionToken

	baseURL := strings.TrimSpace(c.BaseURL)
	if c.provider() == ProviderOpenAI && (baseURL == "" || strings.Contains(baseURL, "openrouter.ai")) {
		baseURL = "https://api.openai.com/v1"
	}

	return openrouterx.Config{
		BaseURL:            baseURL,
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}

func (c Config) AnthropicFor(role Role) anthropicx.Config {
	modelName, temp := c.resolve(role)

	baseURL := strings.TrimSpace(c.BaseURL)
	if strings.Contains(baseURL, "openrouter.ai") {
		baseURL = ""
	}

	return anthropicx.Config{
		BaseURL:     baseURL,
		APIKey:      strings.TrimSpace(c.APIKey),
		Model:       modelName,
		MaxTokens:   int64(c.MaxCompletionToken),
		Temperature: float64(temp),
		Timeout:     c.Timeout,
	}
}

// ChatModel builds the chat model serving role on the configured provider.
func (c Config) ChatModel(ctx context.Context, role Role) (einomodel.BaseChatModel, error) {
	switch c.provider() {
	case ProviderAnthropic:
		m, err := anthropicx.New(c.AnthropicFor(role))
		if err != nil {
			return nil, fmt.Errorf("build %s model: %w", role, err)
		}
		return m, nil
	case ProviderOpenRouter, ProviderOpenAI:
		conf := c.OpenRouterFor(role)
		m, err := conf.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("build %s model: %w", role, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: unsupported llm provider %q", contractx.ErrValidation, c.Provider)
	}
}
