package prompt

import (
	_ "embed"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
)

var (
	//go:embed template/router.txt
	routerRaw string

	//go:embed template/synthesizer.txt
	synthesizerRaw string

	//go:embed template/conversational.txt
	conversationalRaw string

	//go:embed template/analysis.txt
	analysisRaw string

	//go:embed template/visualization.txt
	visualizationRaw string

	//go:embed template/presentation.txt
	presentationRaw string
)

// PromptSet holds the system prompts for every model role.
type PromptSet struct {
	Router         string
	Synthesizer    string
	Conversational string
	Analysis       string
	Visualization  string
	Presentation   string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Router:         strings.TrimSpace(routerRaw),
		Synthesizer:    strings.TrimSpace(synthesizerRaw),
		Conversational: strings.TrimSpace(conversationalRaw),
		Analysis:       strings.TrimSpace(analysisRaw),
		Visualization:  strings.TrimSpace(visualizationRaw),
		Presentation:   strings.TrimSpace(presentationRaw),
	}
}

// Validate reports the first empty prompt. Prompts are rendered as format
// strings, so literal braces are rejected too.
func (p PromptSet) Validate() error {
	for name, text := range map[string]string{
		"router":         p.Router,
		"synthesizer":    p.Synthesizer,
		"conversational": p.Conversational,
		"analysis":       p.Analysis,
		"visualization":  p.Visualization,
		"presentation":   p.Presentation,
	} {
		if text == "" {
			return fmt.Errorf("%w: %s", contractx.ErrPromptMissing, name)
		}
		if strings.ContainsAny(text, "{}") {
			return fmt.Errorf("%w: %s prompt contains template braces", contractx.ErrValidation, name)
		}
	}
	return nil
}
