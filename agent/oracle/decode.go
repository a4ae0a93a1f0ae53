package oracle

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonschema"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
)

const routingDecisionSchema = `{
  "type": "object",
  "properties": {
    "next_agent": {"type": "string", "minLength": 1},
    "rationale": {"type": "string"}
  },
  "required": ["next_agent"]
}`

const (
	sentinelFinalAnswer = "FINAL_ANSWER"
	sentinelNone        = "NONE"
)

var routingSchema = MustCompileSchema(routingDecisionSchema)

var codeFenceRe = regexp.MustCompile("(?si)^```(?:json)?\\s*(.*?)\\s*```$")

// MustCompileSchema compiles a JSON schema at package init.
func MustCompileSchema(raw string) *jsonschema.Schema {
	s, err := jsonschema.NewCompiler().Compile([]byte(raw))
	if err != nil {
		panic(fmt.Sprintf("compile json schema: %v", err))
	}
	return s
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFenceRe.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return s
}

// extractJSON trims chatter around the first JSON object or array in s.
func extractJSON(s string) string {
	s = stripCodeFences(s)
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}

// DecodeValidated parses a model reply as JSON, validates it against schema
// and decodes it into out.
func DecodeValidated(text string, schema *jsonschema.Schema, out any) error {
	body := extractJSON(text)
	if body == "" {
		return fmt.Errorf("%w: empty response", contractx.ErrOracleMalformedResponse)
	}

	var data any
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		return fmt.Errorf("%w: invalid json: %v", contractx.ErrOracleMalformedResponse, err)
	}
	if schema != nil {
		if result := schema.Validate(data); !result.IsValid() {
			return fmt.Errorf("%w: %s", contractx.ErrOracleMalformedResponse, result.Error())
		}
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("%w: decode: %v", contractx.ErrOracleMalformedResponse, err)
	}
	return nil
}

type routingDecisionOutput struct {
	NextAgent string `json:"next_agent"`
	Rationale string `json:"rationale"`
}

// DecodeRoutingDecision turns a router reply into a RoutingDecision. Agent ids
// outside known are rejected.
func DecodeRoutingDecision(text string, known map[contractx.AgentID]bool) (contractx.RoutingDecision, error) {
	var out routingDecisionOutput
	if err := DecodeValidated(text, routingSchema, &out); err != nil {
		return contractx.RoutingDecision{}, err
	}

	next := strings.TrimSpace(out.NextAgent)
	rationale := strings.TrimSpace(out.Rationale)

	switch strings.ToUpper(next) {
	case sentinelFinalAnswer, "FINALIZE", "ANSWER":
		return contractx.RoutingDecision{Terminal: contractx.TerminalFinalize, Rationale: rationale}, nil
	case sentinelNone, "NO_AGENT":
		return contractx.RoutingDecision{Terminal: contractx.TerminalNoAgent, Rationale: rationale}, nil
	}

	id := contractx.AgentID(strings.ToLower(next))
	if id == contractx.AgentAnswerSynthesis {
		return contractx.RoutingDecision{Terminal: contractx.TerminalFinalize, Rationale: rationale}, nil
	}
	if !known[id] {
		return contractx.RoutingDecision{}, fmt.Errorf("%w: %w: %q", contractx.ErrOracleMalformedResponse, contractx.ErrUnknownAgent, next)
	}
	return contractx.RoutingDecision{Next: id, Rationale: rationale}, nil
}
