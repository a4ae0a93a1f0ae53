package contract

import (
	"errors"
	"fmt"
)

var (
	ErrValidation              = errors.New("validation failed")
	ErrInvalidQuery            = errors.New("query text is empty and no dataset is attached")
	ErrUnknownAgent            = errors.New("unknown agent")
	ErrOracleUnavailable       = errors.New("oracle unavailable")
	ErrOracleMalformedResponse = errors.New("oracle response violates schema")
	ErrAgentTimeout            = errors.New("agent timed out")
	ErrAgentFailure            = errors.New("agent failed")
	ErrOrchestrationFailed     = errors.New("orchestration failed")
	ErrPromptMissing           = errors.New("required prompt is missing")
	ErrSandbox                 = errors.New("sandbox execution failed")
	ErrDataset                 = errors.New("dataset unavailable")
)

// OrchestrationError is returned alongside a failed TurnResult. Partial holds
// whatever the chain had accumulated before it stopped.
type OrchestrationError struct {
	SessionID string
	TurnID    string
	Partial   ContextView
	Err       error
}

func (e *OrchestrationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: session=%s turn=%s", ErrOrchestrationFailed, e.SessionID, e.TurnID)
	}
	return fmt.Sprintf("%s: session=%s turn=%s: %v", ErrOrchestrationFailed, e.SessionID, e.TurnID, e.Err)
}

func (e *OrchestrationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrOrchestrationFailed}
	}
	return []error{ErrOrchestrationFailed, e.Err}
}
