package oracle

import (
	"fmt"
	"time"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
)

type Config struct {
	MaxAttempts        int           `envconfig:"MAX_ATTEMPTS" split_words:"true" default:"3"`
	InitialBackoff     time.Duration `envconfig:"INITIAL_BACKOFF" split_words:"true" default:"500ms"`
	MaxBackoff         time.Duration `envconfig:"MAX_BACKOFF" split_words:"true" default:"5s"`
	CallTimeout        time.Duration `envconfig:"CALL_TIMEOUT" split_words:"true" default:"45s"`
	Reformulations     int           `envconfig:"REFORMULATIONS" split_words:"true" default:"1"`
	RequestsPerMinute  int           `envconfig:"REQUESTS_PER_MINUTE" split_words:"true" default:"120"`
	Burst              int           `envconfig:"BURST" split_words:"true" default:"4"`
	BreakerMaxFailures uint32        `envconfig:"BREAKER_MAX_FAILURES" split_words:"true" default:"5"`
	BreakerOpenTimeout time.Duration `envconfig:"BREAKER_OPEN_TIMEOUT" split_words:"true" default:"30s"`
	MaxFieldChars      int           `envconfig:"MAX_FIELD_CHARS" split_words:"true" default:"4000"`
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:        3,
		InitialBackoff:     500 * time.Millisecond,
		MaxBackoff:         5 * time.Second,
		CallTimeout:        45 * time.Second,
		Reformulations:     1,
		RequestsPerMinute:  120,
		Burst:              4,
		BreakerMaxFailures: 5,
		BreakerOpenTimeout: 30 * time.Second,
		MaxFieldChars:      4000,
	}
}

func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: oracle max attempts must be >= 1", contractx.ErrValidation)
	}
	if c.Reformulations < 0 {
		return fmt.Errorf("%w: oracle reformulations must be >= 0", contractx.ErrValidation)
	}
	if c.RequestsPerMinute < 0 || c.Burst < 0 {
		return fmt.Errorf("%w: oracle rate limit must be >= 0", contractx.ErrValidation)
	}
	return nil
}
