package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
)

// Guard applies rate limiting, a circuit breaker, a per-call timeout and
// bounded exponential backoff to calls against one model.
type Guard struct {
	name    string
	cfg     Config
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*schema.Message]
}

func NewGuard(name string, cfg Config) *Guard {
	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	openTimeout := cfg.BreakerOpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}

	g := &Guard{name: name, cfg: cfg}
	if cfg.RequestsPerMinute > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), burst)
	}

	g.breaker = gobreaker.NewCircuitBreaker[*schema.Message](gobreaker.Settings{
		Name:        "oracle:" + name,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("oracle circuit breaker state change")
		},
	})
	return g
}

// Call runs fn until it succeeds or the attempt budget is spent. Exhaustion is
// reported as ErrOracleUnavailable; cancellation of ctx is returned as is.
func (g *Guard) Call(ctx context.Context, fn func(context.Context) (*schema.Message, error)) (*schema.Message, error) {
	attempts := g.cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	if g.cfg.InitialBackoff > 0 {
		b.InitialInterval = g.cfg.InitialBackoff
	}
	if g.cfg.MaxBackoff > 0 {
		b.MaxInterval = g.cfg.MaxBackoff
	}
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	logger := zerolog.Ctx(ctx)
	var (
		out  *schema.Message
		made int
	)
	err := backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		made++
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return backoff.Permanent(ctx.Err())
				}
				return err
			}
		}

		callCtx := ctx
		if g.cfg.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.cfg.CallTimeout)
			defer cancel()
		}

		msg, err := g.breaker.Execute(func() (*schema.Message, error) {
			return fn(callCtx)
		})
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			logger.Debug().Err(err).Str("oracle", g.name).Int("attempt", made).Msg("oracle call failed")
			return err
		}
		if msg == nil {
			return fmt.Errorf("%s returned no message", g.name)
		}
		out = msg
		return nil
	}, policy)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s after %d attempt(s): %v", contractx.ErrOracleUnavailable, g.name, made, err)
	}
	return out, nil
}
