package state

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidSession  = errors.New("session id is empty")
	ErrInvalidTurn     = errors.New("turn id is empty")
)

const (
	defaultStoreKeyPrefix = "analyst:session:"
	defaultStoreTTL       = 0
	maxResponseSizeBytes  = 2 << 20
)

// Store persists conversation sessions. AppendTurn creates the session on
// first use and only ever appends; a nil active leaves the active dataset
// unchanged.
type Store interface {
	Load(ctx context.Context, sessionID string) (*Session, error)
	AppendTurn(ctx context.Context, sessionID string, turn TurnRecord, active *contractx.DatasetRef) error
	Delete(ctx context.Context, sessionID string) error
	// List returns every stored session, most recently updated first.
	List(ctx context.Context) ([]SessionInfo, error)
	// Clear deletes every session under the store's key space and reports
	// how many were removed.
	Clear(ctx context.Context) (int, error)
}

// SessionInfo is the listing entry for one stored session.
type SessionInfo struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Turns     int       `json:"turns"`
}

func sortSessionInfos(infos []SessionInfo) {
	sort.SliceStable(infos, func(i, j int) bool {
		if !infos[i].UpdatedAt.Equal(infos[j].UpdatedAt) {
			return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
		}
		return infos[i].ID < infos[j].ID
	})
}

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendUpstash  = "upstash"
	BackendPostgres = "postgres"
)

type Config struct {
	Backend   string        `envconfig:"BACKEND" split_words:"true" default:"memory"`
	KeyPrefix string        `envconfig:"KEY_PREFIX" split_words:"true" default:"analyst:session:"`
	TTL       time.Duration `envconfig:"TTL" split_words:"true" default:"0s"`
	MaxTurns  int           `envconfig:"MAX_TURNS" split_words:"true" default:"0"`

	RedisAddr     string `envconfig:"REDIS_ADDR" split_words:"true" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" split_words:"true"`
	RedisDB       int    `envconfig:"REDIS_DB" split_words:"true" default:"0"`

	UpstashURL     string        `envconfig:"UPSTASH_URL" split_words:"true"`
	UpstashToken   string        `envconfig:"UPSTASH_TOKEN" split_words:"true"`
	UpstashTimeout time.Duration `envconfig:"UPSTASH_TIMEOUT" split_words:"true" default:"10s"`

	PostgresDSN string `envconfig:"POSTGRES_DSN" split_words:"true"`
}

func (c Config) Validate() error {
	switch c.backend() {
	case BackendMemory, BackendRedis:
	case BackendUpstash:
		if strings.TrimSpace(c.UpstashURL) == "" || strings.TrimSpace(c.UpstashToken) == "" {
			return fmt.Errorf("%w: upstash backend needs url and token", contractx.ErrValidation)
		}
	case BackendPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("%w: postgres backend needs a dsn", contractx.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unsupported session backend %q", contractx.ErrValidation, c.Backend)
	}
	if c.TTL < 0 {
		return fmt.Errorf("%w: session ttl must be >= 0", contractx.ErrValidation)
	}
	if c.MaxTurns < 0 {
		return fmt.Errorf("%w: session max turns must be >= 0", contractx.ErrValidation)
	}
	return nil
}

func (c Config) backend() string {
	b := strings.ToLower(strings.TrimSpace(c.Backend))
	if b == "" {
		return BackendMemory
	}
	return b
}

// NewStore opens the configured backend. The returned close func releases
// any connections held by the store.
func NewStore(ctx context.Context, cfg Config) (Store, func() error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	opts := []StoreOption{WithKeyPrefix(cfg.KeyPrefix), WithTTL(cfg.TTL), WithMaxTurns(cfg.MaxTurns)}
	noop := func() error { return nil }

	switch cfg.backend() {
	case BackendRedis:
		s, err := NewRedisStore(ctx, RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}, opts...)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case BackendUpstash:
		s, err := NewUpstashRedisStore(UpstashRedisConfig{URL: cfg.UpstashURL, Token: cfg.UpstashToken, Timeout: cfg.UpstashTimeout}, opts...)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	case BackendPostgres:
		s, err := NewPostgresStore(ctx, cfg.PostgresDSN, opts...)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return NewMemoryStore(opts...), noop, nil
	}
}

type storeOptions struct {
	keyPrefix  string
	ttl        time.Duration
	maxTurns   int
	httpClient *http.Client
}

// StoreOption customizes a session store. Options a backend cannot honor are ignored.
type StoreOption func(*storeOptions)

func WithKeyPrefix(prefix string) StoreOption {
	return func(o *storeOptions) {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			o.keyPrefix = trimmed
		}
	}
}

func WithTTL(ttl time.Duration) StoreOption {
	return func(o *storeOptions) {
		o.ttl = ttl
	}
}

// WithMaxTurns bounds how many turn records a session keeps. Zero keeps all.
func WithMaxTurns(n int) StoreOption {
	return func(o *storeOptions) {
		if n >= 0 {
			o.maxTurns = n
		}
	}
}

// WithHTTPClient overrides the HTTP client of REST-backed stores.
func WithHTTPClient(client *http.Client) StoreOption {
	return func(o *storeOptions) {
		if client != nil {
			o.httpClient = client
		}
	}
}

func applyOptions(opts []StoreOption) storeOptions {
	o := storeOptions{keyPrefix: defaultStoreKeyPrefix, ttl: defaultStoreTTL}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

func checkSessionID(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidSession
	}
	return nil
}

func ttlSeconds(ttl time.Duration) int64 {
	seconds := ttl / time.Second
	if seconds <= 0 {
		return 1
	}
	if ttl%time.Second != 0 {
		seconds++
	}
	return int64(seconds)
}
