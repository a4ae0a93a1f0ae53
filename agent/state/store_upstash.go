package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
)

type UpstashRedisConfig struct {
	URL     string        `envconfig:"URL" split_words:"true" required:"true"`
	Token   string        `envconfig:"TOKEN" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

// UpstashRedisStore persists sessions in Upstash Redis via its REST API,
// using the same key layout as RedisStore.
type UpstashRedisStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
	opts       storeOptions
}

type redisRESTResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func NewUpstashRedisStore(cfg UpstashRedisConfig, opts ...StoreOption) (*UpstashRedisStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("upstash redis url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid redis rest url: %w", err)
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	o := applyOptions(opts)
	if o.ttl < 0 {
		return nil, errors.New("ttl must be >= 0")
	}
	client := o.httpClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	return &UpstashRedisStore{
		baseURL:    baseURL,
		token:      token,
		httpClient: client,
		opts:       o,
	}, nil
}

func (s *UpstashRedisStore) Load(ctx context.Context, sessionID string) (*Session, error) {
	if err := checkSessionID(sessionID); err != nil {
		return nil, err
	}

	results, err := s.pipeline(ctx, "/pipeline", [][]any{
		{"HGETALL", metaKey(s.opts.keyPrefix, sessionID)},
		{"LRANGE", turnsKey(s.opts.keyPrefix, sessionID), 0, -1},
	})
	if err != nil {
		return nil, err
	}

	var flat []string
	if err := json.Unmarshal(results[0].Result, &flat); err != nil {
		return nil, fmt.Errorf("decode session meta: %w", err)
	}
	meta := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		meta[flat[i]] = flat[i+1]
	}

	var turns []string
	if err := json.Unmarshal(results[1].Result, &turns); err != nil {
		return nil, fmt.Errorf("decode session turns: %w", err)
	}
	return decodeSession(sessionID, meta, turns)
}

func (s *UpstashRedisStore) AppendTurn(ctx context.Context, sessionID string, turn TurnRecord, active *contractx.DatasetRef) error {
	if err := checkSessionID(sessionID); err != nil {
		return err
	}
	if err := turn.validate(); err != nil {
		return err
	}
	encoded, err := encodeTurn(turn)
	if err != nil {
		return err
	}

	mk := metaKey(s.opts.keyPrefix, sessionID)
	tk := turnsKey(s.opts.keyPrefix, sessionID)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	commands := [][]any{
		{"HSETNX", mk, fieldCreatedAt, now},
		{"HSET", mk, fieldUpdatedAt, now},
	}
	if !active.IsZero() {
		dataset, err := encodeDataset(active)
		if err != nil {
			return err
		}
		commands = append(commands, []any{"HSET", mk, fieldActiveDataset, dataset})
	}
	commands = append(commands, []any{"RPUSH", tk, encoded})
	if s.opts.maxTurns > 0 {
		commands = append(commands, []any{"LTRIM", tk, -s.opts.maxTurns, -1})
	}
	if s.opts.ttl > 0 {
		secs := ttlSeconds(s.opts.ttl)
		commands = append(commands, []any{"EXPIRE", mk, secs}, []any{"EXPIRE", tk, secs})
	}

	if _, err := s.pipeline(ctx, "/multi-exec", commands); err != nil {
		return fmt.Errorf("append turn to session %s: %w", sessionID, err)
	}
	return nil
}

func (s *UpstashRedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := checkSessionID(sessionID); err != nil {
		return err
	}
	_, err := s.exec(ctx, []any{"DEL", metaKey(s.opts.keyPrefix, sessionID), turnsKey(s.opts.keyPrefix, sessionID)})
	return err
}

func (s *UpstashRedisStore) metaKeys(ctx context.Context) ([]string, error) {
	pattern := s.opts.keyPrefix + "*" + metaKeySuffix
	cursor := "0"
	var keys []string
	for {
		resp, err := s.exec(ctx, []any{"SCAN", cursor, "MATCH", pattern, "COUNT", scanBatch})
		if err != nil {
			return nil, fmt.Errorf("scan sessions: %w", err)
		}
		var page []json.RawMessage
		if err := json.Unmarshal(resp.Result, &page); err != nil || len(page) != 2 {
			return nil, fmt.Errorf("decode scan response: %s", string(resp.Result))
		}
		var batch []string
		if err := json.Unmarshal(page[0], &cursor); err != nil {
			return nil, fmt.Errorf("decode scan cursor: %w", err)
		}
		if err := json.Unmarshal(page[1], &batch); err != nil {
			return nil, fmt.Errorf("decode scan keys: %w", err)
		}
		keys = append(keys, batch...)
		if cursor == "0" {
			return keys, nil
		}
	}
}

func (s *UpstashRedisStore) List(ctx context.Context) ([]SessionInfo, error) {
	keys, err := s.metaKeys(ctx)
	if err != nil {
		return nil, err
	}

	var (
		ids      []string
		commands [][]any
	)
	for _, key := range keys {
		id, ok := sessionIDFromMetaKey(s.opts.keyPrefix, key)
		if !ok {
			continue
		}
		ids = append(ids, id)
		commands = append(commands, []any{"HGETALL", key}, []any{"LLEN", turnsKey(s.opts.keyPrefix, id)})
	}
	infos := make([]SessionInfo, 0, len(ids))
	if len(commands) == 0 {
		return infos, nil
	}

	results, err := s.pipeline(ctx, "/pipeline", commands)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	for i, id := range ids {
		var flat []string
		if err := json.Unmarshal(results[2*i].Result, &flat); err != nil {
			return nil, fmt.Errorf("decode session meta: %w", err)
		}
		if len(flat) == 0 {
			continue
		}
		meta := make(map[string]string, len(flat)/2)
		for j := 0; j+1 < len(flat); j += 2 {
			meta[flat[j]] = flat[j+1]
		}
		var turns int64
		if err := json.Unmarshal(results[2*i+1].Result, &turns); err != nil {
			return nil, fmt.Errorf("decode session length: %w", err)
		}
		info, err := decodeSessionInfo(id, meta, turns)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	sortSessionInfos(infos)
	return infos, nil
}

func (s *UpstashRedisStore) Clear(ctx context.Context) (int, error) {
	keys, err := s.metaKeys(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	command := []any{"DEL"}
	for _, key := range keys {
		id, ok := sessionIDFromMetaKey(s.opts.keyPrefix, key)
		if !ok {
			continue
		}
		command = append(command, key, turnsKey(s.opts.keyPrefix, id))
		n++
	}
	if n == 0 {
		return 0, nil
	}
	if _, err := s.exec(ctx, command); err != nil {
		return 0, fmt.Errorf("clear sessions: %w", err)
	}
	return n, nil
}

func (s *UpstashRedisStore) exec(ctx context.Context, command []any) (*redisRESTResponse, error) {
	if len(command) == 0 {
		return nil, errors.New("empty redis command")
	}
	raw, err := s.post(ctx, "", command)
	if err != nil {
		return nil, err
	}

	var parsed redisRESTResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode redis response: %w", err)
	}
	if parsed.Error != "" {
		return nil, errors.New(parsed.Error)
	}
	return &parsed, nil
}

// pipeline sends commands to the /pipeline or /multi-exec endpoint and
// returns one response per command.
func (s *UpstashRedisStore) pipeline(ctx context.Context, path string, commands [][]any) ([]redisRESTResponse, error) {
	raw, err := s.post(ctx, path, commands)
	if err != nil {
		return nil, err
	}

	var parsed []redisRESTResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		var single redisRESTResponse
		if json.Unmarshal(raw, &single) == nil && single.Error != "" {
			return nil, errors.New(single.Error)
		}
		return nil, fmt.Errorf("decode redis pipeline response: %w", err)
	}
	if len(parsed) != len(commands) {
		return nil, fmt.Errorf("redis pipeline returned %d results for %d commands", len(parsed), len(commands))
	}
	for i, r := range parsed {
		if r.Error != "" {
			return nil, fmt.Errorf("redis command %v: %s", commands[i][0], r.Error)
		}
	}
	return parsed, nil
}

func (s *UpstashRedisStore) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal redis command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build redis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute redis request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("read redis response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("redis http status=%d body=%s", resp.StatusCode, string(raw))
	}
	return raw, nil
}
