package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore persists sessions in Redis: one meta hash and one turn list per session.
type RedisStore struct {
	client *redis.Client
	opts   storeOptions
}

func NewRedisStore(ctx context.Context, cfg RedisConfig, opts ...StoreOption) (*RedisStore, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return NewRedisStoreWithClient(client, opts...), nil
}

func NewRedisStoreWithClient(client *redis.Client, opts ...StoreOption) *RedisStore {
	return &RedisStore{client: client, opts: applyOptions(opts)}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Load(ctx context.Context, sessionID string) (*Session, error) {
	if err := checkSessionID(sessionID); err != nil {
		return nil, err
	}

	var (
		meta  *redis.MapStringStringCmd
		turns *redis.StringSliceCmd
	)
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		meta = pipe.HGetAll(ctx, metaKey(s.opts.keyPrefix, sessionID))
		turns = pipe.LRange(ctx, turnsKey(s.opts.keyPrefix, sessionID), 0, -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return decodeSession(sessionID, meta.Val(), turns.Val())
}

func (s *RedisStore) AppendTurn(ctx context.Context, sessionID string, turn TurnRecord, active *contractx.DatasetRef) error {
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
	var dataset string
	if !active.IsZero() {
		if dataset, err = encodeDataset(active); err != nil {
			return err
		}
	}

	mk := metaKey(s.opts.keyPrefix, sessionID)
	tk := turnsKey(s.opts.keyPrefix, sessionID)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, mk, fieldCreatedAt, now)
		pipe.HSet(ctx, mk, fieldUpdatedAt, now)
		if dataset != "" {
			pipe.HSet(ctx, mk, fieldActiveDataset, dataset)
		}
		pipe.RPush(ctx, tk, encoded)
		if s.opts.maxTurns > 0 {
			pipe.LTrim(ctx, tk, int64(-s.opts.maxTurns), -1)
		}
		if s.opts.ttl > 0 {
			pipe.Expire(ctx, mk, s.opts.ttl)
			pipe.Expire(ctx, tk, s.opts.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append turn to session %s: %w", sessionID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := checkSessionID(sessionID); err != nil {
		return err
	}
	return s.client.Del(ctx, metaKey(s.opts.keyPrefix, sessionID), turnsKey(s.opts.keyPrefix, sessionID)).Err()
}

const scanBatch = 100

func (s *RedisStore) metaKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.opts.keyPrefix+"*"+metaKeySuffix, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan sessions: %w", err)
	}
	return keys, nil
}

func (s *RedisStore) List(ctx context.Context) ([]SessionInfo, error) {
	keys, err := s.metaKeys(ctx)
	if err != nil {
		return nil, err
	}

	type pending struct {
		id    string
		meta  *redis.MapStringStringCmd
		turns *redis.IntCmd
	}
	var reads []pending
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			id, ok := sessionIDFromMetaKey(s.opts.keyPrefix, key)
			if !ok {
				continue
			}
			reads = append(reads, pending{
				id:    id,
				meta:  pipe.HGetAll(ctx, key),
				turns: pipe.LLen(ctx, turnsKey(s.opts.keyPrefix, id)),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	infos := make([]SessionInfo, 0, len(reads))
	for _, r := range reads {
		if len(r.meta.Val()) == 0 {
			// expired between scan and read
			continue
		}
		info, err := decodeSessionInfo(r.id, r.meta.Val(), r.turns.Val())
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	sortSessionInfos(infos)
	return infos, nil
}

func (s *RedisStore) Clear(ctx context.Context) (int, error) {
	keys, err := s.metaKeys(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	var del []string
	for _, key := range keys {
		id, ok := sessionIDFromMetaKey(s.opts.keyPrefix, key)
		if !ok {
			continue
		}
		del = append(del, key, turnsKey(s.opts.keyPrefix, id))
		n++
	}
	for len(del) > 0 {
		batch := del[:min(len(del), scanBatch)]
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			return 0, fmt.Errorf("clear sessions: %w", err)
		}
		del = del[len(batch):]
	}
	return n, nil
}
