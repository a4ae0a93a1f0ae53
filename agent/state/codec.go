package state

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
)

// Redis-backed stores keep a session as a meta hash plus a list of turns so
// that appends never rewrite earlier history.
const (
	fieldCreatedAt     = "created_at"
	fieldUpdatedAt     = "updated_at"
	fieldActiveDataset = "active_dataset"
)

func metaKey(prefix, sessionID string) string  { return prefix + sessionID + metaKeySuffix }
func turnsKey(prefix, sessionID string) string { return prefix + sessionID + ":turns" }

const metaKeySuffix = ":meta"

// sessionIDFromMetaKey reverses metaKey; ok is false for keys of other shapes.
func sessionIDFromMetaKey(prefix, key string) (string, bool) {
	if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, metaKeySuffix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(key, prefix), metaKeySuffix)
	return id, id != ""
}

func decodeSessionInfo(sessionID string, meta map[string]string, turns int64) (SessionInfo, error) {
	info := SessionInfo{ID: sessionID, Turns: int(turns)}
	for field, dst := range map[string]*time.Time{fieldCreatedAt: &info.CreatedAt, fieldUpdatedAt: &info.UpdatedAt} {
		v := meta[field]
		if v == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return SessionInfo{}, fmt.Errorf("decode %s of session %s: %w", field, sessionID, err)
		}
		*dst = ts
	}
	return info, nil
}

func encodeTurn(turn TurnRecord) (string, error) {
	if turn.At.IsZero() {
		turn.At = time.Now()
	}
	turn.At = turn.At.UTC()
	raw, err := json.Marshal(turn)
	if err != nil {
		return "", fmt.Errorf("marshal turn record: %w", err)
	}
	return string(raw), nil
}

func encodeDataset(ref *contractx.DatasetRef) (string, error) {
	raw, err := json.Marshal(ref)
	if err != nil {
		return "", fmt.Errorf("marshal dataset ref: %w", err)
	}
	return string(raw), nil
}

func decodeSession(sessionID string, meta map[string]string, turns []string) (*Session, error) {
	if len(meta) == 0 {
		return nil, ErrSessionNotFound
	}

	sess := &Session{ID: sessionID}
	if v := meta[fieldCreatedAt]; v != "" {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", fieldCreatedAt, err)
		}
		sess.CreatedAt = ts
	}
	if v := meta[fieldUpdatedAt]; v != "" {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", fieldUpdatedAt, err)
		}
		sess.UpdatedAt = ts
	}
	if v := meta[fieldActiveDataset]; v != "" && v != "null" {
		var ref contractx.DatasetRef
		if err := json.Unmarshal([]byte(v), &ref); err != nil {
			return nil, fmt.Errorf("decode %s: %w", fieldActiveDataset, err)
		}
		sess.ActiveDataset = &ref
	}

	sess.Turns = make([]TurnRecord, 0, len(turns))
	for i, raw := range turns {
		var turn TurnRecord
		if err := json.Unmarshal([]byte(raw), &turn); err != nil {
			return nil, fmt.Errorf("decode turn %d: %w", i, err)
		}
		sess.Turns = append(sess.Turns, turn)
	}
	return sess, nil
}
