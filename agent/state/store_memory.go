package state

import (
	"context"
	"sync"
	"time"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
)

// MemoryStore keeps sessions in process memory. Used for the CLI default and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	opts     storeOptions
	now      func() time.Time
}

func NewMemoryStore(opts ...StoreOption) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		opts:     applyOptions(opts),
		now:      time.Now,
	}
}

func (s *MemoryStore) Load(ctx context.Context, sessionID string) (*Session, error) {
	if err := checkSessionID(sessionID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.Clone(), nil
}

func (s *MemoryStore) AppendTurn(ctx context.Context, sessionID string, turn TurnRecord, active *contractx.DatasetRef) error {
	if err := checkSessionID(sessionID); err != nil {
		return err
	}
	if err := turn.validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = NewSession(sessionID, s.now())
		s.sessions[sessionID] = sess
	}
	sess.Append(turn, active)
	if limit := s.opts.maxTurns; limit > 0 && len(sess.Turns) > limit {
		sess.Turns = append([]TurnRecord(nil), sess.Turns[len(sess.Turns)-limit:]...)
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	if err := checkSessionID(sessionID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]SessionInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	infos := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		infos = append(infos, SessionInfo{
			ID:        sess.ID,
			CreatedAt: sess.CreatedAt,
			UpdatedAt: sess.UpdatedAt,
			Turns:     len(sess.Turns),
		})
	}
	s.mu.RUnlock()

	sortSessionInfos(infos)
	return infos, nil
}

func (s *MemoryStore) Clear(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.sessions)
	s.sessions = make(map[string]*Session)
	return n, nil
}
