package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
)

type sessionRow struct {
	bun.BaseModel `bun:"table:analyst_sessions"`

	ID            string                `bun:"id,pk"`
	ActiveDataset *contractx.DatasetRef `bun:"active_dataset,type:jsonb"`
	CreatedAt     time.Time             `bun:"created_at,notnull"`
	UpdatedAt     time.Time             `bun:"updated_at,notnull"`
}

type turnRow struct {
	bun.BaseModel `bun:"table:analyst_turns"`

	Seq       int64                  `bun:"seq,pk,autoincrement"`
	SessionID string                 `bun:"session_id,notnull"`
	TurnID    string                 `bun:"turn_id,notnull,unique"`
	Query     string                 `bun:"query"`
	Summary   string                 `bun:"summary"`
	Chain     []contractx.AgentID    `bun:"chain,type:jsonb"`
	Status    contractx.ResultStatus `bun:"status"`
	DatasetID string                 `bun:"dataset_id"`
	At        time.Time              `bun:"at,notnull"`
}

// PostgresStore persists sessions in two tables via bun. Turn order is the
// insertion sequence, so concurrent appends never overwrite each other.
type PostgresStore struct {
	db   *bun.DB
	opts storeOptions
}

func NewPostgresStore(ctx context.Context, dsn string, opts ...StoreOption) (*PostgresStore, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	store := &PostgresStore{db: db, opts: applyOptions(opts)}
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*sessionRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}
	if _, err := s.db.NewCreateTable().Model((*turnRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create turns table: %w", err)
	}
	_, err := s.db.NewCreateIndex().
		Model((*turnRow)(nil)).
		Index("analyst_turns_session_idx").
		IfNotExists().
		Column("session_id", "seq").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create turns index: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, sessionID string) (*Session, error) {
	if err := checkSessionID(sessionID); err != nil {
		return nil, err
	}

	var row sessionRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", sessionID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	var turns []turnRow
	if err := s.db.NewSelect().Model(&turns).Where("session_id = ?", sessionID).Order("seq ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("load turns of session %s: %w", sessionID, err)
	}

	sess := &Session{
		ID:            row.ID,
		CreatedAt:     row.CreatedAt.UTC(),
		UpdatedAt:     row.UpdatedAt.UTC(),
		ActiveDataset: row.ActiveDataset,
		Turns:         make([]TurnRecord, 0, len(turns)),
	}
	for _, t := range turns {
		sess.Turns = append(sess.Turns, TurnRecord{
			TurnID:    t.TurnID,
			Query:     t.Query,
			Summary:   t.Summary,
			Chain:     t.Chain,
			Status:    t.Status,
			DatasetID: t.DatasetID,
			At:        t.At.UTC(),
		})
	}
	return sess, nil
}

func (s *PostgresStore) AppendTurn(ctx context.Context, sessionID string, turn TurnRecord, active *contractx.DatasetRef) error {
	if err := checkSessionID(sessionID); err != nil {
		return err
	}
	if err := turn.validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if turn.At.IsZero() {
		turn.At = now
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		sess := &sessionRow{ID: sessionID, CreatedAt: now, UpdatedAt: now}
		if !active.IsZero() {
			sess.ActiveDataset = active.Clone()
		}
		upsert := tx.NewInsert().Model(sess).On("CONFLICT (id) DO UPDATE").Set("updated_at = EXCLUDED.updated_at")
		if sess.ActiveDataset != nil {
			upsert = upsert.Set("active_dataset = EXCLUDED.active_dataset")
		}
		if _, err := upsert.Exec(ctx); err != nil {
			return fmt.Errorf("upsert session %s: %w", sessionID, err)
		}

		row := &turnRow{
			SessionID: sessionID,
			TurnID:    turn.TurnID,
			Query:     turn.Query,
			Summary:   turn.Summary,
			Chain:     turn.Chain,
			Status:    turn.Status,
			DatasetID: turn.DatasetID,
			At:        turn.At.UTC(),
		}
		if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
			return fmt.Errorf("insert turn %s: %w", turn.TurnID, err)
		}

		if s.opts.maxTurns > 0 {
			keep := tx.NewSelect().
				Model((*turnRow)(nil)).
				Column("seq").
				Where("session_id = ?", sessionID).
				Order("seq DESC").
				Limit(s.opts.maxTurns)
			_, err := tx.NewDelete().
				Model((*turnRow)(nil)).
				Where("session_id = ?", sessionID).
				Where("seq NOT IN (?)", keep).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("trim turns of session %s: %w", sessionID, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	if err := checkSessionID(sessionID); err != nil {
		return err
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*turnRow)(nil)).Where("session_id = ?", sessionID).Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewDelete().Model((*sessionRow)(nil)).Where("id = ?", sessionID).Exec(ctx)
		return err
	})
}

func (s *PostgresStore) List(ctx context.Context) ([]SessionInfo, error) {
	var rows []sessionRow
	if err := s.db.NewSelect().Model(&rows).Order("updated_at DESC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var counts []struct {
		SessionID string `bun:"session_id"`
		N         int    `bun:"n"`
	}
	err := s.db.NewSelect().
		Model((*turnRow)(nil)).
		Column("session_id").
		ColumnExpr("count(*) AS n").
		Group("session_id").
		Scan(ctx, &counts)
	if err != nil {
		return nil, fmt.Errorf("count turns: %w", err)
	}
	perSession := make(map[string]int, len(counts))
	for _, c := range counts {
		perSession[c.SessionID] = c.N
	}

	infos := make([]SessionInfo, 0, len(rows))
	for _, r := range rows {
		infos = append(infos, SessionInfo{
			ID:        r.ID,
			CreatedAt: r.CreatedAt.UTC(),
			UpdatedAt: r.UpdatedAt.UTC(),
			Turns:     perSession[r.ID],
		})
	}
	sortSessionInfos(infos)
	return infos, nil
}

func (s *PostgresStore) Clear(ctx context.Context) (int, error) {
	var n int
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*turnRow)(nil)).Where("TRUE").Exec(ctx); err != nil {
			return fmt.Errorf("clear turns: %w", err)
		}
		res, err := tx.NewDelete().Model((*sessionRow)(nil)).Where("TRUE").Exec(ctx)
		if err != nil {
			return fmt.Errorf("clear sessions: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		n = int(affected)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
