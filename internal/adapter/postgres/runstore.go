package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgeline/foreman/internal/domain"
	"github.com/forgeline/foreman/internal/port/runstore"
)

// RunStore implements runstore.Store using PostgreSQL.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore creates a RunStore backed by the given connection pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

func (s *RunStore) SaveRun(ctx context.Context, rec *runstore.RunRecord) error {
	resultJSON, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, epic_id, session_id, result, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.EpicID, rec.SessionID, resultJSON, rec.StartedAt, rec.FinishedAt)
	if err != nil {
		return fmt.Errorf("save run %s: %w", rec.ID, err)
	}
	return nil
}

func (s *RunStore) GetRun(ctx context.Context, id string) (*runstore.RunRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, epic_id, session_id, result, started_at, finished_at
		 FROM runs WHERE id = $1`, id)

	rec, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get run %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return &rec, nil
}

func (s *RunStore) ListRunsByEpic(ctx context.Context, epicID string, limit int) ([]runstore.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, epic_id, session_id, result, started_at, finished_at
		 FROM runs WHERE epic_id = $1 ORDER BY started_at DESC LIMIT $2`,
		epicID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs for epic %s: %w", epicID, err)
	}
	defer rows.Close()

	var recs []runstore.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func scanRun(row pgx.Row) (runstore.RunRecord, error) {
	var rec runstore.RunRecord
	var resultJSON []byte
	if err := row.Scan(&rec.ID, &rec.EpicID, &rec.SessionID, &resultJSON, &rec.StartedAt, &rec.FinishedAt); err != nil {
		return rec, err
	}
	if err := json.Unmarshal(resultJSON, &rec.Result); err != nil {
		return rec, fmt.Errorf("unmarshal result: %w", err)
	}
	return rec, nil
}
