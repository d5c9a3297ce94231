package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Run is one recorded pass.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    string
	Attempts   int
	PostID     int64 // zero when nothing was published
	Error      string
}

func (s *Store) RecordRun(ctx context.Context, r Run) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}
	if r.ID == "" {
		return errors.New("run id is required")
	}
	if r.Outcome == "" {
		return errors.New("outcome is required")
	}

	var postID sql.NullInt64
	if r.PostID > 0 {
		postID = sql.NullInt64{Int64: r.PostID, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs(id, started_at, finished_at, outcome, attempts, post_id, error)
		VALUES(?, ?, ?, ?, ?, ?, ?)
	`, r.ID, formatTime(r.StartedAt), formatTime(r.FinishedAt), r.Outcome, r.Attempts, postID, nullString(r.Error))
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit passes, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, outcome, attempts, post_id, error
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("get runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished string
			postID            sql.NullInt64
			errText           sql.NullString
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.Outcome, &r.Attempts, &postID, &errText); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if r.FinishedAt, err = parseTime(finished); err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		r.PostID = postID.Int64
		r.Error = errText.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// PruneRuns deletes run records older than retainDays.
func (s *Store) PruneRuns(ctx context.Context, retainDays int) (int64, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}
	if retainDays <= 0 {
		return 0, nil
	}

	cutoff := formatTime(s.now().AddDate(0, 0, -retainDays))
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE started_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
