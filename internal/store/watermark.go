package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/relaypan/internal/rotation"
)

// Published is one row of publish history.
type Published struct {
	PostID      int64
	Text        string
	MediaCount  int
	Position    int
	PublishedAt time.Time
}

// Watermark returns the identifier of the last published post. ok is false
// when nothing has been published yet.
func (s *Store) Watermark(ctx context.Context) (int64, bool, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return 0, false, err
	}

	var id int64
	err = s.db.QueryRowContext(ctx, "SELECT post_id FROM watermark WHERE id = 1").Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read watermark: %w", err)
	}
	return id, true, nil
}

// AdvanceWatermark records p as published and raises the watermark to its
// identifier. Both happen in one transaction that is committed before
// returning. A lower identifier leaves the watermark where it is.
func (s *Store) AdvanceWatermark(ctx context.Context, p rotation.PublishedPost) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}
	if p.PostID <= 0 {
		return errors.New("post_id is required")
	}
	at := p.PublishedAt
	if at.IsZero() {
		at = s.now()
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := raiseWatermark(ctx, tx, p.PostID, at); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO published(post_id, text, media_count, position, published_at)
			VALUES(?, ?, ?, ?, ?)
			ON CONFLICT(post_id) DO UPDATE SET
				text = excluded.text,
				media_count = excluded.media_count,
				position = excluded.position,
				published_at = excluded.published_at
		`, p.PostID, nullString(p.Text), p.MediaCount, p.Position, formatTime(at)); err != nil {
			return fmt.Errorf("record published post: %w", err)
		}
		return nil
	})
}

// SeedWatermark raises the watermark without a history row. It is used when
// importing state from an older installation.
func (s *Store) SeedWatermark(ctx context.Context, id int64) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}
	if id <= 0 {
		return errors.New("watermark must be positive")
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return raiseWatermark(ctx, tx, id, s.now())
	})
}

func raiseWatermark(ctx context.Context, tx *sql.Tx, id int64, at time.Time) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO watermark(id, post_id, updated_at) VALUES(1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			post_id = excluded.post_id,
			updated_at = excluded.updated_at
		WHERE excluded.post_id > watermark.post_id
	`, id, formatTime(at)); err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}
	return nil
}

// RecentPublished returns up to limit publishes, newest first.
func (s *Store) RecentPublished(ctx context.Context, limit int) ([]Published, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT post_id, text, media_count, position, published_at
		FROM published
		ORDER BY published_at DESC, post_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("get published: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Published
	for rows.Next() {
		var (
			p    Published
			text sql.NullString
			at   string
		)
		if err := rows.Scan(&p.PostID, &text, &p.MediaCount, &p.Position, &at); err != nil {
			return nil, fmt.Errorf("scan published: %w", err)
		}
		p.Text = text.String
		if p.PublishedAt, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("parse published_at: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate published: %w", err)
	}
	return out, nil
}
