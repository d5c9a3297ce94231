package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ppiankov/relaypan/internal/rotation"
)

// LoadRotation returns the persisted cursor and every credential state, in
// position order. Gaps in positions come back as zero values and are filled
// in by State.Normalize.
func (s *Store) LoadRotation(ctx context.Context) (rotation.State, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return rotation.State{}, err
	}

	var st rotation.State
	if err := s.db.QueryRowContext(ctx, "SELECT cursor FROM rotation WHERE id = 1").Scan(&st.Cursor); err != nil {
		return rotation.State{}, fmt.Errorf("read cursor: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT position, status, blocked_until
		FROM credential_states
		WHERE position >= 0
		ORDER BY position
	`)
	if err != nil {
		return rotation.State{}, fmt.Errorf("read credential states: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			pos     int
			status  string
			blocked sql.NullString
		)
		if err := rows.Scan(&pos, &status, &blocked); err != nil {
			return rotation.State{}, fmt.Errorf("scan credential state: %w", err)
		}
		cs := rotation.CredentialState{Status: rotation.Status(status)}
		if blocked.Valid {
			if cs.BlockedUntil, err = parseTime(blocked.String); err != nil {
				return rotation.State{}, fmt.Errorf("parse blocked_until for position %d: %w", pos, err)
			}
		}
		for len(st.Credentials) < pos {
			st.Credentials = append(st.Credentials, rotation.CredentialState{})
		}
		st.Credentials = append(st.Credentials, cs)
	}
	if err := rows.Err(); err != nil {
		return rotation.State{}, fmt.Errorf("iterate credential states: %w", err)
	}

	return st, nil
}

// SaveRotation replaces the stored rotation state in one transaction.
// Positions absent from st are left alone.
func (s *Store) SaveRotation(ctx context.Context, st rotation.State) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"UPDATE rotation SET cursor = ?, updated_at = ? WHERE id = 1",
			st.Cursor, formatTime(s.now()),
		); err != nil {
			return fmt.Errorf("save cursor: %w", err)
		}

		for pos, cs := range st.Credentials {
			status := cs.Status
			if status == "" {
				status = rotation.StatusAvailable
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO credential_states(position, status, blocked_until)
				VALUES(?, ?, ?)
				ON CONFLICT(position) DO UPDATE SET
					status = excluded.status,
					blocked_until = excluded.blocked_until
			`, pos, string(status), nullTime(cs.BlockedUntil)); err != nil {
				return fmt.Errorf("save credential state %d: %w", pos, err)
			}
		}
		return nil
	})
}

// Unblock clears the cooldown of one position, or of every position when
// pos is negative. It returns how many records changed.
func (s *Store) Unblock(ctx context.Context, pos int) (int64, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}

	query := "UPDATE credential_states SET status = ?, blocked_until = NULL WHERE status = ?"
	args := []any{string(rotation.StatusAvailable), string(rotation.StatusBlocked)}
	if pos >= 0 {
		query += " AND position = ?"
		args = append(args, pos)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("unblock: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
