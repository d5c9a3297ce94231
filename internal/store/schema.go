package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "embed"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// migrate applies the schema, records its version, and seeds the single-row
// rotation table so LoadRotation never has to special-case a fresh database.
func migrate(ctx context.Context, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := applySchema(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO rotation(id, cursor, updated_at) VALUES(1, 0, ?)",
		formatTime(time.Now()),
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("seed rotation: %w", err)
	}

	return tx.Commit()
}

func applySchema(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	version, err := storedVersion(ctx, tx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			"INSERT INTO metadata(key, value) VALUES('schema_version', ?)",
			strconv.Itoa(schemaVersion),
		)
		if err != nil {
			return fmt.Errorf("insert schema version: %w", err)
		}
		return nil
	case err != nil:
		return err
	case version > schemaVersion:
		return fmt.Errorf("database schema version %d is newer than supported %d", version, schemaVersion)
	case version < schemaVersion:
		_, err = tx.ExecContext(ctx,
			"UPDATE metadata SET value = ? WHERE key = 'schema_version'",
			strconv.Itoa(schemaVersion),
		)
		if err != nil {
			return fmt.Errorf("update schema version: %w", err)
		}
	}
	return nil
}

func storedVersion(ctx context.Context, tx *sql.Tx) (int, error) {
	var raw string
	err := tx.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", raw, err)
	}
	return v, nil
}
