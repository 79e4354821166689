package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/droplog/droplog/internal/errors"
)

// GetValue returns the value stored under key.
// found is false when the key does not exist.
func GetValue(ctx context.Context, db *sql.DB, key string) (value []byte, found bool, err error) {
	err = db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, errors.NewInternal(err)
	}
	return value, true, nil
}

// SetValue inserts or replaces the value stored under key.
func SetValue(ctx context.Context, db *sql.DB, key string, value []byte) error {
	query := `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := db.ExecContext(ctx, query, key, value, time.Now().Unix()); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// DeleteValue removes key. Deleting a missing key is not an error.
func DeleteValue(ctx context.Context, db *sql.DB, key string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// KeyInfo describes a stored key without its value.
type KeyInfo struct {
	Key       string
	Size      int
	UpdatedAt int64
}

// ListKeys returns every stored key ordered by key.
func ListKeys(ctx context.Context, db *sql.DB) ([]KeyInfo, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, length(value), updated_at FROM kv ORDER BY key`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var keys []KeyInfo
	for rows.Next() {
		var k KeyInfo
		if err := rows.Scan(&k.Key, &k.Size, &k.UpdatedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return keys, nil
}
