package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// Well-known settings keys.
const (
	KeyRemainingCredits   = "remaining_credits"
	KeyHasLaunchedBefore  = "has_launched_before"
	KeyFreeCreditsGranted = "free_credits_granted"
)

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// GetValue returns the value stored under key and whether it exists.
func (s *SQLiteStorage) GetValue(ctx context.Context, key string) (string, bool, error) {
	if err := validateContext(ctx); err != nil {
		return "", false, err
	}
	if err := validateString(key, "key"); err != nil {
		return "", false, err
	}
	return getValue(ctx, s.db, key)
}

// SetValue stores value under key, replacing any previous value.
func (s *SQLiteStorage) SetValue(ctx context.Context, key, value string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(key, "key"); err != nil {
		return err
	}
	return setValue(ctx, s.db, key, value)
}

// GetBool reads a boolean flag; missing keys read as false.
func (s *SQLiteStorage) GetBool(ctx context.Context, key string) (bool, error) {
	value, ok, err := s.GetValue(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("setting %s is not a boolean: %w", key, err)
	}
	return b, nil
}

func getValue(ctx context.Context, q queryer, key string) (string, bool, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return value, true, nil
}

func setValue(ctx context.Context, q queryer, key, value string) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

func getInt(ctx context.Context, q queryer, key string) (int, error) {
	value, ok, err := getValue(ctx, q, key)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%w: setting %s is not an integer", ErrCorruptedValue, key)
	}
	return n, nil
}

// ErrCorruptedValue indicates a stored setting could not be decoded.
var ErrCorruptedValue = errors.New("corrupted setting value")
