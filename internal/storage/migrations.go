package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS settings (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE TABLE IF NOT EXISTS ledger_entries (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					kind TEXT NOT NULL,
					amount INTEGER NOT NULL,
					balance_after INTEGER NOT NULL CHECK (balance_after >= 0),
					reference TEXT,
					created_at DATETIME NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_ledger_entries_created_at ON ledger_entries(created_at)`,
			}
			return execAll(tx, queries)
		},
	},
	{
		Version:     2,
		Description: "Track store transactions converted into credits",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS granted_transactions (
					transaction_id TEXT PRIMARY KEY,
					ledger_entry_id INTEGER NOT NULL,
					granted_at DATETIME NOT NULL,
					FOREIGN KEY (ledger_entry_id) REFERENCES ledger_entries(id)
				)`,
			}
			return execAll(tx, queries)
		},
	},
	{
		Version:     3,
		Description: "Add sandbox store transaction log",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS store_transactions (
					id TEXT PRIMARY KEY,
					original_id TEXT NOT NULL,
					product_id TEXT NOT NULL,
					verification TEXT NOT NULL,
					status TEXT NOT NULL,
					purchased_at DATETIME NOT NULL,
					revoked_at DATETIME
				)`,
				`CREATE INDEX IF NOT EXISTS idx_store_transactions_status ON store_transactions(status)`,
			}
			return execAll(tx, queries)
		},
	},
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// SchemaVersion reports the database's current schema version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

// Migrate applies every pending migration.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	currentVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	finalVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
