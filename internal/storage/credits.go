package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Veraticus/fitcheck/internal/model"
)

// CreditChange describes one atomic mutation of the persisted balance.
type CreditChange struct {
	Kind      model.EntryKind
	Reference string
	// TransactionID, when set, makes the change idempotent per store transaction:
	// a second change with the same id is skipped.
	TransactionID string
	// OnceKey, when set, makes the change happen at most once for the lifetime
	// of the database; the key is recorded as a settings flag.
	OnceKey string
	// SetFlags are settings written in the same transaction.
	SetFlags map[string]string
	Amount   int
}

// LoadBalance returns the persisted credit balance.
func (s *SQLiteStorage) LoadBalance(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	balance, err := getInt(ctx, s.db, KeyRemainingCredits)
	if err != nil {
		return 0, err
	}
	if balance < 0 {
		return 0, fmt.Errorf("%w: negative balance %d", ErrCorruptedValue, balance)
	}
	return balance, nil
}

// ApplyCreditChange applies change in a single database transaction.
// It returns the resulting ledger entry and whether the change was applied;
// changes skipped because of TransactionID or OnceKey report false with no error.
func (s *SQLiteStorage) ApplyCreditChange(ctx context.Context, change CreditChange) (model.LedgerEntry, bool, error) {
	if err := validateContext(ctx); err != nil {
		return model.LedgerEntry{}, false, err
	}
	if err := validateCreditChange(change); err != nil {
		return model.LedgerEntry{}, false, err
	}

	var (
		entry   model.LedgerEntry
		applied bool
	)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if change.OnceKey != "" {
			done, _, err := getValue(ctx, tx, change.OnceKey)
			if err != nil {
				return err
			}
			if done == "true" {
				return nil
			}
		}

		if change.TransactionID != "" {
			granted, err := isGranted(ctx, tx, change.TransactionID)
			if err != nil {
				return err
			}
			if granted {
				return nil
			}
		}

		current, err := getInt(ctx, tx, KeyRemainingCredits)
		if err != nil {
			return err
		}

		next := current + change.Amount
		if next < 0 {
			return fmt.Errorf("%w: have %d, change %d", ErrNegativeBalance, current, change.Amount)
		}

		now := time.Now().UTC()
		entry = model.LedgerEntry{
			Kind:         change.Kind,
			Amount:       change.Amount,
			BalanceAfter: next,
			Reference:    change.Reference,
			CreatedAt:    now,
		}

		if change.Amount != 0 {
			if err := setValue(ctx, tx, KeyRemainingCredits, strconv.Itoa(next)); err != nil {
				return err
			}

			res, err := tx.ExecContext(ctx,
				`INSERT INTO ledger_entries (kind, amount, balance_after, reference, created_at)
				 VALUES (?, ?, ?, ?, ?)`,
				string(change.Kind), change.Amount, next, nullString(change.Reference), now)
			if err != nil {
				return fmt.Errorf("failed to append ledger entry: %w", err)
			}
			if entry.ID, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("failed to read ledger entry id: %w", err)
			}
		}

		if change.TransactionID != "" {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO granted_transactions (transaction_id, ledger_entry_id, granted_at) VALUES (?, ?, ?)`,
				change.TransactionID, entry.ID, now); err != nil {
				return fmt.Errorf("failed to record granted transaction: %w", err)
			}
		}

		for key, value := range change.SetFlags {
			if err := setValue(ctx, tx, key, value); err != nil {
				return err
			}
		}
		if change.OnceKey != "" {
			if err := setValue(ctx, tx, change.OnceKey, "true"); err != nil {
				return err
			}
		}

		applied = true
		return nil
	})
	if err != nil {
		return model.LedgerEntry{}, false, err
	}

	return entry, applied, nil
}

// IsTransactionGranted reports whether a store transaction was already converted into credits.
func (s *SQLiteStorage) IsTransactionGranted(ctx context.Context, transactionID string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(transactionID, "transactionID"); err != nil {
		return false, err
	}
	return isGranted(ctx, s.db, transactionID)
}

// ListLedgerEntries returns the most recent ledger entries, newest first.
func (s *SQLiteStorage) ListLedgerEntries(ctx context.Context, limit int) ([]model.LedgerEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, amount, balance_after, reference, created_at
		 FROM ledger_entries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.LedgerEntry
	for rows.Next() {
		var (
			entry model.LedgerEntry
			kind  string
			ref   sql.NullString
		)
		if err := rows.Scan(&entry.ID, &kind, &entry.Amount, &entry.BalanceAfter, &ref, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entry.Kind = model.EntryKind(kind)
		entry.Reference = ref.String
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func isGranted(ctx context.Context, q queryer, transactionID string) (bool, error) {
	var id string
	err := q.QueryRowContext(ctx,
		`SELECT transaction_id FROM granted_transactions WHERE transaction_id = ?`, transactionID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check granted transaction: %w", err)
	}
	return true, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
