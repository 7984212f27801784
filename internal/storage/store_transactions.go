package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/fitcheck/internal/common"
	"github.com/Veraticus/fitcheck/internal/model"
)

// StoreStatus is the sandbox store's delivery state for a transaction.
type StoreStatus string

// Sandbox store statuses.
const (
	// StorePending is waiting for external approval (ask-to-buy).
	StorePending StoreStatus = "pending"
	// StoreDelivered has been handed to the app but not finished yet.
	StoreDelivered StoreStatus = "delivered"
	// StoreFinished was finished by the app.
	StoreFinished StoreStatus = "finished"
	// StoreRevoked was refunded or otherwise revoked.
	StoreRevoked StoreStatus = "revoked"
)

// IsValid reports whether s is a known status.
func (s StoreStatus) IsValid() bool {
	switch s {
	case StorePending, StoreDelivered, StoreFinished, StoreRevoked:
		return true
	}
	return false
}

// StoreTransaction is a transaction as recorded by the sandbox store.
type StoreTransaction struct {
	model.Transaction
	Status StoreStatus
}

// InsertStoreTransaction records a new sandbox store transaction.
func (s *SQLiteStorage) InsertStoreTransaction(ctx context.Context, txn *StoreTransaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateStoreTransaction(txn); err != nil {
		return err
	}

	originalID := txn.OriginalID
	if originalID == "" {
		originalID = txn.ID
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO store_transactions (id, original_id, product_id, verification, status, purchased_at, revoked_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		txn.ID, originalID, txn.ProductID, string(txn.Verification), string(txn.Status), txn.PurchasedAt.UTC(), nullTime(txn.RevokedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: store transaction %s", common.ErrDuplicateEntry, txn.ID)
		}
		return fmt.Errorf("failed to insert store transaction: %w", err)
	}
	return nil
}

// UpdateStoreTransactionStatus moves a sandbox transaction to a new status.
func (s *SQLiteStorage) UpdateStoreTransactionStatus(ctx context.Context, id string, status StoreStatus) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	if !status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidStoreState, status)
	}

	var revokedAt any
	if status == StoreRevoked {
		revokedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE store_transactions SET status = ?, revoked_at = COALESCE(?, revoked_at) WHERE id = ?`,
		string(status), revokedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update store transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: store transaction %s", common.ErrNotFound, id)
	}
	return nil
}

// GetStoreTransaction loads a sandbox transaction by id.
func (s *SQLiteStorage) GetStoreTransaction(ctx context.Context, id string) (*StoreTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, original_id, product_id, verification, status, purchased_at, revoked_at
		 FROM store_transactions WHERE id = ?`, id)

	txn, err := scanStoreTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: store transaction %s", common.ErrNotFound, id)
	}
	return txn, err
}

// ListStoreTransactions returns sandbox transactions in any of the given statuses, oldest first.
func (s *SQLiteStorage) ListStoreTransactions(ctx context.Context, statuses ...StoreStatus) ([]StoreTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT id, original_id, product_id, verification, status, purchased_at, revoked_at
		 FROM store_transactions`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY purchased_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query store transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []StoreTransaction
	for rows.Next() {
		txn, err := scanStoreTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *txn)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStoreTransaction(row rowScanner) (*StoreTransaction, error) {
	var (
		txn          StoreTransaction
		verification string
		status       string
		revokedAt    sql.NullTime
	)
	if err := row.Scan(&txn.ID, &txn.OriginalID, &txn.ProductID, &verification, &status, &txn.PurchasedAt, &revokedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan store transaction: %w", err)
	}
	txn.Verification = model.VerificationStatus(verification)
	txn.Status = StoreStatus(status)
	if revokedAt.Valid {
		t := revokedAt.Time
		txn.RevokedAt = &t
	}
	return &txn, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
