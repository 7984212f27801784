// Package testutil provides shared fixtures for tests that need a real database.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/fitcheck/internal/model"
	"github.com/Veraticus/fitcheck/internal/storage"
)

// TestDBOptions provides configuration options for test database setup.
type TestDBOptions struct {
	CustomSetup    func(context.Context, *storage.SQLiteStorage) error
	SkipMigrations bool
}

// SetupTestDB creates a migrated in-memory database that is closed when the test ends.
func SetupTestDB(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	return SetupTestDBWithOptions(t, TestDBOptions{})
}

// SetupTestDBWithOptions creates an in-memory database with custom options.
func SetupTestDBWithOptions(t *testing.T, opts TestDBOptions) *storage.SQLiteStorage {
	t.Helper()

	db, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	if !opts.SkipMigrations {
		if err := db.Migrate(ctx); err != nil {
			t.Fatalf("failed to run migrations: %v", err)
		}
	}

	if opts.CustomSetup != nil {
		if err := opts.CustomSetup(ctx, db); err != nil {
			t.Fatalf("custom setup failed: %v", err)
		}
	}
	return db
}

// SeedStoreTransaction inserts a store-side transaction for productID and returns it.
func SeedStoreTransaction(t *testing.T, db *storage.SQLiteStorage, productID string, status storage.StoreStatus, verification model.VerificationStatus) storage.StoreTransaction {
	t.Helper()

	txn := storage.StoreTransaction{
		Transaction: model.Transaction{
			ID:           uuid.NewString(),
			ProductID:    productID,
			PurchasedAt:  time.Now().UTC().Truncate(time.Second),
			Verification: verification,
		},
		Status: status,
	}
	txn.OriginalID = txn.ID
	if err := db.InsertStoreTransaction(context.Background(), &txn); err != nil {
		t.Fatalf("failed to seed store transaction: %v", err)
	}
	return txn
}
