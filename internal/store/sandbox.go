// Package store implements a local sandbox store provider. Purchases,
// approvals and deliveries are recorded in SQLite so the purchase flow can be
// exercised end to end from the command line without a real app store.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/fitcheck/internal/common"
	"github.com/Veraticus/fitcheck/internal/model"
	"github.com/Veraticus/fitcheck/internal/service"
	"github.com/Veraticus/fitcheck/internal/storage"
)

// DefaultPollInterval is how often TransactionUpdates looks for new deliveries.
const DefaultPollInterval = 2 * time.Second

const unverifiedReason = "sandbox receipt signature rejected"

// Listing is the store-side presentation of a product.
type Listing struct {
	ID           string `mapstructure:"id"`
	DisplayName  string `mapstructure:"display_name"`
	DisplayPrice string `mapstructure:"display_price"`
}

// DefaultListings mirrors the default credit packs.
var DefaultListings = []Listing{
	{ID: "fitcheck.credits.10", DisplayName: "10 Credits", DisplayPrice: "$2.99"},
	{ID: "fitcheck.credits.30", DisplayName: "30 Credits", DisplayPrice: "$6.99"},
	{ID: "fitcheck.credits.100", DisplayName: "100 Credits", DisplayPrice: "$14.99"},
}

// Storage is the persistence the sandbox needs.
type Storage interface {
	InsertStoreTransaction(ctx context.Context, txn *storage.StoreTransaction) error
	UpdateStoreTransactionStatus(ctx context.Context, id string, status storage.StoreStatus) error
	GetStoreTransaction(ctx context.Context, id string) (*storage.StoreTransaction, error)
	ListStoreTransactions(ctx context.Context, statuses ...storage.StoreStatus) ([]storage.StoreTransaction, error)
}

// Config controls sandbox behavior.
type Config struct {
	Listings     []Listing
	PollInterval time.Duration
	// AskToBuy makes every purchase pending until approved with Approve.
	AskToBuy bool
}

// Sandbox is a service.StoreProvider backed by the local database.
type Sandbox struct {
	db       Storage
	logger   *slog.Logger
	listings map[string]Listing
	now      func() time.Time
	cfg      Config
	mu       sync.Mutex
}

var _ service.StoreProvider = (*Sandbox)(nil)

// NewSandbox creates a sandbox store.
func NewSandbox(db Storage, cfg Config, logger *slog.Logger) (*Sandbox, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: sandbox store needs storage", common.ErrMissingConfig)
	}
	if len(cfg.Listings) == 0 {
		cfg.Listings = DefaultListings
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	listings := make(map[string]Listing, len(cfg.Listings))
	for _, l := range cfg.Listings {
		if l.ID == "" {
			return nil, fmt.Errorf("%w: store listing without id", common.ErrInvalidConfig)
		}
		listings[l.ID] = l
	}

	return &Sandbox{
		db:       db,
		cfg:      cfg,
		listings: listings,
		logger:   common.LoggerOrDefault(logger),
		now:      time.Now,
	}, nil
}

// FetchProducts returns the listings for ids that the sandbox sells.
func (s *Sandbox) FetchProducts(ctx context.Context, ids []string) ([]model.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	products := make([]model.Product, 0, len(ids))
	for _, id := range ids {
		l, ok := s.listings[id]
		if !ok {
			continue
		}
		products = append(products, model.Product{
			ID:           l.ID,
			DisplayName:  l.DisplayName,
			DisplayPrice: l.DisplayPrice,
		})
	}
	if len(products) == 0 {
		return nil, fmt.Errorf("%w: none of %v", common.ErrProductNotFound, ids)
	}
	return products, nil
}

// Purchase records a new transaction for productID. With AskToBuy the
// transaction stays pending and no transaction is returned.
func (s *Sandbox) Purchase(ctx context.Context, productID string) (model.PurchaseResult, error) {
	if _, ok := s.listings[productID]; !ok {
		return model.PurchaseResult{}, fmt.Errorf("%w: %s", common.ErrProductNotFound, productID)
	}

	status := storage.StoreDelivered
	if s.cfg.AskToBuy {
		status = storage.StorePending
	}

	txn, err := s.record(ctx, productID, status, model.Verified)
	if err != nil {
		return model.PurchaseResult{}, err
	}

	if status == storage.StorePending {
		s.logger.Info("sandbox purchase awaiting approval", "transaction_id", txn.ID, "product_id", productID)
		return model.PurchaseResult{Status: model.PurchasePending}, nil
	}
	return model.PurchaseResult{Status: model.PurchaseSucceeded, Transaction: &txn.Transaction}, nil
}

// CurrentEntitlements lists every delivered or finished transaction that has not been revoked.
func (s *Sandbox) CurrentEntitlements(ctx context.Context) ([]model.Transaction, error) {
	txns, err := s.db.ListStoreTransactions(ctx, storage.StoreDelivered, storage.StoreFinished)
	if err != nil {
		return nil, err
	}
	out := make([]model.Transaction, 0, len(txns))
	for _, txn := range txns {
		out = append(out, present(txn))
	}
	return out, nil
}

// TransactionUpdates polls for delivered and revoked transactions. Each
// transaction is emitted once per status for the lifetime of the stream;
// delivered transactions that stay unfinished are emitted again by a new stream.
func (s *Sandbox) TransactionUpdates(ctx context.Context) (<-chan model.Transaction, error) {
	out := make(chan model.Transaction)

	go func() {
		defer close(out)

		seen := make(map[string]storage.StoreStatus)
		ticker := time.NewTicker(s.cfg.PollInterval)
		defer ticker.Stop()

		for {
			txns, err := s.db.ListStoreTransactions(ctx, storage.StoreDelivered, storage.StoreRevoked)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("sandbox store poll failed", "error", err)
			}

			for _, txn := range txns {
				if seen[txn.ID] == txn.Status {
					continue
				}
				seen[txn.ID] = txn.Status
				select {
				case out <- present(txn):
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return out, nil
}

// Unfinished lists delivered transactions that were never finished.
func (s *Sandbox) Unfinished(ctx context.Context) ([]model.Transaction, error) {
	txns, err := s.db.ListStoreTransactions(ctx, storage.StoreDelivered)
	if err != nil {
		return nil, err
	}
	out := make([]model.Transaction, 0, len(txns))
	for _, txn := range txns {
		out = append(out, present(txn))
	}
	return out, nil
}

// Finish marks a delivered transaction as handled by the app.
func (s *Sandbox) Finish(ctx context.Context, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, err := s.db.GetStoreTransaction(ctx, transactionID)
	if err != nil {
		return err
	}
	if txn.Status != storage.StoreDelivered {
		return nil
	}
	return s.db.UpdateStoreTransactionStatus(ctx, transactionID, storage.StoreFinished)
}

// Sync has nothing to refresh locally; it only honors cancellation.
func (s *Sandbox) Sync(ctx context.Context) error {
	s.logger.Debug("sandbox store sync")
	return ctx.Err()
}

// Approve moves a pending (ask-to-buy) purchase to delivered so the
// transaction listener picks it up.
func (s *Sandbox) Approve(ctx context.Context, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, err := s.db.GetStoreTransaction(ctx, transactionID)
	if err != nil {
		return err
	}
	if txn.Status != storage.StorePending {
		return fmt.Errorf("%w: transaction %s is %s, not pending", storage.ErrInvalidStoreState, transactionID, txn.Status)
	}
	if err := s.db.UpdateStoreTransactionStatus(ctx, transactionID, storage.StoreDelivered); err != nil {
		return err
	}
	s.logger.Info("sandbox purchase approved", "transaction_id", transactionID)
	return nil
}

// Deliver records a transaction made outside the app, e.g. on another device.
// An unverified delivery simulates a receipt that fails signature checks.
func (s *Sandbox) Deliver(ctx context.Context, productID string, verified bool) (model.Transaction, error) {
	if _, ok := s.listings[productID]; !ok {
		return model.Transaction{}, fmt.Errorf("%w: %s", common.ErrProductNotFound, productID)
	}

	verification := model.Verified
	if !verified {
		verification = model.Unverified
	}
	txn, err := s.record(ctx, productID, storage.StoreDelivered, verification)
	if err != nil {
		return model.Transaction{}, err
	}
	s.logger.Info("sandbox delivery recorded",
		"transaction_id", txn.ID,
		"product_id", productID,
		"verification", verification)
	return present(txn), nil
}

// Revoke refunds a transaction.
func (s *Sandbox) Revoke(ctx context.Context, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.UpdateStoreTransactionStatus(ctx, transactionID, storage.StoreRevoked)
}

// Pending lists purchases awaiting approval.
func (s *Sandbox) Pending(ctx context.Context) ([]model.Transaction, error) {
	txns, err := s.db.ListStoreTransactions(ctx, storage.StorePending)
	if err != nil {
		return nil, err
	}
	out := make([]model.Transaction, 0, len(txns))
	for _, txn := range txns {
		out = append(out, present(txn))
	}
	return out, nil
}

func (s *Sandbox) record(ctx context.Context, productID string, status storage.StoreStatus, verification model.VerificationStatus) (storage.StoreTransaction, error) {
	id := uuid.NewString()
	txn := storage.StoreTransaction{
		Transaction: model.Transaction{
			ID:           id,
			OriginalID:   id,
			ProductID:    productID,
			Verification: verification,
			PurchasedAt:  s.now().UTC(),
		},
		Status: status,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.InsertStoreTransaction(ctx, &txn); err != nil {
		return storage.StoreTransaction{}, fmt.Errorf("failed to record sandbox transaction: %w", err)
	}
	if !txn.IsVerified() {
		txn.UnverifiedReason = unverifiedReason
	}
	return txn, nil
}

func present(txn storage.StoreTransaction) model.Transaction {
	out := txn.Transaction
	if !out.IsVerified() && out.UnverifiedReason == "" {
		out.UnverifiedReason = unverifiedReason
	}
	return out
}
