// Package ledger maintains the persistent credit balance that gates analyses.
//
// Every mutation goes through a single mutex so that debits from the analysis
// workflow and credits from the purchase coordinator never interleave. The
// persisted balance is written before the in-memory mirror changes, so a crash
// right after a debit cannot resurrect spent credits.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/Veraticus/fitcheck/internal/common"
	"github.com/Veraticus/fitcheck/internal/events"
	"github.com/Veraticus/fitcheck/internal/metrics"
	"github.com/Veraticus/fitcheck/internal/model"
	"github.com/Veraticus/fitcheck/internal/storage"
)

// DefaultFreeCredits is granted on the first launch ever.
const DefaultFreeCredits = 3

// Store is the persistence the ledger needs.
type Store interface {
	LoadBalance(ctx context.Context) (int, error)
	ApplyCreditChange(ctx context.Context, change storage.CreditChange) (model.LedgerEntry, bool, error)
	ListLedgerEntries(ctx context.Context, limit int) ([]model.LedgerEntry, error)
}

// Config holds ledger options.
type Config struct {
	FreeCredits int
}

// Ledger is the process-wide credit balance.
type Ledger struct {
	store     Store
	logger    *slog.Logger
	changes   *events.Broadcaster[model.BalanceChange]
	remaining int
	mu        sync.Mutex
}

// Open loads the persisted balance and applies the one-time free grant.
func Open(ctx context.Context, store Store, cfg Config, logger *slog.Logger) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: ledger store is required", common.ErrMissingConfig)
	}
	if cfg.FreeCredits < 0 {
		return nil, fmt.Errorf("%w: free credits cannot be negative", common.ErrInvalidConfig)
	}

	l := &Ledger{
		store:   store,
		logger:  common.LoggerOrDefault(logger),
		changes: events.NewBroadcaster[model.BalanceChange](events.DefaultBuffer),
	}

	balance, err := store.LoadBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load credit balance: %w", err)
	}
	l.remaining = balance

	entry, granted, err := store.ApplyCreditChange(ctx, storage.CreditChange{
		Kind:     model.EntryFreeGrant,
		Amount:   cfg.FreeCredits,
		OnceKey:  storage.KeyFreeCreditsGranted,
		SetFlags: map[string]string{storage.KeyHasLaunchedBefore: strconv.FormatBool(true)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply first launch grant: %w", err)
	}
	if granted {
		l.remaining = entry.BalanceAfter
		l.logger.Info("granted free credits on first launch", "credits", cfg.FreeCredits)
		metrics.RecordCreditChange(model.EntryFreeGrant, cfg.FreeCredits)
	}
	metrics.SetBalance(l.remaining)

	return l, nil
}

// Remaining returns the current balance from the in-memory mirror.
func (l *Ledger) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remaining
}

// Debit spends amount credits. It returns common.ErrInsufficientCredits,
// leaving the balance untouched, when fewer than amount credits remain.
func (l *Ledger) Debit(ctx context.Context, amount int, reference string) error {
	if amount <= 0 {
		return fmt.Errorf("%w: debit amount must be positive, got %d", common.ErrValidation, amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.remaining < amount {
		return fmt.Errorf("%w: need %d, have %d", common.ErrInsufficientCredits, amount, l.remaining)
	}

	_, err := l.applyLocked(ctx, storage.CreditChange{
		Kind:      model.EntryDebit,
		Amount:    -amount,
		Reference: reference,
	})
	if errors.Is(err, storage.ErrNegativeBalance) {
		// The mirror drifted from disk; trust disk.
		l.resyncLocked(ctx)
		return fmt.Errorf("%w: need %d, have %d", common.ErrInsufficientCredits, amount, l.remaining)
	}
	return err
}

// Credit adds amount credits for the given reason.
func (l *Ledger) Credit(ctx context.Context, amount int, kind model.EntryKind, reference string) error {
	if amount <= 0 {
		return fmt.Errorf("%w: credit amount must be positive, got %d", common.ErrValidation, amount)
	}
	if kind == model.EntryDebit {
		return fmt.Errorf("%w: credit cannot use kind %s", common.ErrValidation, kind)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.applyLocked(ctx, storage.CreditChange{
		Kind:      kind,
		Amount:    amount,
		Reference: reference,
	})
	return err
}

// Refund returns amount credits spent on reference.
func (l *Ledger) Refund(ctx context.Context, amount int, reference string) error {
	return l.Credit(ctx, amount, model.EntryRefund, reference)
}

// CreditTransaction converts a store transaction into credits exactly once.
// It reports false, with no balance change, when transactionID was already granted.
func (l *Ledger) CreditTransaction(ctx context.Context, transactionID string, amount int) (bool, error) {
	if transactionID == "" {
		return false, fmt.Errorf("%w: transaction id is required", common.ErrValidation)
	}
	if amount <= 0 {
		return false, fmt.Errorf("%w: credit amount must be positive, got %d", common.ErrValidation, amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.applyLocked(ctx, storage.CreditChange{
		Kind:          model.EntryPurchase,
		Amount:        amount,
		Reference:     transactionID,
		TransactionID: transactionID,
	})
}

// History returns recent ledger entries, newest first.
func (l *Ledger) History(ctx context.Context, limit int) ([]model.LedgerEntry, error) {
	return l.store.ListLedgerEntries(ctx, limit)
}

// Subscribe returns a channel of balance changes and a func to stop receiving them.
func (l *Ledger) Subscribe() (<-chan model.BalanceChange, func()) {
	return l.changes.Subscribe()
}

// Close releases subscribers.
func (l *Ledger) Close() {
	l.changes.Close()
}

// applyLocked persists change, then updates the mirror and notifies subscribers.
// l.mu must be held.
func (l *Ledger) applyLocked(ctx context.Context, change storage.CreditChange) (bool, error) {
	entry, applied, err := l.store.ApplyCreditChange(ctx, change)
	if err != nil {
		return false, fmt.Errorf("failed to persist %s: %w", change.Kind, err)
	}
	if !applied {
		l.logger.Debug("credit change already applied",
			"kind", change.Kind,
			"reference", change.Reference)
		return false, nil
	}

	previous := l.remaining
	l.remaining = entry.BalanceAfter

	l.logger.Debug("credit balance changed",
		"kind", change.Kind,
		"amount", change.Amount,
		"remaining", l.remaining,
		"reference", change.Reference)

	metrics.RecordCreditChange(change.Kind, change.Amount)
	metrics.SetBalance(l.remaining)

	l.changes.Publish(model.BalanceChange{
		Kind:      change.Kind,
		Reference: change.Reference,
		Previous:  previous,
		Remaining: l.remaining,
	})
	return true, nil
}

func (l *Ledger) resyncLocked(ctx context.Context) {
	balance, err := l.store.LoadBalance(ctx)
	if err != nil {
		l.logger.Error("failed to resync credit balance", "error", err)
		return
	}
	l.remaining = balance
	metrics.SetBalance(balance)
}
