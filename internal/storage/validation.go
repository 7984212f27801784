package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/fitcheck/internal/model"
)

// Validation errors.
var (
	ErrNilContext        = errors.New("context cannot be nil")
	ErrEmptyString       = errors.New("string parameter cannot be empty")
	ErrInvalidChange     = errors.New("invalid credit change")
	ErrNegativeBalance   = errors.New("credit change would make the balance negative")
	ErrInvalidStoreState = errors.New("invalid store transaction")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateCreditChange(change CreditChange) error {
	if !change.Kind.IsValid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidChange, change.Kind)
	}
	if change.Amount == 0 && change.OnceKey == "" {
		return fmt.Errorf("%w: amount cannot be zero", ErrInvalidChange)
	}
	if change.Kind == model.EntryDebit && change.Amount > 0 {
		return fmt.Errorf("%w: debit must be negative", ErrInvalidChange)
	}
	if change.Kind != model.EntryDebit && change.Kind != model.EntryAdjustment && change.Amount < 0 {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidChange, change.Kind)
	}
	return nil
}

func validateStoreTransaction(txn *StoreTransaction) error {
	if txn == nil {
		return fmt.Errorf("%w: nil transaction", ErrInvalidStoreState)
	}
	if err := validateString(txn.ID, "id"); err != nil {
		return err
	}
	if err := validateString(txn.ProductID, "product_id"); err != nil {
		return err
	}
	if !txn.Status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidStoreState, txn.Status)
	}
	return nil
}
