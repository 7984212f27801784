package model

import (
	"fmt"
	"time"
)

// EntryKind is the business reason for a ledger mutation.
type EntryKind string

// Ledger entry kinds.
const (
	EntryFreeGrant  EntryKind = "free_grant"
	EntryDebit      EntryKind = "debit"
	EntryRefund     EntryKind = "refund"
	EntryPurchase   EntryKind = "purchase"
	EntryAdjustment EntryKind = "adjustment"
)

// IsValid reports whether k is a known entry kind.
func (k EntryKind) IsValid() bool {
	switch k {
	case EntryFreeGrant, EntryDebit, EntryRefund, EntryPurchase, EntryAdjustment:
		return true
	}
	return false
}

// LedgerEntry is one accepted mutation of the credit balance.
// Amount is signed: debits are negative.
type LedgerEntry struct {
	CreatedAt    time.Time
	Kind         EntryKind
	Reference    string // session id or store transaction id
	ID           int64
	Amount       int
	BalanceAfter int
}

// String formats the entry for terminal output.
func (e LedgerEntry) String() string {
	ref := e.Reference
	if ref == "" {
		ref = "-"
	}
	return fmt.Sprintf("%s  %-10s %+4d  -> %d  (%s)",
		e.CreatedAt.Local().Format("2006-01-02 15:04"), e.Kind, e.Amount, e.BalanceAfter, ref)
}

// BalanceChange is emitted every time the credit balance moves.
type BalanceChange struct {
	Kind      EntryKind
	Reference string
	Previous  int
	Remaining int
}
