package model

import "time"

// VerificationStatus reports whether the store could verify a transaction's signature.
type VerificationStatus string

// Verification statuses.
const (
	Verified   VerificationStatus = "verified"
	Unverified VerificationStatus = "unverified"
)

// Transaction is a store-issued record of a purchase event.
type Transaction struct {
	PurchasedAt  time.Time
	RevokedAt    *time.Time
	ID           string
	OriginalID   string // first transaction in a restore/renewal chain
	ProductID    string
	Verification VerificationStatus
	// UnverifiedReason is set by the store when Verification is Unverified.
	UnverifiedReason string
}

// IsVerified reports whether the transaction passed store verification.
func (t Transaction) IsVerified() bool {
	return t.Verification == Verified
}

// IsRevoked reports whether the store has revoked the transaction (refund, family sharing removal).
func (t Transaction) IsRevoked() bool {
	return t.RevokedAt != nil
}

// PurchaseStatus is the raw result kind reported by a store provider.
type PurchaseStatus string

// Store purchase statuses.
const (
	PurchaseSucceeded     PurchaseStatus = "success"
	PurchaseUserCancelled PurchaseStatus = "user_cancelled"
	PurchasePending       PurchaseStatus = "pending"
)

// PurchaseResult is what a store provider returns from a purchase attempt.
// Transaction is only set when Status is PurchaseSucceeded.
type PurchaseResult struct {
	Transaction *Transaction
	Status      PurchaseStatus
}
