// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Storage errors.
	ErrNotFound          = errors.New("not found")
	ErrDuplicateEntry    = errors.New("duplicate entry")
	ErrDatabaseCorrupted = errors.New("database corrupted")

	// Local precondition errors. No remote call is made when these are returned.
	ErrValidation          = errors.New("validation failed")
	ErrInsufficientCredits = errors.New("insufficient credits")

	// Analysis errors.
	ErrRemoteFatal    = errors.New("analysis failed")
	ErrRemoteDegraded = errors.New("enrichment degraded")

	// Remote provider error classes.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrQuotaExceeded      = errors.New("quota exceeded")
	ErrNetwork            = errors.New("network error")
	ErrMalformedResponse  = errors.New("malformed response")

	// Store errors.
	ErrCatalogUnavailable = errors.New("product catalog unavailable")
	ErrPurchaseFailed     = errors.New("purchase failed")
	ErrProductNotFound    = errors.New("product not found")
	ErrVerification       = errors.New("transaction verification failed")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// UserMessage returns the message a person at the terminal should see for err.
func UserMessage(err error) string {
	var userErr *UserError
	if errors.As(err, &userErr) {
		return userErr.UserMessage
	}

	switch {
	case errors.Is(err, ErrInsufficientCredits):
		return "You're out of credits. Buy more with `fitcheck buy`."
	case errors.Is(err, ErrValidation):
		return "Pick a photo, an occasion and a tone before starting."
	case errors.Is(err, ErrInvalidCredentials):
		return "The stylist service rejected the API key. Check your configuration."
	case errors.Is(err, ErrQuotaExceeded):
		return "The stylist service is over its quota right now. Your credit was refunded."
	case errors.Is(err, ErrNetwork):
		return "Couldn't reach the stylist service. Your credit was refunded."
	case errors.Is(err, ErrMalformedResponse):
		return "The stylist returned something unreadable. Your credit was refunded."
	case errors.Is(err, ErrCatalogUnavailable):
		return "The store is unavailable. Try again in a moment."
	case errors.Is(err, ErrVerification):
		return "The store couldn't verify this purchase. No credits were added."
	case errors.Is(err, ErrProductNotFound):
		return "That product isn't available."
	case errors.Is(err, ErrPurchaseFailed):
		return "The purchase didn't go through."
	case errors.Is(err, ErrRemoteFatal):
		return "The analysis failed. Your credit was refunded."
	}
	return err.Error()
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	// A catalog that loaded but lacks the product will not change on retry.
	if errors.Is(err, ErrProductNotFound) {
		return false
	}

	return errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrCatalogUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}
