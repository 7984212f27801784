// Package service defines the contracts between the core and its external collaborators.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/fitcheck/internal/model"
)

// VisionRequest carries everything the stylist model needs to judge an outfit.
type VisionRequest struct {
	Image    []byte
	MimeType string
	Occasion string
	Tone     model.Tone
	Language string
	MaxIdeas int
}

// Vision produces a structured critique of an outfit photo.
// Errors are classified with common.ErrInvalidCredentials, common.ErrQuotaExceeded,
// common.ErrNetwork or common.ErrMalformedResponse.
type Vision interface {
	Analyze(ctx context.Context, req VisionRequest) (model.Analysis, error)
}

// SpeechRequest describes one text-to-speech rendition.
type SpeechRequest struct {
	Text         string
	Voice        string
	Instructions string
	Language     string
}

// Speech turns the critique text into playable audio. Same error classes as Vision.
type Speech interface {
	Synthesize(ctx context.Context, req SpeechRequest) (model.AudioClip, error)
}

// ImageSearch finds shoppable images for a query. An empty result is not an error.
type ImageSearch interface {
	Search(ctx context.Context, query string, count int, language string) ([]model.SearchResult, error)
}

// StoreProvider is the platform store the app sells credit packs through.
type StoreProvider interface {
	FetchProducts(ctx context.Context, ids []string) ([]model.Product, error)
	Purchase(ctx context.Context, productID string) (model.PurchaseResult, error)
	// CurrentEntitlements lists every transaction the user currently owns.
	CurrentEntitlements(ctx context.Context) ([]model.Transaction, error)
	// TransactionUpdates streams transactions delivered outside a purchase call:
	// approvals of pending purchases, purchases made on other devices, revocations.
	// The channel is closed when ctx is done.
	TransactionUpdates(ctx context.Context) (<-chan model.Transaction, error)
	// Unfinished lists delivered transactions the app has not finished yet.
	Unfinished(ctx context.Context) ([]model.Transaction, error)
	Finish(ctx context.Context, transactionID string) error
	// Sync forces a resynchronization with the store (restore trigger).
	Sync(ctx context.Context) error
}

// AudioPlayer plays synthesized critiques.
type AudioPlayer interface {
	Pause()
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
