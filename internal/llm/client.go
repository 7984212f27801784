package llm

import (
	"context"
	"time"
)

// Config configures the stylist and voice clients.
type Config struct {
	Provider string
	APIKey   string
	Model    string
	// BaseURL overrides the provider endpoint, e.g. for a proxy or tests.
	BaseURL     string
	MaxRetries  int
	RetryDelay  time.Duration
	RateLimit   int // requests per minute
	Temperature float64
	MaxTokens   int
}

// SpeechConfig configures the text-to-speech client.
type SpeechConfig struct {
	APIKey    string
	Model     string
	BaseURL   string
	Format    string
	OutputDir string
}

// visionPrompt is one multimodal completion request.
type visionPrompt struct {
	System   string
	User     string
	Image    []byte
	MimeType string
}

// completer sends a single image+text prompt and returns the raw model text.
type completer interface {
	complete(ctx context.Context, prompt visionPrompt) (string, error)
	name() string
}
