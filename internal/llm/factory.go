package llm

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Veraticus/fitcheck/internal/common"
)

// NewStylist creates the vision client for the configured provider.
func NewStylist(cfg Config, logger *slog.Logger) (*Stylist, error) {
	var (
		client completer
		err    error
	)

	switch strings.ToLower(cfg.Provider) {
	case "openai", "":
		client, err = newOpenAIClient(cfg)
	case "anthropic":
		client, err = newAnthropicClient(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported LLM provider: %s", common.ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	return newStylist(client, cfg, logger)
}

// NewSpeaker creates the text-to-speech client.
func NewSpeaker(cfg SpeechConfig, logger *slog.Logger) (*Speaker, error) {
	client, err := newOpenAIClient(Config{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	speechModel := cfg.Model
	if speechModel == "" {
		speechModel = defaultSpeechModel
	}
	format := cfg.Format
	if format == "" {
		format = defaultSpeechFormat
	}
	outputDir := cfg.OutputDir
	if outputDir == "" {
		outputDir = filepath.Join(os.TempDir(), "fitcheck")
	}

	return &Speaker{
		client:    client,
		logger:    common.LoggerOrDefault(logger),
		model:     speechModel,
		format:    format,
		outputDir: outputDir,
	}, nil
}
