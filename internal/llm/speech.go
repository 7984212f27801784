package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Veraticus/fitcheck/internal/common"
	"github.com/Veraticus/fitcheck/internal/model"
	"github.com/Veraticus/fitcheck/internal/service"
)

const (
	defaultSpeechModel  = "gpt-4o-mini-tts"
	defaultSpeechFormat = "mp3"
)

// Speaker implements service.Speech with the OpenAI speech endpoint and
// writes each clip to a file.
type Speaker struct {
	client    *openAIClient
	logger    *slog.Logger
	model     string
	format    string
	outputDir string
}

var _ service.Speech = (*Speaker)(nil)

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	Instructions   string `json:"instructions,omitempty"`
	ResponseFormat string `json:"response_format"`
}

// Synthesize renders req.Text and saves it under the configured output directory.
func (s *Speaker) Synthesize(ctx context.Context, req service.SpeechRequest) (model.AudioClip, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return model.AudioClip{}, fmt.Errorf("%w: nothing to synthesize", common.ErrValidation)
	}

	voice := req.Voice
	if voice == "" {
		voice = model.ToneBalanced.Voice()
	}

	instructions := req.Instructions
	if req.Language != "" {
		instructions = strings.TrimSpace(instructions + " Speak in " + languageName(req.Language) + ".")
	}

	audio, err := s.client.post(ctx, "/audio/speech", speechRequest{
		Model:          s.model,
		Input:          text,
		Voice:          voice,
		Instructions:   instructions,
		ResponseFormat: s.format,
	})
	if err != nil {
		return model.AudioClip{}, err
	}
	if len(audio) == 0 {
		return model.AudioClip{}, malformed(s.client.name(), "empty audio response")
	}

	if err := os.MkdirAll(s.outputDir, 0750); err != nil {
		return model.AudioClip{}, fmt.Errorf("failed to create audio directory: %w", err)
	}
	f, err := os.CreateTemp(s.outputDir, "critique-*."+s.format)
	if err != nil {
		return model.AudioClip{}, fmt.Errorf("failed to create audio file: %w", err)
	}
	if _, err := f.Write(audio); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return model.AudioClip{}, fmt.Errorf("failed to write audio file: %w", err)
	}
	if err := f.Close(); err != nil {
		return model.AudioClip{}, fmt.Errorf("failed to close audio file: %w", err)
	}

	s.logger.Debug("synthesized critique audio",
		"voice", voice,
		"bytes", len(audio),
		"path", f.Name())

	return model.AudioClip{
		Path:   filepath.Clean(f.Name()),
		Format: s.format,
		Bytes:  len(audio),
	}, nil
}
