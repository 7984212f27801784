package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/fitcheck/internal/common"
	"github.com/Veraticus/fitcheck/internal/model"
	"github.com/Veraticus/fitcheck/internal/service"
)

// Stylist implements service.Vision on top of a multimodal completion provider.
type Stylist struct {
	client      completer
	prompts     *promptBuilder
	rateLimiter *rateLimiter
	logger      *slog.Logger
	retryOpts   service.RetryOptions
}

var _ service.Vision = (*Stylist)(nil)

func newStylist(client completer, cfg Config, logger *slog.Logger) (*Stylist, error) {
	prompts, err := newPromptBuilder()
	if err != nil {
		return nil, err
	}

	retryOpts := service.RetryOptions{
		MaxAttempts:  cfg.MaxRetries,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
	if retryOpts.MaxAttempts == 0 {
		retryOpts.MaxAttempts = 2
	}
	if retryOpts.InitialDelay == 0 {
		retryOpts.InitialDelay = time.Second
	}

	return &Stylist{
		client:      client,
		prompts:     prompts,
		rateLimiter: newRateLimiter(cfg.RateLimit),
		logger:      common.LoggerOrDefault(logger),
		retryOpts:   retryOpts,
	}, nil
}

// Analyze asks the stylist model to critique the outfit in req.Image.
// Transient network failures are retried; everything else returns at once.
func (s *Stylist) Analyze(ctx context.Context, req service.VisionRequest) (model.Analysis, error) {
	if len(req.Image) == 0 {
		return model.Analysis{}, fmt.Errorf("%w: image is required", common.ErrValidation)
	}
	if strings.TrimSpace(req.Occasion) == "" {
		return model.Analysis{}, fmt.Errorf("%w: occasion is required", common.ErrValidation)
	}
	if req.MimeType == "" {
		req.MimeType = "image/jpeg"
	}
	if req.MaxIdeas <= 0 {
		req.MaxIdeas = DefaultMaxIdeas
	}

	prompt, err := s.prompts.build(req)
	if err != nil {
		return model.Analysis{}, err
	}

	var content string
	err = common.WithRetry(ctx, func() error {
		if err := s.rateLimiter.wait(ctx); err != nil {
			return err
		}
		s.logger.Debug("requesting outfit analysis",
			"provider", s.client.name(),
			"tone", req.Tone,
			"image_bytes", len(req.Image))

		var callErr error
		content, callErr = s.client.complete(ctx, prompt)
		if callErr != nil {
			s.logger.Warn("outfit analysis attempt failed",
				"provider", s.client.name(),
				"error", callErr)
		}
		return callErr
	}, s.retryOpts)
	if err != nil {
		return model.Analysis{}, err
	}

	analysis, err := parseAnalysis(s.client.name(), content, req.MaxIdeas)
	if err != nil {
		return model.Analysis{}, err
	}

	s.logger.Info("outfit analyzed",
		"provider", s.client.name(),
		"items", len(analysis.Items),
		"suggestions", len(analysis.Suggestions))
	return analysis, nil
}
