// Package analysis runs the credit-gated outfit analysis: debit one credit,
// ask the stylist for a critique, voice it, then enrich the suggestions with
// image search in the background. Any failure before the critique is voiced
// refunds the credit.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/fitcheck/internal/common"
	"github.com/Veraticus/fitcheck/internal/events"
	"github.com/Veraticus/fitcheck/internal/metrics"
	"github.com/Veraticus/fitcheck/internal/model"
	"github.com/Veraticus/fitcheck/internal/service"
)

// ErrSessionInProgress is returned when a session is already being analyzed.
var ErrSessionInProgress = errors.New("an analysis is already in progress")

// Defaults for Config fields left zero.
const (
	DefaultStageTimeout = 90 * time.Second
	DefaultSearchCount  = 3
	DefaultSearchDelay  = time.Second
	DefaultLanguage     = "en"
	creditsPerSession   = 1
)

// Ledger is the part of the credit ledger the workflow spends from.
type Ledger interface {
	Debit(ctx context.Context, amount int, reference string) error
	Refund(ctx context.Context, amount int, reference string) error
}

// Config tunes the workflow.
type Config struct {
	// StageTimeout bounds each vision and speech call.
	StageTimeout time.Duration
	// SearchDelay spaces consecutive image searches.
	SearchDelay time.Duration
	SearchCount int
	Language    string
	MaxIdeas    int
}

func (c Config) withDefaults() Config {
	if c.StageTimeout <= 0 {
		c.StageTimeout = DefaultStageTimeout
	}
	if c.SearchDelay < 0 {
		c.SearchDelay = 0
	}
	if c.SearchCount <= 0 {
		c.SearchCount = DefaultSearchCount
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	return c
}

// Deps are the workflow's collaborators. Player may be nil.
type Deps struct {
	Ledger Ledger
	Vision service.Vision
	Speech service.Speech
	Search service.ImageSearch
	Player service.AudioPlayer
}

// Workflow owns the single current analysis session.
type Workflow struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	events *events.Broadcaster[Session]

	session Session
	// generation increments whenever outputs are discarded; enrichment
	// results from an older generation are dropped.
	generation uint64
	enrich     *enrichment
	running    bool

	mu sync.RWMutex
}

// NewWorkflow creates a workflow with an idle session.
func NewWorkflow(deps Deps, cfg Config, logger *slog.Logger) (*Workflow, error) {
	switch {
	case deps.Ledger == nil:
		return nil, fmt.Errorf("%w: ledger is required", common.ErrMissingConfig)
	case deps.Vision == nil:
		return nil, fmt.Errorf("%w: vision client is required", common.ErrMissingConfig)
	case deps.Speech == nil:
		return nil, fmt.Errorf("%w: speech client is required", common.ErrMissingConfig)
	case deps.Search == nil:
		return nil, fmt.Errorf("%w: image search is required", common.ErrMissingConfig)
	}

	cfg = cfg.withDefaults()
	return &Workflow{
		deps:   deps,
		cfg:    cfg,
		logger: common.LoggerOrDefault(logger),
		events: events.NewBroadcaster[Session](events.DefaultBuffer),
		session: Session{
			Stage:      model.StageIdle,
			Enrichment: model.StageIdle,
			Tone:       model.ToneBalanced,
			Language:   cfg.Language,
		},
	}, nil
}

// Snapshot returns a deep copy of the current session.
func (w *Workflow) Snapshot() Session {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.session.clone()
}

// Subscribe returns a channel of session snapshots published on every change.
func (w *Workflow) Subscribe() (<-chan Session, func()) {
	return w.events.Subscribe()
}

// Start runs one analysis. It returns the completed session; enrichment
// continues in the background (see WaitEnrichment).
//
// Validation failures return common.ErrValidation and change nothing. A short
// balance returns common.ErrInsufficientCredits before any remote call.
// Vision or speech failures refund the credit and return common.ErrRemoteFatal.
func (w *Workflow) Start(ctx context.Context, req Request) (Session, error) {
	occasion, err := validate(req)
	if err != nil {
		return Session{}, err
	}

	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return Session{}, ErrSessionInProgress
	}
	w.running = true
	w.cancelEnrichmentLocked()

	language := req.Language
	if language == "" {
		language = w.cfg.Language
	}
	w.session = Session{
		ID:         uuid.NewString(),
		StartedAt:  time.Now(),
		Image:      append([]byte(nil), req.Image...),
		MimeType:   req.MimeType,
		Occasion:   req.Occasion,
		Tone:       req.Tone,
		Language:   language,
		Stage:      model.StageIdle,
		Enrichment: model.StageIdle,
	}
	sessionID := w.session.ID
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	logger := w.logger.With("session_id", sessionID)

	if err := w.deps.Ledger.Debit(ctx, creditsPerSession, sessionID); err != nil {
		if errors.Is(err, common.ErrInsufficientCredits) {
			metrics.RecordSession("insufficient_credits")
			logger.Info("analysis refused: no credits left")
		}
		w.publish()
		return w.Snapshot(), err
	}

	w.setStage(model.StageAnalyzing)
	logger.Info("analysis started", "tone", req.Tone, "language", language)

	analysis, err := w.analyze(ctx, req, occasion, language)
	if err != nil {
		return w.fail(ctx, logger, sessionID, "vision", err)
	}

	audio, err := w.speak(ctx, req.Tone, analysis.OverallComment, language)
	if err != nil {
		return w.fail(ctx, logger, sessionID, "speech", err)
	}

	analysis = analysis.Clone()
	ensureSuggestionIDs(analysis.Suggestions)

	w.mu.Lock()
	w.session.Result = analysis.Clone()
	w.session.Audio = audio
	w.session.Stage = model.StageComplete
	w.session.Enrichment = model.StageComplete
	if len(analysis.Suggestions) > 0 {
		w.session.Enrichment = model.StageSearchingImages
		w.startEnrichmentLocked(ctx, analysis.Suggestions, language)
	}
	snapshot := w.session.clone()
	w.mu.Unlock()

	w.events.Publish(snapshot)
	metrics.RecordSession("complete")
	logger.Info("analysis complete",
		"items", len(analysis.Items),
		"suggestions", len(analysis.Suggestions),
		"audio_bytes", audio.Bytes)

	return snapshot, nil
}

// ensureSuggestionIDs gives every suggestion a unique ID so enrichment
// results land on the suggestion they were searched for.
func ensureSuggestionIDs(suggestions []model.FashionSuggestion) {
	seen := make(map[string]bool, len(suggestions))
	for i := range suggestions {
		if suggestions[i].ID == "" || seen[suggestions[i].ID] {
			suggestions[i].ID = uuid.NewString()
		}
		seen[suggestions[i].ID] = true
	}
}

func (w *Workflow) analyze(ctx context.Context, req Request, occasion, language string) (model.Analysis, error) {
	stageCtx, cancel := context.WithTimeout(ctx, w.cfg.StageTimeout)
	defer cancel()

	start := time.Now()
	analysis, err := w.deps.Vision.Analyze(stageCtx, service.VisionRequest{
		Image:    req.Image,
		MimeType: req.MimeType,
		Occasion: occasion,
		Tone:     req.Tone,
		Language: language,
		MaxIdeas: w.cfg.MaxIdeas,
	})
	metrics.ObserveStage("vision", time.Since(start).Seconds())
	if err == nil && stageCtx.Err() != nil {
		err = stageCtx.Err()
	}
	return analysis, err
}

func (w *Workflow) speak(ctx context.Context, tone model.Tone, text, language string) (model.AudioClip, error) {
	stageCtx, cancel := context.WithTimeout(ctx, w.cfg.StageTimeout)
	defer cancel()

	start := time.Now()
	clip, err := w.deps.Speech.Synthesize(stageCtx, service.SpeechRequest{
		Text:         text,
		Voice:        tone.Voice(),
		Instructions: tone.SpeechInstructions(),
		Language:     language,
	})
	metrics.ObserveStage("speech", time.Since(start).Seconds())
	if err == nil && stageCtx.Err() != nil {
		err = stageCtx.Err()
	}
	return clip, err
}

// fail refunds the session's credit and returns the workflow to idle.
func (w *Workflow) fail(ctx context.Context, logger *slog.Logger, sessionID, stage string, cause error) (Session, error) {
	fatal := fmt.Errorf("%w: %s: %w", common.ErrRemoteFatal, stage, cause)

	// The refund must land even if the caller's context is already done.
	refundCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := w.deps.Ledger.Refund(refundCtx, creditsPerSession, sessionID); err != nil {
		logger.Error("failed to refund credit after analysis failure",
			"stage", stage,
			"error", err)
		fatal = errors.Join(fatal, fmt.Errorf("refund failed: %w", err))
	}

	w.mu.Lock()
	w.session.clearOutputs()
	w.session.LastError = cause.Error()
	w.mu.Unlock()
	w.publish()

	metrics.RecordSession("failed_" + stage)
	logger.Warn("analysis failed, credit refunded", "stage", stage, "error", cause)
	return w.Snapshot(), fatal
}

// ResetOutputs clears the critique, audio and suggestions, pauses playback
// and cancels any running enrichment. Inputs are kept.
func (w *Workflow) ResetOutputs() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrSessionInProgress
	}
	w.cancelEnrichmentLocked()
	w.session.clearOutputs()
	w.mu.Unlock()

	if w.deps.Player != nil {
		w.deps.Player.Pause()
	}
	w.publish()
	return nil
}

// ResetAll clears outputs and resets the inputs to their defaults.
func (w *Workflow) ResetAll() error {
	if err := w.ResetOutputs(); err != nil {
		return err
	}

	w.mu.Lock()
	w.session.ID = ""
	w.session.StartedAt = time.Time{}
	w.session.Image = nil
	w.session.MimeType = ""
	w.session.Occasion = model.Occasion{}
	w.session.Tone = model.ToneBalanced
	w.session.Language = w.cfg.Language
	w.mu.Unlock()

	w.publish()
	return nil
}

// Close cancels enrichment, waits for it to stop and closes subscriptions.
func (w *Workflow) Close() {
	w.mu.Lock()
	run := w.enrich
	w.cancelEnrichmentLocked()
	w.mu.Unlock()

	if run != nil {
		<-run.done
	}
	w.events.Close()
}

func (w *Workflow) setStage(stage model.Stage) {
	w.mu.Lock()
	w.session.Stage = stage
	w.mu.Unlock()
	w.publish()
}

func (w *Workflow) publish() {
	w.events.Publish(w.Snapshot())
}

func validate(req Request) (string, error) {
	if len(req.Image) == 0 {
		return "", fmt.Errorf("%w: an outfit photo is required", common.ErrValidation)
	}
	occasion, ok := req.Occasion.Resolve()
	if !ok {
		return "", fmt.Errorf("%w: an occasion is required", common.ErrValidation)
	}
	if !req.Tone.IsValid() {
		return "", fmt.Errorf("%w: unknown tone %q", common.ErrValidation, req.Tone)
	}
	return occasion, nil
}
