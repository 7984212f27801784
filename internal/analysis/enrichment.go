package analysis

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"

	"github.com/Veraticus/fitcheck/internal/common"
	"github.com/Veraticus/fitcheck/internal/metrics"
	"github.com/Veraticus/fitcheck/internal/model"
)

// enrichment is one background image-search run.
type enrichment struct {
	cancel     context.CancelFunc
	done       chan struct{}
	generation uint64
}

// WaitEnrichment blocks until the current enrichment run finishes or ctx is done.
func (w *Workflow) WaitEnrichment(ctx context.Context) error {
	w.mu.RLock()
	run := w.enrich
	w.mu.RUnlock()
	if run == nil {
		return nil
	}

	select {
	case <-run.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cancelEnrichmentLocked stops the running enrichment and invalidates any
// result it has not yet written. Callers hold w.mu.
func (w *Workflow) cancelEnrichmentLocked() {
	w.generation++
	if w.enrich != nil {
		w.enrich.cancel()
		w.enrich = nil
	}
}

// startEnrichmentLocked launches the search run for the current session.
// The run outlives the Start call, so it only inherits ctx's values.
func (w *Workflow) startEnrichmentLocked(ctx context.Context, suggestions []model.FashionSuggestion, language string) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run := &enrichment{
		cancel:     cancel,
		done:       make(chan struct{}),
		generation: w.generation,
	}
	w.enrich = run

	queue := make([]model.FashionSuggestion, len(suggestions))
	for i, s := range suggestions {
		queue[i] = s.Clone()
	}

	logger := w.logger.With("session_id", w.session.ID)
	go w.runEnrichment(runCtx, logger, run, queue, language)
}

func (w *Workflow) runEnrichment(ctx context.Context, logger *slog.Logger, run *enrichment, queue []model.FashionSuggestion, language string) {
	defer close(run.done)
	defer run.cancel()

	limit := rate.Inf
	if w.cfg.SearchDelay > 0 {
		limit = rate.Every(w.cfg.SearchDelay)
	}
	limiter := rate.NewLimiter(limit, 1)

	failures := 0
	for _, suggestion := range queue {
		if err := limiter.Wait(ctx); err != nil {
			logger.Debug("enrichment cancelled", "error", err)
			return
		}

		query := strings.TrimSpace(suggestion.SearchQuery)
		if query == "" {
			query = suggestion.ItemName
		}

		results, err := w.deps.Search.Search(ctx, query, w.cfg.SearchCount, language)
		if ctx.Err() != nil {
			logger.Debug("enrichment cancelled", "error", ctx.Err())
			return
		}
		if err != nil {
			failures++
			metrics.RecordImageSearch("error")
			logSearchFailure(logger, suggestion, err)
			continue
		}
		if len(results) == 0 {
			metrics.RecordImageSearch("empty")
			logger.Debug("no images found", "item", suggestion.ItemName, "query", query)
			continue
		}

		metrics.RecordImageSearch("ok")
		w.applyResults(run, suggestion.ID, results)
	}

	if failures > 0 {
		logger.Warn("enrichment finished with failed searches",
			"error", common.ErrRemoteDegraded,
			"failed", failures,
			"total", len(queue))
	}
	w.finishEnrichment(run)
}

// applyResults replaces one suggestion's results by id.
func (w *Workflow) applyResults(run *enrichment, suggestionID string, results []model.SearchResult) {
	w.mu.Lock()
	if w.generation != run.generation {
		w.mu.Unlock()
		return
	}

	current := w.session.Result.Suggestions
	updated := make([]model.FashionSuggestion, len(current))
	copy(updated, current)
	found := false
	for i := range updated {
		if updated[i].ID == suggestionID {
			updated[i].Results = append([]model.SearchResult(nil), results...)
			found = true
			break
		}
	}
	if !found {
		w.mu.Unlock()
		return
	}
	w.session.Result.Suggestions = updated
	snapshot := w.session.clone()
	w.mu.Unlock()

	w.events.Publish(snapshot)
}

func (w *Workflow) finishEnrichment(run *enrichment) {
	w.mu.Lock()
	if w.generation != run.generation {
		w.mu.Unlock()
		return
	}
	w.session.Enrichment = model.StageComplete
	if w.enrich == run {
		w.enrich = nil
	}
	snapshot := w.session.clone()
	w.mu.Unlock()

	w.events.Publish(snapshot)
}

func logSearchFailure(logger *slog.Logger, suggestion model.FashionSuggestion, err error) {
	attrs := []any{
		"item", suggestion.ItemName,
		"query", suggestion.SearchQuery,
		"error", err,
	}
	if errors.Is(err, common.ErrInvalidCredentials) || errors.Is(err, common.ErrQuotaExceeded) {
		logger.Error("image search failed", attrs...)
		return
	}
	logger.Warn("image search failed", attrs...)
}
