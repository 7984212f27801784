package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/schollz/progressbar/v3"

	"github.com/Veraticus/fitcheck/internal/analysis"
	"github.com/Veraticus/fitcheck/internal/model"
)

// EnrichmentProgress shows a progress bar while suggestion images are searched.
type EnrichmentProgress struct {
	bar     *progressbar.ProgressBar
	writer  io.Writer
	current int
}

// NewEnrichmentProgress creates a bar for total suggestions.
func NewEnrichmentProgress(w io.Writer, total int) *EnrichmentProgress {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetDescription("[magenta][bold]Finding pieces to shop...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[magenta]=[reset]",
			SaucerHead:    "[magenta]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(w); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
	return &EnrichmentProgress{bar: bar, writer: w}
}

// Update moves the bar to the number of suggestions that have images.
func (p *EnrichmentProgress) Update(s analysis.Session) {
	enriched := s.EnrichedCount()
	if enriched <= p.current {
		return
	}
	if err := p.bar.Set(enriched); err != nil {
		slog.Warn("Failed to update progress bar", "error", err)
	}
	p.current = enriched
}

// Finish completes the bar regardless of how many searches found images.
func (p *EnrichmentProgress) Finish() {
	if err := p.bar.Finish(); err != nil {
		slog.Warn("Failed to finish progress bar", "error", err)
	}
}

// FollowEnrichment drives a progress bar from workflow updates until the
// enrichment run completes or ctx is done, then returns the final session.
func FollowEnrichment(ctx context.Context, w io.Writer, wf *analysis.Workflow, updates <-chan analysis.Session) analysis.Session {
	session := wf.Snapshot()
	if session.Enrichment != model.StageSearchingImages {
		return session
	}

	progress := NewEnrichmentProgress(w, len(session.Result.Suggestions))
	progress.Update(session)
	defer progress.Finish()

	// Updates may be dropped when the subscriber lags, so completion is
	// also observed directly.
	done := make(chan struct{})
	go func() {
		_ = wf.WaitEnrichment(ctx)
		close(done)
	}()

	for {
		select {
		case <-ctx.Done():
			return wf.Snapshot()
		case <-done:
			final := wf.Snapshot()
			progress.Update(final)
			return final
		case s, ok := <-updates:
			if !ok {
				return wf.Snapshot()
			}
			if s.ID != session.ID {
				continue
			}
			progress.Update(s)
			if s.Enrichment == model.StageComplete {
				return wf.Snapshot()
			}
		}
	}
}
