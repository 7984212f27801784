package tui

import (
	"context"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Veraticus/fitcheck/internal/analysis"
	"github.com/Veraticus/fitcheck/internal/tui/themes"
)

// Workflow is what RunAnalysis needs from analysis.Workflow.
type Workflow interface {
	Analyzer
	Start(ctx context.Context, req analysis.Request) (analysis.Session, error)
	Subscribe() (<-chan analysis.Session, func())
}

// Options configures the analysis view.
type Options struct {
	Theme  themes.Theme
	Input  io.Reader
	Output io.Writer
}

// RunAnalysis starts an analysis and shows its progress until the critique
// and image search are done, the user stops waiting, or ctx is cancelled.
// Quitting before the critique is ready cancels the analysis, which refunds it.
func RunAnalysis(ctx context.Context, wf Workflow, req analysis.Request, opts Options) (analysis.Session, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates, unsubscribe := wf.Subscribe()
	defer unsubscribe()

	programOpts := []tea.ProgramOption{tea.WithContext(ctx)}
	if opts.Input != nil {
		programOpts = append(programOpts, tea.WithInput(opts.Input))
	}
	if opts.Output != nil {
		programOpts = append(programOpts, tea.WithOutput(opts.Output))
	}

	program := tea.NewProgram(newModel(wf, updates, opts.Theme), programOpts...)

	type result struct {
		err     error
		session analysis.Session
	}
	startDone := make(chan result, 1)
	go func() {
		session, err := wf.Start(ctx, req)
		startDone <- result{session: session, err: err}
		program.Send(startDoneMsg{session: session, err: err})
	}()

	_, runErr := program.Run()

	// The user may have quit mid-analysis; wait for Start so the refund lands.
	cancel()
	started := <-startDone

	if runErr != nil && started.err == nil {
		return wf.Snapshot(), fmt.Errorf("analysis view failed: %w", runErr)
	}
	if started.err != nil {
		return started.session, started.err
	}
	return wf.Snapshot(), nil
}
