package tui

import "github.com/Veraticus/fitcheck/internal/analysis"

// sessionMsg carries a workflow snapshot published while the view is open.
type sessionMsg struct {
	session analysis.Session
}

// startDoneMsg is sent when Workflow.Start returns.
type startDoneMsg struct {
	err     error
	session analysis.Session
}

// updatesClosedMsg is sent when the workflow subscription ends.
type updatesClosedMsg struct{}
