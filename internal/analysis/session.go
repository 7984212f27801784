package analysis

import (
	"time"

	"github.com/Veraticus/fitcheck/internal/model"
)

// Request is the user's input for one analysis.
type Request struct {
	Image    []byte
	MimeType string
	Occasion model.Occasion
	Tone     model.Tone
	// Language is an ISO code; empty uses the workflow default.
	Language string
}

// Session is a read-only snapshot of the workflow state.
type Session struct {
	StartedAt time.Time
	ID        string
	MimeType  string
	Language  string
	Tone      model.Tone
	Stage     model.Stage
	// Enrichment is StageSearchingImages while image searches run, then StageComplete.
	Enrichment model.Stage
	// LastError is the message of the most recent fatal failure.
	LastError string
	Occasion  model.Occasion
	Image     []byte
	Result    model.Analysis
	Audio     model.AudioClip
}

// HasResult reports whether the session holds a completed critique.
func (s Session) HasResult() bool {
	return s.Stage == model.StageComplete
}

// EnrichedCount returns how many suggestions have search results.
func (s Session) EnrichedCount() int {
	n := 0
	for _, sug := range s.Result.Suggestions {
		if len(sug.Results) > 0 {
			n++
		}
	}
	return n
}

func (s Session) clone() Session {
	out := s
	if s.Image != nil {
		out.Image = append([]byte(nil), s.Image...)
	}
	out.Result = s.Result.Clone()
	return out
}

// clearOutputs drops everything produced by a run, keeping the inputs.
func (s *Session) clearOutputs() {
	s.Stage = model.StageIdle
	s.Enrichment = model.StageIdle
	s.Result = model.Analysis{}
	s.Audio = model.AudioClip{}
	s.LastError = ""
}
