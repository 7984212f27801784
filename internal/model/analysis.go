package model

import (
	"fmt"
	"strings"
)

// Stage is the lifecycle position of an analysis session.
type Stage string

// Analysis stages.
const (
	StageIdle            Stage = "idle"
	StageAnalyzing       Stage = "analyzing"
	StageSearchingImages Stage = "searching-images"
	StageComplete        Stage = "complete"
	StageFailed          Stage = "failed"
)

// OccasionPreset is one of the built-in occasions offered to the user.
type OccasionPreset string

// Built-in occasions.
const (
	OccasionCasual    OccasionPreset = "casual"
	OccasionWork      OccasionPreset = "work"
	OccasionDate      OccasionPreset = "date"
	OccasionParty     OccasionPreset = "party"
	OccasionWedding   OccasionPreset = "wedding"
	OccasionInterview OccasionPreset = "interview"
	OccasionSport     OccasionPreset = "sport"
	OccasionCustom    OccasionPreset = "custom"
)

var occasionDescriptions = map[OccasionPreset]string{
	OccasionCasual:    "a casual day out",
	OccasionWork:      "a regular day at the office",
	OccasionDate:      "a romantic date",
	OccasionParty:     "an evening party",
	OccasionWedding:   "a wedding as a guest",
	OccasionInterview: "a job interview",
	OccasionSport:     "a sporty, active day",
}

// OccasionPresets lists the presets in display order.
func OccasionPresets() []OccasionPreset {
	return []OccasionPreset{
		OccasionCasual, OccasionWork, OccasionDate, OccasionParty,
		OccasionWedding, OccasionInterview, OccasionSport, OccasionCustom,
	}
}

// Occasion is the event an outfit is judged against: a preset or free text.
type Occasion struct {
	Preset OccasionPreset
	Custom string
}

// Resolve returns the occasion text sent to the stylist, or false when the
// selection does not produce a usable occasion.
func (o Occasion) Resolve() (string, bool) {
	if o.Preset == OccasionCustom {
		custom := strings.TrimSpace(o.Custom)
		return custom, custom != ""
	}
	desc, ok := occasionDescriptions[o.Preset]
	return desc, ok
}

// IsZero reports whether no occasion has been selected.
func (o Occasion) IsZero() bool {
	return o.Preset == "" && o.Custom == ""
}

// Tone selects how harsh the stylist is and how the critique is voiced.
type Tone string

// Tones.
const (
	ToneGentle   Tone = "gentle"
	ToneBalanced Tone = "balanced"
	ToneBrutal   Tone = "brutal"
)

// ParseTone converts user input into a Tone.
func ParseTone(s string) (Tone, error) {
	t := Tone(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("unknown tone %q (want gentle, balanced or brutal)", s)
	}
	return t, nil
}

// IsValid reports whether t is a known tone.
func (t Tone) IsValid() bool {
	switch t {
	case ToneGentle, ToneBalanced, ToneBrutal:
		return true
	}
	return false
}

// Voice is the TTS voice used for the tone.
func (t Tone) Voice() string {
	switch t {
	case ToneGentle:
		return "shimmer"
	case ToneBrutal:
		return "onyx"
	default:
		return "nova"
	}
}

// SpeechInstructions describes the delivery style for the TTS model.
func (t Tone) SpeechInstructions() string {
	switch t {
	case ToneGentle:
		return "Speak warmly and encouragingly, like a supportive friend who loves fashion."
	case ToneBrutal:
		return "Speak with dry, theatrical bluntness, like a runway critic who has seen it all."
	default:
		return "Speak confidently and clearly, like a professional personal stylist."
	}
}

// PromptStyle describes the critique register for the vision model.
func (t Tone) PromptStyle() string {
	switch t {
	case ToneGentle:
		return "kind and encouraging; lead with what works and frame fixes as small tweaks"
	case ToneBrutal:
		return "brutally honest and witty; do not soften criticism, but stay constructive"
	default:
		return "honest and balanced; name strengths and weaknesses equally"
	}
}

// Item is one garment or accessory the stylist identified in the photo.
type Item struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Comment  string `json:"comment"`
}

// SearchResult is one shoppable image hit for a suggestion.
type SearchResult struct {
	Title        string
	ImageURL     string
	ThumbnailURL string
	SourceURL    string
}

// FashionSuggestion is an item the stylist recommends adding or swapping in.
// Results stay nil until enrichment finds matches.
type FashionSuggestion struct {
	ID          string
	ItemName    string
	Reasoning   string
	SearchQuery string
	Results     []SearchResult
}

// Clone returns a deep copy of the suggestion.
func (s FashionSuggestion) Clone() FashionSuggestion {
	if s.Results != nil {
		s.Results = append([]SearchResult(nil), s.Results...)
	}
	return s
}

// Analysis is the structured critique returned by the vision collaborator.
type Analysis struct {
	OverallComment string
	Items          []Item
	Suggestions    []FashionSuggestion
}

// Clone returns a deep copy of the analysis.
func (a Analysis) Clone() Analysis {
	out := Analysis{OverallComment: a.OverallComment}
	if a.Items != nil {
		out.Items = append([]Item(nil), a.Items...)
	}
	if a.Suggestions != nil {
		out.Suggestions = make([]FashionSuggestion, len(a.Suggestions))
		for i, s := range a.Suggestions {
			out.Suggestions[i] = s.Clone()
		}
	}
	return out
}

// AudioClip is a synthesized, playable rendition of the critique.
type AudioClip struct {
	Path   string
	Format string
	Bytes  int
}

// IsZero reports whether no audio has been produced.
func (c AudioClip) IsZero() bool {
	return c.Path == ""
}
