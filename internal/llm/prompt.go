package llm

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"

	"github.com/Veraticus/fitcheck/internal/service"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// DefaultMaxIdeas caps the number of suggestions requested per analysis.
const DefaultMaxIdeas = 5

// promptBuilder renders the stylist system and user prompts.
type promptBuilder struct {
	system *template.Template
	user   *template.Template
}

type promptData struct {
	Style    string
	Language string
	Occasion string
	MaxIdeas int
}

func newPromptBuilder() (*promptBuilder, error) {
	system, err := template.ParseFS(templateFS, "templates/system.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse system template: %w", err)
	}
	user, err := template.ParseFS(templateFS, "templates/user.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse user template: %w", err)
	}
	return &promptBuilder{system: system, user: user}, nil
}

// build renders both prompts for req.
func (b *promptBuilder) build(req service.VisionRequest) (visionPrompt, error) {
	data := promptData{
		Style:    req.Tone.PromptStyle(),
		Language: languageName(req.Language),
		Occasion: req.Occasion,
		MaxIdeas: req.MaxIdeas,
	}
	if data.MaxIdeas <= 0 {
		data.MaxIdeas = DefaultMaxIdeas
	}

	var system, user bytes.Buffer
	if err := b.system.Execute(&system, data); err != nil {
		return visionPrompt{}, fmt.Errorf("failed to render system prompt: %w", err)
	}
	if err := b.user.Execute(&user, data); err != nil {
		return visionPrompt{}, fmt.Errorf("failed to render user prompt: %w", err)
	}

	return visionPrompt{
		System:   system.String(),
		User:     user.String(),
		Image:    req.Image,
		MimeType: req.MimeType,
	}, nil
}

var languageNames = map[string]string{
	"en": "English",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"it": "Italian",
	"pt": "Portuguese",
	"ja": "Japanese",
	"ko": "Korean",
	"zh": "Chinese",
}

// languageName turns an ISO code into a name the model follows reliably.
func languageName(code string) string {
	if code == "" {
		return "English"
	}
	if name, ok := languageNames[code]; ok {
		return name
	}
	return code
}
