package llm

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/Veraticus/fitcheck/internal/model"
)

// cleanMarkdownWrapper strips ```json fences and any prose around the JSON object.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		if nl := strings.Index(content, "\n"); nl != -1 {
			content = content[nl+1:]
		}
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
		content = strings.TrimSpace(content)
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start != -1 && end > start {
		content = content[start : end+1]
	}
	return content
}

type analysisJSON struct {
	OverallComment string       `json:"overall_comment"`
	Items          []model.Item `json:"items"`
	Suggestions    []struct {
		ItemName    string `json:"item_name"`
		Reasoning   string `json:"reasoning"`
		SearchQuery string `json:"search_query"`
	} `json:"suggestions"`
}

// parseAnalysis decodes the stylist's JSON answer. Suggestions get fresh ids;
// a missing search query falls back to the item name; at most maxIdeas are kept.
func parseAnalysis(provider, content string, maxIdeas int) (model.Analysis, error) {
	var raw analysisJSON
	if err := json.Unmarshal([]byte(cleanMarkdownWrapper(content)), &raw); err != nil {
		return model.Analysis{}, malformed(provider, "failed to parse JSON response: %v", err)
	}

	comment := strings.TrimSpace(raw.OverallComment)
	if comment == "" {
		return model.Analysis{}, malformed(provider, "response has no overall comment")
	}

	analysis := model.Analysis{OverallComment: comment}
	for _, item := range raw.Items {
		if strings.TrimSpace(item.Name) == "" {
			continue
		}
		analysis.Items = append(analysis.Items, item)
	}

	for _, s := range raw.Suggestions {
		name := strings.TrimSpace(s.ItemName)
		if name == "" {
			continue
		}
		query := strings.TrimSpace(s.SearchQuery)
		if query == "" {
			query = name
		}
		analysis.Suggestions = append(analysis.Suggestions, model.FashionSuggestion{
			ID:          uuid.NewString(),
			ItemName:    name,
			Reasoning:   strings.TrimSpace(s.Reasoning),
			SearchQuery: query,
		})
		if maxIdeas > 0 && len(analysis.Suggestions) == maxIdeas {
			break
		}
	}

	return analysis, nil
}
