package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Veraticus/fitcheck/internal/common"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	defaultAnthropicModel   = "claude-3-5-sonnet-latest"
	anthropicVersion        = "2023-06-01"
)

// anthropicClient talks to the Anthropic Messages API.
type anthropicClient struct {
	httpClient  *http.Client
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
}

// newAnthropicClient creates a new Anthropic API client.
func newAnthropicClient(cfg Config) (*anthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: anthropic API key is required", common.ErrMissingConfig)
	}

	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}

	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.7
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1500
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}

	return &anthropicClient{
		apiKey:      cfg.APIKey,
		model:       model,
		baseURL:     baseURL,
		temperature: temperature,
		maxTokens:   maxTokens,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

func (c *anthropicClient) name() string { return "anthropic" }

type anthropicContent struct {
	Source *anthropicImageSource `json:"source,omitempty"`
	Type   string                `json:"type"`
	Text   string                `json:"text,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
}

// anthropicResponse represents the Anthropic API response structure.
type anthropicResponse struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Role       string `json:"role"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// complete sends the outfit photo and instructions as one message.
func (c *anthropicClient) complete(ctx context.Context, prompt visionPrompt) (string, error) {
	request := anthropicRequest{
		Model:       c.model,
		System:      prompt.System,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Messages: []anthropicMessage{
			{
				Role: "user",
				Content: []anthropicContent{
					{
						Type: "image",
						Source: &anthropicImageSource{
							Type:      "base64",
							MediaType: prompt.MimeType,
							Data:      base64.StdEncoding.EncodeToString(prompt.Image),
						},
					},
					{Type: "text", Text: prompt.User},
				},
			},
		},
	}

	jsonBody, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", transportError(c.name(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transportError(c.name(), err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", statusError(c.name(), resp.StatusCode, resp.Header, body)
	}

	var response anthropicResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", malformed(c.name(), "failed to parse response: %v", err)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", malformed(c.name(), "no content in response")
	}
	return text.String(), nil
}
