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
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o"
)

// openAIClient talks to the OpenAI REST API.
type openAIClient struct {
	httpClient  *http.Client
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
}

// newOpenAIClient creates a new OpenAI API client.
func newOpenAIClient(cfg Config) (*openAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: OpenAI API key is required", common.ErrMissingConfig)
	}

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
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
		baseURL = defaultOpenAIBaseURL
	}

	return &openAIClient{
		apiKey:      cfg.APIKey,
		model:       model,
		baseURL:     baseURL,
		temperature: temperature,
		maxTokens:   maxTokens,
		httpClient: &http.Client{
			// Per-call deadlines come from the caller's context.
			Timeout: 5 * time.Minute,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

func (c *openAIClient) name() string { return "OpenAI" }

type openAIMessage struct {
	Role    string          `json:"role"`
	Content []openAIContent `json:"content"`
}

type openAIContent struct {
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
}

type openAIImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type openAIChatRequest struct {
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	Temperature    float64               `json:"temperature"`
	MaxTokens      int                   `json:"max_tokens"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

// openAIResponse represents the OpenAI chat completion response.
type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
		Index        int    `json:"index"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// complete sends the outfit photo and instructions as one chat completion.
func (c *openAIClient) complete(ctx context.Context, prompt visionPrompt) (string, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", prompt.MimeType, base64.StdEncoding.EncodeToString(prompt.Image))

	request := openAIChatRequest{
		Model: c.model,
		Messages: []openAIMessage{
			{
				Role:    "system",
				Content: []openAIContent{{Type: "text", Text: prompt.System}},
			},
			{
				Role: "user",
				Content: []openAIContent{
					{Type: "text", Text: prompt.User},
					{Type: "image_url", ImageURL: &openAIImageURL{URL: dataURL, Detail: "high"}},
				},
			},
		},
		Temperature:    c.temperature,
		MaxTokens:      c.maxTokens,
		ResponseFormat: &openAIResponseFormat{Type: "json_object"},
	}

	body, err := c.post(ctx, "/chat/completions", request)
	if err != nil {
		return "", err
	}

	var response openAIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", malformed(c.name(), "failed to parse response: %v", err)
	}
	if len(response.Choices) == 0 {
		return "", malformed(c.name(), "no completion choices returned")
	}

	return response.Choices[0].Message.Content, nil
}

// post sends a JSON request and returns the body of a 200 response.
func (c *openAIClient) post(ctx context.Context, path string, payload any) ([]byte, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(c.name(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(c.name(), err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(c.name(), resp.StatusCode, resp.Header, body)
	}
	return body, nil
}
