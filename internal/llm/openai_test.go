package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/fitcheck/internal/common"
	"github.com/Veraticus/fitcheck/internal/model"
	"github.com/Veraticus/fitcheck/internal/service"
)

const stylistAnswer = "```json\n" + `{
  "overall_comment": "Sharp jacket, but the sneakers undercut it.",
  "items": [
    {"name": "navy blazer", "category": "outerwear", "comment": "Fits well."},
    {"name": "white sneakers", "category": "shoes", "comment": "Too casual."}
  ],
  "suggestions": [
    {"item_name": "brown loafers", "reasoning": "Dress up the feet.", "search_query": "brown leather loafers men"},
    {"item_name": "red scarf", "reasoning": "Adds color.", "search_query": ""}
  ]
}` + "\n```"

func testVisionRequest() service.VisionRequest {
	return service.VisionRequest{
		Image:    []byte{0xff, 0xd8, 0xff},
		MimeType: "image/jpeg",
		Occasion: "a job interview",
		Tone:     model.ToneBrutal,
		Language: "fr",
	}
}

func TestNewOpenAIClient(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "valid config", config: Config{APIKey: "test-key"}},
		{name: "missing API key", config: Config{}, wantErr: true},
		{name: "custom model and settings", config: Config{APIKey: "test-key", Model: "gpt-4.1", Temperature: 0.2, MaxTokens: 900}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := newOpenAIClient(tt.config)
			if tt.wantErr {
				require.ErrorIs(t, err, common.ErrMissingConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, defaultOpenAIBaseURL, client.baseURL)
		})
	}
}

func TestOpenAIStylist_Analyze(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIChatRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		if !assert.Len(t, req.Messages, 2) || !assert.Len(t, req.Messages[1].Content, 2) {
			return
		}
		assert.Contains(t, req.Messages[0].Content[0].Text, "French")
		assert.Contains(t, req.Messages[0].Content[0].Text, "brutally honest")
		assert.Contains(t, req.Messages[1].Content[0].Text, "a job interview")
		if !assert.NotNil(t, req.Messages[1].Content[1].ImageURL) {
			return
		}
		assert.True(t, strings.HasPrefix(req.Messages[1].Content[1].ImageURL.URL, "data:image/jpeg;base64,"))
		assert.Equal(t, "json_object", req.ResponseFormat.Type)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": stylistAnswer}},
			},
		})
	}))
	defer server.Close()

	stylist, err := NewStylist(Config{Provider: "openai", APIKey: "test-key", BaseURL: server.URL}, nil)
	require.NoError(t, err)

	analysis, err := stylist.Analyze(context.Background(), testVisionRequest())
	require.NoError(t, err)
	assert.Equal(t, "Sharp jacket, but the sneakers undercut it.", analysis.OverallComment)
	assert.Len(t, analysis.Items, 2)
	require.Len(t, analysis.Suggestions, 2)
	assert.Equal(t, "brown leather loafers men", analysis.Suggestions[0].SearchQuery)
	assert.Equal(t, "red scarf", analysis.Suggestions[1].SearchQuery)
	assert.NotEmpty(t, analysis.Suggestions[0].ID)
	assert.NotEqual(t, analysis.Suggestions[0].ID, analysis.Suggestions[1].ID)
	assert.Nil(t, analysis.Suggestions[0].Results)
}

func TestOpenAIStylist_ErrorClassification(t *testing.T) {
	tests := []struct {
		wantErr   error
		name      string
		body      string
		status    int
		wantCalls int32
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":{"message":"Incorrect API key"}}`, wantErr: common.ErrInvalidCredentials, wantCalls: 1},
		{name: "forbidden", status: http.StatusForbidden, body: `{}`, wantErr: common.ErrInvalidCredentials, wantCalls: 1},
		{name: "quota", status: http.StatusTooManyRequests, body: `{"error":{"message":"insufficient_quota"}}`, wantErr: common.ErrQuotaExceeded, wantCalls: 1},
		{name: "server error is retried", status: http.StatusBadGateway, body: `bad gateway`, wantErr: common.ErrNetwork, wantCalls: 2},
		{name: "bad request", status: http.StatusBadRequest, body: `{"error":{"message":"invalid image"}}`, wantErr: common.ErrMalformedResponse, wantCalls: 1},
		{name: "garbage content", status: http.StatusOK, body: `{"choices":[{"message":{"content":"I like it!"}}]}`, wantErr: common.ErrMalformedResponse, wantCalls: 1},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`, wantErr: common.ErrMalformedResponse, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			stylist, err := NewStylist(Config{
				APIKey:     "test-key",
				BaseURL:    server.URL,
				MaxRetries: 2,
				RetryDelay: time.Millisecond,
			}, nil)
			require.NoError(t, err)

			_, err = stylist.Analyze(context.Background(), testVisionRequest())
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestOpenAIStylist_DeadlineExpires(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	stylist, err := NewStylist(Config{APIKey: "test-key", BaseURL: server.URL, RetryDelay: time.Millisecond}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = stylist.Analyze(ctx, testVisionRequest())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStylist_Validation(t *testing.T) {
	stylist, err := NewStylist(Config{APIKey: "test-key", BaseURL: "http://127.0.0.1:1"}, nil)
	require.NoError(t, err)

	req := testVisionRequest()
	req.Image = nil
	_, err = stylist.Analyze(context.Background(), req)
	require.ErrorIs(t, err, common.ErrValidation)

	req = testVisionRequest()
	req.Occasion = " "
	_, err = stylist.Analyze(context.Background(), req)
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestNewStylist_UnknownProvider(t *testing.T) {
	_, err := NewStylist(Config{Provider: "claudecode", APIKey: "k"}, nil)
	require.ErrorIs(t, err, common.ErrInvalidConfig)
}
