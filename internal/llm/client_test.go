package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medical-control-plane/backend/pkg/apperr"
	"github.com/medical-control-plane/backend/pkg/retry"
)

func TestCompleteSendsJSONFormat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		format, ok := req["response_format"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "json_object", format["type"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4o-mini-2024-07-18",
			"choices": []map[string]interface{}{
				{"index": 0, "message": map[string]string{"role": "assistant", "content": `{"intent":"general_query"}`}},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	defer server.Close()

	c := NewClient(Config{
		APIKey:  "sk-test",
		BaseURL: server.URL + "/v1",
		Model:   "gpt-4o-mini",
		Retry:   retry.Config{MaxAttempts: 1},
	})

	resp, err := c.Complete(context.Background(), CompletionRequest{SystemPrompt: "s", UserPrompt: "u", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"intent":"general_query"}`, resp.Content)
	assert.Equal(t, "gpt-4o-mini-2024-07-18", resp.Model)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestCompleteWithoutKey(t *testing.T) {
	c := NewClient(Config{Model: "gpt-4o-mini"})
	assert.False(t, c.Configured())

	_, err := c.Complete(context.Background(), CompletionRequest{UserPrompt: "u"})
	assert.Equal(t, apperr.KindNotConfigured, apperr.KindOf(err))
}

func TestCompleteTimeoutIsUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	c := NewClient(Config{
		APIKey:  "sk-test",
		BaseURL: server.URL + "/v1",
		Model:   "m",
		Timeout: 20 * time.Millisecond,
		Retry:   retry.Config{MaxAttempts: 1},
	})

	_, err := c.Complete(context.Background(), CompletionRequest{UserPrompt: "u"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindUpstreamFailure, apperr.KindOf(err))
}
