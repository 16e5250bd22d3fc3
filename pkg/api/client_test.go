package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		_, _ = w.Write([]byte(`{
			"id": "msg_01",
			"type": "message",
			"role": "assistant",
			"content": [{"type": "text", "text": "pong"}],
			"model": "test-model",
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 3, "output_tokens": 1}
		}`))
	}))
	defer server.Close()

	client := NewClient("secret", server.URL)
	resp, err := client.SendMessage(context.Background(), &MessageRequest{
		Model:     "test-model",
		MaxTokens: 16,
		Messages: []Message{
			{Role: RoleUser, Content: ContentList{NewTextContent("ping")}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "msg_01", resp.ID)
	assert.Equal(t, "pong", resp.FullText())
	assert.Equal(t, StopReasonEndTurn, resp.StopReason)
}

func TestServiceErrorPassedThroughVerbatim(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type": "error", "error": {"type": "rate_limit_error", "message": "Number of requests exceeds your rate limit"}}`))
	}))
	defer server.Close()

	client := NewClient("secret", server.URL)
	_, err := client.SendMessage(context.Background(), &MessageRequest{})
	require.Error(t, err)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, ErrorTypeRateLimit, apiErr.Type)
	assert.Equal(t, "Number of requests exceeds your rate limit", apiErr.Message)
}

func TestOpenMessageStreamForcesStreamFlag(t *testing.T) {
	var sawStream bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		sawStream = assert.Contains(t, string(body), `"stream":true`)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"type\": \"ping\"}\n\n"))
	}))
	defer server.Close()

	client := NewClient("secret", server.URL)
	req := &MessageRequest{Model: "test-model"}
	body, err := client.OpenMessageStream(context.Background(), req)
	require.NoError(t, err)
	defer func() {
		_ = body.Close()
	}()

	assert.True(t, sawStream)
	// The caller's request is not mutated.
	assert.False(t, req.Stream)
}
