package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ferrosa-tutor/work-flows/models"
)

func TestOpenRouterChatCompletion(t *testing.T) {
	var got models.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"content":"{\"feedback\":\"ok\",\"is_correct\":true}"}}]}`)
	}))
	defer srv.Close()

	c := NewOpenRouterClientWithBaseURL("sk-test", srv.URL+"/")
	reply, err := c.ChatCompletion(context.Background(), models.CompletionRequest{
		Model:          "openai/gpt-4o-mini",
		Messages:       []models.Message{{Role: models.MessageRoleUser, Content: "hi"}},
		Temperature:    models.Float(0.3),
		MaxTokens:      400,
		ResponseFormat: models.JSONObjectFormat(),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"feedback":"ok","is_correct":true}`, reply.Text)

	assert.False(t, got.Stream)
	assert.Equal(t, 400, got.MaxTokens)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.3, *got.Temperature, 1e-9)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
}

func TestOpenRouterStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewOpenRouterClientWithBaseURL("k", srv.URL)
	_, err := c.ChatCompletion(context.Background(), models.CompletionRequest{Model: "m"})
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(err))
	assert.True(t, IsRetryable(err))
	assert.Equal(t, "server", ErrorType(err))
	assert.Contains(t, err.Error(), "upstream overloaded")
}

func TestOpenRouterStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\", sister\"}}]}\n\n")
		fmt.Fprint(w, "data: not json\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewOpenRouterClientWithBaseURL("k", srv.URL)
	var deltas []string
	text, err := StreamText(context.Background(), c, models.CompletionRequest{Model: "m"}, func(d string) {
		deltas = append(deltas, d)
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello, sister", text)
	assert.Equal(t, []string{"Hello", ", sister"}, deltas)
}

func TestOpenRouterStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"par\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"error\":{\"message\":\"provider crashed\"}}\n\n")
	}))
	defer srv.Close()

	c := NewOpenRouterClientWithBaseURL("k", srv.URL)
	text, err := StreamText(context.Background(), c, models.CompletionRequest{Model: "m"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider crashed")
	assert.Equal(t, "par", text)
}
