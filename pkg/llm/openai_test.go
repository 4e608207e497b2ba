package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIClientChat(t *testing.T) {
	t.Run("sends model, messages, and bearer auth", func(t *testing.T) {
		var captured chatRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/chat/completions", r.URL.Path)
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "hello"}}]}`))
		}))
		defer server.Close()

		client := NewOpenAIClient(server.URL+"/v1", "test-key", "gpt-4o-mini")
		reply, err := client.Chat(context.Background(), "you are a planner", "plan this", Options{})
		require.NoError(t, err)
		assert.Equal(t, "hello", reply)

		assert.Equal(t, "gpt-4o-mini", captured.Model)
		require.Len(t, captured.Messages, 2)
		assert.Equal(t, "system", captured.Messages[0].Role)
		assert.Equal(t, "user", captured.Messages[1].Role)
		assert.Nil(t, captured.ResponseFormat)
	})

	t.Run("JSON mode and per-call overrides", func(t *testing.T) {
		var captured chatRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
			w.Write([]byte(`{"choices": [{"message": {"content": "{}"}}]}`))
		}))
		defer server.Close()

		client := NewOpenAIClient(server.URL, "k", "gpt-4o-mini")
		_, err := client.Chat(context.Background(), "", "extract",
			Options{Model: "gpt-4o", JSONMode: true, Temperature: 0.2, MaxTokens: 1024})
		require.NoError(t, err)

		assert.Equal(t, "gpt-4o", captured.Model)
		require.NotNil(t, captured.ResponseFormat)
		assert.Equal(t, "json_object", captured.ResponseFormat.Type)
		assert.Equal(t, 0.2, captured.Temperature)
		assert.Equal(t, 1024, captured.MaxTokens)
		require.Len(t, captured.Messages, 1)
	})

	t.Run("non-200 status surfaces as error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error": {"message": "rate limited"}}`))
		}))
		defer server.Close()

		client := NewOpenAIClient(server.URL, "k", "m")
		_, err := client.Chat(context.Background(), "", "q", Options{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "429")
	})

	t.Run("embedded API error is reported", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"error": {"message": "context length exceeded", "type": "invalid_request_error"}}`))
		}))
		defer server.Close()

		client := NewOpenAIClient(server.URL, "k", "m")
		_, err := client.Chat(context.Background(), "", "q", Options{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "context length exceeded")
	})

	t.Run("empty choices is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"choices": []}`))
		}))
		defer server.Close()

		client := NewOpenAIClient(server.URL, "k", "m")
		_, err := client.Chat(context.Background(), "", "q", Options{})
		assert.ErrorContains(t, err, "no choices")
	})
}
