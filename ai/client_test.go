package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleHistory = []ChatMessage{
	{Role: RoleSystem, Content: "Be brief."},
	{Role: RoleUser, Content: "Hello"},
	{Role: RoleAssistant, Content: "Hi!"},
	{Role: RoleUser, Content: "What is Go?"},
}

func TestOpenAIClientComplete(t *testing.T) {
	var got struct {
		Model    string        `json:"model"`
		Messages []ChatMessage `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"message":{"role":"assistant","content":"  A language.  "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-test", "gpt-4o-mini", srv.URL+"/v1", 64, nil)
	reply, err := c.Complete(context.Background(), sampleHistory)

	require.NoError(t, err)
	assert.Equal(t, "A language.", reply)
	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.Equal(t, sampleHistory, got.Messages)
	assert.Equal(t, ProviderOpenAI, c.Provider())
}

func TestOpenAIClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"model overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-test", "gpt-4o-mini", srv.URL+"/v1", 0, nil)
	_, err := c.Complete(context.Background(), sampleHistory)

	var upErr *UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, KindStatus, upErr.Kind)
	assert.Equal(t, http.StatusInternalServerError, upErr.StatusCode)
	assert.Contains(t, upErr.Detail, "model overloaded")
}

func TestOpenAIClientEmptyChoicesIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-test", "gpt-4o-mini", srv.URL+"/v1", 0, nil)
	_, err := c.Complete(context.Background(), sampleHistory)

	var upErr *UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, KindMalformed, upErr.Kind)
}

func TestOpenAIClientHonoursDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := NewOpenAIClient("sk-test", "gpt-4o-mini", srv.URL+"/v1", 0, nil)
	_, err := c.Complete(ctx, sampleHistory)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHuggingFaceClientComplete(t *testing.T) {
	var got hfRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/org/model-7b", r.URL.Path)
		assert.Equal(t, "Bearer hf-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"generated_text":" Go is a language. "}]`))
	}))
	defer srv.Close()

	c := NewHuggingFaceClient("hf-test", "org/model-7b", srv.URL, 128, nil)
	reply, err := c.Complete(context.Background(), sampleHistory)

	require.NoError(t, err)
	assert.Equal(t, "Go is a language.", reply)
	assert.False(t, got.Parameters.ReturnFullText)
	assert.Equal(t, 128, got.Parameters.MaxNewTokens)
	assert.Equal(t, FormatPrompt(sampleHistory), got.Inputs)
}

func TestHuggingFaceClientErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		kind   ErrorKind
		detail string
	}{
		{"status", http.StatusServiceUnavailable, `{"error":"Model is loading"}`, KindStatus, "Model is loading"},
		{"empty list", http.StatusOK, `[]`, KindMalformed, "no generations"},
		{"empty text", http.StatusOK, `[{"generated_text":"   "}]`, KindMalformed, "empty"},
		{"not json", http.StatusOK, `<html>`, KindMalformed, "not valid JSON"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := NewHuggingFaceClient("hf-test", "m", srv.URL, 0, nil)
			_, err := c.Complete(context.Background(), sampleHistory)

			var upErr *UpstreamError
			require.True(t, errors.As(err, &upErr))
			assert.Equal(t, tc.kind, upErr.Kind)
			assert.Contains(t, upErr.Detail, tc.detail)
		})
	}
}

func TestHuggingFaceSingleObjectResponse(t *testing.T) {
	text, err := parseGeneration([]byte(`{"generated_text":"ok"}`))
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
}

func TestFormatPrompt(t *testing.T) {
	assert.Equal(t,
		"System: Be brief.\nUser: Hello\nAssistant: Hi!\nUser: What is Go?\nAssistant:",
		FormatPrompt(sampleHistory))
}

func TestCannedClient(t *testing.T) {
	first := func(int) int { return 0 }
	c := NewCannedClient(first)

	cases := map[string]string{
		"Hello there":             "Hello! How can I help you today?",
		"ok, goodbye!":            "Goodbye! Have a great day!",
		"Thanks a lot":            "You're welcome!",
		"I think so":              "That's interesting. Tell me more.",
		"see you tomorrow":        "Goodbye! Have a great day!",
		"":                        "That's interesting. Tell me more.",
		"GOOD MORNING, everyone.": "Hello! How can I help you today?",
	}

	for msg, want := range cases {
		reply, err := c.Complete(context.Background(), []ChatMessage{{Role: RoleUser, Content: msg}})
		require.NoError(t, err)
		assert.Equal(t, want, reply, msg)
	}
}

func TestCannedClientRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCannedClient(nil).Complete(ctx, sampleHistory)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewCompleter(t *testing.T) {
	_, err := NewCompleter(Settings{Provider: ProviderOpenAI})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = NewCompleter(Settings{Provider: ProviderHuggingFace})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = NewCompleter(Settings{Provider: "bogus", APIKey: "k"})
	assert.Error(t, err)

	c, err := NewCompleter(Settings{Provider: ProviderCanned})
	require.NoError(t, err)
	assert.Equal(t, ProviderCanned, c.Provider())

	c, err = NewCompleter(Settings{Provider: ProviderHuggingFace, APIKey: "k", Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "m", c.Model())
}
