package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modforge/devkit/internal/constants"
)

// fakeServer answers /chat/completions with reply and records the last request body.
func fakeServer(t *testing.T, reply string, got *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if got != nil {
			_ = json.NewDecoder(r.Body).Decode(got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-123",
			"object": "chat.completion",
			"model":  "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewOpenAI_RequiresKey(t *testing.T) {
	t.Setenv(constants.EnvAPIKey, "")
	_, err := NewOpenAI(Options{})
	require.ErrorIs(t, err, ErrNoAPIKey)
}

func TestNewOpenAI_EnvKey(t *testing.T) {
	t.Setenv(constants.EnvAPIKey, "sk-env")
	c, err := NewOpenAI(Options{})
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestComplete_SendsRequestAndTrims(t *testing.T) {
	var body map[string]any
	srv := fakeServer(t, "  the answer \n", &body)

	c, err := NewOpenAI(Options{APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), Request{
		Model:       "test-model",
		Effort:      "high",
		Temperature: Float32(0.5),
		MaxTokens:   64,
		Messages: []Message{
			{Role: RoleSystem, Content: "sys"},
			{Role: RoleUser, Content: "hi"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "the answer", resp.Text)
	assert.Equal(t, "chatcmpl-123", resp.ID)

	assert.Equal(t, "test-model", body["model"])
	assert.Equal(t, "high", body["reasoning_effort"])
	assert.EqualValues(t, 64, body["max_completion_tokens"])
	assert.InDelta(t, 0.5, body["temperature"], 0.0001)
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 2)
}

func TestComplete_EffortNoneOmitted(t *testing.T) {
	var body map[string]any
	srv := fakeServer(t, "ok", &body)

	c, err := NewOpenAI(Options{APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), Request{
		Model:    "m",
		Effort:   constants.EffortNone,
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	_, present := body["reasoning_effort"]
	assert.False(t, present, "reasoning_effort should be omitted for effort=none")
}

func TestComplete_ZeroTemperatureSent(t *testing.T) {
	var body map[string]any
	srv := fakeServer(t, "ok", &body)

	c, err := NewOpenAI(Options{APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), Request{
		Model:       "m",
		Temperature: Float32(0),
		Messages:    []Message{{Role: RoleUser, Content: "q"}},
	})
	require.NoError(t, err)
	temp, present := body["temperature"]
	require.True(t, present, "explicit zero temperature must be sent")
	assert.InDelta(t, 0, temp, 0.0001)

	body = nil
	_, err = c.Complete(context.Background(), Request{
		Model:    "m",
		Messages: []Message{{Role: RoleUser, Content: "q"}},
	})
	require.NoError(t, err)
	_, present = body["temperature"]
	assert.False(t, present, "unset temperature is left to the server")
}

func TestComplete_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit"}}`))
	}))
	t.Cleanup(srv.Close)

	c, err := NewOpenAI(Options{APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), Request{Model: "m", Messages: []Message{{Role: RoleUser, Content: "x"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat completion failed")
}

func TestComplete_Validation(t *testing.T) {
	c, err := NewOpenAI(Options{APIKey: "sk-test", BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	assert.Error(t, err)
	_, err = c.Complete(context.Background(), Request{Model: "m"})
	assert.Error(t, err)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 1, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 25, EstimateTokens(string(make([]byte, 100))))
}
