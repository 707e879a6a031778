package openaicompat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/learnflow/learnflow/llm"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New(Config{
		ProviderName: "testprov",
		APIKey:       "sk-test",
		BaseURL:      srv.URL,
		DefaultModel: "default-model",
	}, zap.NewNop())
}

func completionRequest() *llm.ChatRequest {
	return &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "be brief"},
			{Role: llm.RoleUser, Content: "hi"},
		},
		JSONMode: true,
	}
}

func TestProvider_Completion(t *testing.T) {
	var captured map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "resp-1",
			"model": "default-model",
			"choices": []map[string]any{
				{"index": 0, "finish_reason": "stop", "message": map[string]any{"role": "assistant", "content": `{"ok": true}`}},
			},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	})

	resp, err := p.Completion(context.Background(), completionRequest())
	require.NoError(t, err)

	assert.Equal(t, `{"ok": true}`, resp.Text())
	assert.Equal(t, "testprov", resp.Provider)
	assert.Equal(t, 15, resp.Usage.TotalTokens)

	// The default model fills in when the request names none, and JSON
	// mode is forwarded as response_format.
	assert.Equal(t, "default-model", captured["model"])
	format, ok := captured["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_object", format["type"])
}

func TestProvider_CompletionHTTPErrors(t *testing.T) {
	cases := []struct {
		status    int
		wantCode  llm.ErrorCode
		retryable bool
	}{
		{http.StatusUnauthorized, llm.ErrUnauthorized, false},
		{http.StatusForbidden, llm.ErrForbidden, false},
		{http.StatusTooManyRequests, llm.ErrRateLimited, true},
		{http.StatusInternalServerError, llm.ErrUpstreamError, true},
		{http.StatusGatewayTimeout, llm.ErrUpstreamTimeout, true},
	}

	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.status)
			})

			_, err := p.Completion(context.Background(), completionRequest())
			require.Error(t, err)

			var llmErr *llm.Error
			require.ErrorAs(t, err, &llmErr)
			assert.Equal(t, tc.wantCode, llmErr.Code)
			assert.Equal(t, tc.retryable, llmErr.Retryable)
			assert.Equal(t, "testprov", llmErr.Provider)
		})
	}
}

func TestProvider_CompletionConnectionRefused(t *testing.T) {
	p := New(Config{
		ProviderName: "down",
		BaseURL:      "http://127.0.0.1:1",
	}, zap.NewNop())

	_, err := p.Completion(context.Background(), completionRequest())
	require.Error(t, err)

	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llm.ErrUpstreamError, llmErr.Code)
	assert.True(t, llmErr.Retryable)
	assert.True(t, llm.IsTransport(err))
}

func TestProvider_CompletionGarbageBody(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	})

	_, err := p.Completion(context.Background(), completionRequest())
	require.Error(t, err)

	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llm.ErrUpstreamError, llmErr.Code)
}

func TestProvider_HealthCheck(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	})

	status, err := p.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)
}

func TestProvider_HealthCheckFailure(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})

	status, err := p.HealthCheck(context.Background())
	require.Error(t, err)
	assert.False(t, status.Healthy)
}

func TestProvider_ExplicitModelWins(t *testing.T) {
	var captured map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":   "named-model",
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": "ok"}}},
		})
	})

	req := completionRequest()
	req.Model = "named-model"
	_, err := p.Completion(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "named-model", captured["model"])
}
