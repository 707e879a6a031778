package llm

import (
	"context"
	"time"
)

// ErrorCode classifies LLM backend failures for retry and fallback decisions.
type ErrorCode string

const (
	ErrInvalidRequest      ErrorCode = "LLM_INVALID_REQUEST"      // bad parameters or format
	ErrUnauthorized        ErrorCode = "LLM_UNAUTHORIZED"         // missing or expired key
	ErrForbidden           ErrorCode = "LLM_FORBIDDEN"            // permission or content policy
	ErrRateLimited         ErrorCode = "LLM_RATE_LIMITED"         // upstream or local throttling
	ErrQuotaExceeded       ErrorCode = "LLM_QUOTA_EXCEEDED"       // credits exhausted
	ErrUpstreamTimeout     ErrorCode = "LLM_UPSTREAM_TIMEOUT"     // upstream timed out
	ErrUpstreamError       ErrorCode = "LLM_UPSTREAM_ERROR"       // upstream 5xx / network failure
	ErrProviderUnavailable ErrorCode = "LLM_PROVIDER_UNAVAILABLE" // provider down or misconfigured
)

// Error is the unified error type returned by providers.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// IsTransport reports whether err is a provider transport/availability
// failure, as opposed to a locally detected parse or validation failure.
// Transport failures must not trigger corrective prompt rewriting.
func IsTransport(err error) bool {
	_, ok := err.(*Error)
	return ok
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`
}

// ChatRequest is a single completion request against one model.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []Message     `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
	TopP        float32       `json:"top_p,omitempty"`
	JSONMode    bool          `json:"json_mode,omitempty"` // request response_format: json_object
	Timeout     time.Duration `json:"timeout,omitempty"`
}

type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

type ChatChoice struct {
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason,omitempty"`
	Message      Message `json:"message"`
}

type ChatResponse struct {
	ID        string       `json:"id,omitempty"`
	Provider  string       `json:"provider,omitempty"`
	Model     string       `json:"model"`
	Choices   []ChatChoice `json:"choices"`
	Usage     ChatUsage    `json:"usage,omitempty"`
	CreatedAt time.Time    `json:"created_at,omitempty"`
}

// Text returns the content of the first choice, or "" when there is none.
func (r *ChatResponse) Text() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// HealthStatus is the result of a provider health probe.
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
}

// Provider is the unified adapter interface over a text-generation backend.
type Provider interface {
	// Completion performs a synchronous chat request and returns the full response.
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// HealthCheck performs a lightweight availability probe.
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	// Name returns the provider's unique identifier.
	Name() string
}
