// Package api defines the public request and response types of the HTTP
// boundary.
package api

import (
	"encoding/json"
	"time"
)

// Response is the canonical API envelope.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// ErrorInfo is the canonical error structure.
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// CreateJobRequest submits a background job.
type CreateJobRequest struct {
	// Type selects the registered processor (e.g. "onboarding",
	// "quiz_generation").
	Type string `json:"job_type"`

	// Params is the processor-specific input, passed through opaquely.
	Params json.RawMessage `json:"params"`
}

// CreateJobResponse acknowledges an accepted job.
type CreateJobResponse struct {
	JobID string `json:"job_id"`
}

// JobStatusResponse is a point-in-time snapshot of a job.
type JobStatusResponse struct {
	JobID           string          `json:"job_id"`
	Type            string          `json:"job_type"`
	Status          string          `json:"status"`
	Progress        int             `json:"progress"`
	ProgressMessage string          `json:"progress_message,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// HealthResponse reports service liveness and dependency state.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
