package structured

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/learnflow/learnflow/llm"
	"github.com/learnflow/learnflow/llm/retry"
	"github.com/learnflow/learnflow/types"
	"go.uber.org/zap"
)

// Backend is one (provider, model) candidate for an invocation.
type Backend struct {
	Provider llm.Provider
	Model    string
}

// Label returns "provider/model" for logs and metrics.
func (b Backend) Label() string {
	return b.Provider.Name() + "/" + b.Model
}

// Request describes one structured-output invocation.
type Request struct {
	// System is the system instruction.
	System string

	// Prompt is the user instruction, including the required-output-schema
	// description. It is the prompt that corrective rewrites reference and
	// that each new backend starts from.
	Prompt string

	// RequiredFields are the top-level JSON fields the parsed output must
	// contain. Empty means any valid JSON object is accepted.
	RequiredFields []string

	MaxTokens   int
	Temperature float32
}

// ExhaustedError is returned when every backend/attempt combination failed.
// It carries the last error observed.
type ExhaustedError struct {
	Backends int
	Attempts int
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("generation exhausted after %d attempts across %d backends: %v",
		e.Attempts*e.Backends, e.Backends, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error { return e.LastErr }

// IsExhausted reports whether err is an ExhaustedError.
func IsExhausted(err error) bool {
	var e *ExhaustedError
	return errors.As(err, &e)
}

// Observer receives the outcome of each individual backend call.
// Outcomes: "ok", "transport_error", "malformed", "incomplete".
type Observer func(backend string, outcome string)

// Generator obtains one well-formed JSON object from an ordered list of
// candidate backends, retrying with corrective prompts on parse and
// structure failures and falling back across backends on exhaustion.
type Generator struct {
	backends []Backend
	attempts int
	backoff  *retry.Policy
	logger   *zap.Logger
	observe  Observer
}

// Option configures a Generator.
type Option func(*Generator)

// WithAttempts sets the attempt budget per backend (default 3).
func WithAttempts(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.attempts = n
		}
	}
}

// WithBackoff sets the delay policy between attempts on the same backend.
func WithBackoff(p *retry.Policy) Option {
	return func(g *Generator) {
		if p != nil {
			g.backoff = p
		}
	}
}

// WithObserver sets a per-call outcome callback (used for metrics).
func WithObserver(o Observer) Option {
	return func(g *Generator) { g.observe = o }
}

// NewGenerator creates a Generator over the given backends, tried in order.
func NewGenerator(backends []Backend, logger *zap.Logger, opts ...Option) (*Generator, error) {
	if len(backends) == 0 {
		return nil, fmt.Errorf("at least one backend is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &Generator{
		backends: backends,
		attempts: 3,
		backoff:  retry.DefaultPolicy(),
		logger:   logger.With(zap.String("component", "structured")),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Generate runs the invocation protocol and returns the parsed JSON object,
// guaranteed to contain every field in req.RequiredFields. On total failure
// it returns an *ExhaustedError; it never returns a partial structure.
func (g *Generator) Generate(ctx context.Context, req Request) (map[string]any, error) {
	parsed, _, err := g.generate(ctx, req)
	return parsed, err
}

// GenerateInto runs the protocol and unmarshals the validated JSON into dest.
func (g *Generator) GenerateInto(ctx context.Context, req Request, dest any) error {
	_, payload, err := g.generate(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(payload), dest); err != nil {
		return types.Errorf(types.ErrMalformedOutput, "validated output does not fit target type").WithCause(err)
	}
	return nil
}

func (g *Generator) generate(ctx context.Context, req Request) (map[string]any, string, error) {
	var lastErr error

	for _, backend := range g.backends {
		// Each backend starts from the original prompt; corrective rewrites
		// from a previous backend do not carry over.
		prompt := req.Prompt

		for attempt := 1; attempt <= g.attempts; attempt++ {
			if err := g.backoff.Wait(ctx, attempt); err != nil {
				return nil, "", err
			}

			resp, err := backend.Provider.Completion(ctx, &llm.ChatRequest{
				Model: backend.Model,
				Messages: []llm.Message{
					{Role: llm.RoleSystem, Content: req.System},
					{Role: llm.RoleUser, Content: prompt},
				},
				MaxTokens:   req.MaxTokens,
				Temperature: req.Temperature,
				JSONMode:    true,
			})
			if err != nil {
				// Transport/availability failure: retry without rewriting
				// the prompt; the output was never seen.
				lastErr = types.NewError(types.ErrBackendUnavailable, backend.Label()).
					WithRetryable(true).WithCause(err)
				g.report(backend, "transport_error")
				g.logger.Warn("backend call failed",
					zap.String("backend", backend.Label()),
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
				continue
			}

			raw := resp.Text()
			parsed, parseErr := parseObject(raw)
			if parseErr != nil {
				lastErr = types.Errorf(types.ErrMalformedOutput, "backend %s returned invalid JSON", backend.Label()).
					WithCause(parseErr)
				prompt = rewriteMalformed(req.Prompt, raw, parseErr)
				g.report(backend, "malformed")
				g.logger.Warn("malformed output",
					zap.String("backend", backend.Label()),
					zap.Int("attempt", attempt),
					zap.Error(parseErr),
				)
				continue
			}

			if missing := missingFields(parsed, req.RequiredFields); len(missing) > 0 {
				lastErr = types.Errorf(types.ErrIncompleteOutput, "backend %s output missing required fields %v", backend.Label(), missing)
				prompt = rewriteIncomplete(req.Prompt, raw, missing)
				g.report(backend, "incomplete")
				g.logger.Warn("incomplete output",
					zap.String("backend", backend.Label()),
					zap.Int("attempt", attempt),
					zap.Strings("missing", missing),
				)
				continue
			}

			g.report(backend, "ok")
			g.logger.Debug("structured generation ok",
				zap.String("backend", backend.Label()),
				zap.Int("attempt", attempt),
			)
			return parsed, ExtractJSON(raw), nil
		}

		g.logger.Warn("backend exhausted",
			zap.String("backend", backend.Label()),
			zap.Int("attempts", g.attempts),
		)
	}

	return nil, "", &ExhaustedError{
		Backends: len(g.backends),
		Attempts: g.attempts,
		LastErr:  lastErr,
	}
}

func (g *Generator) report(b Backend, outcome string) {
	if g.observe != nil {
		g.observe(b.Label(), outcome)
	}
}

// parseObject extracts and parses a JSON object from a raw completion.
func parseObject(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty response")
	}
	payload := ExtractJSON(raw)
	var parsed map[string]any
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}

// missingFields returns the required fields absent from the parsed object.
func missingFields(parsed map[string]any, required []string) []string {
	var missing []string
	for _, field := range required {
		if _, ok := parsed[field]; !ok {
			missing = append(missing, field)
		}
	}
	return missing
}
