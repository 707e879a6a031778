package feedback

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/learnflow/learnflow/agent/structured"
	"github.com/learnflow/learnflow/llm"
	"github.com/learnflow/learnflow/llm/retry"
	"github.com/learnflow/learnflow/types"
)

type fakeProvider struct {
	mu        sync.Mutex
	responses []string
	prompts   []string
	calls     int
}

func (p *fakeProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, m := range req.Messages {
		if m.Role == llm.RoleUser {
			p.prompts = append(p.prompts, m.Content)
		}
	}

	idx := p.calls
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	p.calls++
	return &llm.ChatResponse{
		Model: req.Model,
		Choices: []llm.ChatChoice{
			{Message: llm.Message{Role: llm.RoleAssistant, Content: p.responses[idx]}},
		},
	}, nil
}

func (p *fakeProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}

func (p *fakeProvider) Name() string { return "fake" }

func newTestCoach(t *testing.T, provider *fakeProvider) *Coach {
	t.Helper()

	gen, err := structured.NewGenerator(
		[]structured.Backend{{Provider: provider, Model: "test-model"}},
		zap.NewNop(),
		structured.WithAttempts(1),
		structured.WithBackoff(&retry.Policy{}),
	)
	require.NoError(t, err)
	return New(gen, zap.NewNop())
}

func TestCoach_RespondNegativeSentiment(t *testing.T) {
	score := 45
	p := &fakeProvider{responses: []string{
		`{"sentiment": "negative"}`,
		`{"feedback": "You are closer than you think. Keep at it."}`,
	}}
	coach := newTestCoach(t, p)

	resp, err := coach.Respond(context.Background(), Request{
		UserID:    "u1",
		UserInput: "I'm really struggling with this topic.",
		Performance: &PerformanceContext{
			Strengths:     []string{"Python Basics"},
			KnowledgeGaps: []string{"Recursion"},
			RecentScore:   &score,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "negative", resp.Sentiment)
	assert.Equal(t, "You are closer than you think. Keep at it.", resp.Feedback)

	// The feedback prompt carries the detected tone and the performance
	// context the coach should acknowledge.
	require.Len(t, p.prompts, 2)
	assert.Contains(t, p.prompts[1], "frustrated or disengaged")
	assert.Contains(t, p.prompts[1], "Python Basics")
	assert.Contains(t, p.prompts[1], "Recursion")
	assert.Contains(t, p.prompts[1], "45%")
}

func TestCoach_SentimentDegradesToNeutral(t *testing.T) {
	p := &fakeProvider{responses: []string{
		"not json",
		`{"feedback": "Nice steady progress."}`,
	}}
	coach := newTestCoach(t, p)

	resp, err := coach.Respond(context.Background(), Request{
		UserID:    "u1",
		UserInput: "just checking in",
	})
	require.NoError(t, err)
	assert.Equal(t, "neutral", resp.Sentiment)
	assert.Equal(t, "Nice steady progress.", resp.Feedback)
}

func TestCoach_UnrecognizedSentimentIsNeutral(t *testing.T) {
	p := &fakeProvider{responses: []string{
		`{"sentiment": "ecstatic"}`,
		`{"feedback": "ok"}`,
	}}
	coach := newTestCoach(t, p)

	resp, err := coach.Respond(context.Background(), Request{UserID: "u1", UserInput: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "neutral", resp.Sentiment)
}

func TestCoach_RequiresInput(t *testing.T) {
	coach := newTestCoach(t, &fakeProvider{responses: []string{"{}"}})

	_, err := coach.Respond(context.Background(), Request{UserID: "u1"})
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrInvalidRequest))
}

func TestCoach_FeedbackFailureSurfaces(t *testing.T) {
	p := &fakeProvider{responses: []string{
		`{"sentiment": "positive"}`,
		"no feedback json",
	}}
	coach := newTestCoach(t, p)

	_, err := coach.Respond(context.Background(), Request{UserID: "u1", UserInput: "great session!"})
	require.Error(t, err)
	assert.True(t, structured.IsExhausted(err))
}
