package quizgen

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

// fakeProvider replays canned completions in order, repeating the last one.
type fakeProvider struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

func (p *fakeProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

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

func newTestAgent(t *testing.T, responses ...string) *Agent {
	t.Helper()

	gen, err := structured.NewGenerator(
		[]structured.Backend{{Provider: &fakeProvider{responses: responses}, Model: "test-model"}},
		zap.NewNop(),
		structured.WithBackoff(&retry.Policy{}),
	)
	require.NoError(t, err)
	return New(gen, zap.NewNop())
}

const validQuizJSON = `{
  "questions": [
    {"question": "What is a pointer?", "options": ["A", "B", "C", "D"], "correct_answer": "A", "explanation": "..."},
    {"question": "What is nil?", "options": ["A", "B", "C", "D"], "correct_answer": "B"}
  ]
}`

func TestAgent_GenerateQuiz(t *testing.T) {
	a := newTestAgent(t, validQuizJSON)

	quiz, err := a.Generate(context.Background(), Request{
		UserID:       "u1",
		Topic:        "pointers",
		SkillLevel:   "beginner",
		NumQuestions: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, "pointers", quiz.Topic)
	assert.Equal(t, "beginner", quiz.Difficulty)
	require.Len(t, quiz.Questions, 2)
	assert.Equal(t, "What is a pointer?", quiz.Questions[0].Question)
	assert.Len(t, quiz.Questions[0].Options, 4)
}

func TestAgent_RequiresTopic(t *testing.T) {
	a := newTestAgent(t, validQuizJSON)

	_, err := a.Generate(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrInvalidRequest))
}

func TestAgent_DefaultsApplied(t *testing.T) {
	req := Request{Topic: "maps"}
	require.NoError(t, req.Validate())
	assert.Equal(t, 5, req.NumQuestions)
	assert.Equal(t, "intermediate", req.SkillLevel)
}

func TestAgent_EmptyQuestionsIsAnError(t *testing.T) {
	a := newTestAgent(t, `{"questions": []}`)

	_, err := a.Generate(context.Background(), Request{Topic: "slices", NumQuestions: 3})
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrIncompleteOutput))
}

func TestAgent_RecoversFromMalformedOutput(t *testing.T) {
	a := newTestAgent(t,
		"Sure! Here is your quiz without any JSON.",
		validQuizJSON,
	)

	quiz, err := a.Generate(context.Background(), Request{Topic: "channels", NumQuestions: 2})
	require.NoError(t, err)
	assert.Len(t, quiz.Questions, 2)
}

func TestAgent_ExhaustionSurfaces(t *testing.T) {
	a := newTestAgent(t, "never json")

	_, err := a.Generate(context.Background(), Request{Topic: "generics"})
	require.Error(t, err)
	assert.True(t, structured.IsExhausted(err))
}
