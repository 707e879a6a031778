package journey

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
)

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

func newTestArchitect(t *testing.T, responses ...string) *Agent {
	t.Helper()

	gen, err := structured.NewGenerator(
		[]structured.Backend{{Provider: &fakeProvider{responses: responses}, Model: "test-model"}},
		zap.NewNop(),
		structured.WithAttempts(1),
		structured.WithBackoff(&retry.Policy{}),
	)
	require.NoError(t, err)
	return New(gen, zap.NewNop())
}

func testInput() Input {
	return Input{
		UserID: "u1",
		Profile: ProfileInput{
			OverallSkillLevel: "beginner",
			PriorityTopics:    []string{"Go Basics", "Concurrency"},
			LearningPace:      "moderate",
			TimeCommitment:    10,
			InterestsDetail: map[string]InterestDetail{
				"Go Programming": {Topics: []string{"Syntax", "Goroutines"}, Category: "Programming"},
			},
			ProfileSummary: "Beginner interested in backend development",
		},
	}
}

func TestAgent_Design(t *testing.T) {
	a := newTestArchitect(t,
		// topic_expander
		`{"foundational": [{"name": "Go Syntax", "description": "Basics", "estimated_hours": 5}],
		  "core": [{"name": "Goroutines", "description": "Concurrency primitives", "estimated_hours": 8}],
		  "advanced": [], "optional": []}`,
		// prerequisite_mapper
		`{"Go Syntax": {"required_prerequisites": [], "recommended_prerequisites": [], "can_learn_with": []},
		  "Goroutines": {"required_prerequisites": ["Go Syntax"], "recommended_prerequisites": [], "can_learn_with": []}}`,
		// journey_sequencer
		`{"journey": [
		  {"position": 1, "topic": "Go Syntax", "description": "Start here", "prerequisites": [], "status": "available", "estimated_hours": 5, "interest_area": "Go Programming"},
		  {"position": 2, "topic": "Goroutines", "description": "Then this", "prerequisites": ["Go Syntax"], "status": "locked", "estimated_hours": 8, "interest_area": "Go Programming"}
		]}`,
	)

	var stages []string
	path, err := a.Design(context.Background(), testInput(), func(stage string, percent int) {
		stages = append(stages, stage)
	})
	require.NoError(t, err)

	require.Len(t, path.Steps, 2)
	assert.Equal(t, "Go Syntax", path.Steps[0].Topic)
	assert.Equal(t, "available", path.Steps[0].Status)
	assert.Equal(t, []string{"Go Syntax"}, path.Steps[1].Prerequisites)
	assert.Equal(t, 13, path.TotalHours)
	assert.False(t, path.Degraded)
	assert.Contains(t, path.Reasoning, "Journey created for new learner")
	assert.Empty(t, path.AdjustmentNotes)

	assert.Equal(t, []string{
		"topic_expander", "prerequisite_mapper", "journey_sequencer", "journey_finalizer",
	}, stages)
}

func TestAgent_DesignDegradesToLinearPath(t *testing.T) {
	a := newTestArchitect(t, "no json here at all")

	path, err := a.Design(context.Background(), testInput(), nil)
	require.NoError(t, err)

	// The fallback chains priority topics linearly: first available, the
	// rest locked behind their predecessor.
	require.Len(t, path.Steps, 2)
	assert.True(t, path.Degraded)
	assert.Equal(t, "Go Basics", path.Steps[0].Topic)
	assert.Equal(t, "available", path.Steps[0].Status)
	assert.Equal(t, "Concurrency", path.Steps[1].Topic)
	assert.Equal(t, "locked", path.Steps[1].Status)
	assert.Equal(t, []string{"Go Basics"}, path.Steps[1].Prerequisites)
}

func TestAgent_DesignWithPerformanceAdjustment(t *testing.T) {
	a := newTestArchitect(t,
		`{"foundational": [{"name": "Go Syntax", "estimated_hours": 5}], "core": [], "advanced": [], "optional": []}`,
		`{"Go Syntax": {"required_prerequisites": [], "recommended_prerequisites": [], "can_learn_with": []}}`,
		`{"journey": [{"position": 1, "topic": "Go Syntax", "status": "available", "estimated_hours": 5}]}`,
	)

	input := testInput()
	input.Performance = &PerformanceInput{
		StrongTopics: []string{"Variables"},
		WeakTopics:   []string{"Pointers"},
	}

	path, err := a.Design(context.Background(), input, nil)
	require.NoError(t, err)

	assert.Contains(t, path.Reasoning, "adjusted based on performance data")
	assert.Contains(t, path.Reasoning, "Pointers")
	assert.Equal(t, "Journey modified based on performance analysis", path.AdjustmentNotes)
}

func TestAgent_DesignMilestonesEveryFiveSteps(t *testing.T) {
	steps := `{"journey": [
	  {"topic": "T1", "status": "available"}, {"topic": "T2"}, {"topic": "T3"},
	  {"topic": "T4"}, {"topic": "T5"}, {"topic": "T6"}]}`
	a := newTestArchitect(t,
		`{"foundational": [{"name": "T1", "estimated_hours": 2}], "core": [], "advanced": [], "optional": []}`,
		`{"T1": {"required_prerequisites": [], "recommended_prerequisites": [], "can_learn_with": []}}`,
		steps,
	)

	path, err := a.Design(context.Background(), testInput(), nil)
	require.NoError(t, err)

	require.Len(t, path.Steps, 6)
	assert.True(t, path.Steps[4].IsMilestone)
	assert.Equal(t, "Checkpoint 1", path.Steps[4].MilestoneName)
	assert.False(t, path.Steps[5].IsMilestone)

	// Positions and default hours are normalized.
	for i, step := range path.Steps {
		assert.Equal(t, i+1, step.Position)
		assert.Greater(t, step.EstimatedHours, 0)
	}
}

func TestAgent_DesignValidation(t *testing.T) {
	a := newTestArchitect(t, `{}`)

	_, err := a.Design(context.Background(), Input{}, nil)
	require.Error(t, err)

	_, err = a.Design(context.Background(), Input{UserID: "u1"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one interest or priority topic")
}
