// Package quizgen generates difficulty-appropriate multiple-choice quizzes.
package quizgen

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/learnflow/learnflow/agent/structured"
	"github.com/learnflow/learnflow/types"
)

// Request describes one quiz to generate.
type Request struct {
	UserID       string `json:"user_id"`
	Topic        string `json:"topic"`
	SkillLevel   string `json:"skill_level"`
	NumQuestions int    `json:"num_questions"`
}

// Validate rejects requests the generator cannot serve and fills defaults.
func (r *Request) Validate() error {
	if r.Topic == "" {
		return fmt.Errorf("topic is required")
	}
	if r.NumQuestions <= 0 {
		r.NumQuestions = 5
	}
	if r.SkillLevel == "" {
		r.SkillLevel = "intermediate"
	}
	return nil
}

// Question is one multiple-choice question.
type Question struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
	Explanation   string   `json:"explanation,omitempty"`
}

// Quiz is a generated assessment.
type Quiz struct {
	Topic      string     `json:"topic"`
	Difficulty string     `json:"difficulty"`
	Questions  []Question `json:"questions"`
}

var difficultyGuidance = map[string]string{
	"beginner":     "Basic concepts, definitions, simple recall questions. Focus on fundamental understanding.",
	"intermediate": "Applied knowledge, scenario-based questions. Connect concepts to practical situations.",
	"advanced":     "Complex reasoning, edge cases, design trade-offs. Require deep understanding.",
}

// Agent generates quizzes through the structured generation chain.
type Agent struct {
	gen    *structured.Generator
	logger *zap.Logger
}

// New creates a quiz generation agent.
func New(gen *structured.Generator, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		gen:    gen,
		logger: logger.With(zap.String("component", "quizgen")),
	}
}

// Generate produces a quiz for the request. A quiz with zero questions is
// never returned as success; callers can rely on Questions being non-empty.
func (a *Agent) Generate(ctx context.Context, req Request) (*Quiz, error) {
	if err := req.Validate(); err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, err.Error())
	}

	guidance, ok := difficultyGuidance[req.SkillLevel]
	if !ok {
		guidance = difficultyGuidance["intermediate"]
	}

	prompt := fmt.Sprintf(`Generate a quiz with %d multiple-choice questions about %s.

Difficulty: %s
%s

Return JSON:
{
  "questions": [
    {"question": "Question text", "options": ["A", "B", "C", "D"], "correct_answer": "the correct option text", "explanation": "why it is correct"}
  ]
}

Requirements:
- Exactly %d questions
- Each question must have exactly 4 options
- The correct answer must match one of the options verbatim`,
		req.NumQuestions, req.Topic, req.SkillLevel, guidance, req.NumQuestions)

	var out struct {
		Questions []Question `json:"questions"`
	}
	err := a.gen.GenerateInto(ctx, structured.Request{
		System:         "You are an expert quiz generator. Always return valid JSON with well-crafted educational questions.",
		Prompt:         prompt,
		RequiredFields: []string{"questions"},
	}, &out)
	if err != nil {
		return nil, err
	}

	if len(out.Questions) == 0 {
		return nil, types.Errorf(types.ErrIncompleteOutput, "quiz for %q contained no questions", req.Topic)
	}
	if len(out.Questions) != req.NumQuestions {
		a.logger.Warn("question count mismatch",
			zap.String("topic", req.Topic),
			zap.Int("requested", req.NumQuestions),
			zap.Int("generated", len(out.Questions)),
		)
	}

	a.logger.Info("quiz generated",
		zap.String("topic", req.Topic),
		zap.String("difficulty", req.SkillLevel),
		zap.Int("questions", len(out.Questions)),
	)

	return &Quiz{
		Topic:      req.Topic,
		Difficulty: req.SkillLevel,
		Questions:  out.Questions,
	}, nil
}
