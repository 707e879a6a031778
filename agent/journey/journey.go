// Package journey designs ordered learning paths from a learner profile.
// The pipeline expands interests into topic breakdowns, maps prerequisites,
// sequences everything into steps, and finalizes milestones. Generation
// stages degrade to linear heuristics, so a profile always yields a path.
package journey

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/learnflow/learnflow/agent/structured"
	"github.com/learnflow/learnflow/workflow"
)

// InterestDetail is the per-interest slice of the learner profile.
type InterestDetail struct {
	Topics   []string `json:"topics"`
	Category string   `json:"category,omitempty"`
}

// ProfileInput carries the profile fields the architect consumes.
type ProfileInput struct {
	OverallSkillLevel string                    `json:"overall_skill_level"`
	PriorityTopics    []string                  `json:"priority_topics"`
	LearningPace      string                    `json:"learning_pace"`
	TimeCommitment    int                       `json:"time_commitment"`
	InterestsDetail   map[string]InterestDetail `json:"interests_detail"`
	SkillLevels       map[string]string         `json:"skill_levels,omitempty"`
	ProfileSummary    string                    `json:"profile_summary,omitempty"`
}

// PerformanceInput triggers an adjustment pass over an existing journey.
type PerformanceInput struct {
	StrongTopics []string `json:"strong_topics"`
	WeakTopics   []string `json:"weak_topics"`
}

// Input is the architect's full input.
type Input struct {
	UserID      string            `json:"user_id"`
	Profile     ProfileInput      `json:"profile"`
	Performance *PerformanceInput `json:"performance,omitempty"`
}

// Validate rejects input the pipeline cannot sequence anything from.
func (in *Input) Validate() error {
	if in.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if len(in.Profile.InterestsDetail) == 0 && len(in.Profile.PriorityTopics) == 0 {
		return fmt.Errorf("profile must contain at least one interest or priority topic")
	}
	if in.Profile.OverallSkillLevel == "" {
		in.Profile.OverallSkillLevel = "beginner"
	}
	return nil
}

// breakdownTopic is one topic inside a per-interest breakdown.
type breakdownTopic struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	EstimatedHours int    `json:"estimated_hours"`
}

// breakdown groups an interest's topics by depth.
type breakdown struct {
	Foundational []breakdownTopic `json:"foundational"`
	Core         []breakdownTopic `json:"core"`
	Advanced     []breakdownTopic `json:"advanced"`
	Optional     []breakdownTopic `json:"optional"`
}

type prereqEntry struct {
	RequiredPrerequisites    []string `json:"required_prerequisites"`
	RecommendedPrerequisites []string `json:"recommended_prerequisites"`
	CanLearnWith             []string `json:"can_learn_with"`
	Reasoning                string   `json:"reasoning,omitempty"`
}

// Step is one position in the learning journey.
type Step struct {
	Position       int      `json:"position"`
	Topic          string   `json:"topic"`
	Description    string   `json:"description"`
	Prerequisites  []string `json:"prerequisites"`
	Status         string   `json:"status"`
	EstimatedHours int      `json:"estimated_hours"`
	Reasoning      string   `json:"reasoning,omitempty"`
	InterestArea   string   `json:"interest_area,omitempty"`
	IsMilestone    bool     `json:"is_milestone"`
	MilestoneName  string   `json:"milestone_name,omitempty"`
}

// Journey is the finalized learning path.
type Journey struct {
	Steps           []Step `json:"steps"`
	Reasoning       string `json:"reasoning"`
	AdjustmentNotes string `json:"adjustment_notes,omitempty"`
	TotalHours      int    `json:"total_hours"`
	Degraded        bool   `json:"degraded,omitempty"`
}

// ProgressFunc reports pipeline progress as a stage name and percentage.
type ProgressFunc func(stage string, percent int)

type state struct {
	input    Input
	topics   map[string]breakdown
	prereqs  map[string]prereqEntry
	sequence []Step
	journey  Journey
	degraded bool
	progress ProgressFunc
}

// Agent designs learning journeys.
type Agent struct {
	gen    *structured.Generator
	chain  *workflow.Chain[state]
	logger *zap.Logger
}

// New creates a journey architect over the given generator.
func New(gen *structured.Generator, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Agent{
		gen:    gen,
		logger: logger.With(zap.String("component", "journey")),
	}
	a.chain = workflow.NewChain("journey_architect", logger,
		workflow.NewNode("topic_expander", a.expandTopics),
		workflow.NewNode("prerequisite_mapper", a.mapPrerequisites),
		workflow.NewNode("journey_sequencer", a.sequence),
		workflow.NewNode("journey_finalizer", a.finalize),
	)
	return a
}

// Design runs the full pipeline. The progress callback is optional.
func (a *Agent) Design(ctx context.Context, input Input, progress ProgressFunc) (*Journey, error) {
	if err := input.Validate(); err != nil {
		return nil, fmt.Errorf("invalid journey input: %w", err)
	}
	if progress == nil {
		progress = func(string, int) {}
	}

	final, err := a.chain.Run(ctx, state{input: input, progress: progress})
	if err != nil {
		return nil, err
	}

	journey := final.journey
	journey.Degraded = final.degraded
	return &journey, nil
}

// expandTopics breaks each interest into foundational/core/advanced/optional
// topics. A profile without interest detail falls back to one foundational
// topic per priority topic so the sequencer always has material.
func (a *Agent) expandTopics(ctx context.Context, s state) (state, error) {
	s.progress("topic_expander", 15)
	s.topics = make(map[string]breakdown)

	if len(s.input.Profile.InterestsDetail) == 0 {
		for _, topic := range s.input.Profile.PriorityTopics {
			s.topics[topic] = fallbackBreakdown(topic)
		}
		return s, nil
	}

	for name, detail := range s.input.Profile.InterestsDetail {
		prompt := fmt.Sprintf(`Create a comprehensive topic breakdown for learning "%s".

Skill Level: %s
Suggested Topics: %s

For %s learners, break down this subject into foundational topics (must
learn first), core topics (main content), advanced topics (for mastery),
and optional enrichment topics.

Return JSON:
{"foundational": [{"name": "...", "description": "...", "estimated_hours": 0}], "core": [...], "advanced": [...], "optional": [...]}`,
			name, s.input.Profile.OverallSkillLevel, strings.Join(detail.Topics, ", "),
			s.input.Profile.OverallSkillLevel)

		var bd breakdown
		err := a.gen.GenerateInto(ctx, structured.Request{
			System:         "You are an expert curriculum designer creating structured learning paths.",
			Prompt:         prompt,
			RequiredFields: []string{"foundational"},
		}, &bd)
		if err != nil {
			a.logger.Warn("topic expansion degraded",
				zap.String("interest", name), zap.Error(err))
			s.topics[name] = fallbackBreakdown(name)
			s.degraded = true
			continue
		}
		s.topics[name] = bd
	}
	return s, nil
}

// mapPrerequisites determines dependencies between all expanded topics.
// On exhaustion every topic gets an empty prerequisite set, which the
// sequencer treats as linear progression.
func (a *Agent) mapPrerequisites(ctx context.Context, s state) (state, error) {
	s.progress("prerequisite_mapper", 40)

	names := topicNames(s.topics)
	if len(names) == 0 {
		s.prereqs = map[string]prereqEntry{}
		return s, nil
	}

	list, _ := json.Marshal(names)
	prompt := fmt.Sprintf(`Determine prerequisites for these learning topics:

Topics: %s

For each topic, identify which other topics must be learned first,
recommended (but not required) prerequisites, and topics that can be
learned in parallel.

Return a JSON object mapping each topic name to:
{"required_prerequisites": ["..."], "recommended_prerequisites": ["..."], "can_learn_with": ["..."], "reasoning": "..."}`, list)

	parsed, err := a.gen.Generate(ctx, structured.Request{
		System: "You are an expert in curriculum sequencing and learning science.",
		Prompt: prompt,
	})
	if err != nil {
		a.logger.Warn("prerequisite mapping degraded", zap.Error(err))
		s.prereqs = linearPrereqs(names)
		s.degraded = true
		return s, nil
	}

	s.prereqs = decodeMap[prereqEntry](parsed)
	if len(s.prereqs) == 0 {
		s.prereqs = linearPrereqs(names)
		s.degraded = true
	}
	return s, nil
}

// sequence orders topics into the journey, honoring prerequisites, priority
// topics, time commitment, and pace.
func (a *Agent) sequence(ctx context.Context, s state) (state, error) {
	s.progress("journey_sequencer", 70)

	topics, _ := json.Marshal(s.topics)
	prereqs, _ := json.Marshal(s.prereqs)
	skills, _ := json.Marshal(s.input.Profile.SkillLevels)

	prompt := fmt.Sprintf(`Create an optimal learning journey sequence.

Topic Map: %s
Prerequisites: %s
Priority Topics: %s
Time Commitment: %d hours/week
Learning Pace: %s
Skill Levels: %s

Design a journey that starts with foundational topics, respects
prerequisites, prioritizes the learner's priority topics, fits the time
commitment, and adapts to existing skill levels.

Return JSON:
{"journey": [{"position": 1, "topic": "...", "description": "...", "prerequisites": [], "status": "available|locked|recommended", "estimated_hours": 0, "reasoning": "...", "interest_area": "..."}]}`,
		topics, prereqs, strings.Join(s.input.Profile.PriorityTopics, ", "),
		s.input.Profile.TimeCommitment, s.input.Profile.LearningPace, skills)

	var out struct {
		Journey []Step `json:"journey"`
	}
	err := a.gen.GenerateInto(ctx, structured.Request{
		System:         "You are an expert learning path architect creating personalized curricula.",
		Prompt:         prompt,
		RequiredFields: []string{"journey"},
	}, &out)
	if err != nil {
		a.logger.Warn("journey sequencing degraded", zap.Error(err))
		s.sequence = fallbackSequence(s.input, topicNames(s.topics))
		s.degraded = true
		return s, nil
	}

	if len(out.Journey) == 0 {
		s.sequence = fallbackSequence(s.input, topicNames(s.topics))
		s.degraded = true
		return s, nil
	}
	s.sequence = out.Journey
	return s, nil
}

// finalize normalizes positions, inserts milestones every five steps, and
// writes the reasoning. No model call is involved.
func (a *Agent) finalize(ctx context.Context, s state) (state, error) {
	s.progress("journey_finalizer", 90)

	total := 0
	for i := range s.sequence {
		step := &s.sequence[i]
		step.Position = i + 1
		if step.Status == "" {
			step.Status = "locked"
		}
		if step.EstimatedHours <= 0 {
			step.EstimatedHours = 10
		}
		if (i+1)%5 == 0 {
			step.IsMilestone = true
			step.MilestoneName = fmt.Sprintf("Checkpoint %d", (i+1)/5)
		}
		total += step.EstimatedHours
	}

	s.journey = Journey{
		Steps:      s.sequence,
		TotalHours: total,
	}

	if perf := s.input.Performance; perf != nil {
		s.journey.Reasoning = fmt.Sprintf(
			"Journey adjusted based on performance data.\n\nStrong areas: %s\nWeak areas: %s\n\nAdjustments made: added review for weak areas, fast-tracked strong areas, maintained core progression.",
			strings.Join(perf.StrongTopics, ", "), strings.Join(perf.WeakTopics, ", "))
		s.journey.AdjustmentNotes = "Journey modified based on performance analysis"
	} else {
		s.journey.Reasoning = fmt.Sprintf(
			"Journey created for new learner.\n\nProfile summary: %s\nPriority topics: %s\nLearning pace: %s\n\nTotal topics: %d\nEstimated completion: %d hours",
			orNA(s.input.Profile.ProfileSummary),
			strings.Join(s.input.Profile.PriorityTopics, ", "),
			s.input.Profile.LearningPace, len(s.sequence), total)
	}
	return s, nil
}

func topicNames(topics map[string]breakdown) []string {
	var names []string
	for _, bd := range topics {
		for _, group := range [][]breakdownTopic{bd.Foundational, bd.Core, bd.Advanced, bd.Optional} {
			for _, t := range group {
				if t.Name != "" {
					names = append(names, t.Name)
				}
			}
		}
	}
	return names
}

// decodeMap converts a parsed generic object into a typed per-topic map,
// skipping entries that do not fit.
func decodeMap[T any](parsed map[string]any) map[string]T {
	out := make(map[string]T, len(parsed))
	for name, value := range parsed {
		raw, err := json.Marshal(value)
		if err != nil {
			continue
		}
		var entry T
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		out[name] = entry
	}
	return out
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
