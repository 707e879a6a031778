// Package profiler builds learner profiles from onboarding data. The agent
// runs a four-stage analysis pipeline; every stage degrades to a heuristic
// fallback when generation is exhausted, so onboarding always produces a
// usable profile.
package profiler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/learnflow/learnflow/agent/structured"
	"github.com/learnflow/learnflow/workflow"
)

// OnboardingData is the raw input collected during signup.
type OnboardingData struct {
	UserID                  string   `json:"user_id"`
	Interests               []string `json:"interests"`
	LearningGoals           []string `json:"learning_goals"`
	SelfAssessedLevel       string   `json:"self_assessed_level"`
	LearningStylePreference string   `json:"learning_style_preference"`
	TimeCommitment          int      `json:"time_commitment"`
	BackgroundInfo          string   `json:"background_info,omitempty"`
}

// Validate rejects onboarding data the pipeline cannot work with.
func (d *OnboardingData) Validate() error {
	if d.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if len(d.Interests) == 0 {
		return fmt.Errorf("at least one interest is required")
	}
	if d.SelfAssessedLevel == "" {
		d.SelfAssessedLevel = "beginner"
	}
	return nil
}

// InterestAnalysis categorizes one declared interest.
type InterestAnalysis struct {
	Category              string   `json:"category"`
	Topics                []string `json:"topics"`
	SuggestedStartingLevel string  `json:"suggested_starting_level"`
	RelatedInterests      []string `json:"related_interests"`
	Reasoning             string   `json:"reasoning"`
}

// SkillAssessment estimates the starting level for one interest.
type SkillAssessment struct {
	SkillLevel         string   `json:"skill_level"`
	Confidence         int      `json:"confidence"`
	Indicators         []string `json:"indicators"`
	VerificationTopics []string `json:"verification_topics"`
	Reasoning          string   `json:"reasoning"`
}

// StyleAnalysis recommends content delivery formats.
type StyleAnalysis struct {
	PrimaryFormat        string   `json:"primary_format"`
	SecondaryFormats     []string `json:"secondary_formats"`
	OptimalLessonLength  string   `json:"optimal_lesson_length"`
	EngagementStrategies []string `json:"engagement_strategies"`
	WarningSigns         []string `json:"warning_signs"`
	PersonalizationNotes string   `json:"personalization_notes"`
}

// Profile is the synthesized learner profile consumed by the journey and
// recommendation agents.
type Profile struct {
	OverallSkillLevel       string                      `json:"overall_skill_level"`
	PriorityTopics          []string                    `json:"priority_topics"`
	LearningPace            string                      `json:"learning_pace"`
	PersonalizationStrategy string                      `json:"personalization_strategy"`
	SuccessMetrics          []string                    `json:"success_metrics"`
	Confidence              float64                     `json:"confidence"`
	ProfileSummary          string                      `json:"profile_summary"`
	InterestsDetail         map[string]InterestAnalysis `json:"interests_detail"`
	SkillAssessmentsDetail  map[string]SkillAssessment  `json:"skill_assessments_detail"`
	LearningStyleDetail     StyleAnalysis               `json:"learning_style_detail"`
	TimeCommitment          int                         `json:"time_commitment"`
	LearningGoals           []string                    `json:"learning_goals"`
	Degraded                bool                        `json:"degraded,omitempty"`
}

// ProgressFunc reports pipeline progress as a stage name and percentage.
type ProgressFunc func(stage string, percent int)

// state threads the accumulated analysis through the pipeline.
type state struct {
	input     OnboardingData
	interests map[string]InterestAnalysis
	skills    map[string]SkillAssessment
	style     StyleAnalysis
	profile   Profile
	degraded  bool
	progress  ProgressFunc
}

// Agent builds learner profiles.
type Agent struct {
	gen    *structured.Generator
	chain  *workflow.Chain[state]
	logger *zap.Logger
}

// New creates a profiler agent over the given generator.
func New(gen *structured.Generator, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Agent{
		gen:    gen,
		logger: logger.With(zap.String("component", "profiler")),
	}
	a.chain = workflow.NewChain("learner_profiler", logger,
		workflow.NewNode("interest_analyzer", a.analyzeInterests),
		workflow.NewNode("skill_assessor", a.assessSkills),
		workflow.NewNode("learning_style_analyzer", a.analyzeStyle),
		workflow.NewNode("profile_synthesizer", a.synthesize),
	)
	return a
}

// BuildProfile runs the full pipeline. The progress callback is optional.
func (a *Agent) BuildProfile(ctx context.Context, data OnboardingData, progress ProgressFunc) (*Profile, error) {
	if err := data.Validate(); err != nil {
		return nil, fmt.Errorf("invalid onboarding data: %w", err)
	}
	if progress == nil {
		progress = func(string, int) {}
	}

	final, err := a.chain.Run(ctx, state{input: data, progress: progress})
	if err != nil {
		return nil, err
	}

	profile := final.profile
	profile.Degraded = final.degraded
	return &profile, nil
}

func (a *Agent) analyzeInterests(ctx context.Context, s state) (state, error) {
	s.progress("interest_analyzer", 10)

	prompt := fmt.Sprintf(`Analyze the following learning interests for an adaptive learning platform.

User Interests: %s
Background: %s

For each interest, determine the category, specific topics, recommended
starting difficulty, and related interests that might benefit the learner.

Return a JSON object mapping each interest name to:
{"category": "...", "topics": ["..."], "suggested_starting_level": "beginner|intermediate|advanced", "related_interests": ["..."], "reasoning": "..."}`,
		strings.Join(s.input.Interests, ", "), orNotProvided(s.input.BackgroundInfo))

	parsed, err := a.gen.Generate(ctx, structured.Request{
		System: "You are an expert educational counselor who analyzes learning interests and designs curriculum paths.",
		Prompt: prompt,
	})
	if err != nil {
		a.logger.Warn("interest analysis degraded", zap.Error(err))
		s.interests = fallbackInterests(s.input)
		s.degraded = true
		return s, nil
	}

	s.interests = decodeMap[InterestAnalysis](parsed)
	if len(s.interests) == 0 {
		s.interests = fallbackInterests(s.input)
		s.degraded = true
	}
	return s, nil
}

func (a *Agent) assessSkills(ctx context.Context, s state) (state, error) {
	s.progress("skill_assessor", 35)

	detail, _ := json.Marshal(s.interests)
	prompt := fmt.Sprintf(`Assess the starting skill level for each learning interest area.

Analyzed Interests: %s
Learning Goals: %s
Self-Assessment: %s
Background: %s

For each interest, provide the recommended starting level, a confidence
score (0-100), the key indicators behind the decision, and quick
verification topics.

Return a JSON object mapping each interest name to:
{"skill_level": "beginner|intermediate|advanced", "confidence": 0, "indicators": ["..."], "verification_topics": ["..."], "reasoning": "..."}`,
		detail, strings.Join(s.input.LearningGoals, ", "), s.input.SelfAssessedLevel, orNotProvided(s.input.BackgroundInfo))

	parsed, err := a.gen.Generate(ctx, structured.Request{
		System: "You are an expert at assessing learner skill levels for personalized education.",
		Prompt: prompt,
	})
	if err != nil {
		a.logger.Warn("skill assessment degraded", zap.Error(err))
		s.skills = fallbackSkills(s.input, s.interests)
		s.degraded = true
		return s, nil
	}

	s.skills = decodeMap[SkillAssessment](parsed)
	if len(s.skills) == 0 {
		s.skills = fallbackSkills(s.input, s.interests)
		s.degraded = true
	}
	return s, nil
}

func (a *Agent) analyzeStyle(ctx context.Context, s state) (state, error) {
	s.progress("learning_style_analyzer", 60)

	prompt := fmt.Sprintf(`Analyze learning style preferences for personalized content delivery.

Preferred Style: %s
Learning Goals: %s
Time Commitment: %d hours/week

Recommend the primary content format, secondary formats, optimal lesson
length, engagement strategies, and warning signs that the format is not
working.

Return JSON:
{"primary_format": "...", "secondary_formats": ["..."], "optimal_lesson_length": "...", "engagement_strategies": ["..."], "warning_signs": ["..."], "personalization_notes": "..."}`,
		s.input.LearningStylePreference, strings.Join(s.input.LearningGoals, ", "), s.input.TimeCommitment)

	var style StyleAnalysis
	err := a.gen.GenerateInto(ctx, structured.Request{
		System:         "You are an expert in learning science and personalized education delivery.",
		Prompt:         prompt,
		RequiredFields: []string{"primary_format"},
	}, &style)
	if err != nil {
		a.logger.Warn("style analysis degraded", zap.Error(err))
		s.style = fallbackStyle(s.input)
		s.degraded = true
		return s, nil
	}

	s.style = style
	return s, nil
}

func (a *Agent) synthesize(ctx context.Context, s state) (state, error) {
	s.progress("profile_synthesizer", 85)

	interests, _ := json.Marshal(s.interests)
	skills, _ := json.Marshal(s.skills)
	style, _ := json.Marshal(s.style)

	prompt := fmt.Sprintf(`Create a comprehensive learner profile by synthesizing all analysis.

Interest Analysis: %s
Skill Assessments: %s
Learning Style: %s
Goals: %s
Time Commitment: %d hours/week

Produce the overall skill level, priority topics to start with, a pace
recommendation, a personalization strategy summary, success metrics to
track, and your confidence (0-100).

Return JSON:
{"overall_skill_level": "beginner|intermediate|advanced", "priority_topics": ["..."], "learning_pace": "fast|moderate|slow", "personalization_strategy": "...", "success_metrics": ["..."], "confidence": 0, "profile_summary": "..."}`,
		interests, skills, style, strings.Join(s.input.LearningGoals, ", "), s.input.TimeCommitment)

	var synth struct {
		OverallSkillLevel       string   `json:"overall_skill_level"`
		PriorityTopics          []string `json:"priority_topics"`
		LearningPace            string   `json:"learning_pace"`
		PersonalizationStrategy string   `json:"personalization_strategy"`
		SuccessMetrics          []string `json:"success_metrics"`
		Confidence              float64  `json:"confidence"`
		ProfileSummary          string   `json:"profile_summary"`
	}
	err := a.gen.GenerateInto(ctx, structured.Request{
		System:         "You are an expert educational profiler creating personalized learning plans.",
		Prompt:         prompt,
		RequiredFields: []string{"overall_skill_level", "priority_topics"},
	}, &synth)
	if err != nil {
		a.logger.Warn("profile synthesis degraded", zap.Error(err))
		s.profile = fallbackProfile(s.input, s.interests, s.skills, s.style)
		s.degraded = true
		return s, nil
	}

	s.profile = Profile{
		OverallSkillLevel:       synth.OverallSkillLevel,
		PriorityTopics:          synth.PriorityTopics,
		LearningPace:            synth.LearningPace,
		PersonalizationStrategy: synth.PersonalizationStrategy,
		SuccessMetrics:          synth.SuccessMetrics,
		Confidence:              synth.Confidence / 100.0,
		ProfileSummary:          synth.ProfileSummary,
		InterestsDetail:         s.interests,
		SkillAssessmentsDetail:  s.skills,
		LearningStyleDetail:     s.style,
		TimeCommitment:          s.input.TimeCommitment,
		LearningGoals:           s.input.LearningGoals,
	}
	return s, nil
}

// decodeMap converts a parsed generic object into a typed per-interest map,
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

func orNotProvided(s string) string {
	if s == "" {
		return "Not provided"
	}
	return s
}
