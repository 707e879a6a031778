// Package recommend generates personalized topic recommendations from the
// learner's journey, recent performance, and profile. Candidate generation
// and selection are deterministic; only scoring and the final pitch use the
// generation chain, and both degrade to heuristics when it is exhausted.
package recommend

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/learnflow/learnflow/agent/structured"
	"github.com/learnflow/learnflow/workflow"
)

// JourneyTopic is one entry of the learner's journey map.
type JourneyTopic struct {
	Topic          string `json:"topic"`
	Status         string `json:"status"`
	Position       int    `json:"position"`
	EstimatedHours int    `json:"estimated_hours,omitempty"`
	Reasoning      string `json:"reasoning,omitempty"`
}

// Performance summarizes recent quiz outcomes.
type Performance struct {
	Strengths     []string `json:"strengths"`
	KnowledgeGaps []string `json:"knowledge_gaps"`
	RecentScore   int      `json:"recent_score,omitempty"`
}

// ProfileSummary is the slice of the learner profile the recommender needs.
type ProfileSummary struct {
	LearningGoals     []string `json:"learning_goals"`
	OverallSkillLevel string   `json:"overall_skill_level"`
	Interests         []string `json:"interests"`
	LearningPace      string   `json:"learning_pace"`
}

// Input carries everything the recommender consumes.
type Input struct {
	UserID       string         `json:"user_id"`
	Journey      []JourneyTopic `json:"journey"`
	Performance  Performance    `json:"performance"`
	Profile      ProfileSummary `json:"profile"`
	CurrentTopic string         `json:"current_topic,omitempty"`
}

// Recommendation is one selected topic with its composite score.
type Recommendation struct {
	Topic          string  `json:"topic"`
	Source         string  `json:"source"`
	CompositeScore float64 `json:"composite_score"`
	Reasoning      string  `json:"reasoning"`
}

// Result is the recommender output.
type Result struct {
	Recommendations []Recommendation `json:"recommendations"`
	Reasoning       string           `json:"reasoning"`
	Confidence      float64          `json:"confidence"`
}

// Candidate sources, in rough priority order.
const (
	sourceJourney  = "journey_progression"
	sourceReview   = "knowledge_gap_review"
	sourceStrength = "strength_extension"
)

const (
	maxRecommendations = 5
	minRecommendations = 3
	maxPerSource       = 2
)

type candidate struct {
	Topic     string `json:"topic"`
	Source    string `json:"source"`
	Priority  string `json:"priority,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
}

type score struct {
	RelevanceScore  float64 `json:"relevance_score"`
	TimingScore     float64 `json:"timing_score"`
	EngagementScore float64 `json:"engagement_score"`
	Priority        string  `json:"priority"`
	Reasoning       string  `json:"reasoning"`
}

type state struct {
	input      Input
	candidates []candidate
	scores     map[string]score
	selected   []Recommendation
	result     Result
	degraded   bool
}

// Agent produces topic recommendations.
type Agent struct {
	gen    *structured.Generator
	chain  *workflow.Chain[state]
	logger *zap.Logger
}

// New creates a recommendation agent.
func New(gen *structured.Generator, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Agent{
		gen:    gen,
		logger: logger.With(zap.String("component", "recommend")),
	}
	a.chain = workflow.NewChain("recommendation", logger,
		workflow.NewNode("candidate_generator", a.generateCandidates),
		workflow.NewNode("relevance_scorer", a.scoreCandidates),
		workflow.NewNode("recommendation_selector", a.selectTop),
		workflow.NewNode("reasoning_generator", a.explainSelection),
	)
	return a
}

// Recommend runs the pipeline. With no candidates at all it returns an
// empty result with an explanatory reasoning instead of an error.
func (a *Agent) Recommend(ctx context.Context, input Input) (*Result, error) {
	if input.UserID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	final, err := a.chain.Run(ctx, state{input: input})
	if err != nil {
		return nil, err
	}

	result := final.result
	if final.degraded && result.Confidence > 0.6 {
		result.Confidence = 0.6
	}
	return &result, nil
}

// generateCandidates collects candidates from the journey map, knowledge
// gaps, and strengths. No model call is involved.
func (a *Agent) generateCandidates(ctx context.Context, s state) (state, error) {
	seen := make(map[string]bool)
	add := func(c candidate) {
		if c.Topic == "" || seen[c.Topic] {
			return
		}
		seen[c.Topic] = true
		s.candidates = append(s.candidates, c)
	}

	for _, item := range s.input.Journey {
		if item.Status == "available" || item.Status == "recommended" {
			add(candidate{
				Topic:     item.Topic,
				Source:    sourceJourney,
				Reasoning: item.Reasoning,
			})
		}
	}

	gaps := s.input.Performance.KnowledgeGaps
	if len(gaps) > 3 {
		gaps = gaps[:3]
	}
	for _, gap := range gaps {
		add(candidate{
			Topic:     "Review: " + gap,
			Source:    sourceReview,
			Priority:  "high",
			Reasoning: "Addressing identified knowledge gap in " + gap,
		})
	}

	strengths := s.input.Performance.Strengths
	if len(strengths) > 2 {
		strengths = strengths[:2]
	}
	for _, strength := range strengths {
		add(candidate{
			Topic:     "Advanced " + strength,
			Source:    sourceStrength,
			Reasoning: "Advanced topic building on strength in " + strength,
		})
	}

	return s, nil
}

func (a *Agent) scoreCandidates(ctx context.Context, s state) (state, error) {
	if len(s.candidates) == 0 {
		s.scores = map[string]score{}
		return s, nil
	}

	detail, _ := json.Marshal(s.candidates)
	current := s.input.CurrentTopic
	if current == "" {
		current = "Nothing recent"
	}

	prompt := fmt.Sprintf(`Score these learning topic recommendations for relevance and appropriateness.

User Profile:
- Goals: %s
- Skill Level: %s
- Interests: %s
- Learning Pace: %s

Current Context:
- Just completed: %s
- Strengths: %s
- Weak areas: %s

Candidate Topics:
%s

For each topic provide a relevance score, a timing score, an engagement
score (each 0-100), an overall priority, and brief reasoning.

Return a JSON object mapping each topic name to:
{"relevance_score": 0, "timing_score": 0, "engagement_score": 0, "priority": "high|medium|low", "reasoning": "..."}`,
		strings.Join(s.input.Profile.LearningGoals, ", "),
		s.input.Profile.OverallSkillLevel,
		strings.Join(s.input.Profile.Interests, ", "),
		s.input.Profile.LearningPace,
		current,
		strings.Join(s.input.Performance.Strengths, ", "),
		strings.Join(s.input.Performance.KnowledgeGaps, ", "),
		detail)

	parsed, err := a.gen.Generate(ctx, structured.Request{
		System: "You are an expert recommendation system for personalized education.",
		Prompt: prompt,
	})
	if err != nil {
		a.logger.Warn("relevance scoring degraded", zap.Error(err))
		s.scores = uniformScores(s.candidates, 70)
		s.degraded = true
		return s, nil
	}

	scores := make(map[string]score, len(parsed))
	for topic, value := range parsed {
		raw, merr := json.Marshal(value)
		if merr != nil {
			continue
		}
		var sc score
		if uerr := json.Unmarshal(raw, &sc); uerr != nil {
			continue
		}
		scores[topic] = sc
	}
	if len(scores) == 0 {
		scores = uniformScores(s.candidates, 70)
		s.degraded = true
	}
	s.scores = scores
	return s, nil
}

// selectTop ranks candidates by weighted composite score and picks the top
// five with at most two per source, backfilling to three when diversity
// filtering leaves too few.
func (a *Agent) selectTop(ctx context.Context, s state) (state, error) {
	type ranked struct {
		candidate
		composite float64
	}

	rankedCandidates := make([]ranked, 0, len(s.candidates))
	for _, c := range s.candidates {
		sc, ok := s.scores[c.Topic]
		if !ok {
			sc = score{RelevanceScore: 50, TimingScore: 50, EngagementScore: 50, Priority: "medium"}
		}
		composite := sc.RelevanceScore*0.4 + sc.TimingScore*0.3 + sc.EngagementScore*0.3
		switch sc.Priority {
		case "high":
			composite += 15
		case "low":
			composite -= 10
		}
		reasoning := sc.Reasoning
		if reasoning == "" {
			reasoning = c.Reasoning
		}
		rankedCandidates = append(rankedCandidates, ranked{
			candidate: candidate{Topic: c.Topic, Source: c.Source, Reasoning: reasoning},
			composite: composite,
		})
	}

	sort.SliceStable(rankedCandidates, func(i, j int) bool {
		return rankedCandidates[i].composite > rankedCandidates[j].composite
	})

	perSource := make(map[string]int)
	picked := make(map[string]bool)
	for _, rc := range rankedCandidates {
		if perSource[rc.Source] >= maxPerSource {
			continue
		}
		s.selected = append(s.selected, Recommendation{
			Topic:          rc.Topic,
			Source:         rc.Source,
			CompositeScore: rc.composite,
			Reasoning:      rc.Reasoning,
		})
		perSource[rc.Source]++
		picked[rc.Topic] = true
		if len(s.selected) >= maxRecommendations {
			break
		}
	}

	if len(s.selected) < minRecommendations {
		for _, rc := range rankedCandidates {
			if picked[rc.Topic] {
				continue
			}
			s.selected = append(s.selected, Recommendation{
				Topic:          rc.Topic,
				Source:         rc.Source,
				CompositeScore: rc.composite,
				Reasoning:      rc.Reasoning,
			})
			picked[rc.Topic] = true
			if len(s.selected) >= minRecommendations {
				break
			}
		}
	}

	return s, nil
}

func (a *Agent) explainSelection(ctx context.Context, s state) (state, error) {
	if len(s.selected) == 0 {
		s.result = Result{
			Recommendations: []Recommendation{},
			Reasoning:       "No recommendations available. Please complete more quizzes for personalized suggestions.",
			Confidence:      0,
		}
		return s, nil
	}

	detail, _ := json.Marshal(s.selected)
	prompt := fmt.Sprintf(`Create engaging explanations for these learning recommendations.

Recommendations: %s
Learner goals: %s

Provide a brief introduction explaining why these recommendations make
sense, and a one-sentence pitch per topic.

Return JSON:
{"introduction": "...", "topic_pitches": {"topic name": "pitch"}}`,
		detail, strings.Join(s.input.Profile.LearningGoals, ", "))

	var out struct {
		Introduction string            `json:"introduction"`
		TopicPitches map[string]string `json:"topic_pitches"`
	}
	err := a.gen.GenerateInto(ctx, structured.Request{
		System:         "You are an enthusiastic learning advisor creating motivating recommendations.",
		Prompt:         prompt,
		RequiredFields: []string{"introduction"},
	}, &out)
	if err != nil {
		a.logger.Warn("reasoning generation degraded", zap.Error(err))
		s.result = Result{
			Recommendations: s.selected,
			Reasoning:       templateReasoning(s.selected),
			Confidence:      0.6,
		}
		s.degraded = true
		return s, nil
	}

	var b strings.Builder
	b.WriteString(out.Introduction)
	for _, rec := range s.selected {
		pitch, ok := out.TopicPitches[rec.Topic]
		if !ok {
			pitch = rec.Reasoning
		}
		b.WriteString("\n- " + rec.Topic + ": " + pitch)
	}

	s.result = Result{
		Recommendations: s.selected,
		Reasoning:       b.String(),
		Confidence:      0.85,
	}
	return s, nil
}

func uniformScores(candidates []candidate, value float64) map[string]score {
	out := make(map[string]score, len(candidates))
	for _, c := range candidates {
		out[c.Topic] = score{
			RelevanceScore:  value,
			TimingScore:     value,
			EngagementScore: value,
			Priority:        "medium",
			Reasoning:       "Default scoring",
		}
	}
	return out
}

func templateReasoning(selected []Recommendation) string {
	var b strings.Builder
	b.WriteString("Based on your learning profile and performance, here are your personalized recommendations:")
	for _, rec := range selected {
		reason := rec.Reasoning
		if reason == "" {
			reason = "Recommended based on your progress"
		}
		b.WriteString("\n- " + rec.Topic + ": " + reason)
	}
	return b.String()
}
