// Package perfanalyzer turns quiz history into mastery scores, knowledge
// gaps, and adaptation hints for the quiz and journey pipelines. Statistics
// and mastery math are deterministic; only gap identification uses the
// generation chain, and it degrades to empty findings.
package perfanalyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/learnflow/learnflow/agent/structured"
	"github.com/learnflow/learnflow/workflow"
)

// QuizAttempt is one completed quiz.
type QuizAttempt struct {
	Topic          string    `json:"topic"`
	Score          int       `json:"score"`
	TotalQuestions int       `json:"total_questions"`
	Percentage     float64   `json:"percentage"`
	Difficulty     string    `json:"difficulty,omitempty"`
	CompletedAt    time.Time `json:"completed_at"`
}

// MasteryRecord is the stored mastery state for one topic.
type MasteryRecord struct {
	MasteryScore float64 `json:"mastery_score"`
	Attempts     int     `json:"attempts"`
}

// Input carries everything the analyzer consumes.
type Input struct {
	UserID         string                   `json:"user_id"`
	QuizHistory    []QuizAttempt            `json:"quiz_history"`
	CurrentMastery map[string]MasteryRecord `json:"current_mastery,omitempty"`
}

// TopicTrend summarizes score movement for one topic.
type TopicTrend struct {
	Trend         string  `json:"trend"`
	RecentAverage float64 `json:"recent_average"`
	TotalAttempts int     `json:"total_attempts"`
	Velocity      float64 `json:"velocity"`
}

// MasteryUpdate is the recalculated mastery state for one topic.
type MasteryUpdate struct {
	MasteryScore float64 `json:"mastery_score"`
	SkillLevel   string  `json:"skill_level"`
	Trend        string  `json:"trend"`
	Attempts     int     `json:"attempts"`
	Confidence   int     `json:"confidence"`
}

// PathAdjustments are the hints handed to the journey architect.
type PathAdjustments struct {
	SkipTopics   []string `json:"skip_topics"`
	ReviewTopics []string `json:"review_topics"`
	AddTopics    []string `json:"add_topics"`
	Reasoning    string   `json:"reasoning"`
}

// Analysis is the analyzer output.
type Analysis struct {
	MasteryUpdates            map[string]MasteryUpdate `json:"mastery_updates"`
	DifficultyRecommendations map[string]string        `json:"difficulty_recommendations"`
	PathAdjustments           PathAdjustments          `json:"path_adjustments"`
	KnowledgeGaps             []string                 `json:"knowledge_gaps"`
	Strengths                 []string                 `json:"strengths"`
	Summary                   string                   `json:"summary"`
	LearningVelocity          float64                  `json:"learning_velocity"`
	Confidence                float64                  `json:"confidence"`
	Degraded                  bool                     `json:"degraded,omitempty"`
}

type state struct {
	input    Input
	trends   map[string]TopicTrend
	velocity float64
	gaps     []string
	strong   []string
	mastery  map[string]MasteryUpdate
	analysis Analysis
	degraded bool
}

// Agent analyzes learner performance.
type Agent struct {
	gen    *structured.Generator
	chain  *workflow.Chain[state]
	logger *zap.Logger
}

// New creates a performance analyzer over the given generator.
func New(gen *structured.Generator, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Agent{
		gen:    gen,
		logger: logger.With(zap.String("component", "perfanalyzer")),
	}
	a.chain = workflow.NewChain("performance_analyzer", logger,
		workflow.NewNode("statistical_analyzer", a.analyzeTrends),
		workflow.NewNode("knowledge_gap_identifier", a.identifyGaps),
		workflow.NewNode("mastery_calculator", a.calculateMastery),
		workflow.NewNode("adaptation_recommender", a.recommendAdaptations),
		workflow.NewNode("summary_generator", a.summarize),
	)
	return a
}

// Analyze runs the full pipeline. Empty quiz history is valid input and
// yields an empty analysis with zero confidence.
func (a *Agent) Analyze(ctx context.Context, input Input) (*Analysis, error) {
	if input.UserID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	final, err := a.chain.Run(ctx, state{input: input})
	if err != nil {
		return nil, err
	}

	analysis := final.analysis
	analysis.Degraded = final.degraded
	return &analysis, nil
}

// analyzeTrends computes per-topic score trends and the overall learning
// velocity. The trend compares the first half of a topic's attempts to the
// second half; ten points either way separates improving from declining.
func (a *Agent) analyzeTrends(ctx context.Context, s state) (state, error) {
	s.trends = make(map[string]TopicTrend)
	if len(s.input.QuizHistory) == 0 {
		return s, nil
	}

	byTopic := groupByTopic(s.input.QuizHistory)

	var velocities []float64
	for topic, attempts := range byTopic {
		trend := TopicTrend{TotalAttempts: len(attempts)}

		recent := attempts
		if len(recent) > 3 {
			recent = recent[len(recent)-3:]
		}
		var sum float64
		for _, q := range recent {
			sum += q.Percentage
		}
		trend.RecentAverage = sum / float64(len(recent))

		if len(attempts) < 2 {
			trend.Trend = "insufficient_data"
		} else {
			mid := len(attempts) / 2
			improvement := average(attempts[mid:]) - average(attempts[:mid])
			switch {
			case improvement > 10:
				trend.Trend = "improving"
			case improvement < -10:
				trend.Trend = "declining"
			default:
				trend.Trend = "stable"
			}
			trend.Velocity = improvement / float64(len(attempts))
			velocities = append(velocities, trend.Velocity)
		}

		s.trends[topic] = trend
	}

	for _, v := range velocities {
		s.velocity += v
	}
	if len(velocities) > 0 {
		s.velocity /= float64(len(velocities))
	}
	return s, nil
}

// identifyGaps asks the model why the learner struggles or excels, going
// beyond raw scores. With no history there is nothing to ask.
func (a *Agent) identifyGaps(ctx context.Context, s state) (state, error) {
	s.gaps = []string{}
	s.strong = []string{}
	if len(s.input.QuizHistory) == 0 {
		return s, nil
	}

	history := s.input.QuizHistory
	if len(history) > 10 {
		history = history[len(history)-10:]
	}
	summary := make([]map[string]any, 0, len(history))
	for _, q := range history {
		summary = append(summary, map[string]any{
			"topic":      q.Topic,
			"score":      fmt.Sprintf("%d/%d", q.Score, q.TotalQuestions),
			"percentage": q.Percentage,
			"difficulty": q.Difficulty,
		})
	}

	attempts, _ := json.Marshal(summary)
	trends, _ := json.Marshal(s.trends)
	mastery, _ := json.Marshal(s.input.CurrentMastery)

	prompt := fmt.Sprintf(`Analyze learning performance to identify knowledge gaps and strengths.

Quiz History Summary: %s
Score Trends: %s
Current Mastery: %s

Identify knowledge gaps (topics where the learner struggles), strengths
(topics where the learner excels), and patterns such as struggling with
advanced material while handling basics well.

Return JSON:
{"knowledge_gaps": [{"topic": "...", "severity": "high|medium|low", "recommended_action": "..."}], "strengths": [{"topic": "...", "evidence": "..."}], "patterns": ["..."], "reasoning": "..."}`,
		attempts, trends, mastery)

	var out struct {
		KnowledgeGaps []topicRef `json:"knowledge_gaps"`
		Strengths     []topicRef `json:"strengths"`
	}
	err := a.gen.GenerateInto(ctx, structured.Request{
		System:         "You are an expert educational psychologist analyzing learning performance.",
		Prompt:         prompt,
		RequiredFields: []string{"knowledge_gaps", "strengths"},
	}, &out)
	if err != nil {
		a.logger.Warn("gap identification degraded", zap.Error(err))
		s.degraded = true
		return s, nil
	}

	s.gaps = topicRefStrings(out.KnowledgeGaps)
	s.strong = topicRefStrings(out.Strengths)
	return s, nil
}

// calculateMastery recomputes mastery per topic: a recency-weighted average
// of the last five attempts, adjusted for difficulty and clamped to 0..100.
// Doing only easy quizzes costs ten points; handling hard ones earns ten.
func (a *Agent) calculateMastery(ctx context.Context, s state) (state, error) {
	s.mastery = make(map[string]MasteryUpdate)

	for topic, attempts := range groupByTopic(s.input.QuizHistory) {
		recent := attempts
		if len(recent) > 5 {
			recent = recent[len(recent)-5:]
		}

		var weighted, totalWeight float64
		for i, q := range recent {
			w := float64(int(1) << i)
			weighted += q.Percentage * w
			totalWeight += w
		}
		score := weighted / totalWeight

		switch recent[len(recent)-1].Difficulty {
		case "easy":
			score -= 10
		case "hard":
			score += 10
		}
		if score > 100 {
			score = 100
		}
		if score < 0 {
			score = 0
		}

		level := "beginner"
		switch {
		case score >= 80:
			level = "advanced"
		case score >= 50:
			level = "intermediate"
		}

		trend := "unknown"
		if t, ok := s.trends[topic]; ok {
			trend = t.Trend
		}
		confidence := len(attempts) * 20
		if confidence > 100 {
			confidence = 100
		}

		s.mastery[topic] = MasteryUpdate{
			MasteryScore: score,
			SkillLevel:   level,
			Trend:        trend,
			Attempts:     len(attempts),
			Confidence:   confidence,
		}
	}
	return s, nil
}

// recommendAdaptations derives per-topic difficulty hints for quiz
// generation and path adjustments for the journey architect.
func (a *Agent) recommendAdaptations(ctx context.Context, s state) (state, error) {
	difficulty := make(map[string]string, len(s.mastery))
	adjustments := PathAdjustments{
		SkipTopics:   []string{},
		ReviewTopics: append([]string{}, s.gaps...),
		AddTopics:    []string{},
	}

	for _, topic := range sortedTopics(s.mastery) {
		update := s.mastery[topic]
		switch {
		case update.MasteryScore >= 80 && update.Trend != "declining":
			difficulty[topic] = "hard"
		case update.MasteryScore >= 60:
			difficulty[topic] = "medium"
		case update.MasteryScore < 40 || update.Trend == "declining":
			difficulty[topic] = "easy"
		default:
			difficulty[topic] = "medium"
		}

		if update.MasteryScore > 85 && update.Trend == "improving" {
			adjustments.SkipTopics = append(adjustments.SkipTopics, topic)
		}
	}

	adjustments.Reasoning = fmt.Sprintf(
		"Performance analysis complete. Strong areas (%d): %s. Weak areas (%d): %s. Learning velocity: %.2f. Fast-track %d mastered topics, add review for %d struggling topics.",
		len(s.strong), strings.Join(head(s.strong, 3), ", "),
		len(s.gaps), strings.Join(head(s.gaps, 3), ", "),
		s.velocity, len(adjustments.SkipTopics), len(s.gaps))

	s.analysis.DifficultyRecommendations = difficulty
	s.analysis.PathAdjustments = adjustments
	return s, nil
}

// summarize assembles the final analysis with a human-readable summary.
// Confidence scales with the amount of history, full at twenty attempts.
func (a *Agent) summarize(ctx context.Context, s state) (state, error) {
	var overall float64
	totalAttempts := 0
	for _, update := range s.mastery {
		overall += update.MasteryScore
		totalAttempts += update.Attempts
	}
	if len(s.mastery) > 0 {
		overall /= float64(len(s.mastery))
	}

	pace := "Needs attention"
	switch {
	case s.velocity > 5:
		pace = "Fast"
	case s.velocity > 0:
		pace = "Moderate"
	}

	strengths := strings.Join(head(s.strong, 5), ", ")
	if strengths == "" {
		strengths = "Complete more quizzes to identify strengths"
	}
	gaps := strings.Join(head(s.gaps, 5), ", ")
	if gaps == "" {
		gaps = "No significant gaps identified"
	}

	advice := "Consider revisiting foundational topics"
	switch {
	case overall >= 70:
		advice = "Keep up the great work!"
	case overall >= 50:
		advice = "Focus on review and practice"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Overall Mastery: %.1f%%\n", overall)
	fmt.Fprintf(&b, "Learning Velocity: %s\n", pace)
	fmt.Fprintf(&b, "Strengths: %s\n", strengths)
	fmt.Fprintf(&b, "Areas for Improvement: %s\n", gaps)
	for _, topic := range sortedTopics(s.mastery) {
		update := s.mastery[topic]
		fmt.Fprintf(&b, "- %s: %.0f%% (%s, %s)\n", topic, update.MasteryScore, update.SkillLevel, update.Trend)
	}
	b.WriteString("Recommendation: " + advice)

	confidence := float64(totalAttempts) / 20
	if confidence > 1 {
		confidence = 1
	}

	s.analysis.MasteryUpdates = s.mastery
	s.analysis.KnowledgeGaps = s.gaps
	s.analysis.Strengths = s.strong
	s.analysis.Summary = b.String()
	s.analysis.LearningVelocity = s.velocity
	s.analysis.Confidence = confidence
	return s, nil
}

// topicRef decodes either a bare topic string or an object carrying a
// "topic" field, since backends return both shapes.
type topicRef string

func (t *topicRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = topicRef(s)
		return nil
	}
	var obj struct {
		Topic string `json:"topic"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*t = topicRef(obj.Topic)
	return nil
}

func topicRefStrings(refs []topicRef) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		if r != "" {
			out = append(out, string(r))
		}
	}
	return out
}

// groupByTopic splits history per topic, ordered oldest first.
func groupByTopic(history []QuizAttempt) map[string][]QuizAttempt {
	out := make(map[string][]QuizAttempt)
	for _, q := range history {
		out[q.Topic] = append(out[q.Topic], q)
	}
	for topic := range out {
		attempts := out[topic]
		sort.SliceStable(attempts, func(i, j int) bool {
			return attempts[i].CompletedAt.Before(attempts[j].CompletedAt)
		})
		out[topic] = attempts
	}
	return out
}

func average(attempts []QuizAttempt) float64 {
	if len(attempts) == 0 {
		return 0
	}
	var sum float64
	for _, q := range attempts {
		sum += q.Percentage
	}
	return sum / float64(len(attempts))
}

func sortedTopics(m map[string]MasteryUpdate) []string {
	topics := make([]string, 0, len(m))
	for topic := range m {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

func head(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
