package profiler

// Heuristic fallbacks used when a pipeline stage exhausts generation.
// They mirror what a counselor would derive from the raw onboarding form:
// self-assessed level everywhere, interests taken at face value.

func fallbackInterests(data OnboardingData) map[string]InterestAnalysis {
	out := make(map[string]InterestAnalysis, len(data.Interests))
	for _, interest := range data.Interests {
		out[interest] = InterestAnalysis{
			Category:               interest,
			Topics:                 []string{interest},
			SuggestedStartingLevel: data.SelfAssessedLevel,
			RelatedInterests:       []string{},
			Reasoning:              "Based on user self-assessment",
		}
	}
	return out
}

func fallbackSkills(data OnboardingData, interests map[string]InterestAnalysis) map[string]SkillAssessment {
	out := make(map[string]SkillAssessment, len(interests))
	for name := range interests {
		out[name] = SkillAssessment{
			SkillLevel: data.SelfAssessedLevel,
			Confidence: 70,
			Indicators: []string{"Self-reported level"},
			Reasoning:  "Based on self-assessment",
		}
	}
	return out
}

func fallbackStyle(data OnboardingData) StyleAnalysis {
	format := data.LearningStylePreference
	if format == "" {
		format = "text"
	}
	return StyleAnalysis{
		PrimaryFormat:        format,
		SecondaryFormats:     []string{"text", "visual"},
		OptimalLessonLength:  "15-20 minutes",
		EngagementStrategies: []string{"Interactive exercises"},
		WarningSigns:         []string{"Low completion rate"},
		PersonalizationNotes: "Standard approach",
	}
}

func fallbackProfile(data OnboardingData, interests map[string]InterestAnalysis, skills map[string]SkillAssessment, style StyleAnalysis) Profile {
	priority := data.Interests
	if len(priority) > 3 {
		priority = priority[:3]
	}
	return Profile{
		OverallSkillLevel:       data.SelfAssessedLevel,
		PriorityTopics:          priority,
		LearningPace:            "moderate",
		PersonalizationStrategy: "Focus on " + style.PrimaryFormat + " content",
		SuccessMetrics:          []string{"completion_rate", "quiz_scores"},
		Confidence:              0.7,
		ProfileSummary:          "Profile synthesized from onboarding inputs",
		InterestsDetail:         interests,
		SkillAssessmentsDetail:  skills,
		LearningStyleDetail:     style,
		TimeCommitment:          data.TimeCommitment,
		LearningGoals:           data.LearningGoals,
	}
}
