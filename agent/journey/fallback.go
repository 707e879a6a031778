package journey

import "fmt"

// Heuristic fallbacks used when a pipeline stage exhausts generation. They
// produce a strictly linear path: one topic unlocks the next.

func fallbackBreakdown(name string) breakdown {
	return breakdown{
		Foundational: []breakdownTopic{
			{Name: name, Description: "Introduction to " + name, EstimatedHours: 5},
		},
	}
}

func linearPrereqs(names []string) map[string]prereqEntry {
	out := make(map[string]prereqEntry, len(names))
	for _, name := range names {
		out[name] = prereqEntry{
			RequiredPrerequisites:    []string{},
			RecommendedPrerequisites: []string{},
			CanLearnWith:             []string{},
			Reasoning:                "Linear progression",
		}
	}
	return out
}

// fallbackSequence orders the priority topics (or, failing that, the
// expanded topic names) into a chain where each step requires the previous.
func fallbackSequence(input Input, names []string) []Step {
	topics := input.Profile.PriorityTopics
	if len(topics) == 0 {
		topics = names
	}
	if len(topics) > 10 {
		topics = topics[:10]
	}
	if len(topics) == 0 {
		topics = []string{"Introduction"}
	}

	steps := make([]Step, 0, len(topics))
	for i, topic := range topics {
		step := Step{
			Position:       i + 1,
			Topic:          topic,
			Description:    fmt.Sprintf("Learn the fundamentals of %s", topic),
			Prerequisites:  []string{},
			Status:         "locked",
			EstimatedHours: 10,
			Reasoning:      "Sequential learning",
			InterestArea:   "General",
		}
		if i == 0 {
			step.Status = "available"
		} else {
			step.Prerequisites = []string{topics[i-1]}
		}
		steps = append(steps, step)
	}
	return steps
}
