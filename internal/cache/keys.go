package cache

import (
	"fmt"
	"strings"
	"time"
)

// Cached data falls into classes with different staleness tolerances.
// Slow-moving aggregates (profiles, quizzes) keep longer TTLs than
// fast-moving ones (recent performance, recommendations).
const (
	ProfileTTL         = time.Hour
	JourneyTTL         = 30 * time.Minute
	MasteryTTL         = 30 * time.Minute
	PerformanceTTL     = 10 * time.Minute
	RecommendationsTTL = 5 * time.Minute
	QuizTTL            = time.Hour
)

// Key builders. Every per-user key starts with "user:<id>:" so a single
// pattern delete can invalidate everything derived from that user.

func ProfileKey(userID string) string {
	return fmt.Sprintf("user:%s:profile", userID)
}

func JourneyKey(userID string) string {
	return fmt.Sprintf("user:%s:journey", userID)
}

func MasteryKey(userID, subject string) string {
	return fmt.Sprintf("user:%s:mastery:%s", userID, subject)
}

func PerformanceKey(userID string) string {
	return fmt.Sprintf("user:%s:performance", userID)
}

func RecommendationsKey(userID string) string {
	return fmt.Sprintf("user:%s:recommendations", userID)
}

func QuizKey(userID, topic string) string {
	return fmt.Sprintf("user:%s:quiz:%s", userID, topic)
}

// UserPattern matches every key belonging to one user.
func UserPattern(userID string) string {
	return fmt.Sprintf("user:%s:*", userID)
}

// KeyClass extracts the data class from a key for metric labels, e.g.
// "user:42:mastery:algebra" -> "mastery". Unrecognized keys map to "other".
func KeyClass(key string) string {
	parts := strings.Split(key, ":")
	if len(parts) >= 3 && parts[0] == "user" {
		return parts[2]
	}
	return "other"
}
