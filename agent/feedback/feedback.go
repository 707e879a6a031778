// Package feedback turns learner check-in messages into motivational
// coaching responses, keyed off the detected sentiment and recent
// performance.
package feedback

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/learnflow/learnflow/agent/structured"
	"github.com/learnflow/learnflow/types"
)

// PerformanceContext gives the coach something concrete to acknowledge.
type PerformanceContext struct {
	Strengths     []string `json:"strengths,omitempty"`
	KnowledgeGaps []string `json:"knowledge_gaps,omitempty"`
	RecentScore   *int     `json:"recent_score,omitempty"`
}

// Request is one learner check-in.
type Request struct {
	UserID      string              `json:"user_id"`
	UserInput   string              `json:"user_input"`
	Performance *PerformanceContext `json:"performance_context,omitempty"`
}

// Response is the coaching result.
type Response struct {
	Sentiment string `json:"sentiment"`
	Feedback  string `json:"feedback"`
}

// Coach generates personalized motivational feedback.
type Coach struct {
	gen    *structured.Generator
	logger *zap.Logger
}

// New creates a feedback coach.
func New(gen *structured.Generator, logger *zap.Logger) *Coach {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coach{
		gen:    gen,
		logger: logger.With(zap.String("component", "feedback")),
	}
}

// Respond classifies the learner's sentiment and produces feedback tuned to
// it. Sentiment classification degrades to "neutral" when generation is
// exhausted; the feedback step itself has no fallback, a coach that cannot
// speak should fail the job rather than send canned text.
func (c *Coach) Respond(ctx context.Context, req Request) (*Response, error) {
	if req.UserInput == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "user_input is required")
	}

	sentiment := c.classify(ctx, req.UserInput)

	var tone string
	switch sentiment {
	case "positive":
		tone = "The user seems happy and engaged. Provide some encouraging feedback."
	case "negative":
		tone = "The user seems frustrated or disengaged. Provide some supportive and motivational feedback."
	default:
		tone = "The user seems neutral. Provide some feedback to keep them engaged."
	}

	var b strings.Builder
	b.WriteString(tone)
	if p := req.Performance; p != nil {
		b.WriteString("\n\nPerformance Context:")
		if len(p.Strengths) > 0 {
			b.WriteString("\n- Strengths: " + strings.Join(head(p.Strengths, 3), ", "))
		}
		if len(p.KnowledgeGaps) > 0 {
			b.WriteString("\n- Areas to improve: " + strings.Join(head(p.KnowledgeGaps, 3), ", "))
		}
		if p.RecentScore != nil {
			b.WriteString(fmt.Sprintf("\n- Recent quiz score: %d%%", *p.RecentScore))
		}
		b.WriteString("\n\nProvide personalized feedback that acknowledges their progress and motivates them.")
	}
	b.WriteString("\n\nThe learner wrote: " + req.UserInput)
	b.WriteString(`

Return JSON: {"feedback": "your message to the learner"}`)

	var out struct {
		Feedback string `json:"feedback"`
	}
	err := c.gen.GenerateInto(ctx, structured.Request{
		System:         "You are a motivational coach for an adaptive learning platform. Provide personalized, encouraging feedback based on the user's performance and sentiment.",
		Prompt:         b.String(),
		RequiredFields: []string{"feedback"},
	}, &out)
	if err != nil {
		return nil, err
	}

	return &Response{Sentiment: sentiment, Feedback: out.Feedback}, nil
}

// classify returns "positive", "negative", or "neutral".
func (c *Coach) classify(ctx context.Context, text string) string {
	var out struct {
		Sentiment string `json:"sentiment"`
	}
	err := c.gen.GenerateInto(ctx, structured.Request{
		System: "You are a sentiment analysis expert.",
		Prompt: fmt.Sprintf(`Classify the sentiment of the following text as "positive", "negative", or "neutral".

Text: %s

Return JSON: {"sentiment": "positive|negative|neutral"}`, text),
		RequiredFields: []string{"sentiment"},
	}, &out)
	if err != nil {
		c.logger.Warn("sentiment classification degraded", zap.Error(err))
		return "neutral"
	}

	switch out.Sentiment {
	case "positive", "negative", "neutral":
		return out.Sentiment
	default:
		return "neutral"
	}
}

func head(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
