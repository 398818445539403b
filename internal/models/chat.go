package models

import "time"

// ChatRole identifies the author of a chat message.
type ChatRole string

const (
	ChatRoleUser  ChatRole = "user"
	ChatRoleModel ChatRole = "model"
)

// ChatMessage is one turn in a conversation about a review.
type ChatMessage struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}

// ScoreUpdate is a partial correction to one existing score entry, matched by criterion.
type ScoreUpdate struct {
	Criterion     string  `json:"criterion"`
	Score         *int    `json:"score,omitempty"`
	Justification *string `json:"justification,omitempty"`
}

// ReviewUpdates holds the review fields an amendment may change. Nil means "not present".
type ReviewUpdates struct {
	QuickSummary        *string             `json:"quick_summary,omitempty"`
	OverallSummary      *string             `json:"overall_summary,omitempty"`
	Scores              []ScoreUpdate       `json:"scores,omitempty"`
	GoodPoints          *[]TimestampedPoint `json:"good_points,omitempty"`
	AreasForImprovement *[]TimestampedPoint `json:"areas_for_improvement,omitempty"`
}

// AmendmentProposal is a model-proposed correction to a review plus its explanation.
type AmendmentProposal struct {
	Updates     ReviewUpdates `json:"updates"`
	Explanation string        `json:"explanation"`
}

// ChatTranscript is the persisted history of a chat about one review.
type ChatTranscript struct {
	ReviewID  string        `json:"review_id"`
	Messages  []ChatMessage `json:"messages"`
	UpdatedAt time.Time     `json:"updated_at"`
}
