package models

import "time"

// AudioPayload is a call recording carried inline as base64 with its MIME type.
type AudioPayload struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"` // base64, no data-URI prefix
}

// ReviewRequest is a validated request to review one call.
type ReviewRequest struct {
	AgentName            string        `json:"agent_name"`
	ConversationID       string        `json:"conversation_id,omitempty"`
	ConversationDuration string        `json:"conversation_duration,omitempty"` // HH:MM:SS
	CallTranscript       string        `json:"call_transcript,omitempty"`
	Audio                *AudioPayload `json:"audio,omitempty"`
	ScoringMatrix        ScoringMatrix `json:"scoring_matrix"`
}

// HasAudio reports whether the request carries a recording.
func (r *ReviewRequest) HasAudio() bool {
	return r.Audio != nil && r.Audio.Data != ""
}

// ScoreEntry is the score given for a single criterion.
type ScoreEntry struct {
	Criterion     string `json:"criterion"`
	Score         int    `json:"score"`
	Justification string `json:"justification"`
}

// TimestampedPoint is an observation optionally anchored to a moment in the call.
type TimestampedPoint struct {
	Text      string `json:"text"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Review is the structured evaluation of one call against a scoring matrix.
type Review struct {
	ID                  string             `json:"id,omitempty"`
	AgentName           string             `json:"agent_name"`
	ConversationID      string             `json:"conversation_id,omitempty"`
	QuickSummary        string             `json:"quick_summary"`
	OverallScore        float64            `json:"overall_score"`
	Scores              []ScoreEntry       `json:"scores"`
	OverallSummary      string             `json:"overall_summary"`
	GoodPoints          []TimestampedPoint `json:"good_points"`
	AreasForImprovement []TimestampedPoint `json:"areas_for_improvement"`

	// MissingCriteria lists matrix criteria the model did not score.
	MissingCriteria []string `json:"missing_criteria,omitempty"`
	// Flags records soft-constraint violations found while finalizing.
	Flags []string `json:"flags,omitempty"`
}

// SavedReview is a review persisted with the inputs it was generated from.
type SavedReview struct {
	Review
	ProfileName          string        `json:"profile_name,omitempty"`
	ConversationDuration string        `json:"conversation_duration,omitempty"`
	CallTranscript       string        `json:"call_transcript,omitempty"`
	// FromAudio records that a recording was reviewed, making the transcript secondary.
	FromAudio            bool          `json:"from_audio,omitempty"`
	ScoringMatrix        ScoringMatrix `json:"scoring_matrix"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}
