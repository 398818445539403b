// Package request assembles validated review requests from raw caller input.
package request

import (
	"strings"
	"time"

	"github.com/joescharf/callsage/internal/apperr"
	"github.com/joescharf/callsage/internal/audio"
	"github.com/joescharf/callsage/internal/matrix"
	"github.com/joescharf/callsage/internal/models"
	"github.com/joescharf/callsage/internal/timecode"
)

// Input is the raw, unvalidated material for a review.
type Input struct {
	AgentName            string
	ConversationID       string
	ConversationDuration string
	CallTranscript       string
	Audio                *models.AudioPayload
	// AudioDuration comes from the recording's metadata, when known.
	AudioDuration time.Duration
	ScoringMatrix models.ScoringMatrix
}

// WithRecording attaches a loaded recording and its duration.
func (in Input) WithRecording(rec *audio.Recording) Input {
	if rec != nil {
		in.Audio = rec.Payload
		in.AudioDuration = rec.Duration
	}
	return in
}

// Build validates in and returns a request ready for generation.
//
// The conversation duration is the explicit value when given, otherwise the
// recording's length, otherwise the last [HH:MM:SS] marker in the
// transcript. Not being able to derive one is not an error.
func Build(in Input) (*models.ReviewRequest, error) {
	req := &models.ReviewRequest{
		AgentName:      strings.TrimSpace(in.AgentName),
		ConversationID: strings.TrimSpace(in.ConversationID),
		CallTranscript: strings.TrimSpace(in.CallTranscript),
		Audio:          in.Audio,
		ScoringMatrix:  in.ScoringMatrix.Clone(),
	}

	if d := strings.TrimSpace(in.ConversationDuration); d != "" {
		secs, err := timecode.Parse(d)
		if err != nil {
			return nil, apperr.Invalid("conversation_duration", "%v", err)
		}
		req.ConversationDuration = timecode.Format(secs)
	}

	if err := Validate(req); err != nil {
		return nil, err
	}

	if req.ConversationDuration == "" {
		req.ConversationDuration = deriveDuration(req, in.AudioDuration)
	}
	return req, nil
}

// Validate checks the required-field rules on an assembled request.
func Validate(req *models.ReviewRequest) error {
	if req == nil {
		return apperr.Invalid("request", "request is required")
	}
	if strings.TrimSpace(req.AgentName) == "" {
		return apperr.Invalid("agent_name", "agent name is required")
	}
	if len(req.ScoringMatrix) == 0 {
		return apperr.EmptyMatrix()
	}
	if err := matrix.Validate(req.ScoringMatrix); err != nil {
		return err
	}
	if strings.TrimSpace(req.CallTranscript) == "" && !req.HasAudio() {
		return apperr.Invalid("call_transcript", "a call transcript or an audio recording is required")
	}
	return nil
}

func deriveDuration(req *models.ReviewRequest, audioDuration time.Duration) string {
	if req.HasAudio() && audioDuration > 0 {
		return timecode.FromDuration(audioDuration)
	}
	if req.CallTranscript != "" {
		return timecode.LastMarker(req.CallTranscript)
	}
	return ""
}
