package review

import (
	"fmt"
	"strings"

	"github.com/joescharf/callsage/internal/models"
)

const scoringScale = `5 - Excellent: consistently demonstrated with high quality.
4 - Good: done well with minor opportunities for improvement.
3 - Acceptable: met expectations but could be improved.
2 - Needs Improvement: partially done or lacked quality.
1 - Not Demonstrated: missed or handled poorly.
0 - Absent: no evidence at all.`

// buildPrompt constructs the system and user prompts for review generation.
// The system prompt is fixed; only the user prompt carries call data.
func buildPrompt(req *models.ReviewRequest) (system string, user string) {
	var sb strings.Builder
	sb.WriteString(`You are a non-biased Quality Management Assistant for a customer service desk. You review one call and score the agent against the scoring matrix you are given. Reply only by calling the submit_review tool.

Rules:
- Score every criterion strictly against that criterion's description text. Do not use outside knowledge or personal standards.
- Produce exactly one entry in "scores" per matrix criterion, copying the criterion name exactly as given. Never invent criteria.
- Each score is an integer from 0 to 5 on this scale:
`)
	sb.WriteString(indent(scoringScale, "    "))
	sb.WriteString(`
- A justification must cite what happened in the call. Never restate the numeric score in the justification and never put a timestamp in it.
- Use the agent name exactly as supplied for "agent_name". You may look for the agent's first name in the call only to locate the greeting and introduction.
- If a conversation id is supplied, echo it unchanged in "conversation_id".
- For every entry in "good_points" and "areas_for_improvement", include a timestamp (HH:MM:SS) only if one exists in the source for that moment. Never fabricate a timestamp. Never give a timestamp later than the conversation duration.
- Avoid repeating the same timestamp within one list unless each entry refers to a genuinely distinct aspect of that moment.
- "overall_summary" must reference every criterion in the matrix.
- "quick_summary" is a single sentence.
- Write all free text in British English spelling (e.g. "summarise", "behaviour", "centre", "colour").
`)
	if req.HasAudio() {
		sb.WriteString(`
Source of truth:
- An audio recording of the call is attached. The audio is the authoritative source: transcribe and analyse it directly.
`)
		if req.CallTranscript != "" {
			sb.WriteString("- A text transcript was also supplied. Disregard the text transcript and use the audio recording exclusively.\n")
		}
	}
	system = sb.String()

	var ub strings.Builder
	fmt.Fprintf(&ub, "Agent name: %s\n", req.AgentName)
	if req.ConversationID != "" {
		fmt.Fprintf(&ub, "Conversation id: %s\n", req.ConversationID)
	}
	if req.ConversationDuration != "" {
		fmt.Fprintf(&ub, "Conversation duration (latest valid timestamp): %s\n", req.ConversationDuration)
	}

	ub.WriteString("\nScoring matrix:\n")
	for _, c := range req.ScoringMatrix {
		fmt.Fprintf(&ub, "- Criterion: %s\n  Weight: %g\n  Description: %s\n", c.Criterion, c.Weight, strings.TrimSpace(c.Description))
	}

	switch {
	case req.HasAudio() && req.CallTranscript != "":
		ub.WriteString("\nThe call audio is attached and is the source of truth. The transcript below is for reference only and must be ignored for scoring.\n")
		ub.WriteString("\nCall transcript (ignored because audio is present):\n")
		ub.WriteString(req.CallTranscript)
		ub.WriteString("\n")
	case req.HasAudio():
		ub.WriteString("\nThe call audio is attached and is the source of truth.\n")
	default:
		ub.WriteString("\nCall transcript:\n")
		ub.WriteString(req.CallTranscript)
		ub.WriteString("\n")
	}
	user = ub.String()
	return
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
