package chat

import (
	"encoding/json"
	"fmt"
	"strings"
)

// WelcomeMessage is the opening line shown before the first question.
func WelcomeMessage(agentName string) string {
	first := strings.Fields(agentName)
	name := "the agent"
	if len(first) > 0 {
		name = first[0]
	}
	return fmt.Sprintf("Hey! If you would like to discuss %s's review, let me know...", name)
}

// ApologyMessage is recorded as the model turn when a chat turn fails.
const ApologyMessage = "Sorry, I'm having trouble connecting right now. Please try again later."

// AmendmentReadyMessage stands in for a proposal that came without an explanation.
const AmendmentReadyMessage = "I've prepared an amendment to the review for your approval."

// buildSystemPrompt sets the persona, the amendment protocol and the context block.
func buildSystemPrompt(c Context) string {
	var b strings.Builder
	b.WriteString(`You are "Call Sage", a friendly and helpful AI Quality Management assistant. You discuss a call review that was previously generated.

Rules:
- Be concise and helpful. Ground every answer in the call data and the review below. If asked for an opinion or anything outside this call, politely say you can only answer questions about this call.
- The call data below is the source of truth. The review is context and may contain mistakes.
- When asked for a specific detail such as a timestamp, find it in the call data. Never invent a timestamp and never give one later than the conversation duration.
- Use British English spelling and grammar (e.g. "summarise", "behaviour").
- Refer to the agent by their first name.

Amending the review:
- You may propose corrections to the review using the amend_review tool.
- You MUST ask the user for permission in conversation before proposing an amendment. Only call amend_review after the user has agreed to the change.
- An amendment may only correct criteria that already appear in the review's scores. Never add new criteria.
- Never set overall_score; it is recalculated from the scoring matrix.
- Put a short explanation of the change in the tool's explanation field.
`)

	b.WriteString("\n## Call data\n")
	if c.Duration != "" {
		fmt.Fprintf(&b, "Conversation duration: %s\n", c.Duration)
	}
	switch {
	case c.FromAudio && c.Transcript != "":
		b.WriteString("The review was generated from an audio recording, which was the source of truth. The transcript below is secondary: it may be incomplete or inaccurate, so treat it with caution and defer to the review where they disagree.\n")
		b.WriteString("Transcript:\n")
		b.WriteString(c.Transcript)
		b.WriteString("\n")
	case c.Transcript != "":
		b.WriteString("The call transcript is the primary source of truth.\n")
		b.WriteString("Transcript:\n")
		b.WriteString(c.Transcript)
		b.WriteString("\n")
	default:
		b.WriteString("No text transcript is available; the review was generated from an audio recording.\n")
	}

	b.WriteString("\n## Current review\n```json\n")
	b.WriteString(mustJSON(c.Review))
	b.WriteString("\n```\n")

	b.WriteString("\n## Scoring matrix\n```json\n")
	b.WriteString(mustJSON(c.Matrix))
	b.WriteString("\n```\n")
	return b.String()
}

func mustJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(data)
}
