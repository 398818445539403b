package review

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/joescharf/callsage/internal/llm"
)

// OutputToolName is the forced tool the model answers through.
const OutputToolName = "submit_review"

type replyScore struct {
	Criterion     string `json:"criterion" jsonschema:"description=Criterion name copied exactly from the scoring matrix"`
	Score         int    `json:"score" jsonschema:"minimum=0,maximum=5"`
	Justification string `json:"justification" jsonschema:"description=Evidence from the call without the numeric score or a timestamp"`
}

type replyPoint struct {
	Text      string `json:"text"`
	Timestamp string `json:"timestamp,omitempty" jsonschema:"description=HH:MM:SS or [HH:MM:SS] only if present in the source"`
}

// reviewReply is the shape the model must return.
type reviewReply struct {
	AgentName           string       `json:"agent_name"`
	ConversationID      string       `json:"conversation_id,omitempty"`
	QuickSummary        string       `json:"quick_summary" jsonschema:"description=One sentence summary of the agent's performance"`
	OverallScore        float64      `json:"overall_score,omitempty" jsonschema:"description=Ignored and recomputed by the caller"`
	Scores              []replyScore `json:"scores" jsonschema:"minItems=1"`
	OverallSummary      string       `json:"overall_summary" jsonschema:"description=Summary that references every criterion in the matrix"`
	GoodPoints          []replyPoint `json:"good_points"`
	AreasForImprovement []replyPoint `json:"areas_for_improvement"`
}

var (
	schemaOnce     sync.Once
	outputSchema   map[string]any
	replyValidator *llm.Validator
)

func initSchema() {
	schemaOnce.Do(func() {
		outputSchema = llm.SchemaFor(&reviewReply{})
		replyValidator = llm.MustValidator("review-reply.json", outputSchema)
	})
}

// OutputSchema returns the JSON Schema a generated review must satisfy.
func OutputSchema() map[string]any {
	initSchema()
	return outputSchema
}

func outputTool() *llm.Tool {
	return &llm.Tool{
		Name:        OutputToolName,
		Description: "Submit the completed call review.",
		Schema:      OutputSchema(),
	}
}

// validateReply checks raw model output against the output schema and decodes it.
func validateReply(raw json.RawMessage) (*reviewReply, error) {
	initSchema()
	if err := replyValidator.Validate(raw); err != nil {
		return nil, err
	}
	var reply reviewReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("decode review: %w", err)
	}
	return &reply, nil
}
