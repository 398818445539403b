package chat

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/joescharf/callsage/internal/llm"
	"github.com/joescharf/callsage/internal/models"
)

// AmendToolName is the tool the model calls to propose a correction.
const AmendToolName = "amend_review"

type amendScore struct {
	Criterion     string  `json:"criterion" jsonschema:"description=Existing criterion name exactly as it appears in the review"`
	Score         *int    `json:"score,omitempty" jsonschema:"minimum=0,maximum=5"`
	Justification *string `json:"justification,omitempty"`
}

type amendPoint struct {
	Text      string `json:"text"`
	Timestamp string `json:"timestamp,omitempty"`
}

type amendArgs struct {
	QuickSummary        *string       `json:"quick_summary,omitempty"`
	OverallSummary      *string       `json:"overall_summary,omitempty"`
	Scores              []amendScore  `json:"scores,omitempty" jsonschema:"description=Only the criteria being corrected"`
	GoodPoints          *[]amendPoint `json:"good_points,omitempty" jsonschema:"description=Replaces the whole list"`
	AreasForImprovement *[]amendPoint `json:"areas_for_improvement,omitempty" jsonschema:"description=Replaces the whole list"`
	Explanation         string        `json:"explanation" jsonschema:"description=Short explanation of the change for the user"`
}

var (
	toolOnce      sync.Once
	amendTool     *llm.Tool
	amendValidate *llm.Validator
)

func tool() *llm.Tool {
	toolOnce.Do(func() {
		schema := llm.SchemaFor(&amendArgs{})
		amendTool = &llm.Tool{
			Name:        AmendToolName,
			Description: "Propose a correction to the current call review. Only call this after the user has agreed to the change.",
			Schema:      schema,
		}
		amendValidate = llm.MustValidator("amend-review.json", schema)
	})
	return amendTool
}

// parseProposal validates tool arguments and converts them to a proposal.
func parseProposal(raw json.RawMessage) (*models.AmendmentProposal, error) {
	tool()
	if err := amendValidate.Validate(raw); err != nil {
		return nil, err
	}
	var args amendArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("decode amendment: %w", err)
	}

	p := &models.AmendmentProposal{
		Explanation: args.Explanation,
		Updates: models.ReviewUpdates{
			QuickSummary:        args.QuickSummary,
			OverallSummary:      args.OverallSummary,
			GoodPoints:          convertPoints(args.GoodPoints),
			AreasForImprovement: convertPoints(args.AreasForImprovement),
		},
	}
	for _, s := range args.Scores {
		p.Updates.Scores = append(p.Updates.Scores, models.ScoreUpdate{
			Criterion:     s.Criterion,
			Score:         s.Score,
			Justification: s.Justification,
		})
	}
	return p, nil
}

func convertPoints(in *[]amendPoint) *[]models.TimestampedPoint {
	if in == nil {
		return nil
	}
	out := make([]models.TimestampedPoint, len(*in))
	for i, p := range *in {
		out[i] = models.TimestampedPoint{Text: p.Text, Timestamp: p.Timestamp}
	}
	return &out
}
