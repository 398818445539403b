package review

import (
	"fmt"
	"strings"

	"github.com/joescharf/callsage/internal/models"
	"github.com/joescharf/callsage/internal/timecode"
)

// finalize turns a validated reply into a Review. Identity fields come from
// the request, never the model, and the overall score is recomputed.
func (g *Generator) finalize(reply *reviewReply, req *models.ReviewRequest) *models.Review {
	r := &models.Review{
		AgentName:      req.AgentName,
		ConversationID: req.ConversationID,
		QuickSummary:   strings.TrimSpace(reply.QuickSummary),
		OverallSummary: strings.TrimSpace(reply.OverallSummary),
	}

	seen := make(map[string]bool, len(reply.Scores))
	for _, s := range reply.Scores {
		name := strings.TrimSpace(s.Criterion)
		key := models.NormalizeCriterion(name)
		if seen[key] {
			r.Flags = append(r.Flags, fmt.Sprintf("duplicate score for criterion %q dropped", name))
			continue
		}
		seen[key] = true

		if c, ok := req.ScoringMatrix.Find(name); ok {
			name = c.Criterion
		} else {
			r.Flags = append(r.Flags, fmt.Sprintf("score for unknown criterion %q ignored for scoring", name))
		}
		r.Scores = append(r.Scores, models.ScoreEntry{
			Criterion:     name,
			Score:         s.Score,
			Justification: strings.TrimSpace(s.Justification),
		})
	}

	r.MissingCriteria = MissingCriteria(r.Scores, req.ScoringMatrix)
	if len(r.MissingCriteria) > 0 {
		g.log.WithField("missing", r.MissingCriteria).Warn("model omitted matrix criteria; they are excluded from the overall score")
	}

	var flags []string
	r.GoodPoints, flags = boundPoints("good_points", toPoints(reply.GoodPoints), req.ConversationDuration)
	r.Flags = append(r.Flags, flags...)
	r.AreasForImprovement, flags = boundPoints("areas_for_improvement", toPoints(reply.AreasForImprovement), req.ConversationDuration)
	r.Flags = append(r.Flags, flags...)

	r.OverallScore = ComputeOverallScore(r.Scores, req.ScoringMatrix)
	return r
}

func toPoints(in []replyPoint) []models.TimestampedPoint {
	out := make([]models.TimestampedPoint, len(in))
	for i, p := range in {
		out[i] = models.TimestampedPoint{Text: p.Text, Timestamp: p.Timestamp}
	}
	return out
}

// boundPoints normalises timestamps to HH:MM:SS and clears any that are
// malformed or later than duration, flagging each one cleared.
func boundPoints(list string, in []models.TimestampedPoint, duration string) ([]models.TimestampedPoint, []string) {
	limit := -1
	if duration != "" {
		if secs, err := timecode.Parse(duration); err == nil {
			limit = secs
		}
	}

	out := make([]models.TimestampedPoint, 0, len(in))
	var flags []string
	for i, p := range in {
		point := models.TimestampedPoint{Text: strings.TrimSpace(p.Text)}
		ts := strings.TrimSpace(p.Timestamp)
		if ts != "" {
			secs, err := timecode.Parse(ts)
			switch {
			case err != nil:
				flags = append(flags, fmt.Sprintf("%s[%d]: malformed timestamp %q cleared", list, i, ts))
			case limit >= 0 && secs > limit:
				flags = append(flags, fmt.Sprintf("%s[%d]: timestamp %s exceeds conversation duration %s; cleared", list, i, timecode.Format(secs), duration))
			default:
				point.Timestamp = timecode.Format(secs)
			}
		}
		out = append(out, point)
	}
	return out, flags
}
