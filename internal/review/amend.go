package review

import (
	"fmt"
	"strings"

	"github.com/joescharf/callsage/internal/apperr"
	"github.com/joescharf/callsage/internal/models"
	"github.com/joescharf/callsage/internal/timecode"
)

// Amend merges a proposal into current and returns the new review plus the
// explanation to show the user. current is not modified.
//
// Summaries and point lists present in the proposal replace the current
// values. Replacement points go through the same timestamp bound as
// generation: malformed timestamps or ones past duration are cleared and
// flagged. Score updates are matched by criterion name; unmatched entries on
// either side are left alone and nothing is appended. Out-of-range scores in
// a proposal are ignored. The overall score is always recomputed from the
// matrix weights.
func Amend(current *models.Review, proposal *models.AmendmentProposal, matrix models.ScoringMatrix, duration string) (*models.Review, string) {
	next := cloneReview(current)
	if proposal == nil {
		return next, ""
	}
	u := proposal.Updates

	if u.QuickSummary != nil {
		next.QuickSummary = *u.QuickSummary
	}
	if u.OverallSummary != nil {
		next.OverallSummary = *u.OverallSummary
	}
	if u.GoodPoints != nil {
		next.GoodPoints = replacePoints(next, "good_points", *u.GoodPoints, duration)
	}
	if u.AreasForImprovement != nil {
		next.AreasForImprovement = replacePoints(next, "areas_for_improvement", *u.AreasForImprovement, duration)
	}

	for _, su := range u.Scores {
		i := scoreIndex(next.Scores, su.Criterion)
		if i < 0 {
			continue
		}
		if su.Score != nil && *su.Score >= 0 && *su.Score <= MaxScore {
			next.Scores[i].Score = *su.Score
		}
		if su.Justification != nil {
			next.Scores[i].Justification = *su.Justification
		}
	}

	next.OverallScore = ComputeOverallScore(next.Scores, matrix)
	return next, proposal.Explanation
}

// replacePoints bounds the new list and swaps the flags recorded against the
// old list for those of the new one.
func replacePoints(r *models.Review, list string, points []models.TimestampedPoint, duration string) []models.TimestampedPoint {
	out, flags := boundPoints(list, points, duration)
	kept := make([]string, 0, len(r.Flags)+len(flags))
	for _, f := range r.Flags {
		if !strings.HasPrefix(f, list+"[") {
			kept = append(kept, f)
		}
	}
	r.Flags = append(kept, flags...)
	if len(r.Flags) == 0 {
		r.Flags = nil
	}
	return out
}

// Edit applies a user's manual changes. Unlike Amend it rejects unknown
// criteria, out-of-range scores, malformed timestamps and timestamps past
// duration.
func Edit(current *models.Review, updates models.ReviewUpdates, matrix models.ScoringMatrix, duration string) (*models.Review, error) {
	if err := ValidateUpdates(current, updates, duration); err != nil {
		return nil, err
	}
	next, _ := Amend(current, &models.AmendmentProposal{Updates: updates}, matrix, duration)
	return next, nil
}

// ValidateUpdates checks manual edits against the current review and the
// call duration, when known.
func ValidateUpdates(current *models.Review, u models.ReviewUpdates, duration string) error {
	for i, su := range u.Scores {
		field := fmt.Sprintf("scores[%d]", i)
		if scoreIndex(current.Scores, su.Criterion) < 0 {
			return apperr.Invalid(field+".criterion", "review has no score for criterion %q", su.Criterion)
		}
		if su.Score != nil && (*su.Score < 0 || *su.Score > MaxScore) {
			return apperr.Invalid(field+".score", "score must be an integer from 0 to %d, got %d", MaxScore, *su.Score)
		}
	}
	if err := validatePoints("good_points", u.GoodPoints, duration); err != nil {
		return err
	}
	return validatePoints("areas_for_improvement", u.AreasForImprovement, duration)
}

func validatePoints(list string, points *[]models.TimestampedPoint, duration string) error {
	if points == nil {
		return nil
	}
	for i, p := range *points {
		if p.Timestamp == "" {
			continue
		}
		field := fmt.Sprintf("%s[%d].timestamp", list, i)
		if !timecode.Valid(p.Timestamp) {
			return apperr.Invalid(field, "want HH:MM:SS, got %q", p.Timestamp)
		}
		if duration == "" {
			continue
		}
		if ok, err := timecode.WithinBound(p.Timestamp, duration); err == nil && !ok {
			return apperr.Invalid(field, "timestamp %s is past the end of the call (%s)", p.Timestamp, duration)
		}
	}
	return nil
}

func scoreIndex(scores []models.ScoreEntry, criterion string) int {
	key := models.NormalizeCriterion(criterion)
	for i, s := range scores {
		if models.NormalizeCriterion(s.Criterion) == key {
			return i
		}
	}
	return -1
}

func cloneReview(r *models.Review) *models.Review {
	if r == nil {
		return &models.Review{}
	}
	c := *r
	c.Scores = append([]models.ScoreEntry(nil), r.Scores...)
	c.GoodPoints = append([]models.TimestampedPoint(nil), r.GoodPoints...)
	c.AreasForImprovement = append([]models.TimestampedPoint(nil), r.AreasForImprovement...)
	c.MissingCriteria = append([]string(nil), r.MissingCriteria...)
	c.Flags = append([]string(nil), r.Flags...)
	return &c
}
