package review

import "github.com/joescharf/callsage/internal/models"

// MaxScore is the top of the per-criterion scale.
const MaxScore = 5

// ComputeOverallScore returns the weighted percentage of achieved over
// possible points. Only entries whose criterion matches a matrix criterion
// with positive weight count. With no such entries the score is 0.
func ComputeOverallScore(scores []models.ScoreEntry, matrix models.ScoringMatrix) float64 {
	var achieved, possible float64
	for _, s := range scores {
		c, ok := matrix.Find(s.Criterion)
		if !ok || c.Weight <= 0 {
			continue
		}
		achieved += float64(s.Score) * c.Weight
		possible += MaxScore * c.Weight
	}
	if possible == 0 {
		return 0
	}
	return achieved / possible * 100
}

// MissingCriteria lists matrix criteria, in matrix order, that have no score entry.
func MissingCriteria(scores []models.ScoreEntry, matrix models.ScoringMatrix) []string {
	scored := make(map[string]bool, len(scores))
	for _, s := range scores {
		scored[models.NormalizeCriterion(s.Criterion)] = true
	}
	var missing []string
	for _, c := range matrix {
		if !scored[models.NormalizeCriterion(c.Criterion)] {
			missing = append(missing, c.Criterion)
		}
	}
	return missing
}
