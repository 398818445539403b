package dataset

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joescharf/callsage/internal/models"
)

func writeWorkbook(t *testing.T, rows [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &r))
	}
	path := filepath.Join(t.TempDir(), "calls.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())
	return path
}

func TestLoad(t *testing.T) {
	path := writeWorkbook(t, [][]any{
		{"Conversation ID", "Agent Name", "Conversation Duration", "Call Transcript", "Audio File"},
		{"C-1", "Priya Shah", "00:04:10", "[00:00:01] Agent: Hello", ""},
		{"C-2", "Sam Jones", "", "", "calls/c2.wav"},
		{"C-3", "Sam Jones", "", "", ""},
	})

	rows, err := Load(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, CallRow{Row: 2, AgentName: "Priya Shah", ConversationID: "C-1", Duration: "00:04:10", Transcript: "[00:00:01] Agent: Hello"}, rows[0])
	assert.Equal(t, "calls/c2.wav", rows[1].AudioPath)
	assert.Equal(t, 3, rows[1].Row)
}

func TestLoad_MissingColumns(t *testing.T) {
	path := writeWorkbook(t, [][]any{
		{"Conversation ID", "Call Transcript"},
		{"C-1", "hello"},
	})
	_, err := Load(path)
	assert.ErrorContains(t, err, "no agent column")

	path = writeWorkbook(t, [][]any{
		{"Agent", "Notes"},
		{"Priya", "hello"},
	})
	_, err = Load(path)
	assert.ErrorContains(t, err, "no transcript or audio column")
}

func TestLoad_NoDataRows(t *testing.T) {
	path := writeWorkbook(t, [][]any{{"Agent", "Transcript"}})
	_, err := Load(path)
	assert.ErrorContains(t, err, "no data rows")
}

func TestExport(t *testing.T) {
	matrix := models.ScoringMatrix{
		{ID: "1", Criterion: "Greeting", Weight: 5},
		{ID: "2", Criterion: "Resolution", Weight: 15},
	}
	reviews := []*models.SavedReview{
		{
			Review: models.Review{
				ID: "R1", AgentName: "Priya Shah", ConversationID: "C-1", OverallScore: 75,
				Scores: []models.ScoreEntry{
					{Criterion: "Greeting", Score: 3, Justification: "fine"},
					{Criterion: "resolution", Score: 4, Justification: "fixed"},
				},
			},
			ScoringMatrix: matrix,
		},
		{
			Review: models.Review{
				ID: "R2", AgentName: "Sam Jones", OverallScore: 20,
				Scores: []models.ScoreEntry{{Criterion: "Greeting", Score: 1}},
			},
			ScoringMatrix: matrix,
		},
	}

	path := filepath.Join(t.TempDir(), "out.xlsx")
	require.NoError(t, Export(path, reviews))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Reviews", "Scores"}, f.GetSheetList())

	rows, err := f.GetRows("Reviews")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Greeting", rows[0][7])
	assert.Equal(t, "Resolution", rows[0][8])
	assert.Equal(t, "R1", rows[1][0])
	assert.Equal(t, "4", rows[1][8])
	assert.Equal(t, "1", rows[2][7])

	scores, err := f.GetRows("Scores")
	require.NoError(t, err)
	assert.Len(t, scores, 4)
	assert.Equal(t, "fixed", scores[2][4])
}

func TestCriterionColumns(t *testing.T) {
	reviews := []*models.SavedReview{
		{ScoringMatrix: models.ScoringMatrix{{Criterion: "A"}, {Criterion: "B"}}},
		{
			Review:        models.Review{Scores: []models.ScoreEntry{{Criterion: "c"}, {Criterion: "a"}}},
			ScoringMatrix: models.ScoringMatrix{{Criterion: "B"}},
		},
	}
	assert.Equal(t, []string{"A", "B", "c"}, criterionColumns(reviews))
}
