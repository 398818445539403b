package matrix

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/callsage/internal/apperr"
	"github.com/joescharf/callsage/internal/models"
)

func TestDefaults(t *testing.T) {
	m := Defaults()
	require.Len(t, m, 8)
	assert.Equal(t, 100.0, m.TotalWeight())
	assert.Equal(t, "1. Greeting & Introduction", m[0].Criterion)
	assert.Equal(t, 20.0, m[7].Weight)
	require.NoError(t, Validate(m))

	m[0].Weight = 99
	assert.Equal(t, 5.0, Defaults()[0].Weight, "Defaults must return a copy")
}

func TestResetCustom(t *testing.T) {
	m := Defaults()
	m.Add("9. Upselling", "Offered relevant products")
	require.NoError(t, m.Remove("4"))
	w := 30.0
	require.NoError(t, m.Update("3", models.CriterionPatch{Weight: &w}))

	reset := ResetCustom(m)
	require.Len(t, reset, 8)
	assert.Equal(t, "4", reset[3].ID)
	assert.Equal(t, 30.0, reset[2].Weight, "edited default criteria are kept")
	for _, c := range reset {
		assert.True(t, IsDefault(c.ID))
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		matrix models.ScoringMatrix
		field  string
	}{
		{"duplicate id", models.ScoringMatrix{{ID: "1", Criterion: "A"}, {ID: "1", Criterion: "B"}}, "scoring_matrix[1].id"},
		{"blank name", models.ScoringMatrix{{ID: "1", Criterion: "  "}}, "scoring_matrix[0].criterion"},
		{"duplicate name", models.ScoringMatrix{{ID: "1", Criterion: "A"}, {ID: "2", Criterion: "a"}}, "scoring_matrix[1].criterion"},
		{"negative weight", models.ScoringMatrix{{ID: "1", Criterion: "A", Weight: -2}}, "scoring_matrix[0].weight"},
		{"missing id", models.ScoringMatrix{{Criterion: "A"}}, "scoring_matrix[0].id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.matrix)
			require.Error(t, err)
			var ve *apperr.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	assert.NoError(t, Validate(nil))
}

func TestSaveAndLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles", "sales.yaml")
	require.NoError(t, SaveFile(path, "sales", Defaults()))

	f, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sales", f.Profile)
	assert.Equal(t, Defaults(), f.Criteria)
}

func TestLoadFileAssignsIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	content := `criteria:
  - criterion: Empathy
    description: Showed empathy
    weight: 10
  - criterion: Closure
    description: Closed politely
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	f, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "custom", f.Profile)
	require.Len(t, f.Criteria, 2)
	assert.NotEmpty(t, f.Criteria[0].ID)
	assert.Equal(t, 10.0, f.Criteria[0].Weight)
	assert.Zero(t, f.Criteria[1].Weight)
}

func TestLoadFileInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("criteria:\n  - id: x\n    criterion: A\n    weight: -1\n"), 0o644))
	_, err := LoadFile(path)
	assert.True(t, apperr.IsValidation(err))

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
