package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/callsage/internal/llm"
	"github.com/joescharf/callsage/internal/models"
	"github.com/joescharf/callsage/internal/review"
	"github.com/joescharf/callsage/internal/sessions"
)

const testProfile = "test"

// testManager wires the shared manager to a fake model and seeds a
// two-criterion "test" profile.
func testManager(t *testing.T, responses ...llm.FakeResponse) (*sessions.Manager, *llm.FakeModel) {
	t.Helper()
	testEnv(t)

	s, err := getStore()
	require.NoError(t, err)
	fake := llm.NewFakeModel(responses...)
	m, err := sessions.NewManager(s, fake, sessions.Options{
		Generation: review.Config{MaxAttempts: 1},
		Log:        appLog,
	})
	require.NoError(t, err)
	manager = m

	require.NoError(t, s.CreateProfile(context.Background(), &models.Profile{
		Name: testProfile,
		Matrix: models.ScoringMatrix{
			{ID: "a", Criterion: "Greeting", Description: "Greets the caller", Weight: 10},
			{ID: "b", Criterion: "Resolution", Description: "Resolves the issue", Weight: 20},
		},
	}))
	return m, fake
}

func goodReply() llm.FakeResponse {
	return llm.StructuredReply(map[string]any{
		"agent_name":      "Someone Else",
		"quick_summary":   "Solid call.",
		"overall_summary": "Greeting was fine and resolution was strong.",
		"scores": []map[string]any{
			{"criterion": "Greeting", "score": 3, "justification": "Introduced herself."},
			{"criterion": "Resolution", "score": 4, "justification": "Reset the router."},
		},
		"good_points":           []map[string]any{{"text": "Warm opening", "timestamp": "00:00:02"}},
		"areas_for_improvement": []map[string]any{{"text": "No recap", "timestamp": "00:09:00"}},
	})
}

func outString() string {
	return ui.Out.(*bytes.Buffer).String()
}

func errString() string {
	return ui.ErrOut.(*bytes.Buffer).String()
}

// seedReview generates one review through the shared manager.
func seedReview(t *testing.T, m *sessions.Manager) *models.SavedReview {
	t.Helper()
	in := sessions.GenerateInput{Profile: testProfile}
	in.AgentName = "Priya Shah"
	in.ConversationID = "C-1"
	in.CallTranscript = "[00:00:02] Agent: Hello\n[00:03:00] Agent: Bye"
	saved, err := m.Generate(context.Background(), in)
	require.NoError(t, err)
	return saved
}

func setGenerateFlags(t *testing.T, agent, transcript, profile string) {
	t.Helper()
	reviewAgent, reviewTranscriptFile, reviewProfile = agent, transcript, profile
	t.Cleanup(func() {
		reviewAgent, reviewTranscriptFile, reviewAudioFile = "", "", ""
		reviewConversationID, reviewDuration, reviewProfile = "", "", ""
		reviewJSON = false
	})
}

func TestReviewGenerateRun(t *testing.T) {
	_, fake := testManager(t, goodReply())

	path := filepath.Join(t.TempDir(), "call.txt")
	require.NoError(t, os.WriteFile(path, []byte("[00:00:02] Agent: Hello, Priya speaking\n[00:03:00] Agent: Bye"), 0o644))
	setGenerateFlags(t, "Priya Shah", path, testProfile)
	reviewConversationID = "C-9"

	require.NoError(t, reviewGenerateRun(context.Background()))
	assert.Equal(t, 1, fake.Calls())

	out := outString()
	assert.Contains(t, out, "Priya Shah")
	assert.Contains(t, out, "C-9")
	assert.Contains(t, out, "73.33")
	assert.Contains(t, out, "Warm opening")
}

func TestReviewGenerateRun_JSON(t *testing.T) {
	testManager(t, goodReply())
	setGenerateFlags(t, "Priya Shah", "-", testProfile)
	reviewJSON = true

	orig := readAllStdin
	readAllStdin = func() ([]byte, error) { return []byte("[00:00:02] Agent: Hello\n[00:03:00] Agent: Bye"), nil }
	t.Cleanup(func() { readAllStdin = orig })

	require.NoError(t, reviewGenerateRun(context.Background()))
	assert.Contains(t, outString(), `"overall_score": 73.33`)
	assert.Contains(t, outString(), `"conversation_duration": "00:03:00"`)
}

func TestReviewGenerateRun_NoSource(t *testing.T) {
	_, fake := testManager(t)
	setGenerateFlags(t, "Priya Shah", "", testProfile)

	err := reviewGenerateRun(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, fake.Calls())
}

func TestReviewGenerateRun_DryRun(t *testing.T) {
	_, fake := testManager(t)
	setGenerateFlags(t, "Priya Shah", "", testProfile)
	dryRun = true
	ui.DryRun = true
	t.Cleanup(func() { dryRun = false })

	require.NoError(t, reviewGenerateRun(context.Background()))
	assert.Equal(t, 0, fake.Calls())
	assert.Contains(t, errString(), "DRY-RUN")
}

func TestReviewShowAndList(t *testing.T) {
	m, _ := testManager(t, goodReply())
	saved := seedReview(t, m)

	require.NoError(t, reviewShowRun(context.Background(), saved.ID[:12]))
	assert.Contains(t, outString(), saved.ID)
	assert.Contains(t, outString(), "Reset the router.")

	ui.Out.(*bytes.Buffer).Reset()
	reviewListLimit = 20
	require.NoError(t, reviewListRun(context.Background()))
	assert.Contains(t, outString(), saved.ID)
	assert.Contains(t, outString(), "Solid call.")
}

func TestReviewListRun_Empty(t *testing.T) {
	testManager(t)
	require.NoError(t, reviewListRun(context.Background()))
	assert.Contains(t, outString(), "No reviews yet")
}

func TestReviewEditRun(t *testing.T) {
	m, _ := testManager(t, goodReply())
	saved := seedReview(t, m)

	reviewEditScores = []string{"greeting=5"}
	reviewEditJustification = []string{"Greeting=Perfect opening"}
	t.Cleanup(func() { reviewEditScores, reviewEditJustification = nil, nil })

	require.NoError(t, reviewEditRun(context.Background(), saved.ID))
	assert.Contains(t, outString(), "86.67")

	got, err := m.Get(context.Background(), saved.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Scores[0].Score)
	assert.Equal(t, "Perfect opening", got.Scores[0].Justification)
}

func TestReviewEditRun_NothingToChange(t *testing.T) {
	testManager(t)
	err := reviewEditRun(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to change")
}

func TestReviewDeleteRun(t *testing.T) {
	m, _ := testManager(t, goodReply())
	saved := seedReview(t, m)

	reviewDeleteYes = true
	t.Cleanup(func() { reviewDeleteYes = false })

	require.NoError(t, reviewDeleteRun(context.Background(), saved.ID))
	_, err := m.Get(context.Background(), saved.ID)
	assert.ErrorContains(t, err, "not found")
}

func TestBuildEditUpdates(t *testing.T) {
	u, err := buildEditUpdates("Short.", "", []string{"Greeting=4", "Call Closure = 2"}, []string{"greeting=Named herself"})
	require.NoError(t, err)

	require.NotNil(t, u.QuickSummary)
	assert.Equal(t, "Short.", *u.QuickSummary)
	assert.Nil(t, u.OverallSummary)

	require.Len(t, u.Scores, 2, "score and justification for one criterion merge")
	assert.Equal(t, "Greeting", u.Scores[0].Criterion)
	assert.Equal(t, 4, *u.Scores[0].Score)
	assert.Equal(t, "Named herself", *u.Scores[0].Justification)
	assert.Equal(t, "Call Closure", u.Scores[1].Criterion)
	assert.Equal(t, 2, *u.Scores[1].Score)
	assert.Nil(t, u.Scores[1].Justification)
}

func TestBuildEditUpdates_Invalid(t *testing.T) {
	_, err := buildEditUpdates("", "", []string{"Greeting"}, nil)
	assert.ErrorContains(t, err, "Criterion=value")

	_, err = buildEditUpdates("", "", []string{"Greeting=four"}, nil)
	assert.ErrorContains(t, err, "whole number")

	_, err = buildEditUpdates("", "", nil, []string{"=text"})
	assert.Error(t, err)
}
