package review

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/callsage/internal/apperr"
	"github.com/joescharf/callsage/internal/llm"
	"github.com/joescharf/callsage/internal/models"
)

var testMatrix = models.ScoringMatrix{
	{ID: "a", Criterion: "Greeting", Description: "Greets the caller", Weight: 10},
	{ID: "b", Criterion: "Tone", Description: "Keeps a calm tone", Weight: 0},
	{ID: "c", Criterion: "Resolution", Description: "Resolves the issue", Weight: 20},
}

func testRequest() *models.ReviewRequest {
	return &models.ReviewRequest{
		AgentName:            "Priya Shah",
		ConversationID:       "CONV-7",
		ConversationDuration: "00:04:27",
		CallTranscript:       "[00:00:03] Agent: Hello, Priya speaking.\n[00:04:27] Agent: Bye.",
		ScoringMatrix:        testMatrix,
	}
}

func goodReply() map[string]any {
	return map[string]any{
		"agent_name":      "Pria",
		"conversation_id": "WRONG",
		"quick_summary":   "A courteous call with a clear fix.",
		"overall_score":   99,
		"scores": []map[string]any{
			{"criterion": "Greeting", "score": 3, "justification": "Opened politely."},
			{"criterion": "Tone", "score": 5, "justification": "Calm throughout."},
			{"criterion": "Resolution", "score": 4, "justification": "Reset the password."},
		},
		"overall_summary": "Greeting, Tone and Resolution were all covered.",
		"good_points": []map[string]any{
			{"text": "Warm opening", "timestamp": "[00:00:03]"},
			{"text": "Calm voice"},
		},
		"areas_for_improvement": []map[string]any{
			{"text": "Confirm the ticket number", "timestamp": "00:09:00"},
		},
	}
}

func fastConfig(attempts int) Config {
	return Config{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxElapsed: time.Second}
}

func TestComputeOverallScore(t *testing.T) {
	scores := []models.ScoreEntry{
		{Criterion: "Greeting", Score: 3},
		{Criterion: "Tone", Score: 5},
		{Criterion: "Resolution", Score: 4},
	}
	got := ComputeOverallScore(scores, testMatrix)
	assert.InDelta(t, 73.33, got, 0.01)
	assert.Equal(t, got, ComputeOverallScore(scores, testMatrix), "recomputation is stable")

	t.Run("no positive weights", func(t *testing.T) {
		m := models.ScoringMatrix{{ID: "1", Criterion: "Greeting", Weight: 0}}
		assert.Equal(t, 0.0, ComputeOverallScore(scores, m))
	})

	t.Run("unknown and missing criteria excluded", func(t *testing.T) {
		s := []models.ScoreEntry{{Criterion: "Resolution", Score: 5}, {Criterion: "Upsell", Score: 0}}
		assert.Equal(t, 100.0, ComputeOverallScore(s, testMatrix))
	})

	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, 0.0, ComputeOverallScore(nil, testMatrix))
	})
}

func TestMissingCriteria(t *testing.T) {
	missing := MissingCriteria([]models.ScoreEntry{{Criterion: "tone"}}, testMatrix)
	assert.Equal(t, []string{"Greeting", "Resolution"}, missing)
}

func TestGenerate(t *testing.T) {
	fake := llm.NewFakeModel(llm.StructuredReply(goodReply()))
	g := NewGenerator(fake, fastConfig(3), nil)

	r, err := g.Generate(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "Priya Shah", r.AgentName, "agent name comes from the request")
	assert.Equal(t, "CONV-7", r.ConversationID, "conversation id comes from the request")
	assert.InDelta(t, 73.33, r.OverallScore, 0.01, "model's overall score is replaced")
	require.Len(t, r.Scores, 3)
	assert.Empty(t, r.MissingCriteria)

	require.Len(t, r.GoodPoints, 2)
	assert.Equal(t, "00:00:03", r.GoodPoints[0].Timestamp)
	assert.Empty(t, r.GoodPoints[1].Timestamp)

	require.Len(t, r.AreasForImprovement, 1)
	assert.Empty(t, r.AreasForImprovement[0].Timestamp, "out-of-bound timestamp is cleared")
	assert.Equal(t, "Confirm the ticket number", r.AreasForImprovement[0].Text)
	require.Len(t, r.Flags, 1)
	assert.Contains(t, r.Flags[0], "exceeds conversation duration 00:04:27")

	assert.Equal(t, 1, fake.Calls())
	inv := fake.LastInvocation()
	require.NotNil(t, inv.Output)
	assert.Equal(t, OutputToolName, inv.Output.Name)
}

func TestGenerateEmptyMatrixNeverCallsModel(t *testing.T) {
	fake := llm.NewFakeModel(llm.StructuredReply(goodReply()))
	g := NewGenerator(fake, fastConfig(3), nil)

	req := testRequest()
	req.ScoringMatrix = nil
	_, err := g.Generate(context.Background(), req)

	var ve *apperr.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, apperr.KindEmptyMatrix, ve.Kind)
	assert.Equal(t, 0, fake.Calls())
}

func TestGenerateValidationNeverCallsModel(t *testing.T) {
	fake := llm.NewFakeModel(llm.StructuredReply(goodReply()))
	g := NewGenerator(fake, fastConfig(3), nil)

	req := testRequest()
	req.AgentName = ""
	_, err := g.Generate(context.Background(), req)
	assert.True(t, apperr.IsValidation(err))

	req = testRequest()
	req.CallTranscript = ""
	_, err = g.Generate(context.Background(), req)
	assert.True(t, apperr.IsValidation(err))

	assert.Equal(t, 0, fake.Calls())
}

func TestGenerateRetriesTransient(t *testing.T) {
	fake := llm.NewFakeModel(
		llm.ErrorReply(errors.New("503 Service Unavailable")),
		llm.ErrorReply(errors.New("model is overloaded")),
		llm.StructuredReply(goodReply()),
	)
	g := NewGenerator(fake, fastConfig(3), nil)

	r, err := g.Generate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.NotNil(t, r)
	assert.Equal(t, 3, fake.Calls())
}

func TestGenerateGivesUpAfterMaxAttempts(t *testing.T) {
	fake := llm.NewFakeModel(llm.ErrorReply(errors.New("503 Service Unavailable")))
	g := NewGenerator(fake, fastConfig(2), nil)

	_, err := g.Generate(context.Background(), testRequest())
	var ge *apperr.GenerationError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, apperr.KindTransient, ge.Kind)
	assert.Contains(t, err.Error(), "AI_REQUEST_FAILED:")
	assert.Equal(t, 2, fake.Calls())
}

func TestGenerateInvalidResponse(t *testing.T) {
	bad := goodReply()
	bad["scores"] = []map[string]any{{"criterion": "Greeting", "score": 9, "justification": "x"}}
	fake := llm.NewFakeModel(
		llm.StructuredReply(bad),
		llm.TextReply(""),
		llm.TextReply("I cannot help with that."),
	)
	g := NewGenerator(fake, fastConfig(3), nil)

	_, err := g.Generate(context.Background(), testRequest())
	var ge *apperr.GenerationError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, apperr.KindEmptyOrInvalidResponse, ge.Kind)
	assert.Equal(t, 3, fake.Calls())
}

func TestGenerateNonRetryableFailure(t *testing.T) {
	fake := llm.NewFakeModel(llm.ErrorReply(errors.New("401 invalid x-api-key")))
	g := NewGenerator(fake, fastConfig(3), nil)

	_, err := g.Generate(context.Background(), testRequest())
	var ge *apperr.GenerationError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, apperr.KindRequestFailed, ge.Kind)
	assert.Equal(t, 1, fake.Calls())
}

func TestGenerateModelValidationErrorNotRetried(t *testing.T) {
	fake := llm.NewFakeModel(llm.ErrorReply(apperr.Invalid("audio", "unsupported")))
	g := NewGenerator(fake, fastConfig(3), nil)

	_, err := g.Generate(context.Background(), testRequest())
	assert.True(t, apperr.IsValidation(err))
	assert.Equal(t, 1, fake.Calls())
}

func TestGenerateFromTextReply(t *testing.T) {
	fake := llm.NewFakeModel(llm.TextReply("```json\n" + `{"agent_name":"x","quick_summary":"q","scores":[{"criterion":"greeting","score":5,"justification":"j"}],"overall_summary":"s","good_points":[],"areas_for_improvement":[]}` + "\n```"))
	g := NewGenerator(fake, fastConfig(1), nil)

	r, err := g.Generate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "Greeting", r.Scores[0].Criterion, "criterion name is canonicalised to the matrix")
	assert.Equal(t, 100.0, r.OverallScore)
	assert.Equal(t, []string{"Tone", "Resolution"}, r.MissingCriteria)
}

func TestGenerateDropsDuplicateAndFlagsUnknownCriteria(t *testing.T) {
	reply := goodReply()
	reply["scores"] = []map[string]any{
		{"criterion": "Greeting", "score": 5, "justification": "a"},
		{"criterion": "Greeting", "score": 0, "justification": "b"},
		{"criterion": "Upselling", "score": 0, "justification": "c"},
		{"criterion": "Resolution", "score": 5, "justification": "d"},
		{"criterion": "Tone", "score": 1, "justification": "e"},
	}
	g := NewGenerator(llm.NewFakeModel(llm.StructuredReply(reply)), fastConfig(1), nil)

	r, err := g.Generate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Len(t, r.Scores, 4)
	assert.Equal(t, 100.0, r.OverallScore)
	assert.Contains(t, r.Flags, `duplicate score for criterion "Greeting" dropped`)
	assert.Contains(t, r.Flags, `score for unknown criterion "Upselling" ignored for scoring`)
}

func TestBuildPromptContract(t *testing.T) {
	system, user := buildPrompt(testRequest())

	assert.Contains(t, system, "description text")
	assert.Contains(t, system, "exactly one entry")
	assert.Contains(t, system, "Never fabricate a timestamp")
	assert.Contains(t, system, "later than the conversation duration")
	assert.Contains(t, system, "Never restate the numeric score")
	assert.Contains(t, system, "first name")
	assert.Contains(t, system, "British English")
	assert.Contains(t, system, "reference every criterion")
	assert.Contains(t, system, "echo it unchanged")
	assert.NotContains(t, system, "Disregard the text transcript")

	assert.Contains(t, user, "Agent name: Priya Shah")
	assert.Contains(t, user, "Conversation id: CONV-7")
	assert.Contains(t, user, "00:04:27")
	assert.Contains(t, user, "Criterion: Resolution")
	assert.Contains(t, user, "Weight: 20")
	assert.Contains(t, user, "Call transcript:\n[00:00:03]")
}

func TestBuildPromptAudioPriority(t *testing.T) {
	req := testRequest()
	req.Audio = &models.AudioPayload{MIMEType: "audio/wav", Data: "UklGRg=="}

	system, user := buildPrompt(req)
	assert.Contains(t, system, "The audio is the authoritative source")
	assert.Contains(t, system, "Disregard the text transcript and use the audio recording exclusively")
	assert.Contains(t, user, "ignored because audio is present")

	fake := llm.NewFakeModel(llm.StructuredReply(goodReply()))
	_, err := NewGenerator(fake, fastConfig(1), nil).Generate(context.Background(), req)
	require.NoError(t, err)
	inv := fake.LastInvocation()
	require.NotNil(t, inv.Audio)
	assert.Equal(t, "audio/wav", inv.Audio.MIMEType)
}

func TestOutputSchema(t *testing.T) {
	schema := OutputSchema()
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "scores")
	assert.Contains(t, props, "good_points")
	assert.ElementsMatch(t,
		[]any{"agent_name", "quick_summary", "scores", "overall_summary", "good_points", "areas_for_improvement"},
		schema["required"])
}
