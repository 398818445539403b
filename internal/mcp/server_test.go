package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/callsage/internal/chat"
	"github.com/joescharf/callsage/internal/llm"
	"github.com/joescharf/callsage/internal/matrix"
	"github.com/joescharf/callsage/internal/models"
	"github.com/joescharf/callsage/internal/review"
	"github.com/joescharf/callsage/internal/sessions"
	"github.com/joescharf/callsage/internal/store"
)

// ---------------------------------------------------------------------------
// Mock implementations
// ---------------------------------------------------------------------------

// mockStore implements store.Store in memory.
type mockStore struct {
	mu       sync.Mutex
	profiles map[string]*models.Profile
	reviews  map[string]*models.SavedReview
	chats    map[string][]models.ChatMessage
	seq      int

	listProfilesErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		profiles: map[string]*models.Profile{},
		reviews:  map[string]*models.SavedReview{},
		chats:    map[string][]models.ChatMessage{},
	}
}

func (m *mockStore) CreateProfile(_ context.Context, p *models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[p.Name]; ok {
		return fmt.Errorf("create profile: UNIQUE constraint failed: profiles.name")
	}
	m.seq++
	p.ID = fmt.Sprintf("P%04d", m.seq)
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	cp.Matrix = p.Matrix.Clone()
	m.profiles[p.Name] = &cp
	return nil
}

func (m *mockStore) GetProfile(_ context.Context, name string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[name]
	if !ok {
		return nil, fmt.Errorf("profile not found: %s", name)
	}
	cp := *p
	cp.Matrix = p.Matrix.Clone()
	return &cp, nil
}

func (m *mockStore) ListProfiles(_ context.Context) ([]*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listProfilesErr != nil {
		return nil, m.listProfilesErr
	}
	out := make([]*models.Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockStore) UpdateProfile(_ context.Context, p *models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[p.Name]; !ok {
		return fmt.Errorf("profile not found: %s", p.Name)
	}
	cp := *p
	m.profiles[p.Name] = &cp
	return nil
}

func (m *mockStore) DeleteProfile(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[name]; !ok {
		return fmt.Errorf("profile not found: %s", name)
	}
	delete(m.profiles, name)
	return nil
}

func (m *mockStore) CreateReview(_ context.Context, r *models.SavedReview) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	r.ID = fmt.Sprintf("01MOCKREVIEW%04d", m.seq)
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	cp := *r
	m.reviews[r.ID] = &cp
	return nil
}

func (m *mockStore) GetReview(_ context.Context, id string) (*models.SavedReview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.reviews[id]; ok {
		cp := *r
		return &cp, nil
	}
	for full, r := range m.reviews {
		if strings.HasPrefix(full, id) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("review not found: %s", id)
}

func (m *mockStore) ListReviews(_ context.Context, filter store.ReviewListFilter) ([]*models.SavedReview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SavedReview
	for _, r := range m.reviews {
		if filter.AgentName != "" && r.AgentName != filter.AgentName {
			continue
		}
		if filter.ProfileName != "" && r.ProfileName != filter.ProfileName {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *mockStore) UpdateReview(_ context.Context, r *models.SavedReview) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reviews[r.ID]; !ok {
		return fmt.Errorf("review not found: %s", r.ID)
	}
	cp := *r
	m.reviews[r.ID] = &cp
	return nil
}

func (m *mockStore) DeleteReview(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reviews[id]; !ok {
		return fmt.Errorf("review not found: %s", id)
	}
	delete(m.reviews, id)
	delete(m.chats, id)
	return nil
}

func (m *mockStore) AppendChatMessages(_ context.Context, reviewID string, msgs ...models.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reviews[reviewID]; !ok {
		return fmt.Errorf("append chat: FOREIGN KEY constraint failed")
	}
	m.chats[reviewID] = append(m.chats[reviewID], msgs...)
	return nil
}

func (m *mockStore) ListChatMessages(_ context.Context, reviewID string) ([]models.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ChatMessage(nil), m.chats[reviewID]...), nil
}

func (m *mockStore) ClearChat(_ context.Context, reviewID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chats, reviewID)
	return nil
}

func (m *mockStore) Migrate(_ context.Context) error { return nil }
func (m *mockStore) Close() error                    { return nil }

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestServer(t *testing.T, responses ...llm.FakeResponse) (*Server, *mockStore, *llm.FakeModel) {
	t.Helper()
	ms := newMockStore()
	fake := llm.NewFakeModel(responses...)
	mgr, err := sessions.NewManager(ms, fake, sessions.Options{
		Generation: review.Config{MaxAttempts: 1},
	})
	require.NoError(t, err)
	return NewServer(mgr, "test"), ms, fake
}

func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(mcpgo.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "")
}

func resultJSON(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	text := resultText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target), "result text: %s", text)
}

func goodReply() llm.FakeResponse {
	return llm.StructuredReply(map[string]any{
		"agent_name":      "Someone Else",
		"conversation_id": "WRONG",
		"quick_summary":   "Solid call.",
		"overall_summary": "Greeting was fine and resolution was strong.",
		"scores": []map[string]any{
			{"criterion": "Greeting", "score": 3, "justification": "Introduced herself."},
			{"criterion": "Resolution", "score": 4, "justification": "Reset the router."},
		},
		"good_points":           []map[string]any{{"text": "Warm opening", "timestamp": "00:00:02"}},
		"areas_for_improvement": []map[string]any{},
	})
}

func seedProfile(t *testing.T, ms *mockStore) {
	t.Helper()
	require.NoError(t, ms.CreateProfile(context.Background(), &models.Profile{
		Name: matrix.DefaultProfileName,
		Matrix: models.ScoringMatrix{
			{ID: "a", Criterion: "Greeting", Description: "Greets the caller", Weight: 10},
			{ID: "b", Criterion: "Resolution", Description: "Resolves the issue", Weight: 20},
		},
	}))
}

func generate(t *testing.T, srv *Server) *models.SavedReview {
	t.Helper()
	result, err := srv.handleGenerateReview(context.Background(), callToolReq("callsage_generate_review", map[string]any{
		"agent_name":      "Priya Shah",
		"conversation_id": "C-42",
		"call_transcript": "[00:00:02] Agent: Hello, Priya speaking\n[00:03:00] Agent: Bye",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	var saved models.SavedReview
	resultJSON(t, result, &saved)
	return &saved
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestNewServer(t *testing.T) {
	srv, _, _ := newTestServer(t)
	require.NotNil(t, srv)
	assert.NotNil(t, srv.MCPServer())
	assert.Equal(t, "dev", NewServer(nil, "").version)
}

func TestHandleGenerateReview(t *testing.T) {
	srv, ms, fake := newTestServer(t, goodReply())
	seedProfile(t, ms)

	saved := generate(t, srv)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, "Priya Shah", saved.AgentName)
	assert.Equal(t, "C-42", saved.ConversationID)
	assert.InDelta(t, 73.33, saved.OverallScore, 0.01)
	assert.Equal(t, "00:03:00", saved.ConversationDuration)
	assert.Equal(t, 1, fake.Calls())
	assert.Len(t, ms.reviews, 1)
}

func TestHandleGenerateReview_MissingAgent(t *testing.T) {
	srv, _, fake := newTestServer(t)

	result, err := srv.handleGenerateReview(context.Background(), callToolReq("callsage_generate_review", map[string]any{
		"call_transcript": "hello",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "agent_name")
	assert.Equal(t, 0, fake.Calls())
}

func TestHandleGenerateReview_NoSource(t *testing.T) {
	srv, ms, fake := newTestServer(t)
	seedProfile(t, ms)

	result, err := srv.handleGenerateReview(context.Background(), callToolReq("callsage_generate_review", map[string]any{
		"agent_name": "Priya Shah",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, 0, fake.Calls())
}

func TestHandleGenerateReview_BadAudioPath(t *testing.T) {
	srv, ms, fake := newTestServer(t)
	seedProfile(t, ms)

	result, err := srv.handleGenerateReview(context.Background(), callToolReq("callsage_generate_review", map[string]any{
		"agent_name": "Priya Shah",
		"audio_path": filepath.Join(t.TempDir(), "missing.wav"),
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, 0, fake.Calls())
}

func TestHandleGenerateReview_UnsupportedAudio(t *testing.T) {
	srv, ms, fake := newTestServer(t)
	seedProfile(t, ms)

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("just some text, not audio"), 0o644))

	result, err := srv.handleGenerateReview(context.Background(), callToolReq("callsage_generate_review", map[string]any{
		"agent_name": "Priya Shah",
		"audio_path": path,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, 0, fake.Calls())
}

func TestHandleGenerateReview_ModelFailure(t *testing.T) {
	srv, ms, _ := newTestServer(t, llm.ErrorReply(errors.New("status 401: invalid api key")))
	seedProfile(t, ms)

	result, err := srv.handleGenerateReview(context.Background(), callToolReq("callsage_generate_review", map[string]any{
		"agent_name":      "Priya Shah",
		"call_transcript": "[00:00:02] Agent: Hello",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "AI_REQUEST_FAILED")
	assert.Empty(t, ms.reviews)
}

func TestHandleGetReview(t *testing.T) {
	srv, ms, _ := newTestServer(t, goodReply())
	seedProfile(t, ms)
	saved := generate(t, srv)

	result, err := srv.handleGetReview(context.Background(), callToolReq("callsage_get_review", map[string]any{
		"review_id": saved.ID,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	var got models.SavedReview
	resultJSON(t, result, &got)
	assert.Equal(t, saved.ID, got.ID)
	assert.Len(t, got.Scores, 2)
}

func TestHandleGetReview_NotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	result, err := srv.handleGetReview(context.Background(), callToolReq("callsage_get_review", map[string]any{
		"review_id": "nope",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not found")
}

func TestHandleGetReview_MissingID(t *testing.T) {
	srv, _, _ := newTestServer(t)

	result, err := srv.handleGetReview(context.Background(), callToolReq("callsage_get_review", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "review_id")
}

func TestHandleListReviews(t *testing.T) {
	srv, ms, _ := newTestServer(t, goodReply(), goodReply())
	seedProfile(t, ms)
	generate(t, srv)
	generate(t, srv)

	result, err := srv.handleListReviews(context.Background(), callToolReq("callsage_list_reviews", map[string]any{
		"agent_name": "Priya Shah",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out []map[string]any
	resultJSON(t, result, &out)
	require.Len(t, out, 2)
	assert.Equal(t, "Priya Shah", out[0]["agent_name"])
	assert.Equal(t, "Solid call.", out[0]["quick_summary"])

	result, err = srv.handleListReviews(context.Background(), callToolReq("callsage_list_reviews", map[string]any{
		"limit": float64(1),
	}))
	require.NoError(t, err)
	resultJSON(t, result, &out)
	assert.Len(t, out, 1)
}

func TestHandleChat_PlainAnswer(t *testing.T) {
	srv, ms, _ := newTestServer(t, goodReply(), llm.TextReply("Greeting scored 3 because the company name was missed."))
	seedProfile(t, ms)
	saved := generate(t, srv)

	result, err := srv.handleChat(context.Background(), callToolReq("callsage_chat", map[string]any{
		"review_id": saved.ID,
		"question":  "Why a 3 for greeting?",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var reply chat.Reply
	resultJSON(t, result, &reply)
	assert.Equal(t, chat.ReplyPlain, reply.Kind)
	assert.Contains(t, reply.Text, "company name")
	assert.Len(t, ms.chats[saved.ID], 2)
}

func TestHandleChat_MissingQuestion(t *testing.T) {
	srv, _, _ := newTestServer(t)

	result, err := srv.handleChat(context.Background(), callToolReq("callsage_chat", map[string]any{
		"review_id": "x",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "question")
}

func TestHandleChat_AmendmentFlow(t *testing.T) {
	srv, ms, _ := newTestServer(t,
		goodReply(),
		llm.ToolReply("", chat.AmendToolName, map[string]any{
			"scores":      []map[string]any{{"criterion": "Greeting", "score": 5}},
			"explanation": "Raised greeting after re-listening.",
		}),
	)
	seedProfile(t, ms)
	saved := generate(t, srv)
	ctx := context.Background()

	result, err := srv.handleChat(ctx, callToolReq("callsage_chat", map[string]any{
		"review_id": saved.ID,
		"question":  "Greeting deserves a 5, please update it.",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	var reply chat.Reply
	resultJSON(t, result, &reply)
	assert.Equal(t, chat.ReplyAmendment, reply.Kind)

	// Nothing is applied until asked
	stored, err := ms.GetReview(ctx, saved.ID)
	require.NoError(t, err)
	assert.InDelta(t, 73.33, stored.OverallScore, 0.01)

	result, err = srv.handleApplyAmendment(ctx, callToolReq("callsage_apply_amendment", map[string]any{
		"review_id": saved.ID,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var applied struct {
		Review      models.SavedReview `json:"review"`
		Explanation string             `json:"explanation"`
	}
	resultJSON(t, result, &applied)
	assert.InDelta(t, 86.67, applied.Review.OverallScore, 0.01)
	assert.Equal(t, "Raised greeting after re-listening.", applied.Explanation)

	stored, err = ms.GetReview(ctx, saved.ID)
	require.NoError(t, err)
	assert.InDelta(t, 86.67, stored.OverallScore, 0.01)

	// A second apply has nothing pending
	result, err = srv.handleApplyAmendment(ctx, callToolReq("callsage_apply_amendment", map[string]any{
		"review_id": saved.ID,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleApplyAmendment_Discard(t *testing.T) {
	srv, ms, _ := newTestServer(t,
		goodReply(),
		llm.ToolReply("", chat.AmendToolName, map[string]any{
			"quick_summary": "Excellent call.",
			"explanation":   "Reworded summary.",
		}),
	)
	seedProfile(t, ms)
	saved := generate(t, srv)
	ctx := context.Background()

	_, err := srv.handleChat(ctx, callToolReq("callsage_chat", map[string]any{
		"review_id": saved.ID,
		"question":  "Make the summary more positive.",
	}))
	require.NoError(t, err)

	result, err := srv.handleApplyAmendment(ctx, callToolReq("callsage_apply_amendment", map[string]any{
		"review_id": saved.ID,
		"discard":   true,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	assert.Equal(t, "amendment discarded", resultText(t, result))

	stored, err := ms.GetReview(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "Solid call.", stored.QuickSummary)
}

func TestHandleListProfiles_SeedsDefault(t *testing.T) {
	srv, _, _ := newTestServer(t)

	result, err := srv.handleListProfiles(context.Background(), callToolReq("callsage_list_profiles", nil))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var profiles []models.Profile
	resultJSON(t, result, &profiles)
	require.Len(t, profiles, 1)
	assert.Equal(t, matrix.DefaultProfileName, profiles[0].Name)
	assert.Equal(t, matrix.Defaults(), profiles[0].Matrix)
}

func TestHandleListProfiles_StoreError(t *testing.T) {
	srv, ms, _ := newTestServer(t)
	ms.listProfilesErr = errors.New("database locked")

	result, err := srv.handleListProfiles(context.Background(), callToolReq("callsage_list_profiles", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "database locked")
}

func TestMCPIntegration_ListTools(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mcpSrv := srv.MCPServer()

	msg := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`)
	resp := mcpSrv.HandleMessage(context.Background(), msg)
	require.NotNil(t, resp)

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var parsed struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(data, &parsed))

	names := make([]string, 0, len(parsed.Result.Tools))
	for _, tool := range parsed.Result.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"callsage_generate_review",
		"callsage_get_review",
		"callsage_list_reviews",
		"callsage_chat",
		"callsage_apply_amendment",
		"callsage_list_profiles",
	}, names)
}

// Compile-time interface checks.
var _ store.Store = (*mockStore)(nil)
var _ = (*mcpserver.MCPServer)(nil)
