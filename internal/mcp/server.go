package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/callsage/internal/audio"
	"github.com/joescharf/callsage/internal/request"
	"github.com/joescharf/callsage/internal/sessions"
	"github.com/joescharf/callsage/internal/store"
)

// Server exposes review generation and chat as MCP tools.
type Server struct {
	sessions *sessions.Manager
	version  string
}

// NewServer creates the MCP server wrapper around a sessions manager.
func NewServer(mgr *sessions.Manager, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{sessions: mgr, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("callsage", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.generateReviewTool())
	srv.AddTool(s.getReviewTool())
	srv.AddTool(s.listReviewsTool())
	srv.AddTool(s.chatTool())
	srv.AddTool(s.applyAmendmentTool())
	srv.AddTool(s.listProfilesTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// callsage_generate_review
func (s *Server) generateReviewTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("callsage_generate_review",
		mcp.WithDescription("Review a customer-service call against a weighted scoring matrix. Provide a transcript, a path to a WAV/MP3 recording, or both (the recording takes priority). Returns the saved review as JSON, including per-criterion scores, the weighted overall score (0-100) and timestamped points."),
		mcp.WithString("agent_name", mcp.Required(), mcp.Description("Full name of the agent on the call")),
		mcp.WithString("call_transcript", mcp.Description("Call transcript, ideally with [HH:MM:SS] markers")),
		mcp.WithString("audio_path", mcp.Description("Local path to a WAV or MP3 recording of the call")),
		mcp.WithString("conversation_id", mcp.Description("Conversation id to echo into the review")),
		mcp.WithString("conversation_duration", mcp.Description("Call length as HH:MM:SS; derived from the recording or transcript when omitted")),
		mcp.WithString("profile", mcp.Description("Scoring matrix profile (default profile when omitted)")),
	)
	return tool, s.handleGenerateReview
}

func (s *Server) handleGenerateReview(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentName, err := req.RequireString("agent_name")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: agent_name"), nil
	}

	in := sessions.GenerateInput{
		Input: request.Input{
			AgentName:            agentName,
			ConversationID:       req.GetString("conversation_id", ""),
			ConversationDuration: req.GetString("conversation_duration", ""),
			CallTranscript:       req.GetString("call_transcript", ""),
		},
		Profile: req.GetString("profile", ""),
	}
	if path := req.GetString("audio_path", ""); path != "" {
		rec, err := audio.LoadFile(path)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		in.Input = in.WithRecording(rec)
	}

	saved, err := s.sessions.Generate(ctx, in)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(saved)
}

// callsage_get_review
func (s *Server) getReviewTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("callsage_get_review",
		mcp.WithDescription("Get a saved review by id (full id or unique prefix)."),
		mcp.WithString("review_id", mcp.Required(), mcp.Description("Review id")),
	)
	return tool, s.handleGetReview
}

func (s *Server) handleGetReview(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("review_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: review_id"), nil
	}
	saved, err := s.sessions.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(saved)
}

// callsage_list_reviews
func (s *Server) listReviewsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("callsage_list_reviews",
		mcp.WithDescription("List saved reviews, newest first. Returns id, agent, conversation id, overall score and quick summary for each."),
		mcp.WithString("agent_name", mcp.Description("Only reviews of this agent")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of reviews (default 20)")),
	)
	return tool, s.handleListReviews
}

func (s *Server) handleListReviews(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)
	reviews, err := s.sessions.List(ctx, store.ReviewListFilter{
		AgentName: req.GetString("agent_name", ""),
		Limit:     limit,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list reviews: %v", err)), nil
	}

	type reviewOut struct {
		ID             string  `json:"id"`
		AgentName      string  `json:"agent_name"`
		ConversationID string  `json:"conversation_id,omitempty"`
		OverallScore   float64 `json:"overall_score"`
		QuickSummary   string  `json:"quick_summary"`
		CreatedAt      string  `json:"created_at"`
	}
	out := make([]reviewOut, len(reviews))
	for i, r := range reviews {
		out[i] = reviewOut{
			ID:             r.ID,
			AgentName:      r.AgentName,
			ConversationID: r.ConversationID,
			OverallScore:   r.OverallScore,
			QuickSummary:   r.QuickSummary,
			CreatedAt:      r.CreatedAt.Format("2006-01-02 15:04"),
		}
	}
	return jsonResult(out)
}

// callsage_chat
func (s *Server) chatTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("callsage_chat",
		mcp.WithDescription("Ask a question about a saved review. The assistant answers from the call data and may propose an amendment, which is returned with a preview and is not applied until callsage_apply_amendment is called."),
		mcp.WithString("review_id", mcp.Required(), mcp.Description("Review id")),
		mcp.WithString("question", mcp.Required(), mcp.Description("Question or request about the review")),
	)
	return tool, s.handleChat
}

func (s *Server) handleChat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("review_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: review_id"), nil
	}
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: question"), nil
	}
	reply, err := s.sessions.Chat(ctx, id, question)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(reply)
}

// callsage_apply_amendment
func (s *Server) applyAmendmentTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("callsage_apply_amendment",
		mcp.WithDescription("Apply (or discard) the amendment proposed in the last chat turn about a review. Returns the amended review and the explanation."),
		mcp.WithString("review_id", mcp.Required(), mcp.Description("Review id")),
		mcp.WithBoolean("discard", mcp.Description("Discard the pending amendment instead of applying it")),
	)
	return tool, s.handleApplyAmendment
}

func (s *Server) handleApplyAmendment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("review_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: review_id"), nil
	}
	if req.GetBool("discard", false) {
		if err := s.sessions.DiscardAmendment(ctx, id); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText("amendment discarded"), nil
	}
	saved, explanation, err := s.sessions.ApplyAmendment(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"review":      saved,
		"explanation": explanation,
	})
}

// callsage_list_profiles
func (s *Server) listProfilesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("callsage_list_profiles",
		mcp.WithDescription("List scoring matrix profiles with their criteria, descriptions and weights."),
	)
	return tool, s.handleListProfiles
}

func (s *Server) handleListProfiles(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, err := s.sessions.Profile(ctx, ""); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load default profile: %v", err)), nil
	}
	profiles, err := s.sessions.Store().ListProfiles(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list profiles: %v", err)), nil
	}
	return jsonResult(profiles)
}
