package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joescharf/callsage/internal/apperr"
	"github.com/joescharf/callsage/internal/audio"
	"github.com/joescharf/callsage/internal/chat"
	"github.com/joescharf/callsage/internal/logger"
	"github.com/joescharf/callsage/internal/matrix"
	"github.com/joescharf/callsage/internal/metrics"
	"github.com/joescharf/callsage/internal/models"
	"github.com/joescharf/callsage/internal/request"
	"github.com/joescharf/callsage/internal/review"
	"github.com/joescharf/callsage/internal/sessions"
	"github.com/joescharf/callsage/internal/store"
)

// maxBodyBytes leaves room for a base64 recording at audio.MaxBytes.
const maxBodyBytes = audio.MaxBytes*4/3 + 1<<20

// Server provides the REST API handlers.
type Server struct {
	sessions *sessions.Manager
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// NewServer creates a new API server. met may be nil, in which case
// /metrics is not served.
func NewServer(mgr *sessions.Manager, met *metrics.Metrics, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		sessions: mgr,
		metrics:  met,
		log:      log.Component("api"),
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.healthz)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	mux.HandleFunc("GET /api/v1/reviews", s.listReviews)
	mux.HandleFunc("POST /api/v1/reviews", s.createReview)
	mux.HandleFunc("GET /api/v1/reviews/{id}", s.getReview)
	mux.HandleFunc("PUT /api/v1/reviews/{id}", s.updateReview)
	mux.HandleFunc("DELETE /api/v1/reviews/{id}", s.deleteReview)

	mux.HandleFunc("GET /api/v1/reviews/{id}/chat", s.getChat)
	mux.HandleFunc("POST /api/v1/reviews/{id}/chat", s.sendChat)
	mux.HandleFunc("DELETE /api/v1/reviews/{id}/chat", s.resetChat)
	mux.HandleFunc("POST /api/v1/reviews/{id}/amendments", s.applyAmendment)
	mux.HandleFunc("DELETE /api/v1/reviews/{id}/amendments", s.discardAmendment)

	mux.HandleFunc("GET /api/v1/profiles", s.listProfiles)
	mux.HandleFunc("POST /api/v1/profiles", s.createProfile)
	mux.HandleFunc("GET /api/v1/profiles/{name}", s.getProfile)
	mux.HandleFunc("PUT /api/v1/profiles/{name}", s.updateProfile)
	mux.HandleFunc("DELETE /api/v1/profiles/{name}", s.deleteProfile)

	mux.HandleFunc("GET /api/v1/schema/review", s.reviewSchema)

	return s.requestLogger(corsMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestLogger tags each request with an id, echoes it back and logs the
// outcome once the handler returns.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-ID") == "" {
			r.Header.Set("X-Request-ID", logger.RequestID(r))
		}
		w.Header().Set("X-Request-ID", r.Header.Get("X-Request-ID"))

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		entry := s.log.WithRequest(r).WithFields(logrus.Fields{
			"status":   rec.status,
			"duration": time.Since(start).String(),
		})
		switch {
		case rec.status >= 500:
			entry.Error("request failed")
		case rec.status >= 400:
			entry.Warn("request rejected")
		default:
			entry.Debug("request served")
		}
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Field string `json:"field,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeErr maps domain errors onto HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	var (
		ve *apperr.ValidationError
		ge *apperr.GenerationError
		ce *apperr.ChatError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: ve.Error(), Kind: string(ve.Kind), Field: ve.Field})
	case errors.Is(err, chat.ErrBusy), errors.Is(err, chat.ErrNoPendingAmendment):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &ge):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: ge.Error(), Kind: string(ge.Kind)})
	case errors.As(err, &ce):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: ce.Error(), Kind: string(ce.Kind)})
	case sessions.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case strings.Contains(err.Error(), "UNIQUE constraint"):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) reviewSchema(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, review.OutputSchema())
}

// --- Reviews ---

// generateBody is the POST /reviews payload. Audio is a data URI or bare
// base64. A missing scoring_matrix means "use the profile's matrix".
type generateBody struct {
	AgentName            string               `json:"agent_name"`
	ConversationID       string               `json:"conversation_id"`
	ConversationDuration string               `json:"conversation_duration"`
	CallTranscript       string               `json:"call_transcript"`
	Audio                string               `json:"audio"`
	ScoringMatrix        models.ScoringMatrix `json:"scoring_matrix"`
	Profile              string               `json:"profile"`
}

func (s *Server) createReview(w http.ResponseWriter, r *http.Request) {
	var body generateBody
	if !decodeBody(w, r, &body) {
		return
	}

	in := sessions.GenerateInput{
		Input: request.Input{
			AgentName:            body.AgentName,
			ConversationID:       body.ConversationID,
			ConversationDuration: body.ConversationDuration,
			CallTranscript:       body.CallTranscript,
			ScoringMatrix:        body.ScoringMatrix,
		},
		Profile: body.Profile,
	}
	if body.Audio != "" {
		rec, err := audio.ParseDataURI(body.Audio)
		if err != nil {
			writeErr(w, err)
			return
		}
		in.Input = in.WithRecording(rec)
	}

	saved, err := s.sessions.Generate(r.Context(), in)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) listReviews(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ReviewListFilter{
		AgentName:   q.Get("agent"),
		ProfileName: q.Get("profile"),
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	reviews, err := s.sessions.List(r.Context(), filter)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reviews)
}

func (s *Server) getReview(w http.ResponseWriter, r *http.Request) {
	saved, err := s.sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) updateReview(w http.ResponseWriter, r *http.Request) {
	var updates models.ReviewUpdates
	if !decodeBody(w, r, &updates) {
		return
	}
	saved, err := s.sessions.Edit(r.Context(), r.PathValue("id"), updates)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) deleteReview(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Chat ---

func (s *Server) getChat(w http.ResponseWriter, r *http.Request) {
	state, err := s.sessions.History(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) sendChat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Question string `json:"question"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	reply, err := s.sessions.Chat(r.Context(), r.PathValue("id"), body.Question)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) resetChat(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.ResetChat(r.Context(), r.PathValue("id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) applyAmendment(w http.ResponseWriter, r *http.Request) {
	saved, explanation, err := s.sessions.ApplyAmendment(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"review":      saved,
		"explanation": explanation,
	})
}

func (s *Server) discardAmendment(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.DiscardAmendment(r.Context(), r.PathValue("id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Profiles ---

func (s *Server) listProfiles(w http.ResponseWriter, r *http.Request) {
	// Make sure the default profile exists before listing.
	if _, err := s.sessions.Profile(r.Context(), ""); err != nil {
		writeErr(w, err)
		return
	}
	profiles, err := s.sessions.Store().ListProfiles(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.sessions.Profile(r.Context(), r.PathValue("name"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) createProfile(w http.ResponseWriter, r *http.Request) {
	var p models.Profile
	if !decodeBody(w, r, &p) {
		return
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		writeErr(w, apperr.Invalid("name", "profile name is required"))
		return
	}
	if p.Matrix == nil {
		p.Matrix = matrix.Defaults()
	}
	if err := matrix.Validate(p.Matrix); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.sessions.Store().CreateProfile(r.Context(), &p); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	existing, err := s.sessions.Profile(r.Context(), r.PathValue("name"))
	if err != nil {
		writeErr(w, err)
		return
	}
	var body struct {
		Matrix models.ScoringMatrix `json:"matrix"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	existing.Matrix = body.Matrix
	if err := s.sessions.SaveMatrix(r.Context(), existing); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (s *Server) deleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Store().DeleteProfile(r.Context(), r.PathValue("name")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
