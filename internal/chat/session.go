// Package chat runs the conversation about a generated review, including
// the tool-driven amendment protocol.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/joescharf/callsage/internal/apperr"
	"github.com/joescharf/callsage/internal/llm"
	"github.com/joescharf/callsage/internal/logger"
	"github.com/joescharf/callsage/internal/models"
	"github.com/joescharf/callsage/internal/review"
)

// DefaultTemperature keeps chat answers close to the call data.
const DefaultTemperature = 0.2

var (
	// ErrBusy is returned when a turn is sent while another is in flight.
	ErrBusy = errors.New("chat session is waiting for a reply")
	// ErrNoPendingAmendment is returned by ApplyPending when nothing is pending.
	ErrNoPendingAmendment = errors.New("no amendment is pending")
)

// State is the session's position in the turn cycle.
type State int

const (
	StateIdle State = iota
	StateAwaitingResponse
	StateIdleWithAmendment
)

func (s State) String() string {
	switch s {
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateIdleWithAmendment:
		return "idle_with_amendment"
	default:
		return "idle"
	}
}

// ReplyKind tags a Reply as a plain answer or an amendment proposal.
type ReplyKind string

const (
	ReplyPlain     ReplyKind = "answer"
	ReplyAmendment ReplyKind = "amendment"
)

// Reply is the outcome of one chat turn.
type Reply struct {
	Kind ReplyKind `json:"kind"`
	// Text is the answer, or the proposal's explanation for amendments.
	Text     string                    `json:"text"`
	Proposal *models.AmendmentProposal `json:"proposal,omitempty"`
	// Preview is the review as it would look with the proposal applied.
	Preview *models.Review `json:"preview,omitempty"`
}

// Context is what the model is told about the call.
type Context struct {
	Transcript string
	Duration   string
	// FromAudio is set when the review was generated from a recording.
	FromAudio  bool
	Review     *models.Review
	Matrix     models.ScoringMatrix
}

// Ask runs a single stateless turn: the history plus the new question are
// sent with the context block and the amend_review tool.
func Ask(ctx context.Context, model llm.Model, history []models.ChatMessage, question string, c Context, temperature float64) (*Reply, error) {
	msgs := make([]llm.Message, 0, len(history)+1)
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: models.ChatRoleUser, Content: question})

	res, err := model.Invoke(ctx, &llm.Invocation{
		System:      buildSystemPrompt(c),
		Messages:    msgs,
		Tools:       []llm.Tool{*tool()},
		Temperature: &temperature,
	})
	if err != nil {
		return nil, &apperr.ChatError{Kind: apperr.Classify(err), Err: err}
	}
	if res == nil {
		return nil, &apperr.ChatError{Kind: apperr.KindEmptyOrInvalidResponse, Err: fmt.Errorf("model returned no result")}
	}

	for _, call := range res.ToolCalls {
		if call.Name != AmendToolName {
			continue
		}
		proposal, err := parseProposal(call.Arguments)
		if err != nil {
			// Malformed arguments mean no amendment; fall through to the text.
			break
		}
		proposal.Explanation = strings.TrimSpace(proposal.Explanation)
		if proposal.Explanation == "" {
			proposal.Explanation = strings.TrimSpace(res.Text)
		}
		if proposal.Explanation == "" {
			proposal.Explanation = AmendmentReadyMessage
		}
		preview, explanation := review.Amend(c.Review, proposal, c.Matrix, c.Duration)
		return &Reply{Kind: ReplyAmendment, Text: explanation, Proposal: proposal, Preview: preview}, nil
	}

	text := strings.TrimSpace(res.Text)
	if text == "" {
		return nil, &apperr.ChatError{Kind: apperr.KindEmptyOrInvalidResponse, Err: fmt.Errorf("model returned an empty response")}
	}
	return &Reply{Kind: ReplyPlain, Text: text}, nil
}

// Session holds the history of one conversation about one review. Turns are
// serialised; a second Send while one is in flight returns ErrBusy.
type Session struct {
	mu          sync.Mutex
	model       llm.Model
	log         *logger.Logger
	temperature float64

	transcript string
	duration   string
	fromAudio  bool
	matrix     models.ScoringMatrix
	review     *models.Review
	history    []models.ChatMessage
	state      State
	pending    *models.AmendmentProposal
}

// NewSession starts an empty conversation about c.Review. A temperature of
// 0 is kept; only a negative value selects DefaultTemperature.
func NewSession(model llm.Model, c Context, temperature float64, log *logger.Logger) *Session {
	if log == nil {
		log = logger.Discard()
	}
	if temperature < 0 {
		temperature = DefaultTemperature
	}
	return &Session{
		model:       model,
		log:         log.Component("chat"),
		temperature: temperature,
		transcript:  c.Transcript,
		duration:    c.Duration,
		fromAudio:   c.FromAudio,
		matrix:      c.Matrix.Clone(),
		review:      c.Review,
	}
}

// Restore replaces the history, e.g. when reloading a persisted conversation.
func (s *Session) Restore(history []models.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append([]models.ChatMessage(nil), history...)
}

// Send appends question to the history and asks the model. On failure the
// history records the question and an apology, the session returns to idle
// and a *apperr.ChatError is returned.
func (s *Session) Send(ctx context.Context, question string) (*Reply, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apperr.Invalid("question", "question is required")
	}

	s.mu.Lock()
	if s.state == StateAwaitingResponse {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	history := append([]models.ChatMessage(nil), s.history...)
	c := Context{Transcript: s.transcript, Duration: s.duration, FromAudio: s.fromAudio, Review: s.review, Matrix: s.matrix}
	s.history = append(s.history, models.ChatMessage{Role: models.ChatRoleUser, Content: question})
	s.state = StateAwaitingResponse
	s.pending = nil
	s.mu.Unlock()

	reply, err := Ask(ctx, s.model, history, question, c, s.temperature)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.history = append(s.history, models.ChatMessage{Role: models.ChatRoleModel, Content: ApologyMessage})
		s.state = StateIdle
		s.log.WithError(err).Warn("chat turn failed")
		return nil, err
	}

	s.history = append(s.history, models.ChatMessage{Role: models.ChatRoleModel, Content: reply.Text})
	if reply.Kind == ReplyAmendment {
		s.pending = reply.Proposal
		s.state = StateIdleWithAmendment
		s.log.WithField("criteria", len(reply.Proposal.Updates.Scores)).Info("amendment proposed")
	} else {
		s.state = StateIdle
	}
	return reply, nil
}

// ApplyPending merges the pending proposal into the session's review and
// returns the new review with the proposal's explanation.
func (s *Session) ApplyPending() (*models.Review, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdleWithAmendment || s.pending == nil {
		return nil, "", ErrNoPendingAmendment
	}
	next, explanation := review.Amend(s.review, s.pending, s.matrix, s.duration)
	s.review = next
	s.pending = nil
	s.state = StateIdle
	s.log.WithField("overall_score", next.OverallScore).Info("amendment applied")
	return next, explanation, nil
}

// DiscardPending drops a pending proposal without applying it.
func (s *Session) DiscardPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdleWithAmendment {
		s.state = StateIdle
	}
	s.pending = nil
}

// Reset starts over with a newly generated review. History is cleared.
func (s *Session) Reset(r *models.Review) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.review = r
	s.history = nil
	s.pending = nil
	s.state = StateIdle
}

// SetReview swaps in a review edited outside the chat, keeping history.
func (s *Session) SetReview(r *models.Review) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.review = r
	s.pending = nil
	if s.state == StateIdleWithAmendment {
		s.state = StateIdle
	}
}

// History returns a copy of the conversation so far.
func (s *Session) History() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ChatMessage(nil), s.history...)
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Review returns the session's current review.
func (s *Session) Review() *models.Review {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.review
}

// Pending returns the proposal awaiting approval, if any.
func (s *Session) Pending() *models.AmendmentProposal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}
