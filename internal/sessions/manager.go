// Package sessions ties review generation, persistence and chat sessions
// together for the CLI, the REST API and the MCP server.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/joescharf/callsage/internal/chat"
	"github.com/joescharf/callsage/internal/llm"
	"github.com/joescharf/callsage/internal/logger"
	"github.com/joescharf/callsage/internal/matrix"
	"github.com/joescharf/callsage/internal/metrics"
	"github.com/joescharf/callsage/internal/models"
	"github.com/joescharf/callsage/internal/request"
	"github.com/joescharf/callsage/internal/review"
	"github.com/joescharf/callsage/internal/store"
)

// DefaultCacheSize bounds the number of live chat sessions kept in memory.
const DefaultCacheSize = 128

// Options configures a Manager. Zero values fall back to defaults.
type Options struct {
	CacheSize       int
	// ChatTemperature nil means chat.DefaultTemperature.
	ChatTemperature *float64
	DefaultProfile  string
	Generation      review.Config
	Metrics         *metrics.Metrics
	Log             *logger.Logger
}

// entry is one review with its live chat session. mu serialises turns,
// edits and amendments for that review; saved can be read without it.
type entry struct {
	mu      sync.Mutex
	saved   atomic.Pointer[models.SavedReview]
	session *chat.Session
}

// Manager generates and persists reviews and keeps chat sessions alive in
// an LRU cache. Evicted sessions are rebuilt from the store on next use;
// only a pending, unapplied amendment is lost on eviction.
type Manager struct {
	store          store.Store
	model          llm.Model
	gen            *review.Generator
	metrics        *metrics.Metrics
	log            *logger.Logger
	chatTemp       float64
	defaultProfile string

	loadMu sync.Mutex
	cache  *lru.Cache[string, *entry]
}

// NewManager wires a manager around a store and a shared model handle.
func NewManager(s store.Store, model llm.Model, opts Options) (*Manager, error) {
	if opts.Log == nil {
		opts.Log = logger.Discard()
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.DefaultProfile == "" {
		opts.DefaultProfile = matrix.DefaultProfileName
	}
	cache, err := lru.New[string, *entry](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create session cache: %w", err)
	}

	model = opts.Metrics.Instrument(model)
	return &Manager{
		store:          s,
		model:          model,
		gen:            review.NewGenerator(model, opts.Generation, opts.Log),
		metrics:        opts.Metrics,
		log:            opts.Log.Component("sessions"),
		chatTemp:       chatTemperature(opts.ChatTemperature),
		defaultProfile: opts.DefaultProfile,
		cache:          cache,
	}, nil
}

func chatTemperature(t *float64) float64 {
	if t == nil {
		return chat.DefaultTemperature
	}
	return *t
}

// Store returns the underlying store.
func (m *Manager) Store() store.Store { return m.store }

// --- Profiles ---

// Profile returns the named profile, or the default profile when name is
// empty. The built-in default profile is created on first use.
func (m *Manager) Profile(ctx context.Context, name string) (*models.Profile, error) {
	if name == "" {
		name = m.defaultProfile
	}
	p, err := m.store.GetProfile(ctx, name)
	if err == nil {
		return p, nil
	}
	if !isNotFound(err) || name != matrix.DefaultProfileName {
		return nil, err
	}
	p = &models.Profile{Name: name, Matrix: matrix.Defaults()}
	if err := m.store.CreateProfile(ctx, p); err != nil {
		return nil, err
	}
	m.log.WithField("profile", name).Info("seeded default scoring matrix")
	return p, nil
}

// EnsureProfile returns the named profile, creating it from the default
// matrix when it does not exist yet.
func (m *Manager) EnsureProfile(ctx context.Context, name string) (*models.Profile, error) {
	p, err := m.Profile(ctx, name)
	if err == nil || !isNotFound(err) {
		return p, err
	}
	p = &models.Profile{Name: name, Matrix: matrix.Defaults()}
	if err := m.store.CreateProfile(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// SaveMatrix validates and stores a profile's matrix.
func (m *Manager) SaveMatrix(ctx context.Context, p *models.Profile) error {
	if err := matrix.Validate(p.Matrix); err != nil {
		return err
	}
	return m.store.UpdateProfile(ctx, p)
}

// --- Reviews ---

// GenerateInput is a review request plus the profile to score it with.
// When Input.ScoringMatrix is nil the profile's matrix is used; a non-nil
// empty matrix is passed through and rejected.
type GenerateInput struct {
	request.Input
	Profile string
}

// Generate builds the request, runs the model, persists the review and
// opens a fresh chat session for it.
func (m *Manager) Generate(ctx context.Context, in GenerateInput) (*models.SavedReview, error) {
	profileName := in.Profile
	if in.ScoringMatrix == nil {
		p, err := m.Profile(ctx, in.Profile)
		if err != nil {
			return nil, err
		}
		in.ScoringMatrix = p.Matrix
		profileName = p.Name
	}

	req, err := request.Build(in.Input)
	if err != nil {
		m.metrics.ObserveGeneration(err)
		return nil, err
	}
	rev, err := m.gen.Generate(ctx, req)
	m.metrics.ObserveGeneration(err)
	if err != nil {
		return nil, err
	}

	saved := &models.SavedReview{
		Review:               *rev,
		ProfileName:          profileName,
		ConversationDuration: req.ConversationDuration,
		CallTranscript:       req.CallTranscript,
		FromAudio:            req.HasAudio(),
		ScoringMatrix:        req.ScoringMatrix,
	}
	if err := m.store.CreateReview(ctx, saved); err != nil {
		return nil, err
	}
	saved.Review.ID = saved.ID

	m.cache.Add(saved.ID, m.newEntry(saved, nil))
	out := *saved
	return &out, nil
}

// Get returns a stored review by id or unique id prefix.
func (m *Manager) Get(ctx context.Context, id string) (*models.SavedReview, error) {
	e, err := m.entry(ctx, id)
	if err != nil {
		return nil, err
	}
	saved := *e.saved.Load()
	return &saved, nil
}

// List returns stored reviews, newest first.
func (m *Manager) List(ctx context.Context, filter store.ReviewListFilter) ([]*models.SavedReview, error) {
	return m.store.ListReviews(ctx, filter)
}

// Edit applies manual changes to a review and recomputes its overall score.
func (m *Manager) Edit(ctx context.Context, id string, updates models.ReviewUpdates) (*models.SavedReview, error) {
	e, err := m.entry(ctx, id)
	if err != nil {
		return nil, err
	}
	if !e.mu.TryLock() {
		return nil, chat.ErrBusy
	}
	defer e.mu.Unlock()

	current := e.saved.Load()
	next, err := review.Edit(&current.Review, updates, current.ScoringMatrix, current.ConversationDuration)
	if err != nil {
		return nil, err
	}
	saved, err := m.commit(ctx, e, next)
	if err != nil {
		return nil, err
	}
	e.session.SetReview(next)
	return saved, nil
}

// Delete removes a review, its chat history and its cached session.
func (m *Manager) Delete(ctx context.Context, id string) error {
	saved, err := m.store.GetReview(ctx, id)
	if err != nil {
		return err
	}
	if err := m.store.DeleteReview(ctx, saved.ID); err != nil {
		return err
	}
	m.cache.Remove(saved.ID)
	return nil
}

// --- Chat ---

// ChatState describes a review's conversation.
type ChatState struct {
	ReviewID string                    `json:"review_id"`
	Welcome  string                    `json:"welcome"`
	State    string                    `json:"state"`
	Messages []models.ChatMessage      `json:"messages"`
	Pending  *models.AmendmentProposal `json:"pending,omitempty"`
}

// History returns the conversation about a review.
func (m *Manager) History(ctx context.Context, id string) (*ChatState, error) {
	e, err := m.entry(ctx, id)
	if err != nil {
		return nil, err
	}
	saved := e.saved.Load()
	return &ChatState{
		ReviewID: saved.ID,
		Welcome:  chat.WelcomeMessage(saved.AgentName),
		State:    e.session.State().String(),
		Messages: e.session.History(),
		Pending:  e.session.Pending(),
	}, nil
}

// Chat sends one question about a review and persists the turn. A second
// turn for the same review while one is in flight returns chat.ErrBusy.
func (m *Manager) Chat(ctx context.Context, id, question string) (*chat.Reply, error) {
	e, err := m.entry(ctx, id)
	if err != nil {
		return nil, err
	}
	if !e.mu.TryLock() {
		return nil, chat.ErrBusy
	}
	defer e.mu.Unlock()

	before := len(e.session.History())
	reply, err := e.session.Send(ctx, question)
	kind := ""
	if reply != nil {
		kind = string(reply.Kind)
	}
	m.metrics.ObserveChatTurn(kind, err)

	reviewID := e.saved.Load().ID
	if turn := e.session.History()[before:]; len(turn) > 0 {
		if perr := m.store.AppendChatMessages(ctx, reviewID, turn...); perr != nil {
			m.log.WithError(perr).WithField("review_id", reviewID).Warn("persist chat turn")
		}
	}
	return reply, err
}

// ApplyAmendment applies the pending proposal for a review and persists the
// amended review.
func (m *Manager) ApplyAmendment(ctx context.Context, id string) (*models.SavedReview, string, error) {
	e, err := m.entry(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if !e.mu.TryLock() {
		return nil, "", chat.ErrBusy
	}
	defer e.mu.Unlock()

	next, explanation, err := e.session.ApplyPending()
	if err != nil {
		return nil, "", err
	}
	saved, err := m.commit(ctx, e, next)
	if err != nil {
		return nil, "", err
	}
	return saved, explanation, nil
}

// DiscardAmendment drops the pending proposal for a review, if any.
func (m *Manager) DiscardAmendment(ctx context.Context, id string) error {
	e, err := m.entry(ctx, id)
	if err != nil {
		return err
	}
	e.session.DiscardPending()
	return nil
}

// ResetChat clears a review's conversation.
func (m *Manager) ResetChat(ctx context.Context, id string) error {
	e, err := m.entry(ctx, id)
	if err != nil {
		return err
	}
	if !e.mu.TryLock() {
		return chat.ErrBusy
	}
	defer e.mu.Unlock()

	saved := e.saved.Load()
	if err := m.store.ClearChat(ctx, saved.ID); err != nil {
		return err
	}
	r := saved.Review
	e.session.Reset(&r)
	return nil
}

// commit stores next as the review's current content and returns a copy.
// Caller holds e.mu.
func (m *Manager) commit(ctx context.Context, e *entry, next *models.Review) (*models.SavedReview, error) {
	updated := *e.saved.Load()
	updated.Review = *next
	updated.Review.ID = updated.ID
	if err := m.store.UpdateReview(ctx, &updated); err != nil {
		return nil, err
	}
	e.saved.Store(&updated)
	out := updated
	return &out, nil
}

// entry returns the cached entry for a review, loading it and its chat
// history from the store on a miss.
func (m *Manager) entry(ctx context.Context, id string) (*entry, error) {
	if e, ok := m.cache.Get(id); ok {
		return e, nil
	}

	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	saved, err := m.store.GetReview(ctx, id)
	if err != nil {
		return nil, err
	}
	if e, ok := m.cache.Get(saved.ID); ok {
		return e, nil
	}
	history, err := m.store.ListChatMessages(ctx, saved.ID)
	if err != nil {
		return nil, err
	}
	e := m.newEntry(saved, history)
	m.cache.Add(saved.ID, e)
	return e, nil
}

func (m *Manager) newEntry(saved *models.SavedReview, history []models.ChatMessage) *entry {
	r := saved.Review
	r.ID = saved.ID
	s := chat.NewSession(m.model, chat.Context{
		Transcript: saved.CallTranscript,
		Duration:   saved.ConversationDuration,
		FromAudio:  saved.FromAudio,
		Review:     &r,
		Matrix:     saved.ScoringMatrix,
	}, m.chatTemp, m.log)
	if len(history) > 0 {
		s.Restore(history)
	}
	e := &entry{session: s}
	e.saved.Store(saved)
	return e
}

// IsNotFound reports whether err is a store miss.
func IsNotFound(err error) bool { return isNotFound(err) }

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not found")
}

// IsBusy reports whether err means another turn is in flight.
func IsBusy(err error) bool { return errors.Is(err, chat.ErrBusy) }
