package store

import (
	"context"

	"github.com/joescharf/callsage/internal/models"
)

// ReviewListFilter specifies filters for listing reviews.
type ReviewListFilter struct {
	AgentName   string
	ProfileName string
	Limit       int
}

// Store defines the persistence interface for callsage.
type Store interface {
	// Profiles
	CreateProfile(ctx context.Context, p *models.Profile) error
	GetProfile(ctx context.Context, name string) (*models.Profile, error)
	ListProfiles(ctx context.Context) ([]*models.Profile, error)
	UpdateProfile(ctx context.Context, p *models.Profile) error
	DeleteProfile(ctx context.Context, name string) error

	// Reviews
	CreateReview(ctx context.Context, r *models.SavedReview) error
	GetReview(ctx context.Context, id string) (*models.SavedReview, error)
	ListReviews(ctx context.Context, filter ReviewListFilter) ([]*models.SavedReview, error)
	UpdateReview(ctx context.Context, r *models.SavedReview) error
	DeleteReview(ctx context.Context, id string) error

	// Chat
	AppendChatMessages(ctx context.Context, reviewID string, msgs ...models.ChatMessage) error
	ListChatMessages(ctx context.Context, reviewID string) ([]models.ChatMessage, error)
	ClearChat(ctx context.Context, reviewID string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
