// Package preference resolves per-user delivery settings.
package preference

import (
	"context"
	"fmt"

	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/repository"
)

// Store wraps the preference repository with lazy default creation and the
// channel/priority resolution helpers the dispatcher needs.
type Store struct {
	repo repository.PreferenceRepository
}

func NewStore(repo repository.PreferenceRepository) *Store {
	return &Store{repo: repo}
}

// Get returns the stored preferences, creating defaults on first read.
func (s *Store) Get(ctx context.Context, userID string) (*domain.Preferences, error) {
	if userID == "" {
		return nil, domain.ErrMissingUserID
	}
	p, err := s.repo.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get preferences: %w", err)
	}
	return p, nil
}

// Update applies a partial update and returns the resulting full row.
func (s *Store) Update(ctx context.Context, userID string, u *domain.PreferencesUpdate) (*domain.Preferences, error) {
	if userID == "" {
		return nil, domain.ErrMissingUserID
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	p, err := s.repo.Update(ctx, userID, u)
	if err != nil {
		return nil, fmt.Errorf("update preferences: %w", err)
	}
	return p, nil
}

// PreferredChannels returns the user's enabled channels in the stable order
// EMAIL, SMS, WHATSAPP, PUSH.
func (s *Store) PreferredChannels(ctx context.Context, userID string) ([]domain.Channel, error) {
	p, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return p.PreferredChannels(), nil
}

// ChannelPriority returns the user's stored priority for the channel,
// falling back to LOW for channels the row does not recognise.
func (s *Store) ChannelPriority(ctx context.Context, userID string, c domain.Channel) (domain.Priority, error) {
	p, err := s.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	return p.ChannelPriority(c), nil
}
