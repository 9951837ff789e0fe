package repository

import (
	"context"
	"sync"
	"time"

	"github.com/notifyhub/dispatch/internal/domain"
)

// MockPreferenceRepository is an in-memory PreferenceRepository for tests.
type MockPreferenceRepository struct {
	mu    sync.RWMutex
	rows  map[string]*domain.Preferences

	GetErr    error
	UpdateErr error
}

func NewMockPreferenceRepository() *MockPreferenceRepository {
	return &MockPreferenceRepository{rows: make(map[string]*domain.Preferences)}
}

func (m *MockPreferenceRepository) GetOrCreate(_ context.Context, userID string) (*domain.Preferences, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[userID]
	if !ok {
		p = domain.DefaultPreferences(userID)
		m.rows[userID] = p
	}
	clone := *p
	return &clone, nil
}

func (m *MockPreferenceRepository) Update(_ context.Context, userID string, u *domain.PreferencesUpdate) (*domain.Preferences, error) {
	if m.UpdateErr != nil {
		return nil, m.UpdateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[userID]
	if !ok {
		p = domain.DefaultPreferences(userID)
		m.rows[userID] = p
	}
	u.ApplyTo(p)
	p.UpdatedAt = time.Now().UTC()
	clone := *p
	return &clone, nil
}

// Seed installs a fully-specified row, bypassing defaults. Test helper.
func (m *MockPreferenceRepository) Seed(p *domain.Preferences) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *p
	m.rows[p.UserID] = &clone
}
