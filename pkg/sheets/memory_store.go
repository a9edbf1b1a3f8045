package sheets

import (
	"context"
	"sync"

	"ludex/pkg/domain"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu            sync.RWMutex
	games         map[string]domain.Game
	conversations map[string]domain.Conversation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		games:         make(map[string]domain.Game),
		conversations: make(map[string]domain.Conversation),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) CreateGame(_ context.Context, g domain.Game) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.games[g.ID] = g
	return nil
}

func (m *MemoryStore) GetGame(_ context.Context, gameID string) (domain.Game, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[gameID]
	return g, ok, nil
}

func (m *MemoryStore) ListGamesByUser(_ context.Context, userID string) ([]domain.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var games []domain.Game
	for _, g := range m.games {
		if g.UserID == userID {
			games = append(games, g)
		}
	}
	return games, nil
}

func (m *MemoryStore) UpdateGame(_ context.Context, gameID string, update GameUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok {
		return ErrNotFound
	}
	g.UpdatedAt = update.UpdatedAt
	if update.Status != nil {
		g.Status = *update.Status
	}
	if update.OGImageURL != nil {
		g.OGImageURL = *update.OGImageURL
	}
	if update.Sections != nil {
		g.Sections = *update.Sections
	}
	if update.StrategyTips != nil {
		g.StrategyTips = *update.StrategyTips
	}
	if update.QuickStart != nil {
		g.QuickStart = *update.QuickStart
	}
	if update.ErrorMessage != nil {
		g.ErrorMessage = *update.ErrorMessage
	}
	m.games[gameID] = g
	return nil
}

func (m *MemoryStore) DeleteGame(_ context.Context, gameID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.games[gameID]; !ok {
		return ErrNotFound
	}
	delete(m.games, gameID)
	return nil
}

func (m *MemoryStore) GetConversation(_ context.Context, gameID, userID string) (domain.Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.conversations {
		if c.GameID == gameID && c.UserID == userID {
			return c, true, nil
		}
	}
	return domain.Conversation{}, false, nil
}

func (m *MemoryStore) UpsertConversation(_ context.Context, c domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[c.ID] = c
	return nil
}
