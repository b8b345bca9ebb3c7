package store

import (
	"context"
	"sync"

	"github.com/chesslink/chesslink-server/internal/session"
)

// MemoryGames is a development-only game store used when no Redis is
// configured. Records are cloned on both sides so callers never share
// memory with the store.
type MemoryGames struct {
	mu    sync.RWMutex
	games map[string]*session.GameRecord
}

func NewMemoryGames() *MemoryGames {
	return &MemoryGames{games: make(map[string]*session.GameRecord)}
}

func (m *MemoryGames) Load(ctx context.Context, gameID string) (*session.GameRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.games[gameID]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

func (m *MemoryGames) Save(ctx context.Context, rec *session.GameRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.games[rec.ID] = rec.Clone()
	return nil
}
