// internal/lobby/lobby_store.go
package lobby

import (
	"sort"
	"sync"

	"github.com/jason-s-yu/arena/internal/models"
	"github.com/sirupsen/logrus"
)

// LobbyStore holds the committed lobby records in memory.
// Records are replaced, never mutated in place, so a pointer handed out by GetLobby stays
// a consistent snapshot even while a newer version is being staged.
type LobbyStore struct {
	mu      sync.RWMutex
	lobbies map[int64]*models.Lobby
	logger  *logrus.Logger
}

// NewLobbyStore initializes and returns an empty LobbyStore.
func NewLobbyStore(logger *logrus.Logger) *LobbyStore {
	return &LobbyStore{
		lobbies: make(map[int64]*models.Lobby),
		logger:  logger,
	}
}

// PutLobby commits l, replacing any previous version with the same id.
func (s *LobbyStore) PutLobby(l *models.Lobby) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lobbies[l.ID] = l
}

// DeleteLobby removes a lobby by id.
func (s *LobbyStore) DeleteLobby(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.lobbies[id]; !exists {
		s.logger.Warnf("LobbyStore: attempted to delete non-existent lobby %d", id)
		return
	}
	delete(s.lobbies, id)
	s.logger.Debugf("LobbyStore: deleted lobby %d", id)
}

// GetLobby returns the committed record for id.
func (s *LobbyStore) GetLobby(id int64) (*models.Lobby, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.lobbies[id]
	return l, ok
}

// Views returns the view of every lobby ordered by id. The whole set is read under one
// lock so the result never mixes two generations of the map.
func (s *LobbyStore) Views() []models.LobbyView {
	s.mu.RLock()
	views := make([]models.LobbyView, 0, len(s.lobbies))
	for _, l := range s.lobbies {
		views = append(views, l.View())
	}
	s.mu.RUnlock()

	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

// Len is the number of live lobbies.
func (s *LobbyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.lobbies)
}
