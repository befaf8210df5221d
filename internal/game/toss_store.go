package game

import (
	"sync"

	"github.com/jason-s-yu/arena/internal/models"
)

// negotiation is the transient record of one lobby's coin toss.
type negotiation struct {
	choices map[int64]models.CoinSide
}

// TossStore keeps open negotiations in memory only. Nothing here outlives the process.
type TossStore struct {
	mu           sync.Mutex
	negotiations map[int64]*negotiation
}

func NewTossStore() *TossStore {
	return &TossStore{
		negotiations: make(map[int64]*negotiation),
	}
}

func (s *TossStore) put(lobbyID int64, n *negotiation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.negotiations[lobbyID] = n
}

func (s *TossStore) get(lobbyID int64) (*negotiation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, exists := s.negotiations[lobbyID]
	return n, exists
}

func (s *TossStore) delete(lobbyID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.negotiations, lobbyID)
}

// Len is the number of lobbies with an open negotiation.
func (s *TossStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.negotiations)
}
