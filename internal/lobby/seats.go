// internal/lobby/seats.go
package lobby

import (
	"fmt"
	"sync"

	"github.com/jason-s-yu/arena/internal/models"
)

// pendingLobby marks a seat claimed by a create whose id is not assigned yet.
const pendingLobby int64 = 0

// seatIndex maps every seated user to the one lobby they occupy. Claims are checked and
// recorded under a single mutex, so of two racing creates or joins by the same user only
// one can hold the seat; the other fails with models.ErrConflict before anything is persisted.
type seatIndex struct {
	mu    sync.Mutex
	seats map[int64]int64
}

func newSeatIndex() *seatIndex {
	return &seatIndex{seats: make(map[int64]int64)}
}

// claim records userID as seated in lobbyID.
func (s *seatIndex) claim(userID, lobbyID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.seats[userID]; ok {
		if cur == pendingLobby {
			return fmt.Errorf("user %d is already creating a lobby: %w", userID, models.ErrConflict)
		}
		return fmt.Errorf("user %d is already in lobby %d: %w", userID, cur, models.ErrConflict)
	}
	s.seats[userID] = lobbyID
	return nil
}

// bind turns a pending claim into a seat in lobbyID.
func (s *seatIndex) bind(userID, lobbyID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seats[userID] = lobbyID
}

// release forgets userID's seat if it is still the one in lobbyID.
func (s *seatIndex) release(userID, lobbyID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.seats[userID]; ok && cur == lobbyID {
		delete(s.seats, userID)
	}
}

func (s *seatIndex) lookup(userID int64) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.seats[userID]
	if !ok || id == pendingLobby {
		return 0, false
	}
	return id, true
}
