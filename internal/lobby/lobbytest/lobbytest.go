// Package lobbytest provides in-memory collaborators for tests of the lobby registry and
// the packages built on it.
package lobbytest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jason-s-yu/arena/internal/hub"
	"github.com/jason-s-yu/arena/internal/models"
)

// ErrStoreDown is what MemoryStore returns while failing.
var ErrStoreDown = errors.New("store unavailable")

// MemoryStore implements lobby.Repository and lobby.Catalog over maps.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	lobbies map[int64]*models.Lobby
	users   map[int64]models.User
	decks   map[int64]models.Deck
	chars   map[int64]models.Character
	maps    map[int64]models.Map
	failing bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lobbies: make(map[int64]*models.Lobby),
		users:   make(map[int64]models.User),
		decks:   make(map[int64]models.Deck),
		chars:   make(map[int64]models.Character),
		maps:    make(map[int64]models.Map),
	}
}

func (s *MemoryStore) AddUser(id int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = models.User{ID: id, Username: name}
}

func (s *MemoryStore) AddDeck(id, ownerID int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decks[id] = models.Deck{ID: id, OwnerID: ownerID, Name: name}
}

func (s *MemoryStore) AddCharacter(id int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chars[id] = models.Character{ID: id, Name: name}
}

func (s *MemoryStore) AddMap(id int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maps[id] = models.Map{ID: id, Name: name}
}

// SetFailing makes every lobby write fail with ErrStoreDown until reset.
func (s *MemoryStore) SetFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

// Persisted returns the stored copy of a lobby.
func (s *MemoryStore) Persisted(id int64) (*models.Lobby, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lobbies[id]
	if !ok {
		return nil, false
	}
	return l.Clone(), true
}

func (s *MemoryStore) CreateLobby(_ context.Context, l *models.Lobby) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return 0, ErrStoreDown
	}
	s.nextID++
	c := l.Clone()
	c.ID = s.nextID
	s.lobbies[c.ID] = c
	return c.ID, nil
}

func (s *MemoryStore) SaveLobby(_ context.Context, l *models.Lobby) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return ErrStoreDown
	}
	if _, ok := s.lobbies[l.ID]; !ok {
		return fmt.Errorf("lobby %d: %w", l.ID, models.ErrNotFound)
	}
	s.lobbies[l.ID] = l.Clone()
	return nil
}

func (s *MemoryStore) DeleteLobby(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return ErrStoreDown
	}
	delete(s.lobbies, id)
	return nil
}

func (s *MemoryStore) LoadLobbies(context.Context) ([]*models.Lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Lobby, 0, len(s.lobbies))
	for _, l := range s.lobbies {
		out = append(out, l.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UserByID(_ context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, models.ErrNotFound)
	}
	return &u, nil
}

func (s *MemoryStore) DeckByID(_ context.Context, id int64) (*models.Deck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decks[id]
	if !ok {
		return nil, fmt.Errorf("deck %d: %w", id, models.ErrNotFound)
	}
	return &d, nil
}

func (s *MemoryStore) CharacterByID(_ context.Context, id int64) (*models.Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chars[id]
	if !ok {
		return nil, fmt.Errorf("character %d: %w", id, models.ErrNotFound)
	}
	return &c, nil
}

func (s *MemoryStore) MapByID(_ context.Context, id int64) (*models.Map, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.maps[id]
	if !ok {
		return nil, fmt.Errorf("map %d: %w", id, models.ErrNotFound)
	}
	return &m, nil
}

// Recorder is a hub.Publisher that keeps every event it is given.
type Recorder struct {
	mu     sync.Mutex
	events []hub.Event
}

func (r *Recorder) Publish(_ context.Context, ev hub.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []hub.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]hub.Event(nil), r.events...)
}

// OnTopic returns the events published to topic, in order.
func (r *Recorder) OnTopic(topic string) []hub.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []hub.Event
	for _, ev := range r.events {
		if ev.Topic == topic {
			out = append(out, ev)
		}
	}
	return out
}

// Last returns the most recent event on topic.
func (r *Recorder) Last(topic string) (hub.Event, bool) {
	evs := r.OnTopic(topic)
	if len(evs) == 0 {
		return hub.Event{}, false
	}
	return evs[len(evs)-1], true
}

// Newest returns the event on topic with the highest Seq, the latest one among equals.
func (r *Recorder) Newest(topic string) (hub.Event, bool) {
	evs := r.OnTopic(topic)
	if len(evs) == 0 {
		return hub.Event{}, false
	}
	best := evs[0]
	for _, ev := range evs[1:] {
		if ev.Seq >= best.Seq {
			best = ev
		}
	}
	return best, true
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
