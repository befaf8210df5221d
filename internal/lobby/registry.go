// internal/lobby/registry.go
package lobby

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jason-s-yu/arena/internal/auth"
	"github.com/jason-s-yu/arena/internal/hub"
	"github.com/jason-s-yu/arena/internal/keylock"
	"github.com/jason-s-yu/arena/internal/models"
	"github.com/sirupsen/logrus"
)

// DefaultLobbyName is used when a lobby is created without a name.
const DefaultLobbyName = "New Lobby"

// CreateParams are the inputs of CreateLobby.
type CreateParams struct {
	HostID    int64
	Name      string
	Password  string
	IsPrivate bool
}

// SelectionUpdate changes the loadout of the seat held by UserID. Nil fields are left as they are.
type SelectionUpdate struct {
	LobbyID     int64
	UserID      int64
	DeckID      *int64
	CharacterID *int64
	Ready       *bool
}

// SettingsUpdate is a SelectionUpdate that may also change the map, which only the host can do.
// It is applied as one change: either every supplied field is set or none is.
type SettingsUpdate struct {
	LobbyID     int64
	UserID      int64
	DeckID      *int64
	CharacterID *int64
	MapID       *int64
	Ready       *bool
}

// Registry owns every live lobby.
//
// Mutations on one lobby are serialized by a per-id lock and follow the same steps: stage a
// clone, persist it, swap it into the store, then publish while the lock is still held.
// Different lobbies never contend. A user holds at most one seat across all lobbies.
type Registry struct {
	store   *LobbyStore
	locks   *keylock.Locker[int64]
	seats   *seatIndex
	repo    Repository
	catalog Catalog
	pub     hub.Publisher
	logger  *logrus.Logger

	// listMu numbers lobby list snapshots; it is never held while publishing.
	listMu  sync.Mutex
	listSeq uint64

	// OnClose is called with the id of every lobby that is destroyed, before its lock is
	// released. Typically assigned by main, e.g.
	//   registry.OnClose = coordinator.Discard
	OnClose func(lobbyID int64)

	// OnSeatsChanged is called, with the lock held, whenever a surviving lobby gains or
	// loses a player.
	OnSeatsChanged func(lobbyID int64)
}

// NewRegistry creates an empty registry. lockWait bounds how long a mutation waits for a
// busy lobby before failing with models.ErrBusy.
func NewRegistry(repo Repository, catalog Catalog, pub hub.Publisher, logger *logrus.Logger, lockWait time.Duration) *Registry {
	return &Registry{
		store:   NewLobbyStore(logger),
		locks:   keylock.New[int64](lockWait),
		seats:   newSeatIndex(),
		repo:    repo,
		catalog: catalog,
		pub:     pub,
		logger:  logger,
	}
}

// Restore loads persisted lobbies into memory. It is meant to run once, before serving.
func (r *Registry) Restore(ctx context.Context) error {
	lobbies, err := r.repo.LoadLobbies(ctx)
	if err != nil {
		return fmt.Errorf("restore lobbies: %w", err)
	}
	for _, l := range lobbies {
		r.store.PutLobby(l)
		for _, id := range seated(l) {
			r.seats.bind(id, l.ID)
		}
	}
	r.logger.Infof("lobby registry restored %d lobbies", len(lobbies))
	return nil
}

// CreateLobby creates a WAITING lobby hosted by p.HostID. A host already seated in
// another lobby is rejected with models.ErrConflict.
func (r *Registry) CreateLobby(ctx context.Context, p CreateParams) (models.LobbyView, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = DefaultLobbyName
	}
	if p.IsPrivate && p.Password == "" {
		return models.LobbyView{}, fmt.Errorf("private lobby needs a password: %w", models.ErrInvalidArgument)
	}

	host, err := r.catalog.UserByID(ctx, p.HostID)
	if err != nil {
		return models.LobbyView{}, err
	}
	if err := r.seats.claim(host.ID, pendingLobby); err != nil {
		return models.LobbyView{}, err
	}
	view, err := r.createLobby(ctx, host, name, p)
	if err != nil {
		r.seats.release(host.ID, pendingLobby)
		return models.LobbyView{}, err
	}
	return view, nil
}

func (r *Registry) createLobby(ctx context.Context, host *models.User, name string, p CreateParams) (models.LobbyView, error) {
	l := &models.Lobby{
		Name:      name,
		IsPrivate: p.IsPrivate,
		Status:    models.StatusWaiting,
		Player1:   models.Participant{UserID: host.ID, Username: host.Username},
	}
	if p.IsPrivate {
		hash, err := auth.HashLobbyPassword(p.Password)
		if err != nil {
			return models.LobbyView{}, fmt.Errorf("hash lobby password: %w", err)
		}
		l.PasswordHash = hash
	}

	id, err := r.repo.CreateLobby(ctx, l)
	if err != nil {
		return models.LobbyView{}, fmt.Errorf("persist new lobby: %w", err)
	}
	l.ID = id

	// Hold the new id's lock across the first publish so a racing leave cannot publish a
	// list that is then overtaken by this one.
	unlock, err := r.locks.Lock(ctx, id)
	if err != nil {
		// the row was never visible in memory; drop it so a restart does not resurrect it
		if derr := r.repo.DeleteLobby(context.WithoutCancel(ctx), id); derr != nil {
			r.logger.WithError(derr).WithField("lobby_id", id).Error("failed to remove unregistered lobby row")
		}
		return models.LobbyView{}, fmt.Errorf("lobby %d: %w", id, err)
	}
	defer unlock()

	r.seats.bind(host.ID, id)
	r.store.PutLobby(l)
	view := l.View()
	r.logger.WithFields(logrus.Fields{"lobby_id": id, "user_id": host.ID}).Info("lobby created")
	r.publishView(ctx, view)
	r.publishList(ctx)
	return view, nil
}

// ListLobbies returns a snapshot of every lobby.
func (r *Registry) ListLobbies() []models.LobbyView {
	return r.store.Views()
}

// GetLobby returns a snapshot of one lobby.
func (r *Registry) GetLobby(id int64) (models.LobbyView, error) {
	l, ok := r.store.GetLobby(id)
	if !ok {
		return models.LobbyView{}, lobbyNotFound(id)
	}
	return l.View(), nil
}

// Members returns the user ids seated in the lobby, host first.
func (r *Registry) Members(id int64) ([]int64, error) {
	l, ok := r.store.GetLobby(id)
	if !ok {
		return nil, lobbyNotFound(id)
	}
	return seated(l), nil
}

// LobbyOf returns the lobby userID is seated in.
func (r *Registry) LobbyOf(userID int64) (int64, bool) {
	return r.seats.lookup(userID)
}

// JoinLobby seats userID as player2. A user seated in another lobby is rejected with
// models.ErrConflict.
func (r *Registry) JoinLobby(ctx context.Context, lobbyID, userID int64, password string) (models.LobbyView, error) {
	var view models.LobbyView
	err := r.withLobby(ctx, lobbyID, func(cur *models.Lobby) error {
		if cur.IsPrivate && !auth.VerifyLobbyPassword(password, cur.PasswordHash) {
			return fmt.Errorf("lobby %d: wrong password: %w", lobbyID, models.ErrForbidden)
		}
		if cur.Seat(userID) != nil {
			return fmt.Errorf("user %d already in lobby %d: %w", userID, lobbyID, models.ErrConflict)
		}
		if cur.Status == models.StatusStarted {
			return fmt.Errorf("lobby %d already started: %w", lobbyID, models.ErrConflict)
		}
		if cur.Player2 != nil {
			return fmt.Errorf("lobby %d is full: %w", lobbyID, models.ErrConflict)
		}
		u, err := r.catalog.UserByID(ctx, userID)
		if err != nil {
			return err
		}
		if err := r.seats.claim(u.ID, lobbyID); err != nil {
			return err
		}

		next := cur.Clone()
		next.Player2 = &models.Participant{UserID: u.ID, Username: u.Username}
		if err := r.commit(ctx, next); err != nil {
			r.seats.release(u.ID, lobbyID)
			return err
		}

		view = next.View()
		r.logger.WithFields(logrus.Fields{"lobby_id": lobbyID, "user_id": userID}).Info("user joined lobby")
		r.seatsChanged(lobbyID)
		r.publishView(ctx, view)
		r.publishList(ctx)
		return nil
	})
	return view, err
}

// UpdateSelections changes the deck and/or character of the caller's seat. The ready flag
// is echoed on the published view and never stored.
func (r *Registry) UpdateSelections(ctx context.Context, u SelectionUpdate) (models.LobbyView, error) {
	return r.UpdateSettings(ctx, SettingsUpdate{
		LobbyID:     u.LobbyID,
		UserID:      u.UserID,
		DeckID:      u.DeckID,
		CharacterID: u.CharacterID,
		Ready:       u.Ready,
	})
}

// UpdateMap sets the lobby's map. Only the host may do this.
func (r *Registry) UpdateMap(ctx context.Context, lobbyID, userID, mapID int64) (models.LobbyView, error) {
	return r.UpdateSettings(ctx, SettingsUpdate{LobbyID: lobbyID, UserID: userID, MapID: &mapID})
}

// UpdateSettings applies a combined selection and map change. Every id is resolved before
// anything is committed, so one bad field rejects the whole update.
func (r *Registry) UpdateSettings(ctx context.Context, u SettingsUpdate) (models.LobbyView, error) {
	var view models.LobbyView
	err := r.withLobby(ctx, u.LobbyID, func(cur *models.Lobby) error {
		if cur.Seat(u.UserID) == nil {
			return fmt.Errorf("user %d is not seated in lobby %d: %w", u.UserID, u.LobbyID, models.ErrForbidden)
		}
		if u.MapID != nil && !cur.IsHost(u.UserID) {
			return fmt.Errorf("only the host can change the map of lobby %d: %w", u.LobbyID, models.ErrForbidden)
		}
		if cur.Status == models.StatusStarted {
			return fmt.Errorf("lobby %d already started: %w", u.LobbyID, models.ErrConflict)
		}

		next := cur.Clone()
		if err := r.applySettings(ctx, next, u); err != nil {
			return err
		}
		if err := r.commit(ctx, next); err != nil {
			return err
		}

		view = next.View()
		view.Ready = u.Ready
		r.publishView(ctx, view)
		r.publishList(ctx)
		return nil
	})
	return view, err
}

// applySettings resolves the ids in u onto the staged clone next.
func (r *Registry) applySettings(ctx context.Context, next *models.Lobby, u SettingsUpdate) error {
	seat := next.Seat(u.UserID)
	if u.DeckID != nil {
		deck, err := r.catalog.DeckByID(ctx, *u.DeckID)
		if err != nil {
			return err
		}
		if deck.OwnerID != 0 && deck.OwnerID != u.UserID {
			return fmt.Errorf("deck %d belongs to another user: %w", deck.ID, models.ErrForbidden)
		}
		seat.DeckID, seat.DeckName = &deck.ID, deck.Name
	}
	if u.CharacterID != nil {
		ch, err := r.catalog.CharacterByID(ctx, *u.CharacterID)
		if err != nil {
			return err
		}
		seat.CharacterID, seat.CharacterName = &ch.ID, ch.Name
	}
	if u.MapID != nil {
		m, err := r.catalog.MapByID(ctx, *u.MapID)
		if err != nil {
			return err
		}
		next.Map = &models.MapRef{ID: m.ID, Name: m.Name}
	}
	return nil
}

// LeaveLobby removes userID from its seat. When the host leaves, player2 becomes the host;
// a lobby left with nobody is deleted. The returned view is nil if the lobby is gone.
func (r *Registry) LeaveLobby(ctx context.Context, lobbyID, userID int64) (*models.LobbyView, error) {
	var view *models.LobbyView
	err := r.withLobby(ctx, lobbyID, func(cur *models.Lobby) error {
		if cur.Seat(userID) == nil {
			return fmt.Errorf("user %d is not in lobby %d: %w", userID, lobbyID, models.ErrNotFound)
		}
		var err error
		view, err = r.leave(ctx, cur, userID)
		return err
	})
	return view, err
}

// AbandonLobby takes userID out of whatever lobby they sit in, unless that lobby has
// already started. Being seated nowhere is not an error.
func (r *Registry) AbandonLobby(ctx context.Context, userID int64) error {
	lobbyID, ok := r.seats.lookup(userID)
	if !ok {
		return nil
	}
	err := r.withLobby(ctx, lobbyID, func(cur *models.Lobby) error {
		if cur.Seat(userID) == nil || cur.Status == models.StatusStarted {
			return nil
		}
		_, err := r.leave(ctx, cur, userID)
		return err
	})
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	return err
}

// leave removes a seated userID from cur. Callers hold the lobby lock.
func (r *Registry) leave(ctx context.Context, cur *models.Lobby, userID int64) (*models.LobbyView, error) {
	if cur.IsHost(userID) && cur.Player2 == nil {
		if err := r.destroy(ctx, cur); err != nil {
			return nil, err
		}
		r.logger.WithFields(logrus.Fields{"lobby_id": cur.ID, "user_id": userID}).Info("last user left, lobby deleted")
		r.publishList(ctx)
		return nil, nil
	}

	next := cur.Clone()
	if next.IsHost(userID) {
		next.Player1 = *next.Player2
	}
	next.Player2 = nil
	if err := r.commit(ctx, next); err != nil {
		return nil, err
	}
	r.seats.release(userID, cur.ID)

	v := next.View()
	r.logger.WithFields(logrus.Fields{
		"lobby_id": cur.ID,
		"user_id":  userID,
		"host_id":  next.Player1.UserID,
	}).Info("user left lobby")
	r.seatsChanged(cur.ID)
	r.publishView(ctx, v)
	r.publishList(ctx)
	return &v, nil
}

// KickPlayer removes player2 on behalf of the host.
func (r *Registry) KickPlayer(ctx context.Context, lobbyID, hostID, targetID int64) (models.LobbyView, error) {
	var view models.LobbyView
	err := r.withLobby(ctx, lobbyID, func(cur *models.Lobby) error {
		if !cur.IsHost(hostID) {
			return fmt.Errorf("only the host can kick from lobby %d: %w", lobbyID, models.ErrForbidden)
		}
		if targetID == hostID {
			return fmt.Errorf("host cannot kick themselves: %w", models.ErrInvalidArgument)
		}
		if cur.Player2 == nil || cur.Player2.UserID != targetID {
			return fmt.Errorf("user %d is not in lobby %d: %w", targetID, lobbyID, models.ErrNotFound)
		}

		next := cur.Clone()
		next.Player2 = nil
		if err := r.commit(ctx, next); err != nil {
			return err
		}
		r.seats.release(targetID, lobbyID)

		view = next.View()
		r.logger.WithFields(logrus.Fields{"lobby_id": lobbyID, "user_id": targetID}).Info("user kicked from lobby")
		r.seatsChanged(lobbyID)
		r.publishView(ctx, view)
		r.publishList(ctx)
		return nil
	})
	return view, err
}

// DeleteLobby removes the lobby regardless of who is seated.
func (r *Registry) DeleteLobby(ctx context.Context, lobbyID int64) error {
	return r.deleteLobby(ctx, lobbyID, nil)
}

// CloseLobby is DeleteLobby on behalf of a user, who must be the host.
func (r *Registry) CloseLobby(ctx context.Context, lobbyID, userID int64) error {
	return r.deleteLobby(ctx, lobbyID, &userID)
}

func (r *Registry) deleteLobby(ctx context.Context, lobbyID int64, by *int64) error {
	return r.withLobby(ctx, lobbyID, func(cur *models.Lobby) error {
		if by != nil && !cur.IsHost(*by) {
			return fmt.Errorf("only the host can close lobby %d: %w", lobbyID, models.ErrForbidden)
		}
		if err := r.destroy(ctx, cur); err != nil {
			return err
		}
		r.logger.WithField("lobby_id", lobbyID).Info("lobby deleted")
		r.publishList(ctx)
		return nil
	})
}

// StartGame moves the lobby to STARTED whoever is seated. Starting a started lobby is a
// no-op that still republishes its view.
func (r *Registry) StartGame(ctx context.Context, lobbyID int64) (models.LobbyView, error) {
	return r.startGame(ctx, lobbyID, nil)
}

// StartGameAs is StartGame requested by a user. Only the host may start, and only once
// the second seat is taken and both players have picked a deck and a character.
func (r *Registry) StartGameAs(ctx context.Context, lobbyID, userID int64) (models.LobbyView, error) {
	return r.startGame(ctx, lobbyID, &userID)
}

func (r *Registry) startGame(ctx context.Context, lobbyID int64, by *int64) (models.LobbyView, error) {
	var view models.LobbyView
	err := r.withLobby(ctx, lobbyID, func(cur *models.Lobby) error {
		if by != nil {
			if !cur.IsHost(*by) {
				return fmt.Errorf("only the host can start lobby %d: %w", lobbyID, models.ErrForbidden)
			}
			if cur.Status == models.StatusWaiting {
				if cur.Player2 == nil {
					return fmt.Errorf("lobby %d is waiting for a second player: %w", lobbyID, models.ErrConflict)
				}
				if !loadoutChosen(cur.Player1) || !loadoutChosen(*cur.Player2) {
					return fmt.Errorf("lobby %d: both players need a deck and a character: %w", lobbyID, models.ErrConflict)
				}
			}
		}

		next := cur
		if cur.Status != models.StatusStarted {
			next = cur.Clone()
			next.Status = models.StatusStarted
			if err := r.commit(ctx, next); err != nil {
				return err
			}
			r.logger.WithField("lobby_id", lobbyID).Info("lobby started")
		}
		view = next.View()
		r.publishView(ctx, view)
		r.publishList(ctx)
		return nil
	})
	return view, err
}

// IsHost reports whether userID hosts the lobby.
func (r *Registry) IsHost(lobbyID, userID int64) (bool, error) {
	l, ok := r.store.GetLobby(lobbyID)
	if !ok {
		return false, lobbyNotFound(lobbyID)
	}
	return l.IsHost(userID), nil
}

// withLobby runs fn with the lobby's lock held and its committed record loaded.
func (r *Registry) withLobby(ctx context.Context, id int64, fn func(cur *models.Lobby) error) error {
	unlock, err := r.locks.Lock(ctx, id)
	if err != nil {
		return fmt.Errorf("lobby %d: %w", id, err)
	}
	defer unlock()

	cur, ok := r.store.GetLobby(id)
	if !ok {
		return lobbyNotFound(id)
	}
	return fn(cur)
}

// commit persists next and swaps it in. Callers hold the lobby lock.
func (r *Registry) commit(ctx context.Context, next *models.Lobby) error {
	if err := r.repo.SaveLobby(ctx, next); err != nil {
		return fmt.Errorf("persist lobby %d: %w", next.ID, err)
	}
	r.store.PutLobby(next)
	return nil
}

// destroy removes the lobby from the repository and memory and tells its subscribers.
func (r *Registry) destroy(ctx context.Context, cur *models.Lobby) error {
	id := cur.ID
	if err := r.repo.DeleteLobby(ctx, id); err != nil {
		return fmt.Errorf("delete lobby %d: %w", id, err)
	}
	r.store.DeleteLobby(id)
	for _, userID := range seated(cur) {
		r.seats.release(userID, id)
	}
	if r.OnClose != nil {
		r.OnClose(id)
	}
	r.publish(ctx, hub.Event{
		Topic:   hub.LobbyTopic(id),
		Type:    hub.TypeLobbyClosed,
		Payload: map[string]int64{"id": id},
	})
	return nil
}

func (r *Registry) publishView(ctx context.Context, view models.LobbyView) {
	r.publish(ctx, hub.Event{Topic: hub.LobbyTopic(view.ID), Type: hub.TypeLobbyUpdate, Payload: view})
}

func (r *Registry) seatsChanged(lobbyID int64) {
	if r.OnSeatsChanged != nil {
		r.OnSeatsChanged(lobbyID)
	}
}

// publishList broadcasts the lobby list. Snapshots are numbered in the order they are
// taken; subscribers keep the highest Seq they have seen.
func (r *Registry) publishList(ctx context.Context) {
	r.listMu.Lock()
	r.listSeq++
	ev := hub.Event{Topic: hub.LobbyListTopic, Type: hub.TypeLobbyList, Payload: r.store.Views(), Seq: r.listSeq}
	r.listMu.Unlock()

	r.publish(ctx, ev)
}

// publish hands ev to the dispatcher. The mutation is already committed, so a failure is
// only logged.
func (r *Registry) publish(ctx context.Context, ev hub.Event) {
	if err := r.pub.Publish(ctx, ev); err != nil {
		r.logger.WithError(err).WithField("topic", ev.Topic).Warn("lobby broadcast failed")
	}
}

func seated(l *models.Lobby) []int64 {
	ids := []int64{l.Player1.UserID}
	if l.Player2 != nil {
		ids = append(ids, l.Player2.UserID)
	}
	return ids
}

func loadoutChosen(p models.Participant) bool {
	return p.DeckID != nil && p.CharacterID != nil
}

func lobbyNotFound(id int64) error {
	return fmt.Errorf("lobby %d: %w", id, models.ErrNotFound)
}
