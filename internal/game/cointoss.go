// Package game coordinates the in-session interactions of a lobby: the coin toss that picks
// the starting player and the relay of board snapshots between the two clients.
package game

import (
	"context"
	"fmt"
	"maps"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/jason-s-yu/arena/internal/hub"
	"github.com/jason-s-yu/arena/internal/keylock"
	"github.com/jason-s-yu/arena/internal/models"
	"github.com/sirupsen/logrus"
)

// Membership answers who is seated in a lobby.
type Membership interface {
	Members(lobbyID int64) ([]int64, error)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithFlip replaces the coin.
func WithFlip(flip func() models.CoinSide) Option {
	return func(c *Coordinator) { c.flip = flip }
}

// WithMembership restricts submissions to users seated in the lobby.
func WithMembership(m Membership) Option {
	return func(c *Coordinator) { c.members = m }
}

// Coordinator runs one coin-toss negotiation per lobby.
//
// The first choice opens a negotiation and is broadcast as partial state. A player may
// resubmit to change their side. Once two different players have chosen, the coin is
// flipped, the final state is broadcast and the negotiation is forgotten, so the next
// choice opens a fresh one.
type Coordinator struct {
	store   *TossStore
	locks   *keylock.Locker[int64]
	pub     hub.Publisher
	flip    func() models.CoinSide
	members Membership
	logger  *logrus.Logger
}

// NewCoordinator creates a coordinator publishing to pub.
func NewCoordinator(pub hub.Publisher, logger *logrus.Logger, lockWait time.Duration, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:  NewTossStore(),
		locks:  keylock.New[int64](lockWait),
		pub:    pub,
		flip:   fairFlip,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func fairFlip() models.CoinSide {
	if rand.IntN(2) == 0 {
		return models.Head
	}
	return models.Tail
}

// SubmitChoice records playerID's side for the lobby's toss and returns the state that was
// broadcast. The returned state is resolved when this choice completed the pair.
func (c *Coordinator) SubmitChoice(ctx context.Context, lobbyID, playerID int64, side models.CoinSide) (models.TossState, error) {
	if _, err := models.ParseCoinSide(string(side)); err != nil {
		return models.TossState{}, err
	}

	unlock, err := c.locks.Lock(ctx, lobbyID)
	if err != nil {
		return models.TossState{}, fmt.Errorf("coin toss %d: %w", lobbyID, err)
	}
	defer unlock()

	n, ok := c.store.get(lobbyID)
	if !ok {
		n = &negotiation{choices: make(map[int64]models.CoinSide, 2)}
	}

	// Seats are read under the toss lock so a choice can never pair with one made by a
	// player who has since left.
	if c.members != nil {
		ids, err := c.members.Members(lobbyID)
		if err != nil {
			return models.TossState{}, err
		}
		if !slices.Contains(ids, playerID) {
			return models.TossState{}, fmt.Errorf("user %d is not seated in lobby %d: %w", playerID, lobbyID, models.ErrForbidden)
		}
		maps.DeleteFunc(n.choices, func(id int64, _ models.CoinSide) bool {
			return !slices.Contains(ids, id)
		})
	}
	n.choices[playerID] = side

	state := models.TossState{LobbyID: lobbyID, Choices: maps.Clone(n.choices)}
	log := c.logger.WithFields(logrus.Fields{"lobby_id": lobbyID, "user_id": playerID, "side": side})

	if len(n.choices) < 2 {
		c.store.put(lobbyID, n)
		log.Debug("coin toss choice recorded")
		c.broadcast(ctx, state)
		return state, nil
	}

	outcome := c.flip()
	starter := pickStarter(n.choices, outcome)
	state.TossResult = &outcome
	state.StarterPlayer = &starter

	log.WithFields(logrus.Fields{"outcome": outcome, "starter": starter}).Info("coin toss resolved")
	c.broadcast(ctx, state)
	c.store.delete(lobbyID)
	return state, nil
}

// Pending returns the open negotiation of a lobby, if any.
func (c *Coordinator) Pending(lobbyID int64) (models.TossState, bool) {
	unlock, err := c.locks.Lock(context.Background(), lobbyID)
	if err != nil {
		return models.TossState{}, false
	}
	defer unlock()
	n, ok := c.store.get(lobbyID)
	if !ok {
		return models.TossState{}, false
	}
	return models.TossState{LobbyID: lobbyID, Choices: maps.Clone(n.choices)}, true
}

// Discard drops the open negotiation of a lobby. The registry calls it when a lobby closes.
func (c *Coordinator) Discard(lobbyID int64) {
	unlock, err := c.locks.Lock(context.Background(), lobbyID)
	if err != nil {
		c.logger.WithError(err).WithField("lobby_id", lobbyID).Warn("coin toss discard skipped")
		return
	}
	defer unlock()
	c.store.delete(lobbyID)
}

// pickStarter returns the lowest player id among those who called the outcome, or among
// everyone when nobody did.
func pickStarter(choices map[int64]models.CoinSide, outcome models.CoinSide) int64 {
	var winners, all []int64
	for id, side := range choices {
		all = append(all, id)
		if side == outcome {
			winners = append(winners, id)
		}
	}
	if len(winners) == 0 {
		winners = all
	}
	return slices.Min(winners)
}

func (c *Coordinator) broadcast(ctx context.Context, state models.TossState) {
	ev := hub.Event{Topic: hub.CoinTossTopic(state.LobbyID), Type: hub.TypeCoinToss, Payload: state}
	if err := c.pub.Publish(ctx, ev); err != nil {
		c.logger.WithError(err).WithField("lobby_id", state.LobbyID).Warn("coin toss broadcast failed")
	}
}
