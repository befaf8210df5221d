// internal/lobby/store.go
package lobby

import (
	"context"

	"github.com/jason-s-yu/arena/internal/models"
)

// Repository persists lobby rows. The registry calls it before committing a change to
// memory, so a failing call leaves the in-memory lobby untouched.
type Repository interface {
	// CreateLobby inserts l and returns the id assigned by the store.
	CreateLobby(ctx context.Context, l *models.Lobby) (int64, error)
	SaveLobby(ctx context.Context, l *models.Lobby) error
	DeleteLobby(ctx context.Context, id int64) error
	// LoadLobbies returns every persisted lobby with display names resolved.
	LoadLobbies(ctx context.Context) ([]*models.Lobby, error)
}

// Catalog resolves ids owned by the account and inventory subsystem. Lookups of unknown
// ids return an error wrapping models.ErrNotFound. Errors already name the record, e.g.
// "deck 7: not found", and are passed on as they are.
type Catalog interface {
	UserByID(ctx context.Context, id int64) (*models.User, error)
	DeckByID(ctx context.Context, id int64) (*models.Deck, error)
	CharacterByID(ctx context.Context, id int64) (*models.Character, error)
	MapByID(ctx context.Context, id int64) (*models.Map, error)
}
