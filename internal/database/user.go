package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/arena/internal/models"
)

// notFound turns pgx.ErrNoRows into models.ErrNotFound so callers never see driver errors
// for a missing id.
func notFound(what string, id int64, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", what, id, models.ErrNotFound)
	}
	return fmt.Errorf("lookup %s %d: %w", what, id, err)
}

func (s *Store) UserByID(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := s.DB.QueryRow(ctx, `SELECT id, username FROM users WHERE id = $1`, id).Scan(&u.ID, &u.Username)
	if err != nil {
		return nil, notFound("user", id, err)
	}
	return &u, nil
}

func (s *Store) DeckByID(ctx context.Context, id int64) (*models.Deck, error) {
	var d models.Deck
	err := s.DB.QueryRow(ctx, `SELECT id, owner_id, name FROM decks WHERE id = $1`, id).Scan(&d.ID, &d.OwnerID, &d.Name)
	if err != nil {
		return nil, notFound("deck", id, err)
	}
	return &d, nil
}

func (s *Store) CharacterByID(ctx context.Context, id int64) (*models.Character, error) {
	var c models.Character
	err := s.DB.QueryRow(ctx, `SELECT id, name FROM characters WHERE id = $1`, id).Scan(&c.ID, &c.Name)
	if err != nil {
		return nil, notFound("character", id, err)
	}
	return &c, nil
}

func (s *Store) MapByID(ctx context.Context, id int64) (*models.Map, error) {
	var m models.Map
	err := s.DB.QueryRow(ctx, `SELECT id, name FROM maps WHERE id = $1`, id).Scan(&m.ID, &m.Name)
	if err != nil {
		return nil, notFound("map", id, err)
	}
	return &m, nil
}
