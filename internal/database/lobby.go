package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/arena/internal/models"
)

// lobbyRow is one row of the lobbies table joined with the display names it references.
type lobbyRow struct {
	ID                 int64
	Name               string
	IsPrivate          bool
	PasswordHash       string
	Status             string
	Player1ID          int64
	Player1Name        *string
	Player1DeckID      *int64
	Player1DeckName    *string
	Player1CharacterID *int64
	Player1CharName    *string
	Player2ID          *int64
	Player2Name        *string
	Player2DeckID      *int64
	Player2DeckName    *string
	Player2CharacterID *int64
	Player2CharName    *string
	MapID              *int64
	MapName            *string
}

func (r *lobbyRow) fields() []any {
	return []any{
		&r.ID, &r.Name, &r.IsPrivate, &r.PasswordHash, &r.Status,
		&r.Player1ID, &r.Player1Name, &r.Player1DeckID, &r.Player1DeckName, &r.Player1CharacterID, &r.Player1CharName,
		&r.Player2ID, &r.Player2Name, &r.Player2DeckID, &r.Player2DeckName, &r.Player2CharacterID, &r.Player2CharName,
		&r.MapID, &r.MapName,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (r *lobbyRow) toModel() *models.Lobby {
	l := &models.Lobby{
		ID:           r.ID,
		Name:         r.Name,
		IsPrivate:    r.IsPrivate,
		PasswordHash: r.PasswordHash,
		Status:       models.LobbyStatus(r.Status),
		Player1: models.Participant{
			UserID:        r.Player1ID,
			Username:      deref(r.Player1Name),
			DeckID:        r.Player1DeckID,
			DeckName:      deref(r.Player1DeckName),
			CharacterID:   r.Player1CharacterID,
			CharacterName: deref(r.Player1CharName),
		},
	}
	if r.Player2ID != nil {
		l.Player2 = &models.Participant{
			UserID:        *r.Player2ID,
			Username:      deref(r.Player2Name),
			DeckID:        r.Player2DeckID,
			DeckName:      deref(r.Player2DeckName),
			CharacterID:   r.Player2CharacterID,
			CharacterName: deref(r.Player2CharName),
		}
	}
	if r.MapID != nil {
		l.Map = &models.MapRef{ID: *r.MapID, Name: deref(r.MapName)}
	}
	if l.Status == "" {
		l.Status = models.StatusWaiting
	}
	return l
}

// lobbyColumns returns the values written for l, in the order of the lobbies table columns
// name .. map_id.
func lobbyColumns(l *models.Lobby) []any {
	var p2, p2Deck, p2Char, mapID *int64
	if l.Player2 != nil {
		id := l.Player2.UserID
		p2, p2Deck, p2Char = &id, l.Player2.DeckID, l.Player2.CharacterID
	}
	if l.Map != nil {
		id := l.Map.ID
		mapID = &id
	}
	return []any{
		l.Name, l.IsPrivate, l.PasswordHash, string(l.Status),
		l.Player1.UserID, p2,
		l.Player1.DeckID, p2Deck,
		l.Player1.CharacterID, p2Char,
		mapID,
	}
}

// CreateLobby inserts a new lobby row and returns its id.
func (s *Store) CreateLobby(ctx context.Context, l *models.Lobby) (int64, error) {
	q := `
	INSERT INTO lobbies (
		name, is_private, password_hash, status,
		player1_id, player2_id,
		player1_deck_id, player2_deck_id,
		player1_character_id, player2_character_id,
		map_id
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	RETURNING id
	`
	var id int64
	err := pgx.BeginTxFunc(ctx, s.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, q, lobbyColumns(l)...).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("insert lobby: %w", err)
	}
	return id, nil
}

// SaveLobby overwrites the row of l.
func (s *Store) SaveLobby(ctx context.Context, l *models.Lobby) error {
	q := `
	UPDATE lobbies SET
		name = $1, is_private = $2, password_hash = $3, status = $4,
		player1_id = $5, player2_id = $6,
		player1_deck_id = $7, player2_deck_id = $8,
		player1_character_id = $9, player2_character_id = $10,
		map_id = $11,
		updated_at = now()
	WHERE id = $12
	`
	args := append(lobbyColumns(l), l.ID)
	return pgx.BeginTxFunc(ctx, s.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("update lobby %d: %w", l.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("lobby %d: %w", l.ID, models.ErrNotFound)
		}
		return nil
	})
}

// DeleteLobby removes a lobby row. Deleting a missing row is not an error.
func (s *Store) DeleteLobby(ctx context.Context, id int64) error {
	return pgx.BeginTxFunc(ctx, s.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM lobbies WHERE id = $1`, id)
		return err
	})
}

// LoadLobbies returns every lobby with the display names of its references resolved.
func (s *Store) LoadLobbies(ctx context.Context) ([]*models.Lobby, error) {
	q := `
	SELECT
		l.id, l.name, l.is_private, l.password_hash, l.status,
		l.player1_id, u1.username, l.player1_deck_id, d1.name, l.player1_character_id, c1.name,
		l.player2_id, u2.username, l.player2_deck_id, d2.name, l.player2_character_id, c2.name,
		l.map_id, m.name
	FROM lobbies l
	LEFT JOIN users u1 ON u1.id = l.player1_id
	LEFT JOIN users u2 ON u2.id = l.player2_id
	LEFT JOIN decks d1 ON d1.id = l.player1_deck_id
	LEFT JOIN decks d2 ON d2.id = l.player2_deck_id
	LEFT JOIN characters c1 ON c1.id = l.player1_character_id
	LEFT JOIN characters c2 ON c2.id = l.player2_character_id
	LEFT JOIN maps m ON m.id = l.map_id
	ORDER BY l.id
	`
	rows, err := s.DB.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query lobbies: %w", err)
	}
	defer rows.Close()

	var lobbies []*models.Lobby
	for rows.Next() {
		var r lobbyRow
		if err := rows.Scan(r.fields()...); err != nil {
			return nil, fmt.Errorf("scan lobby: %w", err)
		}
		lobbies = append(lobbies, r.toModel())
	}
	return lobbies, rows.Err()
}
