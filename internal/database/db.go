package database

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ConnString builds a postgres URL from discrete settings.
func ConnString(user, password, host, port, database string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, password),
		Host:   host + ":" + port,
		Path:   "/" + database,
	}
	return u.String()
}

// ConnectDB opens a pool for connStr and pings it.
func ConnectDB(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to parse pgx config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return pool, nil
}

// Store implements the registry's Repository and Catalog on Postgres.
type Store struct {
	DB *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{DB: pool}
}

const lobbySchema = `
CREATE TABLE IF NOT EXISTS lobbies (
	id                   BIGSERIAL PRIMARY KEY,
	name                 VARCHAR(100) NOT NULL DEFAULT 'New Lobby',
	is_private           BOOLEAN NOT NULL DEFAULT FALSE,
	password_hash        TEXT NOT NULL DEFAULT '',
	status               VARCHAR(16) NOT NULL DEFAULT 'WAITING',
	player1_id           BIGINT NOT NULL,
	player2_id           BIGINT,
	player1_deck_id      BIGINT,
	player2_deck_id      BIGINT,
	player1_character_id BIGINT,
	player2_character_id BIGINT,
	map_id               BIGINT,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// EnsureSchema creates the lobbies table if it is missing. Users, decks, characters and
// maps belong to the account and inventory services and are expected to exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.DB.Exec(ctx, lobbySchema); err != nil {
		return fmt.Errorf("create lobbies table: %w", err)
	}
	return nil
}
