// Package session provides storage backends for conversation state.
//
// This file implements a PostgreSQL-backed store.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"

	"github.com/MSMikl/fish-store/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists session state in a sessions table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres session store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("session store DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres session store opened")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Get(ctx context.Context, conversationID string) (models.SessionState, bool, error) {
	var tag string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM sessions WHERE conversation_id = $1`, conversationID).Scan(&tag)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		slog.Error("PostgresStore Get failed", "error", err, "conversation_id", conversationID)
		return "", false, fmt.Errorf("failed to query session for %s: %w", conversationID, err)
	}
	state, err := validateTag(conversationID, tag)
	if err != nil {
		return "", false, err
	}
	return state, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, conversationID string, state models.SessionState) error {
	if conversationID == "" {
		return models.ErrEmptyConversationID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (conversation_id, state, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (conversation_id) DO UPDATE SET state = $2, updated_at = now()`,
		conversationID, string(state))
	if err != nil {
		slog.Error("PostgresStore Set failed", "error", err, "conversation_id", conversationID, "state", state)
		return fmt.Errorf("failed to upsert session for %s: %w", conversationID, err)
	}
	slog.Debug("PostgresStore Set succeeded", "conversation_id", conversationID, "state", state)
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE conversation_id = $1`, conversationID)
	if err != nil {
		slog.Error("PostgresStore Delete failed", "error", err, "conversation_id", conversationID)
		return fmt.Errorf("failed to delete session for %s: %w", conversationID, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
