// Package session provides storage backends for conversation state.
//
// This file implements a SQLite-backed store, the default for local runs.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/MSMikl/fish-store/internal/models"
)

// DefaultDirPermissions defines the default permissions for database directories
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists session state in a local database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite session store. The DSN is a file path;
// missing parent directories are created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("session store DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite session store opened", "path", cfg.DSN)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, conversationID string) (models.SessionState, bool, error) {
	var tag string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM sessions WHERE conversation_id = ?`, conversationID).Scan(&tag)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		slog.Error("SQLiteStore Get failed", "error", err, "conversation_id", conversationID)
		return "", false, fmt.Errorf("failed to query session for %s: %w", conversationID, err)
	}
	state, err := validateTag(conversationID, tag)
	if err != nil {
		return "", false, err
	}
	return state, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, conversationID string, state models.SessionState) error {
	if conversationID == "" {
		return models.ErrEmptyConversationID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (conversation_id, state, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (conversation_id) DO UPDATE SET state = excluded.state, updated_at = CURRENT_TIMESTAMP`,
		conversationID, string(state))
	if err != nil {
		slog.Error("SQLiteStore Set failed", "error", err, "conversation_id", conversationID, "state", state)
		return fmt.Errorf("failed to upsert session for %s: %w", conversationID, err)
	}
	slog.Debug("SQLiteStore Set succeeded", "conversation_id", conversationID, "state", state)
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE conversation_id = ?`, conversationID)
	if err != nil {
		slog.Error("SQLiteStore Delete failed", "error", err, "conversation_id", conversationID)
		return fmt.Errorf("failed to delete session for %s: %w", conversationID, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
