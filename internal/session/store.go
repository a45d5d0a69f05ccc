// Package session provides storage backends for conversation state.
//
// Exactly one state tag is persisted per conversation id; the store is the
// single source of truth across process restarts. Backends exist for Redis,
// PostgreSQL, and SQLite, plus an in-memory store for tests.
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/MSMikl/fish-store/internal/models"
)

// Store is the session store contract consumed by the event dispatcher.
type Store interface {
	// Get retrieves the stored state for a conversation. The second return
	// value is false when the conversation has no entry.
	Get(ctx context.Context, conversationID string) (models.SessionState, bool, error)

	// Set persists the state for a conversation, replacing any previous value.
	Set(ctx context.Context, conversationID string, state models.SessionState) error

	// Delete removes the conversation's entry.
	Delete(ctx context.Context, conversationID string) error

	// Close releases the underlying connection.
	Close() error
}

// Opts holds configuration options for session store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for a session store backend.
type Option func(*Opts)

// WithDSN sets the backend DSN.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// OpenStore selects and opens a backend from the DSN scheme: redis:// and
// rediss:// open Redis, postgres:// opens PostgreSQL, anything else is
// treated as a SQLite file path.
func OpenStore(dsn string) (Store, error) {
	switch {
	case dsn == "":
		return nil, fmt.Errorf("session store DSN not set")
	case strings.HasPrefix(dsn, "redis://") || strings.HasPrefix(dsn, "rediss://"):
		return NewRedisStore(WithDSN(dsn))
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgresStore(WithDSN(dsn))
	default:
		return NewSQLiteStore(WithDSN(dsn))
	}
}

// validateTag rejects state tags that are not part of the closed enumeration.
// A store that hands back an undefined tag is corrupt, not merely stale.
func validateTag(conversationID string, tag string) (models.SessionState, error) {
	state := models.SessionState(tag)
	if !models.IsValidSessionState(state) {
		return "", fmt.Errorf("conversation %s has tag %q: %w", conversationID, tag, models.ErrInvalidSessionState)
	}
	return state, nil
}
