// Package commerce provides the auth token lifecycle for the commerce client.
package commerce

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// TokenCell holds the process-wide bearer token. Writers swap a new value in,
// readers take an atomic snapshot per call; nobody ever blocks on freshness.
type TokenCell struct {
	v atomic.Value // string
}

// NewTokenCell creates an empty token cell.
func NewTokenCell() *TokenCell {
	c := &TokenCell{}
	c.v.Store("")
	return c
}

// Set installs a new bearer token.
func (c *TokenCell) Set(token string) {
	c.v.Store(token)
}

// Get returns the currently installed bearer token, possibly empty before the
// first refresh completes.
func (c *TokenCell) Get() string {
	return c.v.Load().(string)
}

// DefaultRefreshInterval matches the backend token validity window with room
// to spare.
const DefaultRefreshInterval = time.Hour

// Refresher periodically re-issues the implicit-grant token and installs it
// in the client's token cell. It is the only background task in the process.
type Refresher struct {
	client   *Client
	interval time.Duration
}

// NewRefresher creates a refresher for the given client. A non-positive
// interval falls back to DefaultRefreshInterval.
func NewRefresher(client *Client, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Refresher{client: client, interval: interval}
}

// RefreshOnce issues a fresh token and installs it.
func (r *Refresher) RefreshOnce(ctx context.Context) error {
	token, expiresIn, err := r.client.Authenticate(ctx)
	if err != nil {
		slog.Error("Refresher token issue failed", "error", err)
		return err
	}
	r.client.tokens.Set(token)
	slog.Info("Refresher installed new token", "expires_in", expiresIn)
	return nil
}

// Run refreshes immediately, then on every tick until the context is
// cancelled. A failed refresh leaves the previous token installed; readers
// keep using it and surface Unauthorized errors until the next tick succeeds.
func (r *Refresher) Run(ctx context.Context) {
	slog.Debug("Refresher starting", "interval", r.interval)
	if err := r.RefreshOnce(ctx); err != nil {
		slog.Error("Refresher initial refresh failed", "error", err)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := r.RefreshOnce(ctx); err != nil {
				slog.Error("Refresher scheduled refresh failed", "error", err)
			}
		case <-ctx.Done():
			slog.Debug("Refresher stopping due to context cancellation")
			return
		}
	}
}
