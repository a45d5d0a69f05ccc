// Package commerce wraps the remote catalog/cart/customer API for the fish-store bot.
package commerce

import (
	"errors"
	"fmt"
	"net/http"
)

// Error categories surfaced by every client operation. Callers classify with
// errors.Is and decide how the failure reads to the user; the client itself
// never retries.
var (
	// ErrUnauthorized means the installed token was rejected. The background
	// refresher owns recovery; the event that hit it is simply replayable.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound means the referenced product, file, cart, or item no longer exists.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable covers transport failures and backend 5xx responses.
	ErrUnavailable = errors.New("service unavailable")
	// ErrMalformed means the backend answered with an unexpected payload shape.
	ErrMalformed = errors.New("malformed payload")
)

// statusError maps an unexpected HTTP status to its error category.
func statusError(op string, status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%s: status %d: %w", op, status, ErrUnauthorized)
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: status %d: %w", op, status, ErrNotFound)
	default:
		return fmt.Errorf("%s: status %d: %w", op, status, ErrUnavailable)
	}
}
