// Package models defines state management structures for the fish-store bot.
package models

// SessionState identifies where a conversation currently sits in the
// storefront flow. Exactly one value is persisted per conversation; the tag
// must round-trip through the session store unchanged.
type SessionState string

const (
	// StateStart is entered on a fresh conversation or an explicit /start.
	StateStart SessionState = "START"
	// StateCatalogChoice means the catalog is on screen and the user picks a product.
	StateCatalogChoice SessionState = "CATALOG_CHOICE"
	// StateProductMenu means a product detail view with quantity tiers is on screen.
	StateProductMenu SessionState = "PRODUCT_MENU"
	// StateCartView means the cart contents with removal options are on screen.
	StateCartView SessionState = "CART_VIEW"
	// StateAwaitingEmail means the bot asked for an email address.
	StateAwaitingEmail SessionState = "AWAITING_EMAIL"
	// StateDone is terminal for the checkout sub-flow.
	StateDone SessionState = "DONE"
)

// IsValidSessionState checks if the given state tag is one of the defined states.
func IsValidSessionState(s SessionState) bool {
	switch s {
	case StateStart, StateCatalogChoice, StateProductMenu, StateCartView, StateAwaitingEmail, StateDone:
		return true
	default:
		return false
	}
}
