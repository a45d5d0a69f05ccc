// Package models defines the core data structures for the fish-store bot.
//
// It includes the product catalog, cart, and customer types shared across
// modules, plus the conversation event and keyboard types exchanged with the
// conversation channel.
package models

import "errors"

// Error variables for better error handling and testability
var (
	ErrEmptyConversationID = errors.New("conversation id cannot be empty")
	ErrInvalidSessionState = errors.New("invalid session state tag")
	ErrInvalidQuantity     = errors.New("quantity must be a positive integer")
)

// Product represents a single catalog entry as served by the commerce API.
// Prices are carried in minor currency units (cents); conversion to major
// units happens at the display boundary only.
type Product struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	SKU         string `json:"sku"`
	PriceMinor  int64  `json:"price_minor"`
	ImageID     string `json:"image_id,omitempty"` // empty when the product has no main image
}

// RawCartItem is one line entry of the backend cart payload, untouched.
// Required fields are pointers so that absence survives decoding and can be
// rejected by the formatter instead of being coerced to zero.
type RawCartItem struct {
	ID             string
	SKU            string
	Name           *string
	Quantity       *int64
	UnitPriceMinor *int64
}

// RawCart is the backend cart payload as parsed by the commerce client:
// ordered line entries plus the backend-computed tax-inclusive total, all in
// minor currency units.
type RawCart struct {
	Items      []RawCartItem
	TotalMinor *int64
}

// CartItem is a display-ready cart line with the unit price converted to
// major currency units.
type CartItem struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Quantity  int64   `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// CartSummary is the display-ready view of a cart. It is derived from a
// RawCart on every render and never persisted.
type CartSummary struct {
	Items []CartItem `json:"items"`
	Total float64    `json:"total"`
}

// Customer represents a customer record created by the commerce API at
// checkout.
type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}
