// Package cart turns raw backend cart payloads into display-ready summaries.
//
// It is a pure transform: no I/O, no caching. Every cart render goes through
// BuildSummary so the /100 minor-unit conversion happens in exactly one place.
package cart

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MSMikl/fish-store/internal/models"
)

// ErrMalformedCart means the backend cart payload is missing required fields.
// Absent data is rejected outright, never coerced to zero.
var ErrMalformedCart = errors.New("malformed cart data")

// MinorUnitsPerMajor is the fixed scale between transmitted amounts (cents)
// and displayed amounts.
const MinorUnitsPerMajor = 100

// BuildSummary converts a raw backend cart into a CartSummary with prices in
// major currency units, preserving the backend's item ordering. The total is
// always the backend-declared tax-inclusive total, never a client-side sum of
// the line items.
func BuildSummary(raw models.RawCart) (models.CartSummary, error) {
	if raw.TotalMinor == nil {
		return models.CartSummary{}, fmt.Errorf("cart total missing: %w", ErrMalformedCart)
	}

	summary := models.CartSummary{
		Items: make([]models.CartItem, 0, len(raw.Items)),
		Total: float64(*raw.TotalMinor) / MinorUnitsPerMajor,
	}
	for i, item := range raw.Items {
		switch {
		case item.Name == nil || *item.Name == "":
			return models.CartSummary{}, fmt.Errorf("item %d name missing: %w", i, ErrMalformedCart)
		case item.Quantity == nil:
			return models.CartSummary{}, fmt.Errorf("item %d quantity missing: %w", i, ErrMalformedCart)
		case *item.Quantity <= 0:
			return models.CartSummary{}, fmt.Errorf("item %d quantity %d: %w", i, *item.Quantity, ErrMalformedCart)
		case item.UnitPriceMinor == nil:
			return models.CartSummary{}, fmt.Errorf("item %d unit price missing: %w", i, ErrMalformedCart)
		}
		summary.Items = append(summary.Items, models.CartItem{
			ID:        item.ID,
			Name:      *item.Name,
			Quantity:  *item.Quantity,
			UnitPrice: float64(*item.UnitPriceMinor) / MinorUnitsPerMajor,
		})
	}
	return summary, nil
}

// FormatSummary renders the user-facing cart description.
func FormatSummary(s models.CartSummary) string {
	var b strings.Builder
	b.WriteString("Your cart:\n")
	if len(s.Items) == 0 {
		b.WriteString("    (empty)\n")
	}
	for _, item := range s.Items {
		fmt.Fprintf(&b, "    %s: %d kg x $%.2f = $%.2f\n",
			item.Name, item.Quantity, item.UnitPrice, float64(item.Quantity)*item.UnitPrice)
	}
	fmt.Fprintf(&b, "Total: $%.2f", s.Total)
	return b.String()
}
