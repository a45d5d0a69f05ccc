// Package bot implements the conversation state machine and event dispatch
// for the fish-store storefront.
//
// The machine is the only component with real invariants: given the current
// state and one inbound event it fires the commerce calls and UI actions for
// the turn and returns the next state. It holds no per-conversation memory of
// its own; the session store is the single source of truth between turns.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/MSMikl/fish-store/internal/cart"
	"github.com/MSMikl/fish-store/internal/channel"
	"github.com/MSMikl/fish-store/internal/commerce"
	"github.com/MSMikl/fish-store/internal/models"
)

// Fixed quantity tiers offered on the product menu, in kilograms.
var quantityTiers = []int64{1, 5, 10}

// Callback payloads shared between keyboards and handlers.
const (
	callbackShowCart = "show_cart"
	callbackBack     = "back"
	callbackContinue = "continue"
	callbackPay      = "pay"
)

// User-facing copy.
const (
	msgGreeting      = "Welcome to the fish store! Pick an option:"
	msgAddedToCart   = "Great, added to your cart!\n"
	msgEmailPrompt   = "Please leave your email so we can contact you about payment."
	msgOrderReceived = "Your order is in. Send /start to shop again."

	labelShowCart = "My cart"
	labelBack     = "Back"
	labelContinue = "Keep shopping"
	labelPay      = "Pay"
)

// emailPattern mirrors the storefront's syntax check: local part, a single
// @, a domain with at least one dot.
var emailPattern = regexp.MustCompile(`^[^@]+@[^@]+\.[^@]+$`)

// Machine decides, for every incoming event, what side effects fire and what
// the next conversation state is.
type Machine struct {
	api commerce.API
	ch  channel.Channel
}

// NewMachine creates a state machine over the given commerce API and
// conversation channel.
func NewMachine(api commerce.API, ch channel.Channel) *Machine {
	return &Machine{api: api, ch: ch}
}

// HandleEvent runs one conversation turn. The switch is exhaustive over the
// closed state enumeration; an unknown tag is a programming error, not a user
// condition. On error the returned state is meaningless and the caller must
// leave the stored state untouched.
func (m *Machine) HandleEvent(ctx context.Context, state models.SessionState, ev models.Event) (models.SessionState, error) {
	slog.Debug("Machine handling event", "conversation_id", ev.ConversationID, "state", state, "kind", ev.Kind, "payload", ev.Payload)

	switch state {
	case models.StateStart:
		return m.showCatalog(ctx, ev)
	case models.StateCatalogChoice:
		return m.handleCatalogChoice(ctx, ev)
	case models.StateProductMenu:
		return m.handleProductMenu(ctx, ev)
	case models.StateCartView:
		return m.handleCartView(ctx, ev)
	case models.StateAwaitingEmail:
		return m.handleAwaitingEmail(ctx, ev)
	case models.StateDone:
		return m.handleDone(ctx, ev)
	default:
		return "", fmt.Errorf("state %q: %w", state, models.ErrInvalidSessionState)
	}
}

// deleteTrigger removes the message that produced the event so the
// conversation stays a single scrolling thread without stale keyboards.
// Deletion is cosmetic; a failure never aborts the turn.
func (m *Machine) deleteTrigger(ctx context.Context, ev models.Event) {
	if ev.MessageID == 0 {
		return
	}
	if err := m.ch.DeleteMessage(ctx, ev.ConversationID, ev.MessageID); err != nil {
		slog.Warn("Machine failed to delete trigger message", "error", err, "conversation_id", ev.ConversationID, "message_id", ev.MessageID)
	}
}

// showCatalog renders the product list as selectable buttons plus the cart
// option. Entry action of the START state; also serves "back"/"continue".
func (m *Machine) showCatalog(ctx context.Context, ev models.Event) (models.SessionState, error) {
	products, err := m.api.ListProducts(ctx)
	if err != nil {
		return "", fmt.Errorf("show catalog: %w", err)
	}

	kb := &models.Keyboard{}
	for _, p := range products {
		kb.Row(models.Button{Label: p.Name, Data: p.ID})
	}
	kb.Row(models.Button{Label: labelShowCart, Data: callbackShowCart})

	m.deleteTrigger(ctx, ev)
	if err := m.ch.SendText(ctx, ev.ConversationID, msgGreeting, kb); err != nil {
		return "", fmt.Errorf("show catalog: %w", err)
	}
	return models.StateCatalogChoice, nil
}

// handleCatalogChoice reacts to a product selection or the cart button. Free
// text is not a selection; it re-renders the catalog without a commerce call.
func (m *Machine) handleCatalogChoice(ctx context.Context, ev models.Event) (models.SessionState, error) {
	if ev.Payload == callbackShowCart {
		return m.showCart(ctx, ev)
	}
	if ev.Kind != models.EventButton {
		slog.Debug("Machine unrecognized catalog input", "conversation_id", ev.ConversationID)
		return m.showCatalog(ctx, ev)
	}
	return m.showProductMenu(ctx, ev, ev.Payload)
}

// showProductMenu renders one product's detail with the fixed quantity tiers.
func (m *Machine) showProductMenu(ctx context.Context, ev models.Event, productID string) (models.SessionState, error) {
	product, err := m.api.GetProduct(ctx, productID)
	if err != nil {
		return "", fmt.Errorf("show product menu: %w", err)
	}

	caption := fmt.Sprintf("You picked %s\n%s\n$%.2f per kilogram\nHow much would you like?",
		product.Name, product.Description, float64(product.PriceMinor)/cart.MinorUnitsPerMajor)

	tierRow := make([]models.Button, 0, len(quantityTiers))
	for _, qty := range quantityTiers {
		tierRow = append(tierRow, models.Button{
			Label: fmt.Sprintf("%d kg", qty),
			Data:  fmt.Sprintf("%s_%d", product.SKU, qty),
		})
	}
	kb := &models.Keyboard{}
	kb.Row(tierRow...)
	kb.Row(models.Button{Label: labelBack, Data: callbackBack})
	kb.Row(models.Button{Label: labelShowCart, Data: callbackShowCart})

	if product.ImageID != "" {
		link, err := m.api.GetImageLink(ctx, product.ImageID)
		if err != nil {
			return "", fmt.Errorf("show product menu: %w", err)
		}
		m.deleteTrigger(ctx, ev)
		if err := m.ch.SendPhoto(ctx, ev.ConversationID, link, caption, kb); err != nil {
			return "", fmt.Errorf("show product menu: %w", err)
		}
		return models.StateProductMenu, nil
	}

	m.deleteTrigger(ctx, ev)
	if err := m.ch.SendText(ctx, ev.ConversationID, caption, kb); err != nil {
		return "", fmt.Errorf("show product menu: %w", err)
	}
	return models.StateProductMenu, nil
}

// handleProductMenu reacts to navigation or a quantity tier selection.
func (m *Machine) handleProductMenu(ctx context.Context, ev models.Event) (models.SessionState, error) {
	switch ev.Payload {
	case callbackBack, callbackContinue:
		return m.showCatalog(ctx, ev)
	case callbackPay:
		return m.promptEmail(ctx, ev)
	case callbackShowCart:
		return m.showCart(ctx, ev)
	}

	sku, quantity, ok := parseTier(ev.Payload)
	if !ok {
		// Unrecognized payload for this state: re-render the cart summary
		// without touching the cart.
		slog.Debug("Machine unrecognized product menu payload", "conversation_id", ev.ConversationID, "payload", ev.Payload)
		raw, err := m.api.GetCart(ctx, ev.ConversationID)
		if err != nil {
			return "", fmt.Errorf("product menu re-render: %w", err)
		}
		return m.sendMenuSummary(ctx, ev, raw, "")
	}

	raw, err := m.api.AddCartItem(ctx, ev.ConversationID, sku, quantity)
	if err != nil {
		return "", fmt.Errorf("add to cart: %w", err)
	}
	slog.Info("Machine added cart item", "conversation_id", ev.ConversationID, "sku", sku, "quantity", quantity)
	return m.sendMenuSummary(ctx, ev, raw, msgAddedToCart)
}

// sendMenuSummary renders the cart summary with the pay/continue options and
// keeps the conversation on the product menu. "Pay" is only offered when the
// cart's total is non-zero.
func (m *Machine) sendMenuSummary(ctx context.Context, ev models.Event, raw models.RawCart, prefix string) (models.SessionState, error) {
	summary, err := cart.BuildSummary(raw)
	if err != nil {
		return "", fmt.Errorf("cart summary: %w", err)
	}

	kb := &models.Keyboard{}
	if summary.Total > 0 {
		kb.Row(models.Button{Label: labelPay, Data: callbackPay})
	}
	kb.Row(models.Button{Label: labelContinue, Data: callbackContinue})

	m.deleteTrigger(ctx, ev)
	if err := m.ch.SendText(ctx, ev.ConversationID, prefix+cart.FormatSummary(summary), kb); err != nil {
		return "", fmt.Errorf("cart summary: %w", err)
	}
	return models.StateProductMenu, nil
}

// showCart re-fetches the cart from the backend and renders it with removal
// options. Entry action of the CART_VIEW state; there is no staleness window.
func (m *Machine) showCart(ctx context.Context, ev models.Event) (models.SessionState, error) {
	raw, err := m.api.GetCart(ctx, ev.ConversationID)
	if err != nil {
		return "", fmt.Errorf("show cart: %w", err)
	}
	summary, err := cart.BuildSummary(raw)
	if err != nil {
		return "", fmt.Errorf("show cart: %w", err)
	}

	kb := &models.Keyboard{}
	for _, item := range summary.Items {
		kb.Row(models.Button{Label: "Remove " + item.Name, Data: item.ID})
	}
	kb.Row(models.Button{Label: labelContinue, Data: callbackContinue})
	if summary.Total > 0 {
		kb.Row(models.Button{Label: labelPay, Data: callbackPay})
	}

	m.deleteTrigger(ctx, ev)
	if err := m.ch.SendText(ctx, ev.ConversationID, cart.FormatSummary(summary), kb); err != nil {
		return "", fmt.Errorf("show cart: %w", err)
	}
	return models.StateCartView, nil
}

// handleCartView reacts to navigation or an item-removal selection.
func (m *Machine) handleCartView(ctx context.Context, ev models.Event) (models.SessionState, error) {
	switch ev.Payload {
	case callbackContinue:
		return m.showCatalog(ctx, ev)
	case callbackPay:
		return m.promptEmail(ctx, ev)
	}

	// Any other payload is a cart item id to remove. The follow-up render
	// re-fetches rather than trusting the mutation's response.
	if _, err := m.api.RemoveCartItem(ctx, ev.ConversationID, ev.Payload); err != nil {
		return "", fmt.Errorf("remove cart item: %w", err)
	}
	slog.Info("Machine removed cart item", "conversation_id", ev.ConversationID, "item_id", ev.Payload)
	return m.showCart(ctx, ev)
}

// promptEmail asks for the user's email for payment follow-up.
func (m *Machine) promptEmail(ctx context.Context, ev models.Event) (models.SessionState, error) {
	m.deleteTrigger(ctx, ev)
	if err := m.ch.SendText(ctx, ev.ConversationID, msgEmailPrompt, nil); err != nil {
		return "", fmt.Errorf("prompt email: %w", err)
	}
	return models.StateAwaitingEmail, nil
}

// handleAwaitingEmail validates the reply as an email address. An invalid
// reply re-prompts and stays in place; a valid one is echoed back and then
// recorded as a customer, finishing the checkout sub-flow.
func (m *Machine) handleAwaitingEmail(ctx context.Context, ev models.Event) (models.SessionState, error) {
	email := strings.TrimSpace(ev.Payload)
	if ev.Kind != models.EventText || !emailPattern.MatchString(email) {
		slog.Debug("Machine rejected email input", "conversation_id", ev.ConversationID)
		return m.promptEmail(ctx, models.Event{ConversationID: ev.ConversationID})
	}

	confirmation := fmt.Sprintf("You left the email %s. We'll contact you about payment.", email)
	if err := m.ch.SendText(ctx, ev.ConversationID, confirmation, nil); err != nil {
		return "", fmt.Errorf("confirm email: %w", err)
	}
	if _, err := m.api.CreateCustomer(ctx, ev.ConversationID, email); err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	slog.Info("Machine completed checkout", "conversation_id", ev.ConversationID)
	return models.StateDone, nil
}

// handleDone reminds the user how to start over. DONE is terminal; only the
// reset command leaves it, and the dispatcher intercepts that before the
// machine runs.
func (m *Machine) handleDone(ctx context.Context, ev models.Event) (models.SessionState, error) {
	if err := m.ch.SendText(ctx, ev.ConversationID, msgOrderReceived, nil); err != nil {
		return "", fmt.Errorf("done view: %w", err)
	}
	return models.StateDone, nil
}

// parseTier splits a "sku_quantity" callback payload.
func parseTier(payload string) (sku string, quantity int64, ok bool) {
	idx := strings.LastIndex(payload, "_")
	if idx <= 0 || idx == len(payload)-1 {
		return "", 0, false
	}
	quantity, err := strconv.ParseInt(payload[idx+1:], 10, 64)
	if err != nil || quantity <= 0 {
		return "", 0, false
	}
	return payload[:idx], quantity, true
}
