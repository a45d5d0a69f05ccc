// Package commerce wraps the remote catalog/cart/customer API for the fish-store bot.
//
// The client is a stateless request/response wrapper: every call takes an
// atomic snapshot of the installed bearer token, performs exactly one HTTP
// round trip (plus a transparent lazy cart creation on first item-add), and
// returns parsed domain data or a categorized error.
package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/MSMikl/fish-store/internal/models"
)

// API is the commerce contract consumed by the conversation state machine.
type API interface {
	ListProducts(ctx context.Context) ([]models.Product, error)
	GetProduct(ctx context.Context, id string) (models.Product, error)
	GetImageLink(ctx context.Context, imageID string) (string, error)
	AddCartItem(ctx context.Context, cartID, sku string, quantity int64) (models.RawCart, error)
	RemoveCartItem(ctx context.Context, cartID, itemID string) (models.RawCart, error)
	GetCart(ctx context.Context, cartID string) (models.RawCart, error)
	CreateCustomer(ctx context.Context, externalRef, email string) (models.Customer, error)
}

// DefaultBaseURL is the production commerce API endpoint.
const DefaultBaseURL = "https://api.moltin.com"

// defaultHTTPTimeout bounds every outbound call; the state machine never
// blocks longer than a single round trip.
const defaultHTTPTimeout = 30 * time.Second

// Opts holds configuration options for the commerce client.
type Opts struct {
	BaseURL    string
	ClientID   string
	HTTPClient *http.Client
	Tokens     *TokenCell
}

// Option defines a configuration option for the commerce client.
type Option func(*Opts)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithClientID sets the OAuth client id used for implicit-grant token issuance.
func WithClientID(id string) Option {
	return func(o *Opts) { o.ClientID = id }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// WithTokenCell injects the shared token cell written by the refresher.
func WithTokenCell(c *TokenCell) Option {
	return func(o *Opts) { o.Tokens = c }
}

// Client talks HTTP+JSON to the commerce backend.
type Client struct {
	httpClient *http.Client
	baseURL    string
	clientID   string
	tokens     *TokenCell
}

// NewClient creates a commerce client based on provided options, falling back
// to environment variables for unset values.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = os.Getenv("CLIENT_ID")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("STORE_BASE_URL")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	slog.Debug("Commerce client config loaded",
		"base_url", cfg.BaseURL,
		"client_id_set", cfg.ClientID != "")

	if cfg.ClientID == "" {
		return nil, fmt.Errorf("commerce client id must be provided")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if cfg.Tokens == nil {
		cfg.Tokens = NewTokenCell()
	}

	return &Client{
		httpClient: cfg.HTTPClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		clientID:   cfg.ClientID,
		tokens:     cfg.Tokens,
	}, nil
}

// Tokens exposes the token cell so the refresher and the client can share it.
func (c *Client) Tokens() *TokenCell {
	return c.tokens
}

// Authenticate issues a fresh implicit-grant bearer token. It does not
// install it; that is the refresher's job.
func (c *Client) Authenticate(ctx context.Context) (token string, expiresIn int64, err error) {
	form := url.Values{
		"client_id":  {c.clientID},
		"grant_type": {"implicit"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("authenticate: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("authenticate: %v: %w", err, ErrUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, statusError("authenticate", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", 0, fmt.Errorf("authenticate: decode: %v: %w", err, ErrMalformed)
	}
	if body.AccessToken == "" {
		return "", 0, fmt.Errorf("authenticate: empty access token: %w", ErrMalformed)
	}
	return "Bearer " + body.AccessToken, body.ExpiresIn, nil
}

// wire shapes of the versioned REST surface

type productWire struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	SKU         string `json:"sku"`
	Price       []struct {
		Amount int64 `json:"amount"`
	} `json:"price"`
	Relationships struct {
		MainImage *struct {
			Data struct {
				ID string `json:"id"`
			} `json:"data"`
		} `json:"main_image"`
	} `json:"relationships"`
}

func (w productWire) toProduct(op string) (models.Product, error) {
	if len(w.Price) == 0 {
		return models.Product{}, fmt.Errorf("%s: product %s has no price: %w", op, w.ID, ErrMalformed)
	}
	p := models.Product{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		SKU:         w.SKU,
		PriceMinor:  w.Price[0].Amount,
	}
	if w.Relationships.MainImage != nil {
		p.ImageID = w.Relationships.MainImage.Data.ID
	}
	return p, nil
}

type cartItemWire struct {
	ID        string  `json:"id"`
	SKU       string  `json:"sku"`
	Name      *string `json:"name"`
	Quantity  *int64  `json:"quantity"`
	UnitPrice struct {
		Amount *int64 `json:"amount"`
	} `json:"unit_price"`
}

type cartWire struct {
	Data []cartItemWire `json:"data"`
	Meta struct {
		DisplayPrice struct {
			WithTax struct {
				Amount *int64 `json:"amount"`
			} `json:"with_tax"`
		} `json:"display_price"`
	} `json:"meta"`
}

func (w cartWire) toRawCart() models.RawCart {
	raw := models.RawCart{TotalMinor: w.Meta.DisplayPrice.WithTax.Amount}
	for _, item := range w.Data {
		raw.Items = append(raw.Items, models.RawCartItem{
			ID:             item.ID,
			SKU:            item.SKU,
			Name:           item.Name,
			Quantity:       item.Quantity,
			UnitPriceMinor: item.UnitPrice.Amount,
		})
	}
	return raw
}

// do performs one authorized round trip and decodes the response into out.
func (c *Client) do(ctx context.Context, op, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", c.tokens.Get())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("Commerce request failed", "op", op, "error", err)
		return fmt.Errorf("%s: %v: %w", op, err, ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Debug("Commerce request rejected", "op", op, "status", resp.StatusCode)
		return statusError(op, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		slog.Error("Commerce response decode failed", "op", op, "error", err)
		return fmt.Errorf("%s: decode: %v: %w", op, err, ErrMalformed)
	}
	return nil
}

// ListProducts fetches the full product catalog.
func (c *Client) ListProducts(ctx context.Context) ([]models.Product, error) {
	var body struct {
		Data []productWire `json:"data"`
	}
	if err := c.do(ctx, "list products", http.MethodGet, "/v2/products", nil, &body); err != nil {
		return nil, err
	}
	products := make([]models.Product, 0, len(body.Data))
	for _, w := range body.Data {
		p, err := w.toProduct("list products")
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	slog.Debug("Commerce ListProducts succeeded", "count", len(products))
	return products, nil
}

// GetProduct fetches a single product's detail.
func (c *Client) GetProduct(ctx context.Context, id string) (models.Product, error) {
	var body struct {
		Data productWire `json:"data"`
	}
	if err := c.do(ctx, "get product", http.MethodGet, "/v2/products/"+url.PathEscape(id), nil, &body); err != nil {
		return models.Product{}, err
	}
	return body.Data.toProduct("get product")
}

// GetImageLink resolves a stored file id to a public URL.
func (c *Client) GetImageLink(ctx context.Context, imageID string) (string, error) {
	var body struct {
		Data struct {
			Link struct {
				Href string `json:"href"`
			} `json:"link"`
		} `json:"data"`
	}
	if err := c.do(ctx, "get image link", http.MethodGet, "/v2/files/"+url.PathEscape(imageID), nil, &body); err != nil {
		return "", err
	}
	if body.Data.Link.Href == "" {
		return "", fmt.Errorf("get image link: empty href for file %s: %w", imageID, ErrMalformed)
	}
	return body.Data.Link.Href, nil
}

// AddCartItem adds (sku, quantity) to the conversation's cart. Observed
// backends disagree on whether a cart exists before its first mutation, so a
// NotFound on the add triggers one explicit cart creation and a single retry;
// callers never see the two-step dance.
func (c *Client) AddCartItem(ctx context.Context, cartID, sku string, quantity int64) (models.RawCart, error) {
	if quantity <= 0 {
		return models.RawCart{}, fmt.Errorf("add cart item: %d: %w", quantity, models.ErrInvalidQuantity)
	}
	payload := map[string]any{
		"data": map[string]any{
			"sku":      sku,
			"quantity": quantity,
			"type":     "cart_item",
		},
	}
	path := "/v2/carts/" + url.PathEscape(cartID) + "/items"

	var body cartWire
	err := c.do(ctx, "add cart item", http.MethodPost, path, payload, &body)
	if errors.Is(err, ErrNotFound) {
		slog.Debug("Commerce AddCartItem cart missing, creating lazily", "cart_id", cartID)
		if createErr := c.createCart(ctx, cartID); createErr != nil {
			return models.RawCart{}, createErr
		}
		body = cartWire{}
		err = c.do(ctx, "add cart item", http.MethodPost, path, payload, &body)
	}
	if err != nil {
		return models.RawCart{}, err
	}
	slog.Debug("Commerce AddCartItem succeeded", "cart_id", cartID, "sku", sku, "quantity", quantity)
	return body.toRawCart(), nil
}

// RemoveCartItem deletes one line item from the cart.
func (c *Client) RemoveCartItem(ctx context.Context, cartID, itemID string) (models.RawCart, error) {
	path := "/v2/carts/" + url.PathEscape(cartID) + "/items/" + url.PathEscape(itemID)
	var body cartWire
	if err := c.do(ctx, "remove cart item", http.MethodDelete, path, nil, &body); err != nil {
		return models.RawCart{}, err
	}
	slog.Debug("Commerce RemoveCartItem succeeded", "cart_id", cartID, "item_id", itemID)
	return body.toRawCart(), nil
}

// GetCart fetches the cart's current line items and total.
func (c *Client) GetCart(ctx context.Context, cartID string) (models.RawCart, error) {
	path := "/v2/carts/" + url.PathEscape(cartID) + "/items"
	var body cartWire
	if err := c.do(ctx, "get cart", http.MethodGet, path, nil, &body); err != nil {
		return models.RawCart{}, err
	}
	return body.toRawCart(), nil
}

// CreateCustomer creates a customer record holding the conversation reference
// and the captured email.
func (c *Client) CreateCustomer(ctx context.Context, externalRef, email string) (models.Customer, error) {
	payload := map[string]any{
		"data": map[string]any{
			"type":  "customer",
			"name":  externalRef,
			"email": email,
		},
	}
	var body struct {
		Data models.Customer `json:"data"`
	}
	if err := c.do(ctx, "create customer", http.MethodPost, "/v2/customers", payload, &body); err != nil {
		return models.Customer{}, err
	}
	slog.Info("Commerce customer created", "external_ref", externalRef)
	return body.Data, nil
}

// createCart explicitly creates the conversation's cart. Safe to call when it
// already exists.
func (c *Client) createCart(ctx context.Context, cartID string) error {
	payload := map[string]any{
		"data": map[string]any{
			"name": cartID,
		},
	}
	if err := c.do(ctx, "create cart", http.MethodPost, "/v2/carts", payload, nil); err != nil {
		return err
	}
	slog.Debug("Commerce cart created", "cart_id", cartID)
	return nil
}
