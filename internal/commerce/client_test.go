package commerce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MSMikl/fish-store/internal/models"
)

// fakeBackend is a minimal in-memory commerce API for client tests.
type fakeBackend struct {
	mu sync.Mutex
	// carts maps cart id -> sku -> quantity
	carts map[string]map[string]int64
	// requireExplicitCreate makes item adds 404 until the cart is created
	requireExplicitCreate bool
	createCalls           int
	lastAuthHeader        string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{carts: make(map[string]map[string]int64)}
}

const unitPriceMinor = int64(1250)

func (f *fakeBackend) cartJSON(cartID string) map[string]any {
	items := []map[string]any{}
	var total int64
	for sku, qty := range f.carts[cartID] {
		items = append(items, map[string]any{
			"id":         "item-" + sku,
			"sku":        sku,
			"name":       "Salmon " + sku,
			"quantity":   qty,
			"unit_price": map[string]any{"amount": unitPriceMinor},
		})
		total += qty * unitPriceMinor
	}
	return map[string]any{
		"data": items,
		"meta": map[string]any{
			"display_price": map[string]any{
				"with_tax": map[string]any{"amount": total},
			},
		},
	}
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok123", "expires_in": 3600})
	})
	mux.HandleFunc("/v2/products", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.lastAuthHeader = r.Header.Get("Authorization")
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{
			{
				"id": "p1", "name": "Salmon", "description": "Fresh", "sku": "10001",
				"price": []map[string]any{{"amount": unitPriceMinor}},
				"relationships": map[string]any{
					"main_image": map[string]any{"data": map[string]any{"id": "img1"}},
				},
			},
		}})
	})
	mux.HandleFunc("/v2/products/p1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{
			"id": "p1", "name": "Salmon", "description": "Fresh", "sku": "10001",
			"price": []map[string]any{{"amount": unitPriceMinor}},
		}})
	})
	mux.HandleFunc("/v2/files/img1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{
			"link": map[string]any{"href": "https://cdn.example.com/img1.jpg"},
		}})
	})
	mux.HandleFunc("/v2/carts", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Data struct {
				Name string `json:"name"`
			} `json:"data"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.createCalls++
		if f.carts[body.Data.Name] == nil {
			f.carts[body.Data.Name] = make(map[string]int64)
		}
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"id": body.Data.Name}})
	})
	mux.HandleFunc("/v2/carts/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v2/carts/"), "/")
		cartID := parts[0]

		if f.requireExplicitCreate && f.carts[cartID] == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch {
		case r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "items":
			var body struct {
				Data struct {
					SKU      string `json:"sku"`
					Quantity int64  `json:"quantity"`
				} `json:"data"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			if f.carts[cartID] == nil {
				f.carts[cartID] = make(map[string]int64)
			}
			f.carts[cartID][body.Data.SKU] += body.Data.Quantity
			json.NewEncoder(w).Encode(f.cartJSON(cartID))
		case r.Method == http.MethodGet && len(parts) == 2 && parts[1] == "items":
			json.NewEncoder(w).Encode(f.cartJSON(cartID))
		case r.Method == http.MethodDelete && len(parts) == 3 && parts[1] == "items":
			itemID := parts[2]
			found := false
			for sku := range f.carts[cartID] {
				if "item-"+sku == itemID {
					delete(f.carts[cartID], sku)
					found = true
				}
			}
			if !found {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(f.cartJSON(cartID))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	mux.HandleFunc("/v2/customers", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Data struct {
				Name  string `json:"name"`
				Email string `json:"email"`
			} `json:"data"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{
			"id": "cust1", "name": body.Data.Name, "email": body.Data.Email,
		}})
	})
	return mux
}

func newTestClient(t *testing.T, backend http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)
	client, err := NewClient(WithBaseURL(srv.URL), WithClientID("test-client"))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client, srv
}

func TestAuthenticate(t *testing.T) {
	client, _ := newTestClient(t, newFakeBackend().handler())
	token, expiresIn, err := client.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "Bearer tok123" {
		t.Errorf("expected bearer token, got %q", token)
	}
	if expiresIn != 3600 {
		t.Errorf("expected expires_in 3600, got %d", expiresIn)
	}
}

func TestRefresherInstallsToken(t *testing.T) {
	client, _ := newTestClient(t, newFakeBackend().handler())
	refresher := NewRefresher(client, 0)
	if err := refresher.RefreshOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := client.Tokens().Get(); got != "Bearer tok123" {
		t.Errorf("expected installed token, got %q", got)
	}
}

func TestListProducts(t *testing.T) {
	client, _ := newTestClient(t, newFakeBackend().handler())
	products, err := client.ListProducts(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(products) != 1 {
		t.Fatalf("expected 1 product, got %d", len(products))
	}
	p := products[0]
	if p.ID != "p1" || p.SKU != "10001" || p.PriceMinor != unitPriceMinor || p.ImageID != "img1" {
		t.Errorf("unexpected product: %+v", p)
	}
}

func TestClientSendsInstalledToken(t *testing.T) {
	backend := newFakeBackend()
	client, _ := newTestClient(t, backend.handler())
	client.Tokens().Set("Bearer fresh-token")
	if _, err := client.ListProducts(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.lastAuthHeader != "Bearer fresh-token" {
		t.Errorf("expected installed token in Authorization header, got %q", backend.lastAuthHeader)
	}
}

func TestGetImageLink(t *testing.T) {
	client, _ := newTestClient(t, newFakeBackend().handler())
	link, err := client.GetImageLink(context.Background(), "img1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if link != "https://cdn.example.com/img1.jpg" {
		t.Errorf("unexpected link %q", link)
	}
}

func TestAddThenGetCartRoundTrip(t *testing.T) {
	client, _ := newTestClient(t, newFakeBackend().handler())
	ctx := context.Background()

	if _, err := client.AddCartItem(ctx, "chat42", "10001", 5); err != nil {
		t.Fatalf("AddCartItem failed: %v", err)
	}
	raw, err := client.GetCart(ctx, "chat42")
	if err != nil {
		t.Fatalf("GetCart failed: %v", err)
	}
	if len(raw.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(raw.Items))
	}
	item := raw.Items[0]
	if item.SKU != "10001" || item.Quantity == nil || *item.Quantity != 5 {
		t.Errorf("added line item not reflected: %+v", item)
	}
	if raw.TotalMinor == nil || *raw.TotalMinor != 5*unitPriceMinor {
		t.Errorf("unexpected total: %+v", raw.TotalMinor)
	}
}

func TestAddCartItemLazyCartCreation(t *testing.T) {
	backend := newFakeBackend()
	backend.requireExplicitCreate = true
	client, _ := newTestClient(t, backend.handler())

	raw, err := client.AddCartItem(context.Background(), "chat42", "10001", 2)
	if err != nil {
		t.Fatalf("expected transparent create-then-retry, got %v", err)
	}
	if len(raw.Items) != 1 {
		t.Fatalf("expected 1 item after retry, got %d", len(raw.Items))
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.createCalls != 1 {
		t.Errorf("expected exactly one cart create, got %d", backend.createCalls)
	}
}

func TestAddCartItemInvalidQuantity(t *testing.T) {
	client, _ := newTestClient(t, newFakeBackend().handler())
	if _, err := client.AddCartItem(context.Background(), "chat42", "10001", 0); !errors.Is(err, models.ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestRemoveCartItem(t *testing.T) {
	client, _ := newTestClient(t, newFakeBackend().handler())
	ctx := context.Background()

	if _, err := client.AddCartItem(ctx, "chat42", "10001", 2); err != nil {
		t.Fatalf("AddCartItem failed: %v", err)
	}
	raw, err := client.RemoveCartItem(ctx, "chat42", "item-10001")
	if err != nil {
		t.Fatalf("RemoveCartItem failed: %v", err)
	}
	if len(raw.Items) != 0 {
		t.Errorf("expected empty cart, got %+v", raw.Items)
	}
}

func TestCreateCustomer(t *testing.T) {
	client, _ := newTestClient(t, newFakeBackend().handler())
	customer, err := client.CreateCustomer(context.Background(), "chat42", "a@b.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if customer.ID != "cust1" || customer.Email != "a@b.com" {
		t.Errorf("unexpected customer: %+v", customer)
	}
}

func TestErrorCategories(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, ErrUnauthorized},
		{"not found", http.StatusNotFound, ErrNotFound},
		{"server error", http.StatusInternalServerError, ErrUnavailable},
		{"bad gateway", http.StatusBadGateway, ErrUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			_, err := client.ListProducts(context.Background())
			if !errors.Is(err, tc.want) {
				t.Errorf("status %d: expected %v, got %v", tc.status, tc.want, err)
			}
		})
	}
}

func TestMalformedResponse(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json")
	}))
	if _, err := client.ListProducts(context.Background()); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	client, err := NewClient(WithBaseURL(srv.URL), WithClientID("test-client"))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if _, err := client.ListProducts(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}
