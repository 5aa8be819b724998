package handler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/preloved-shop/internal/domain/auth"
	"github.com/xenking/preloved-shop/internal/domain/checkout"
	"github.com/xenking/preloved-shop/internal/domain/order"
	"github.com/xenking/preloved-shop/internal/domain/payment"
	"github.com/xenking/preloved-shop/internal/domain/product"
	"github.com/xenking/preloved-shop/internal/midtrans"
)

const testServerKey = "SB-Mid-server-test"

var testPepper = []byte("pepper")

type memProducts struct {
	items map[string]product.Product
}

func (m *memProducts) List(context.Context) ([]product.Product, error) {
	out := make([]product.Product, 0, len(m.items))
	for _, id := range []string{"p1", "p2"} {
		if p, ok := m.items[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memProducts) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := m.items[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (m *memProducts) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.items[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type memOrders struct {
	mu     sync.Mutex
	orders map[string]*order.Order
}

func (m *memOrders) Create(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *memOrders) GetByID(_ context.Context, id string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrders) List(_ context.Context, f order.ListFilter) (*order.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	page := &order.Page{CurrentPage: f.Page}
	for _, o := range m.orders {
		if f.Status == "" || o.Status == f.Status {
			page.Orders = append(page.Orders, *o)
		}
	}
	page.Total = len(page.Orders)
	page.TotalPages = order.TotalPages(page.Total, f.Limit)
	return page, nil
}

func (m *memOrders) SetPayment(_ context.Context, id, paymentID, paymentURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	o.PaymentID, o.PaymentURL = paymentID, paymentURL
	return nil
}

func (m *memOrders) UpdatePaymentStatus(_ context.Context, id string, s order.Status, p order.PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	if o.PaymentStatus == order.PaymentPaid {
		return order.ErrAlreadyPaid
	}
	o.Status, o.PaymentStatus = s, p
	return nil
}

func (m *memOrders) UpdateFulfillment(_ context.Context, id string, upd order.FulfillmentUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	if upd.Status != nil {
		o.Status = *upd.Status
	}
	if upd.Notes != nil {
		o.Notes = *upd.Notes
	}
	o.ProcessedBy = upd.ProcessedBy
	return nil
}

type memKeys struct {
	keys map[string]*auth.APIKeyInfo
}

func (m *memKeys) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	info, ok := m.keys[hash]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	return info, nil
}

type creatorFunc func(ctx context.Context, o *order.Order) (*payment.Session, error)

func (f creatorFunc) CreateTransaction(ctx context.Context, o *order.Order) (*payment.Session, error) {
	return f(ctx, o)
}

type env struct {
	server  *httptest.Server
	orders  *memOrders
	signer  *midtrans.Signer
	creator creatorFunc
}

func newEnv(t *testing.T) *env {
	t.Helper()

	e := &env{
		orders: &memOrders{orders: map[string]*order.Order{}},
		signer: midtrans.NewSigner(testServerKey),
	}
	e.creator = func(_ context.Context, o *order.Order) (*payment.Session, error) {
		return &payment.Session{
			Reference:   o.ID,
			Token:       "snap-token",
			RedirectURL: "https://app.sandbox.midtrans.com/snap/v4/redirection/snap-token",
		}, nil
	}
	products := &memProducts{items: map[string]product.Product{
		"p1": {ID: "p1", Name: "Denim Jacket", Price: 150000, Category: "outerwear", WeightKg: decimal.RequireFromString("0.8"), Stock: 1},
		"p2": {ID: "p2", Name: "Linen Shirt", Price: 75000, Category: "tops", WeightKg: decimal.RequireFromString("0.25"), Stock: 3},
	}}
	keys := &memKeys{keys: map[string]*auth.APIKeyInfo{}}
	for _, k := range []struct {
		key    string
		name   string
		scopes []string
	}{
		{"staff-key", "alice", []string{auth.ScopeManageOrders}},
		{"readonly-key", "bob", nil},
	} {
		hash := auth.HashKey(testPepper, k.key)
		keys.keys[hash] = &auth.APIKeyInfo{ID: k.name, KeyHash: hash, Name: k.name, Scopes: k.scopes}
	}

	creator := payment.Creator(creatorFunc(func(ctx context.Context, o *order.Order) (*payment.Session, error) {
		return e.creator(ctx, o)
	}))
	checkoutService, err := checkout.NewService(products, e.orders, creator)
	require.NoError(t, err)
	reconciler, err := payment.NewReconciler(e.orders, e.signer, midtrans.MapStatus)
	require.NoError(t, err)

	h := NewHandler(products, checkoutService, order.NewService(e.orders), reconciler, midtrans.ParseNotification)
	mux := http.NewServeMux()
	h.Register(mux, NewSecurityHandler(keys, testPepper))

	e.server = httptest.NewServer(mux)
	t.Cleanup(e.server.Close)
	return e
}

func (e *env) do(t *testing.T, method, path, body string, header ...string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), method, e.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func (e *env) seedOrder(id string, amount int64) {
	e.orders.orders[id] = &order.Order{
		ID:            id,
		Customer:      order.Customer{Name: "Rina", Email: "rina@example.com"},
		Shipping:      order.Shipping{Address: "Jl. Merdeka 1", City: "Bandung", Postal: "40111", Phone: "0812"},
		Items:         []order.Item{{ProductID: "p1", Name: "Denim Jacket", Price: amount, Quantity: 1}},
		TotalAmount:   amount,
		Status:        order.StatusPending,
		PaymentStatus: order.PaymentPending,
	}
}

func (e *env) notification(orderID, status, amount string) string {
	sig := e.signer.Sign(orderID, "200", amount)
	return `{"order_id":"` + orderID + `","status_code":"200","gross_amount":"` + amount +
		`","transaction_status":"` + status + `","signature_key":"` + sig + `"}`
}

// fields flattens top-level string and number fields of a JSON object.
func fields(t *testing.T, body []byte) map[string]string {
	t.Helper()
	out := map[string]string{}
	require.NoError(t, jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch d.Next() {
		case jx.String:
			v, err := d.Str()
			out[string(key)] = v
			return err
		case jx.Number:
			v, err := d.Num()
			out[string(key)] = v.String()
			return err
		default:
			raw, err := d.Raw()
			out[string(key)] = raw.String()
			return err
		}
	}), string(body))
	return out
}

func TestWebhook(t *testing.T) {
	t.Run("Settlement", func(t *testing.T) {
		e := newEnv(t)
		e.seedOrder("ord-1", 150000)

		code, body := e.do(t, http.MethodPost, WebhookPath, e.notification("ord-1", "settlement", "150000.00"))
		assert.Equal(t, http.StatusOK, code)
		f := fields(t, body)
		assert.Equal(t, "ok", f["status"])
		assert.Equal(t, "applied", f["outcome"])
		assert.Equal(t, order.PaymentPaid, e.orders.orders["ord-1"].PaymentStatus)
		assert.Equal(t, order.StatusPending, e.orders.orders["ord-1"].Status)

		code, body = e.do(t, http.MethodPost, WebhookPath, e.notification("ord-1", "expire", "150000.00"))
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "already_processed", fields(t, body)["outcome"])
		assert.Equal(t, order.PaymentPaid, e.orders.orders["ord-1"].PaymentStatus)
	})

	t.Run("Outcomes", func(t *testing.T) {
		for _, tt := range []struct {
			name    string
			body    func(e *env) string
			code    int
			outcome string
		}{
			{
				name: "InvalidSignature",
				body: func(*env) string {
					return `{"order_id":"ord-1","status_code":"200","gross_amount":"150000.00","transaction_status":"settlement","signature_key":"deadbeef"}`
				},
				code:    http.StatusUnauthorized,
				outcome: "invalid_signature",
			},
			{
				name:    "UnknownOrder",
				body:    func(e *env) string { return e.notification("ord-404", "settlement", "150000.00") },
				code:    http.StatusNotFound,
				outcome: "order_not_found",
			},
			{
				name:    "AmountMismatch",
				body:    func(e *env) string { return e.notification("ord-1", "settlement", "1000.00") },
				code:    http.StatusBadRequest,
				outcome: "amount_mismatch",
			},
			{
				name:    "MalformedJSON",
				body:    func(*env) string { return `{"order_id":` },
				code:    http.StatusBadRequest,
				outcome: "malformed",
			},
			{
				name:    "MissingStatus",
				body:    func(*env) string { return `{"order_id":"ord-1","gross_amount":"150000.00"}` },
				code:    http.StatusBadRequest,
				outcome: "malformed",
			},
			{
				name:    "FractionalAmount",
				body:    func(e *env) string { return e.notification("ord-1", "settlement", "150000.50") },
				code:    http.StatusBadRequest,
				outcome: "malformed",
			},
		} {
			t.Run(tt.name, func(t *testing.T) {
				e := newEnv(t)
				e.seedOrder("ord-1", 150000)

				code, body := e.do(t, http.MethodPost, WebhookPath, tt.body(e))
				assert.Equal(t, tt.code, code)
				f := fields(t, body)
				assert.Equal(t, "error", f["status"])
				assert.Equal(t, tt.outcome, f["outcome"])
				assert.Equal(t, order.PaymentPending, e.orders.orders["ord-1"].PaymentStatus)
			})
		}
	})

	t.Run("BodyTooLarge", func(t *testing.T) {
		e := newEnv(t)
		code, body := e.do(t, http.MethodPost, WebhookPath, strings.Repeat(" ", maxBodySize+1))
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "malformed", fields(t, body)["outcome"])
	})
}

func TestCheckout(t *testing.T) {
	const validBody = `{
		"customer": {"name": "Rina", "email": "rina@example.com"},
		"shipping": {"address": "Jl. Merdeka 1", "city": "Bandung", "postalCode": "40111", "phone": "0812-3456"},
		"items": [{"productId": "p1", "quantity": 1}, {"productId": "p2", "quantity": 2}]
	}`

	t.Run("Created", func(t *testing.T) {
		e := newEnv(t)
		code, body := e.do(t, http.MethodPost, "/api/checkout", validBody)
		require.Equal(t, http.StatusCreated, code, string(body))

		f := fields(t, body)
		assert.Equal(t, "300000", f["totalAmount"])
		assert.Equal(t, "snap-token", f["token"])
		assert.Contains(t, f["paymentUrl"], "snap-token")

		stored, ok := e.orders.orders[f["orderId"]]
		require.True(t, ok)
		assert.Equal(t, int64(300000), stored.TotalAmount)
		assert.Equal(t, order.PaymentPending, stored.PaymentStatus)
		assert.Equal(t, f["paymentUrl"], stored.PaymentURL)

		code, body = e.do(t, http.MethodGet, "/api/orders/"+f["orderId"], "")
		require.Equal(t, http.StatusOK, code)
		status := fields(t, body)
		assert.Equal(t, "PENDING", status["paymentStatus"])
		assert.NotContains(t, status, "customer")
	})

	t.Run("Errors", func(t *testing.T) {
		for _, tt := range []struct {
			name string
			body string
			code int
		}{
			{"InvalidJSON", `{"items": [`, http.StatusBadRequest},
			{"NoItems", `{"shipping": {"address": "a", "phone": "1"}, "items": []}`, http.StatusBadRequest},
			{"NoShipping", `{"items": [{"productId": "p1", "quantity": 1}]}`, http.StatusBadRequest},
			{"ZeroQuantity", `{"shipping": {"address": "a", "phone": "1"}, "items": [{"productId": "p1", "quantity": 0}]}`, http.StatusUnprocessableEntity},
			{"QuantityOverCap", `{"shipping": {"address": "a", "phone": "1"}, "items": [{"productId": "p1", "quantity": 1001}]}`, http.StatusUnprocessableEntity},
			{"UnknownProduct", `{"shipping": {"address": "a", "phone": "1"}, "items": [{"productId": "nope", "quantity": 1}]}`, http.StatusUnprocessableEntity},
		} {
			t.Run(tt.name, func(t *testing.T) {
				e := newEnv(t)
				code, _ := e.do(t, http.MethodPost, "/api/checkout", tt.body)
				assert.Equal(t, tt.code, code)
			})
		}
	})

	t.Run("ProviderDown", func(t *testing.T) {
		e := newEnv(t)
		e.creator = func(context.Context, *order.Order) (*payment.Session, error) {
			return nil, &payment.ProviderError{StatusCode: http.StatusServiceUnavailable}
		}
		code, body := e.do(t, http.MethodPost, "/api/checkout", validBody)
		assert.Equal(t, http.StatusBadGateway, code)
		assert.Equal(t, "payment provider unavailable", fields(t, body)["message"])
		require.Len(t, e.orders.orders, 1)
	})

	t.Run("Internal", func(t *testing.T) {
		code, msg := checkoutErrorStatus(errors.New("boom"))
		assert.Equal(t, http.StatusInternalServerError, code)
		assert.Equal(t, "internal error", msg)
	})
}

func TestProducts(t *testing.T) {
	e := newEnv(t)

	code, body := e.do(t, http.MethodGet, "/api/products", "")
	require.Equal(t, http.StatusOK, code)
	var names []string
	require.NoError(t, jx.DecodeBytes(body).Arr(func(d *jx.Decoder) error {
		return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			if string(key) != "name" {
				return d.Skip()
			}
			v, err := d.Str()
			names = append(names, v)
			return err
		})
	}))
	assert.Equal(t, []string{"Denim Jacket", "Linen Shirt"}, names)

	code, body = e.do(t, http.MethodGet, "/api/products/p2", "")
	require.Equal(t, http.StatusOK, code)
	f := fields(t, body)
	assert.Equal(t, "75000", f["price"])
	assert.Equal(t, "0.25", f["weightKg"])

	code, _ = e.do(t, http.MethodGet, "/api/products/missing", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAdminOrders(t *testing.T) {
	t.Run("Auth", func(t *testing.T) {
		e := newEnv(t)
		code, _ := e.do(t, http.MethodGet, "/api/admin/orders", "")
		assert.Equal(t, http.StatusUnauthorized, code)

		code, _ = e.do(t, http.MethodGet, "/api/admin/orders", "", HeaderAPIKey, "wrong")
		assert.Equal(t, http.StatusUnauthorized, code)

		code, _ = e.do(t, http.MethodGet, "/api/admin/orders", "", HeaderAPIKey, "readonly-key")
		assert.Equal(t, http.StatusForbidden, code)

		code, _ = e.do(t, http.MethodGet, "/api/admin/orders", "", HeaderAPIKey, "staff-key")
		assert.Equal(t, http.StatusOK, code)
	})

	t.Run("List", func(t *testing.T) {
		e := newEnv(t)
		e.seedOrder("ord-1", 1000)
		e.seedOrder("ord-2", 2000)
		e.orders.orders["ord-2"].Status = order.StatusShipped

		code, body := e.do(t, http.MethodGet, "/api/admin/orders?status=SHIPPED&limit=5", "", HeaderAPIKey, "staff-key")
		require.Equal(t, http.StatusOK, code)
		assert.Contains(t, string(body), `"id":"ord-2"`)
		assert.NotContains(t, string(body), `"id":"ord-1"`)
		assert.Contains(t, string(body), `"total":1`)

		code, _ = e.do(t, http.MethodGet, "/api/admin/orders?status=LOST", "", HeaderAPIKey, "staff-key")
		assert.Equal(t, http.StatusUnprocessableEntity, code)

		code, _ = e.do(t, http.MethodGet, "/api/admin/orders?page=x", "", HeaderAPIKey, "staff-key")
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("Update", func(t *testing.T) {
		e := newEnv(t)
		e.seedOrder("ord-1", 1000)

		code, body := e.do(t, http.MethodPatch, "/api/admin/orders/ord-1",
			`{"orderStatus":"PROCESSING","notes":"packed"}`, HeaderAPIKey, "staff-key")
		require.Equal(t, http.StatusOK, code, string(body))
		f := fields(t, body)
		assert.Equal(t, "PROCESSING", f["orderStatus"])
		assert.Equal(t, "PENDING", f["paymentStatus"])
		assert.Equal(t, "alice", f["processedBy"])
		assert.Equal(t, "packed", f["notes"])
	})

	t.Run("UpdateRejects", func(t *testing.T) {
		for _, tt := range []struct {
			name string
			path string
			body string
			code int
		}{
			{"PaymentStatus", "/api/admin/orders/ord-1", `{"paymentStatus":"PAID"}`, http.StatusUnprocessableEntity},
			{"UnknownStatus", "/api/admin/orders/ord-1", `{"orderStatus":"LOST"}`, http.StatusUnprocessableEntity},
			{"Empty", "/api/admin/orders/ord-1", `{}`, http.StatusBadRequest},
			{"InvalidJSON", "/api/admin/orders/ord-1", `{"notes":`, http.StatusBadRequest},
			{"NotFound", "/api/admin/orders/ord-9", `{"notes":"x"}`, http.StatusNotFound},
		} {
			t.Run(tt.name, func(t *testing.T) {
				e := newEnv(t)
				e.seedOrder("ord-1", 1000)
				code, _ := e.do(t, http.MethodPatch, tt.path, tt.body, HeaderAPIKey, "staff-key")
				assert.Equal(t, tt.code, code)
				assert.Equal(t, order.PaymentPending, e.orders.orders["ord-1"].PaymentStatus)
			})
		}
	})

	t.Run("Get", func(t *testing.T) {
		e := newEnv(t)
		e.seedOrder("ord-1", 1000)
		code, body := e.do(t, http.MethodGet, "/api/admin/orders/ord-1", "", HeaderAPIKey, "staff-key")
		require.Equal(t, http.StatusOK, code)
		assert.Contains(t, string(body), `"email":"rina@example.com"`)

		code, _ = e.do(t, http.MethodGet, "/api/admin/orders/ord-9", "", HeaderAPIKey, "staff-key")
		assert.Equal(t, http.StatusNotFound, code)
	})
}
