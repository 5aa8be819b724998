package checkout

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/preloved-shop/internal/domain/order"
	"github.com/xenking/preloved-shop/internal/domain/payment"
	"github.com/xenking/preloved-shop/internal/domain/product"
)

// --- Mock implementations ---

type mockProductRepo struct {
	products map[string]product.Product
	err      error
}

func (m *mockProductRepo) List(_ context.Context) ([]product.Product, error) {
	return nil, nil
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockOrderRepo struct {
	created    []*order.Order
	paymentIDs map[string]string
	paymentURL map[string]string
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{paymentIDs: map[string]string{}, paymentURL: map[string]string{}}
}

func (m *mockOrderRepo) Create(_ context.Context, o *order.Order) error {
	m.created = append(m.created, o)
	return nil
}

func (m *mockOrderRepo) GetByID(_ context.Context, _ string) (*order.Order, error) {
	return nil, order.ErrNotFound
}

func (m *mockOrderRepo) List(_ context.Context, _ order.ListFilter) (*order.Page, error) {
	return &order.Page{}, nil
}

func (m *mockOrderRepo) SetPayment(_ context.Context, id, paymentID, paymentURL string) error {
	m.paymentIDs[id] = paymentID
	m.paymentURL[id] = paymentURL
	return nil
}

func (m *mockOrderRepo) UpdatePaymentStatus(_ context.Context, _ string, _ order.Status, _ order.PaymentStatus) error {
	return nil
}

func (m *mockOrderRepo) UpdateFulfillment(_ context.Context, _ string, _ order.FulfillmentUpdate) error {
	return nil
}

type mockCreator struct {
	calls int
	got   *order.Order
	err   error
}

func (m *mockCreator) CreateTransaction(_ context.Context, o *order.Order) (*payment.Session, error) {
	m.calls++
	m.got = o
	if m.err != nil {
		return nil, m.err
	}
	return &payment.Session{Reference: o.ID, RedirectURL: "https://pay.example/" + o.ID, Token: "tok"}, nil
}

// --- Helpers ---

func testProducts() *mockProductRepo {
	return &mockProductRepo{products: map[string]product.Product{
		"jacket": {ID: "jacket", Name: "Denim jacket", Price: 150000},
		"scarf":  {ID: "scarf", Name: "Silk scarf", Price: 45000},
	}}
}

func newTestService(t *testing.T, products product.Repository, orders order.Repository, creator payment.Creator) *Service {
	t.Helper()
	svc, err := NewService(products, orders, creator)
	require.NoError(t, err)
	return svc
}

func validRequest(items ...Item) Request {
	return Request{
		UserID:   "u-1",
		Customer: order.Customer{Name: "Rina", Email: "rina@example.com"},
		Shipping: order.Shipping{Address: "Jl. Kemang 10", City: "Jakarta", Postal: "12730", Phone: "0812"},
		Items:    items,
	}
}

// --- Tests ---

func TestCheckout_Success(t *testing.T) {
	orders := newMockOrderRepo()
	creator := &mockCreator{}
	svc := newTestService(t, testProducts(), orders, creator)

	res, err := svc.Checkout(context.Background(), validRequest(
		Item{ProductID: "jacket", Quantity: 1},
		Item{ProductID: "scarf", Quantity: 2},
	))
	require.NoError(t, err)

	require.Len(t, orders.created, 1)
	o := orders.created[0]
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, int64(150000+2*45000), o.TotalAmount)
	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, order.PaymentPending, o.PaymentStatus)
	assert.Len(t, o.Items, 2)

	assert.Equal(t, 1, creator.calls)
	assert.Equal(t, o.ID, orders.paymentIDs[o.ID])
	assert.Equal(t, "https://pay.example/"+o.ID, orders.paymentURL[o.ID])
	assert.Equal(t, "https://pay.example/"+o.ID, res.Order.PaymentURL)
	assert.Equal(t, "tok", res.Session.Token)
}

func TestCheckout_MergesDuplicateLines(t *testing.T) {
	orders := newMockOrderRepo()
	svc := newTestService(t, testProducts(), orders, &mockCreator{})

	res, err := svc.Checkout(context.Background(), validRequest(
		Item{ProductID: "scarf", Quantity: 1},
		Item{ProductID: "scarf", Quantity: 2},
	))
	require.NoError(t, err)
	require.Len(t, res.Order.Items, 1)
	assert.Equal(t, 3, res.Order.Items[0].Quantity)
	assert.Equal(t, int64(135000), res.Order.TotalAmount)
}

func TestCheckout_Validation(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr func(t *testing.T, err error)
	}{
		{
			name: "EmptyItems",
			req:  validRequest(),
			wantErr: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, order.ErrEmptyItems)
			},
		},
		{
			name: "ZeroQuantity",
			req:  validRequest(Item{ProductID: "jacket", Quantity: 0}),
			wantErr: func(t *testing.T, err error) {
				var qerr *order.InvalidQuantityError
				require.True(t, errors.As(err, &qerr))
				assert.Equal(t, "jacket", qerr.ProductID)
			},
		},
		{
			name: "QuantityOverCap",
			req:  validRequest(Item{ProductID: "jacket", Quantity: order.MaxQuantity + 1}),
			wantErr: func(t *testing.T, err error) {
				var qerr *order.InvalidQuantityError
				require.True(t, errors.As(err, &qerr))
				assert.Equal(t, "jacket", qerr.ProductID)
			},
		},
		{
			name: "MergedQuantityOverCap",
			req: validRequest(
				Item{ProductID: "scarf", Quantity: order.MaxQuantity},
				Item{ProductID: "scarf", Quantity: 1},
			),
			wantErr: func(t *testing.T, err error) {
				var qerr *order.InvalidQuantityError
				require.True(t, errors.As(err, &qerr))
				assert.Equal(t, "scarf", qerr.ProductID)
			},
		},
		{
			name: "UnknownProduct",
			req:  validRequest(Item{ProductID: "ghost", Quantity: 1}),
			wantErr: func(t *testing.T, err error) {
				var perr *order.ProductNotFoundError
				require.True(t, errors.As(err, &perr))
				assert.Equal(t, "ghost", perr.ProductID)
			},
		},
		{
			name: "MissingAddress",
			req: func() Request {
				r := validRequest(Item{ProductID: "jacket", Quantity: 1})
				r.Shipping.Address = "   "
				return r
			}(),
			wantErr: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrIncompleteShipping)
			},
		},
		{
			name: "MissingPhone",
			req: func() Request {
				r := validRequest(Item{ProductID: "jacket", Quantity: 1})
				r.Shipping.Phone = ""
				return r
			}(),
			wantErr: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrIncompleteShipping)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := newMockOrderRepo()
			creator := &mockCreator{}
			svc := newTestService(t, testProducts(), orders, creator)

			_, err := svc.Checkout(context.Background(), tt.req)
			require.Error(t, err)
			tt.wantErr(t, err)
			assert.Empty(t, orders.created)
			assert.Zero(t, creator.calls)
		})
	}
}

func TestCheckout_ProviderFailure(t *testing.T) {
	orders := newMockOrderRepo()
	creator := &mockCreator{err: &payment.ProviderError{StatusCode: 401, Body: []byte(`{"error_messages":["Access denied"]}`)}}
	svc := newTestService(t, testProducts(), orders, creator)

	_, err := svc.Checkout(context.Background(), validRequest(Item{ProductID: "jacket", Quantity: 1}))
	var perr *payment.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 401, perr.StatusCode)

	// The order exists but carries no payment details.
	require.Len(t, orders.created, 1)
	assert.Empty(t, orders.paymentIDs)
	assert.Equal(t, order.PaymentPending, orders.created[0].PaymentStatus)
}

func TestCheckout_TransportErrorIsProviderError(t *testing.T) {
	creator := &mockCreator{err: errors.New("dial tcp: timeout")}
	svc := newTestService(t, testProducts(), newMockOrderRepo(), creator)

	_, err := svc.Checkout(context.Background(), validRequest(Item{ProductID: "jacket", Quantity: 1}))
	var perr *payment.ProviderError
	require.True(t, errors.As(err, &perr))
}

func TestCheckout_ProductLookupError(t *testing.T) {
	products := testProducts()
	products.err = errors.New("db down")
	svc := newTestService(t, products, newMockOrderRepo(), &mockCreator{})

	_, err := svc.Checkout(context.Background(), validRequest(Item{ProductID: "jacket", Quantity: 1}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get products")
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "b", sanitize("  <b>  "))
	assert.Len(t, []rune(sanitize(string(make([]rune, 600)))), maxTextLength)
}
