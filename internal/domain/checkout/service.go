// Package checkout turns a buyer's cart into a persisted order with an open
// payment session.
package checkout

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/preloved-shop/internal/domain/order"
	"github.com/xenking/preloved-shop/internal/domain/payment"
	"github.com/xenking/preloved-shop/internal/domain/product"
)

// ErrIncompleteShipping is returned when the shipping address or phone is
// missing.
var ErrIncompleteShipping = errors.New("shipping address and phone are required")

// maxTextLength bounds free-text buyer input.
const maxTextLength = 500

// Item is a requested cart line. Prices come from the catalog, never from
// the buyer.
type Item struct {
	ProductID string
	Quantity  int
}

// Request holds the input for a checkout.
type Request struct {
	UserID   string
	Customer order.Customer
	Shipping order.Shipping
	Items    []Item
}

// Result is a placed order with its payment session.
type Result struct {
	Order   *order.Order
	Session *payment.Session
}

// Service places orders and opens payment sessions for them.
type Service struct {
	products product.Repository
	orders   order.Repository
	payments payment.Creator
	placed   metric.Int64Counter
}

// Option configures a Service.
type Option func(*options)

type options struct {
	meterProvider metric.MeterProvider
}

// WithMeterProvider sets the meter provider for checkout counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// NewService creates a checkout Service.
func NewService(
	products product.Repository,
	orders order.Repository,
	payments payment.Creator,
	opts ...Option,
) (*Service, error) {
	o := options{meterProvider: noop.NewMeterProvider()}
	for _, opt := range opts {
		opt(&o)
	}
	placed, err := o.meterProvider.Meter("checkout").Int64Counter("checkout.orders",
		metric.WithDescription("Checkout attempts by result"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create checkout counter")
	}
	return &Service{
		products: products,
		orders:   orders,
		payments: payments,
		placed:   placed,
	}, nil
}

// Checkout validates the cart, persists a pending order priced from the
// catalog and opens a payment session for it. When the provider fails the
// order is kept without payment details and the *payment.ProviderError is
// returned.
func (s *Service) Checkout(ctx context.Context, req Request) (*Result, error) {
	res, err := s.checkout(ctx, req)
	result := "created"
	if err != nil {
		var perr *payment.ProviderError
		if errors.As(err, &perr) {
			result = "provider_failed"
		} else {
			result = "rejected"
		}
	}
	s.placed.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	return res, err
}

func (s *Service) checkout(ctx context.Context, req Request) (*Result, error) {
	if len(req.Items) == 0 {
		return nil, order.ErrEmptyItems
	}
	shipping := order.Shipping{
		Address: sanitize(req.Shipping.Address),
		City:    sanitize(req.Shipping.City),
		Postal:  sanitize(req.Shipping.Postal),
		Phone:   sanitize(req.Shipping.Phone),
	}
	if shipping.Address == "" || shipping.Phone == "" {
		return nil, ErrIncompleteShipping
	}

	// Merge duplicate lines and validate quantities.
	quantities := make(map[string]int, len(req.Items))
	ids := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity <= 0 || item.Quantity > order.MaxQuantity {
			return nil, &order.InvalidQuantityError{ProductID: item.ProductID}
		}
		if _, ok := quantities[item.ProductID]; !ok {
			ids = append(ids, item.ProductID)
		}
		quantities[item.ProductID] += item.Quantity
		if quantities[item.ProductID] > order.MaxQuantity {
			return nil, &order.InvalidQuantityError{ProductID: item.ProductID}
		}
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	items := make([]order.Item, 0, len(ids))
	var total int64
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			return nil, &order.ProductNotFoundError{ProductID: id}
		}
		qty := quantities[id]
		items = append(items, order.Item{
			ProductID: p.ID,
			Name:      p.Name,
			Price:     p.Price,
			Quantity:  qty,
		})
		total += p.Price * int64(qty)
	}
	if total <= 0 {
		return nil, errors.Errorf("order total must be positive, got %d", total)
	}

	o := &order.Order{
		ID:     uuid.NewString(),
		UserID: req.UserID,
		Customer: order.Customer{
			Name:  sanitize(req.Customer.Name),
			Email: sanitize(req.Customer.Email),
		},
		Shipping:      shipping,
		Items:         items,
		TotalAmount:   total,
		Status:        order.StatusPending,
		PaymentStatus: order.PaymentPending,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	lg := zctx.From(ctx).With(zap.String("order_id", o.ID))

	sess, err := s.payments.CreateTransaction(ctx, o)
	if err != nil {
		lg.Error("Create payment session failed", zap.Error(err))
		var perr *payment.ProviderError
		if !errors.As(err, &perr) {
			err = &payment.ProviderError{Err: err}
		}
		return nil, err
	}

	if err := s.orders.SetPayment(ctx, o.ID, sess.Reference, sess.RedirectURL); err != nil {
		return nil, fmt.Errorf("set payment: %w", err)
	}
	o.PaymentID = sess.Reference
	o.PaymentURL = sess.RedirectURL

	lg.Info("Order placed", zap.Int64("total_amount", o.TotalAmount), zap.Int("items", len(o.Items)))
	return &Result{Order: o, Session: sess}, nil
}

// sanitize trims s, drops angle brackets and caps its length.
func sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("<", "", ">", "").Replace(s)
	if r := []rune(s); len(r) > maxTextLength {
		s = string(r[:maxTextLength])
	}
	return s
}
