// Package handler exposes the storefront, webhook and back-office HTTP API.
package handler

import (
	"net/http"

	"github.com/xenking/preloved-shop/internal/domain/auth"
	"github.com/xenking/preloved-shop/internal/domain/checkout"
	"github.com/xenking/preloved-shop/internal/domain/order"
	"github.com/xenking/preloved-shop/internal/domain/payment"
	"github.com/xenking/preloved-shop/internal/domain/product"
)

// WebhookPath receives payment provider notifications.
const WebhookPath = "/api/webhooks/midtrans"

// NotificationParser converts a raw provider callback body into a
// notification. Errors mean the payload is malformed.
type NotificationParser func(body []byte) (payment.Notification, error)

// Handler serves the HTTP API on top of the domain services.
type Handler struct {
	products   product.Repository
	checkout   *checkout.Service
	orders     *order.Service
	reconciler *payment.Reconciler
	parse      NotificationParser
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	products product.Repository,
	checkoutService *checkout.Service,
	orderService *order.Service,
	reconciler *payment.Reconciler,
	parse NotificationParser,
) *Handler {
	return &Handler{
		products:   products,
		checkout:   checkoutService,
		orders:     orderService,
		reconciler: reconciler,
		parse:      parse,
	}
}

// Register mounts all API routes on mux. Back-office routes require an API
// key with the orders scope.
func (h *Handler) Register(mux *http.ServeMux, security *SecurityHandler) {
	mux.HandleFunc("GET /api/products", h.ListProducts)
	mux.HandleFunc("GET /api/products/{id}", h.GetProduct)
	mux.HandleFunc("POST /api/checkout", h.Checkout)
	mux.HandleFunc("GET /api/orders/{id}", h.GetOrderStatus)
	mux.HandleFunc("POST "+WebhookPath, h.MidtransWebhook)

	staff := security.Require(auth.ScopeManageOrders)
	mux.Handle("GET /api/admin/orders", staff(http.HandlerFunc(h.ListOrders)))
	mux.Handle("GET /api/admin/orders/{id}", staff(http.HandlerFunc(h.GetOrder)))
	mux.Handle("PATCH /api/admin/orders/{id}", staff(http.HandlerFunc(h.UpdateOrder)))
}
