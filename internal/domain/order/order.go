package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

// Status is the fulfillment lifecycle of an order.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
)

// Valid reports whether s is a known fulfillment status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// PaymentStatus is the payment axis of an order. It is written only by
// payment reconciliation.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentReview  PaymentStatus = "REVIEW"
	PaymentPaid    PaymentStatus = "PAID"
	PaymentFailed  PaymentStatus = "FAILED"
)

var (
	// ErrNotFound is returned when no order exists for the given id.
	ErrNotFound = errors.New("order not found")
	// ErrAlreadyPaid is returned by conditional payment updates when the
	// order already reached PaymentPaid.
	ErrAlreadyPaid = errors.New("order already paid")
	// ErrEmptyItems is returned when an order has no line items.
	ErrEmptyItems = errors.New("items required")
	// ErrInvalidStatus is returned when a fulfillment update names an
	// unknown status.
	ErrInvalidStatus = errors.New("invalid order status")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// MaxQuantity caps the quantity of a single product in one order.
const MaxQuantity = 1000

// InvalidQuantityError indicates a line item quantity outside 1..MaxQuantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be between 1 and %d for product %s", MaxQuantity, e.ProductID)
}

// Order is a buyer's finalized purchase. TotalAmount is in the smallest
// currency unit and never changes after creation.
type Order struct {
	ID            string
	UserID        string
	Customer      Customer
	Shipping      Shipping
	Items         []Item
	TotalAmount   int64
	Status        Status
	PaymentStatus PaymentStatus
	PaymentID     string
	PaymentURL    string
	Notes         string
	ProcessedBy   string
	ProcessedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Customer identifies the buyer for the payment provider.
type Customer struct {
	Name  string
	Email string
}

// Shipping holds the delivery details entered at checkout.
type Shipping struct {
	Address string
	City    string
	Postal  string
	Phone   string
}

// Item is a single order line. Price is the unit price captured at checkout.
type Item struct {
	ProductID string
	Name      string
	Price     int64
	Quantity  int
}

// ListFilter selects a page of orders for the back office.
type ListFilter struct {
	// Status filters by fulfillment status; empty means all.
	Status Status
	Page   int
	Limit  int
}

// Page is one page of a back-office order listing.
type Page struct {
	Orders      []Order
	Total       int
	CurrentPage int
	TotalPages  int
}

// FulfillmentUpdate is a staff-initiated change. Nil fields are left as is.
type FulfillmentUpdate struct {
	Status      *Status
	Notes       *string
	ProcessedBy string
}

// Repository is the Order Store.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	List(ctx context.Context, filter ListFilter) (*Page, error)
	// SetPayment records the provider reference and hosted checkout URL.
	SetPayment(ctx context.Context, id, paymentID, paymentURL string) error
	// UpdatePaymentStatus writes both status axes unless the order is
	// already PaymentPaid, in which case it returns ErrAlreadyPaid. The
	// check and the write are a single statement.
	UpdatePaymentStatus(ctx context.Context, id string, status Status, payment PaymentStatus) error
	UpdateFulfillment(ctx context.Context, id string, upd FulfillmentUpdate) error
}
