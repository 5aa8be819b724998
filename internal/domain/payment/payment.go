// Package payment reconciles asynchronous payment provider notifications
// with stored orders.
package payment

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/preloved-shop/internal/domain/order"
)

// Session is a hosted payment session opened with the provider.
type Session struct {
	// Reference is the provider-side transaction reference. It equals the
	// order id and is the join key for later notifications.
	Reference   string
	RedirectURL string
	Token       string
}

// Creator opens hosted payment sessions for orders.
type Creator interface {
	CreateTransaction(ctx context.Context, o *order.Order) (*Session, error)
}

// Notification is a provider callback normalized at the ingress boundary.
type Notification struct {
	OrderID    string
	StatusCode string
	// GrossAmount is the amount exactly as received; signatures are computed
	// over this text.
	GrossAmount string
	// Amount is GrossAmount as an integer in the smallest currency unit.
	Amount            int64
	TransactionStatus string
	FraudStatus       string
	Signature         string
	Raw               []byte
}

// Mapping is the pair of statuses derived from a provider status.
type Mapping struct {
	Order   order.Status
	Payment order.PaymentStatus
}

// Verifier checks the authenticity of a notification.
type Verifier interface {
	Verify(n Notification) bool
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(n Notification) bool

// Verify calls f(n).
func (f VerifierFunc) Verify(n Notification) bool { return f(n) }

// StatusMapper translates provider statuses. The bool result is false when
// the transaction status is not recognized.
type StatusMapper func(transactionStatus, fraudStatus string) (Mapping, bool)

// ErrInvalidSignature marks a notification that failed verification.
var ErrInvalidSignature = errors.New("invalid notification signature")

// ProviderError is returned when an outbound provider call fails. Body holds
// the provider's raw error payload, if any.
type ProviderError struct {
	StatusCode int
	Body       []byte
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("payment provider: %v", e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("payment provider: status %d: %v: %s", e.StatusCode, e.Err, e.Body)
	}
	return fmt.Sprintf("payment provider: status %d: %s", e.StatusCode, e.Body)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// AmountMismatchError is returned when a notification claims an amount that
// differs from the stored order total.
type AmountMismatchError struct {
	OrderID  string
	Expected int64
	Received int64
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("amount mismatch for order %s: expected %d, received %d",
		e.OrderID, e.Expected, e.Received)
}

// PersistenceError is returned when the reconciled status could not be
// written.
type PersistenceError struct {
	OrderID string
	Mapping Mapping
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist order %s as %s/%s: %v",
		e.OrderID, e.Mapping.Order, e.Mapping.Payment, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// MalformedError is returned by notification adapters for payloads that
// cannot be parsed into a Notification.
type MalformedError struct {
	Reason string
}

func (e *MalformedError) Error() string {
	return "malformed notification: " + e.Reason
}
