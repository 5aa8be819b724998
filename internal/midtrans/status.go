package midtrans

import (
	"github.com/xenking/preloved-shop/internal/domain/order"
	"github.com/xenking/preloved-shop/internal/domain/payment"
)

// Transaction statuses reported in notifications.
const (
	TransactionCapture    = "capture"
	TransactionSettlement = "settlement"
	TransactionPending    = "pending"
	TransactionDeny       = "deny"
	TransactionCancel     = "cancel"
	TransactionExpire     = "expire"
)

// Fraud statuses reported for card captures.
const (
	FraudAccept    = "accept"
	FraudChallenge = "challenge"
	FraudDeny      = "deny"
)

var _ payment.StatusMapper = MapStatus

// MapStatus translates a transaction/fraud status pair into order and
// payment statuses. Unknown transaction statuses map to pending and report
// false; they are never treated as success.
func MapStatus(transactionStatus, fraudStatus string) (payment.Mapping, bool) {
	switch transactionStatus {
	case TransactionCapture:
		switch fraudStatus {
		case FraudAccept:
			return payment.Mapping{Order: order.StatusPending, Payment: order.PaymentPaid}, true
		case FraudChallenge:
			return payment.Mapping{Order: order.StatusPending, Payment: order.PaymentReview}, true
		default:
			return payment.Mapping{Order: order.StatusCancelled, Payment: order.PaymentFailed}, true
		}
	case TransactionSettlement:
		return payment.Mapping{Order: order.StatusPending, Payment: order.PaymentPaid}, true
	case TransactionPending:
		return payment.Mapping{Order: order.StatusPending, Payment: order.PaymentPending}, true
	case TransactionDeny, TransactionCancel, TransactionExpire:
		return payment.Mapping{Order: order.StatusCancelled, Payment: order.PaymentFailed}, true
	}
	return payment.Mapping{Order: order.StatusPending, Payment: order.PaymentPending}, false
}
