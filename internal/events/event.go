// Package events delivers domain events recorded in the transactional
// outbox to a message broker.
package events

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/xenking/preloved-shop/internal/domain/order"
)

// TypePaymentStatusChanged is emitted whenever reconciliation changes an
// order's statuses.
const TypePaymentStatusChanged = "order.payment_status_changed"

// PaymentStatusChanged is the payload of TypePaymentStatusChanged.
type PaymentStatusChanged struct {
	EventID       string
	OrderID       string
	OrderStatus   order.Status
	PaymentStatus order.PaymentStatus
	OccurredAt    time.Time
}

// NewPaymentStatusChanged creates an event with a fresh id.
func NewPaymentStatusChanged(orderID string, status order.Status, ps order.PaymentStatus, at time.Time) PaymentStatusChanged {
	return PaymentStatusChanged{
		EventID:       uuid.NewString(),
		OrderID:       orderID,
		OrderStatus:   status,
		PaymentStatus: ps,
		OccurredAt:    at.UTC(),
	}
}

// Encode returns the JSON wire form of the event.
func (e PaymentStatusChanged) Encode() []byte {
	var w jx.Encoder
	w.Obj(func(w *jx.Encoder) {
		w.Field("eventId", func(w *jx.Encoder) { w.Str(e.EventID) })
		w.Field("eventType", func(w *jx.Encoder) { w.Str(TypePaymentStatusChanged) })
		w.Field("orderId", func(w *jx.Encoder) { w.Str(e.OrderID) })
		w.Field("orderStatus", func(w *jx.Encoder) { w.Str(string(e.OrderStatus)) })
		w.Field("paymentStatus", func(w *jx.Encoder) { w.Str(string(e.PaymentStatus)) })
		w.Field("occurredAt", func(w *jx.Encoder) { w.Str(e.OccurredAt.Format(time.RFC3339Nano)) })
	})
	return w.Bytes()
}

// DecodePaymentStatusChanged parses the JSON wire form of the event.
func DecodePaymentStatusChanged(data []byte) (PaymentStatusChanged, error) {
	var e PaymentStatusChanged
	d := jx.DecodeBytes(data)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "eventId":
			v, err := d.Str()
			e.EventID = v
			return err
		case "orderId":
			v, err := d.Str()
			e.OrderID = v
			return err
		case "orderStatus":
			v, err := d.Str()
			e.OrderStatus = order.Status(v)
			return err
		case "paymentStatus":
			v, err := d.Str()
			e.PaymentStatus = order.PaymentStatus(v)
			return err
		case "occurredAt":
			v, err := d.Str()
			if err != nil {
				return err
			}
			e.OccurredAt, err = time.Parse(time.RFC3339Nano, v)
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		return PaymentStatusChanged{}, errors.Wrap(err, "decode event")
	}
	return e, nil
}
