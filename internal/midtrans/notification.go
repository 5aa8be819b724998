package midtrans

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/preloved-shop/internal/domain/payment"
)

// ParseNotification decodes an HTTP notification body. Amount fields are
// accepted both as JSON strings and numbers; GrossAmount keeps the received
// text for signature checks while Amount holds the integer value.
//
// Errors are always *payment.MalformedError.
func ParseNotification(body []byte) (payment.Notification, error) {
	n := payment.Notification{Raw: body}

	d := jx.DecodeBytes(body)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var (
			v   string
			err error
		)
		switch string(key) {
		case "order_id":
			v, err = decodeText(d)
			n.OrderID = v
		case "status_code":
			v, err = decodeText(d)
			n.StatusCode = v
		case "gross_amount":
			v, err = decodeText(d)
			n.GrossAmount = v
		case "transaction_status":
			v, err = decodeText(d)
			n.TransactionStatus = v
		case "fraud_status":
			v, err = decodeText(d)
			n.FraudStatus = v
		case "signature_key":
			v, err = decodeText(d)
			n.Signature = v
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "decode %s", key)
		}
		return nil
	})
	if err != nil {
		return payment.Notification{}, &payment.MalformedError{Reason: err.Error()}
	}

	switch {
	case n.OrderID == "":
		return payment.Notification{}, &payment.MalformedError{Reason: "order_id is required"}
	case n.TransactionStatus == "":
		return payment.Notification{}, &payment.MalformedError{Reason: "transaction_status is required"}
	case n.GrossAmount == "":
		return payment.Notification{}, &payment.MalformedError{Reason: "gross_amount is required"}
	}

	amount, err := ParseAmount(n.GrossAmount)
	if err != nil {
		return payment.Notification{}, &payment.MalformedError{Reason: err.Error()}
	}
	n.Amount = amount

	return n, nil
}

// ParseAmount converts a provider amount such as "150000.00" into an integer
// amount. Fractional or non-positive values are rejected.
func ParseAmount(s string) (int64, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errors.Wrapf(err, "parse gross_amount %q", s)
	}
	if !v.IsInteger() {
		return 0, errors.Errorf("gross_amount %q has a fractional part", s)
	}
	if !v.IsPositive() {
		return 0, errors.Errorf("gross_amount %q must be positive", s)
	}
	if !v.BigInt().IsInt64() {
		return 0, errors.Errorf("gross_amount %q out of range", s)
	}
	return v.IntPart(), nil
}

func decodeText(d *jx.Decoder) (string, error) {
	switch tt := d.Next(); tt {
	case jx.String:
		return d.Str()
	case jx.Number:
		num, err := d.Num()
		if err != nil {
			return "", err
		}
		return string(num), nil
	case jx.Null:
		return "", d.Null()
	default:
		return "", errors.Errorf("unexpected %s", tt)
	}
}
