package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/preloved-shop/internal/domain/checkout"
	"github.com/xenking/preloved-shop/internal/domain/order"
	"github.com/xenking/preloved-shop/internal/domain/payment"
)

// Checkout serves POST /api/checkout.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := decodeCheckoutRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.checkout.Checkout(r.Context(), req)
	if err != nil {
		code, msg := checkoutErrorStatus(err)
		if code == http.StatusInternalServerError {
			zctx.From(r.Context()).Error("Checkout failed", zap.Error(err))
		}
		writeError(w, code, msg)
		return
	}

	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("orderId", func(e *jx.Encoder) { e.Str(res.Order.ID) })
			e.Field("totalAmount", func(e *jx.Encoder) { e.Int64(res.Order.TotalAmount) })
			e.Field("paymentUrl", func(e *jx.Encoder) { e.Str(res.Session.RedirectURL) })
			e.Field("token", func(e *jx.Encoder) { e.Str(res.Session.Token) })
		})
	})
}

func checkoutErrorStatus(err error) (int, string) {
	var (
		qtyErr      *order.InvalidQuantityError
		notFoundErr *order.ProductNotFoundError
		providerErr *payment.ProviderError
	)
	switch {
	case errors.Is(err, order.ErrEmptyItems), errors.Is(err, checkout.ErrIncompleteShipping):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &qtyErr):
		return http.StatusUnprocessableEntity, qtyErr.Error()
	case errors.As(err, &notFoundErr):
		return http.StatusUnprocessableEntity, notFoundErr.Error()
	case errors.As(err, &providerErr):
		return http.StatusBadGateway, "payment provider unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func decodeCheckoutRequest(body []byte) (checkout.Request, error) {
	var req checkout.Request
	d := jx.DecodeBytes(body)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "userId":
			return decodeStr(d, &req.UserID)
		case "customer":
			return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				switch string(key) {
				case "name":
					return decodeStr(d, &req.Customer.Name)
				case "email":
					return decodeStr(d, &req.Customer.Email)
				default:
					return d.Skip()
				}
			})
		case "shipping":
			return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				switch string(key) {
				case "address":
					return decodeStr(d, &req.Shipping.Address)
				case "city":
					return decodeStr(d, &req.Shipping.City)
				case "postalCode":
					return decodeStr(d, &req.Shipping.Postal)
				case "phone":
					return decodeStr(d, &req.Shipping.Phone)
				default:
					return d.Skip()
				}
			})
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				var item checkout.Item
				if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
					switch string(key) {
					case "productId":
						return decodeStr(d, &item.ProductID)
					case "quantity":
						v, err := d.Int()
						item.Quantity = v
						return err
					default:
						return d.Skip()
					}
				}); err != nil {
					return err
				}
				req.Items = append(req.Items, item)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	return req, err
}

func decodeStr(d *jx.Decoder, dst *string) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	v, err := d.Str()
	*dst = v
	return err
}
