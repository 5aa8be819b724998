package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/preloved-shop/internal/domain/order"
)

// GetOrderStatus serves GET /api/orders/{id} for the order confirmation
// page. It exposes no customer details.
func (h *Handler) GetOrderStatus(w http.ResponseWriter, r *http.Request) {
	o, ok := h.loadOrder(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
			e.Field("totalAmount", func(e *jx.Encoder) { e.Int64(o.TotalAmount) })
			e.Field("orderStatus", func(e *jx.Encoder) { e.Str(string(o.Status)) })
			e.Field("paymentStatus", func(e *jx.Encoder) { e.Str(string(o.PaymentStatus)) })
			optStr(e, "paymentUrl", o.PaymentURL)
		})
	})
}

// ListOrders serves GET /api/admin/orders.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := order.ListFilter{Status: order.Status(q.Get("status"))}
	var err error
	if filter.Page, err = queryInt(q.Get("page")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid page")
		return
	}
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	page, err := h.orders.List(r.Context(), filter)
	if err != nil {
		if errors.Is(err, order.ErrInvalidStatus) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		zctx.From(r.Context()).Error("List orders failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("orders", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, o := range page.Orders {
						encodeOrder(e, o)
					}
				})
			})
			e.Field("pagination", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("total", func(e *jx.Encoder) { e.Int(page.Total) })
					e.Field("page", func(e *jx.Encoder) { e.Int(page.CurrentPage) })
					e.Field("totalPages", func(e *jx.Encoder) { e.Int(page.TotalPages) })
				})
			})
		})
	})
}

// GetOrder serves GET /api/admin/orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := h.loadOrder(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, *o) })
}

// UpdateOrder serves PATCH /api/admin/orders/{id}. Only fulfillment fields
// are writable; paymentStatus in the body is rejected.
func (h *Handler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var (
		upd            order.FulfillmentUpdate
		paymentTouched bool
	)
	if err := jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "orderStatus":
			v, err := d.Str()
			s := order.Status(v)
			upd.Status = &s
			return err
		case "notes":
			v, err := d.Str()
			upd.Notes = &v
			return err
		case "paymentStatus":
			paymentTouched = true
			return d.Skip()
		default:
			return d.Skip()
		}
	}); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if paymentTouched {
		writeError(w, http.StatusUnprocessableEntity, "paymentStatus is managed by the payment provider")
		return
	}
	if upd.Status == nil && upd.Notes == nil {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}
	if key, ok := APIKeyFromContext(r.Context()); ok {
		upd.ProcessedBy = key.Name
	}

	o, err := h.orders.UpdateFulfillment(r.Context(), r.PathValue("id"), upd)
	switch {
	case errors.Is(err, order.ErrInvalidStatus):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
		return
	case err != nil:
		zctx.From(r.Context()).Error("Update order failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	zctx.From(r.Context()).Info("Order updated",
		zap.String("order_id", o.ID),
		zap.String("order_status", string(o.Status)),
		zap.String("processed_by", upd.ProcessedBy),
	)
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, *o) })
}

func (h *Handler) loadOrder(w http.ResponseWriter, r *http.Request) (*order.Order, bool) {
	o, err := h.orders.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return nil, false
		}
		zctx.From(r.Context()).Error("Get order failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	return o, true
}

func queryInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func encodeOrder(e *jx.Encoder, o order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		optStr(e, "userId", o.UserID)
		e.Field("customer", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("name", func(e *jx.Encoder) { e.Str(o.Customer.Name) })
				e.Field("email", func(e *jx.Encoder) { e.Str(o.Customer.Email) })
			})
		})
		e.Field("shipping", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("address", func(e *jx.Encoder) { e.Str(o.Shipping.Address) })
				e.Field("city", func(e *jx.Encoder) { e.Str(o.Shipping.City) })
				e.Field("postalCode", func(e *jx.Encoder) { e.Str(o.Shipping.Postal) })
				e.Field("phone", func(e *jx.Encoder) { e.Str(o.Shipping.Phone) })
			})
		})
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("productId", func(e *jx.Encoder) { e.Str(it.ProductID) })
						e.Field("name", func(e *jx.Encoder) { e.Str(it.Name) })
						e.Field("price", func(e *jx.Encoder) { e.Int64(it.Price) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
					})
				}
			})
		})
		e.Field("totalAmount", func(e *jx.Encoder) { e.Int64(o.TotalAmount) })
		e.Field("orderStatus", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("paymentStatus", func(e *jx.Encoder) { e.Str(string(o.PaymentStatus)) })
		optStr(e, "paymentId", o.PaymentID)
		optStr(e, "paymentUrl", o.PaymentURL)
		optStr(e, "notes", o.Notes)
		optStr(e, "processedBy", o.ProcessedBy)
		if o.ProcessedAt != nil {
			e.Field("processedAt", func(e *jx.Encoder) { e.Str(o.ProcessedAt.UTC().Format(time.RFC3339)) })
		}
		if !o.CreatedAt.IsZero() {
			e.Field("createdAt", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339)) })
		}
	})
}
