package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/preloved-shop/internal/domain/payment"
)

// outcomeStatus maps reconciliation outcomes to the HTTP status returned to
// the provider. Only 2xx stops provider retries.
func outcomeStatus(o payment.Outcome) int {
	switch o {
	case payment.OutcomeApplied, payment.OutcomeAlreadyProcessed:
		return http.StatusOK
	case payment.OutcomeInvalidSignature:
		return http.StatusUnauthorized
	case payment.OutcomeOrderNotFound:
		return http.StatusNotFound
	case payment.OutcomeAmountMismatch, payment.OutcomeMalformed:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var outcomeMessages = map[payment.Outcome]string{
	payment.OutcomeApplied:           "notification processed",
	payment.OutcomeAlreadyProcessed:  "already processed",
	payment.OutcomeInvalidSignature:  "invalid signature",
	payment.OutcomeOrderNotFound:     "order not found",
	payment.OutcomeAmountMismatch:    "amount mismatch",
	payment.OutcomeMalformed:         "malformed notification",
	payment.OutcomePersistenceFailed: "processing failed",
}

// MidtransWebhook serves the provider notification endpoint. Every request
// gets a definite JSON answer; details stay in the logs.
func (h *Handler) MidtransWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var res payment.Result
	body, err := readBody(r)
	if err == nil {
		var n payment.Notification
		if n, err = h.parse(body); err == nil {
			res = h.reconciler.Reconcile(ctx, n)
		}
	}
	if err != nil {
		res = h.reconciler.Malformed(ctx, err)
	}

	code := outcomeStatus(res.Outcome)
	writeJSON(w, code, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			status := "ok"
			if !res.Outcome.Acknowledged() {
				status = "error"
			}
			e.Field("status", func(e *jx.Encoder) { e.Str(status) })
			e.Field("outcome", func(e *jx.Encoder) { e.Str(res.Outcome.String()) })
			e.Field("message", func(e *jx.Encoder) { e.Str(outcomeMessages[res.Outcome]) })
		})
	})
}
