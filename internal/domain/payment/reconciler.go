package payment

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/preloved-shop/internal/domain/order"
)

// Outcome is the definite result of reconciling one notification.
type Outcome int

const (
	OutcomeApplied Outcome = iota
	OutcomeAlreadyProcessed
	OutcomeInvalidSignature
	OutcomeOrderNotFound
	OutcomeAmountMismatch
	OutcomeMalformed
	OutcomePersistenceFailed
)

var outcomeNames = [...]string{
	OutcomeApplied:           "applied",
	OutcomeAlreadyProcessed:  "already_processed",
	OutcomeInvalidSignature:  "invalid_signature",
	OutcomeOrderNotFound:     "order_not_found",
	OutcomeAmountMismatch:    "amount_mismatch",
	OutcomeMalformed:         "malformed",
	OutcomePersistenceFailed: "persistence_failed",
}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return "unknown"
	}
	return outcomeNames[o]
}

// Acknowledged reports whether the provider should consider the delivery
// complete.
func (o Outcome) Acknowledged() bool {
	return o == OutcomeApplied || o == OutcomeAlreadyProcessed
}

// Result describes what Reconcile did. Err is set for every outcome that is
// not acknowledged.
type Result struct {
	Outcome Outcome
	OrderID string
	Mapping Mapping
	Err     error
}

// OrderStore is the subset of the Order Store used by reconciliation.
type OrderStore interface {
	GetByID(ctx context.Context, id string) (*order.Order, error)
	UpdatePaymentStatus(ctx context.Context, id string, status order.Status, payment order.PaymentStatus) error
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithMeterProvider sets the meter provider for outcome counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(r *Reconciler) { r.meterProvider = mp }
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Reconciler) { r.tracer = tp.Tracer("payment") }
}

// Reconciler applies verified provider notifications to stored orders.
// It holds no mutable state and is safe for concurrent use.
type Reconciler struct {
	orders    OrderStore
	verifier  Verifier
	mapStatus StatusMapper

	meterProvider metric.MeterProvider
	tracer        trace.Tracer
	outcomes      metric.Int64Counter
}

// NewReconciler creates a Reconciler. The verifier is mandatory.
func NewReconciler(orders OrderStore, verifier Verifier, mapStatus StatusMapper, opts ...Option) (*Reconciler, error) {
	if verifier == nil {
		return nil, errors.New("verifier is required")
	}
	if mapStatus == nil {
		return nil, errors.New("status mapper is required")
	}
	r := &Reconciler{
		orders:        orders,
		verifier:      verifier,
		mapStatus:     mapStatus,
		meterProvider: metricnoop.NewMeterProvider(),
		tracer:        tracenoop.NewTracerProvider().Tracer("payment"),
	}
	for _, opt := range opts {
		opt(r)
	}

	outcomes, err := r.meterProvider.Meter("payment").Int64Counter("payment.webhook.outcomes",
		metric.WithDescription("Payment notifications by reconciliation outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create outcome counter")
	}
	r.outcomes = outcomes
	return r, nil
}

// Reconcile verifies n, matches it to its order and applies the mapped
// status. It always returns a definite Result; it never panics on bad input.
func (r *Reconciler) Reconcile(ctx context.Context, n Notification) Result {
	ctx, span := r.tracer.Start(ctx, "payment.Reconcile", trace.WithAttributes(
		attribute.String("order.id", n.OrderID),
		attribute.String("payment.transaction_status", n.TransactionStatus),
	))
	defer span.End()

	res := r.reconcile(ctx, n)
	res.OrderID = n.OrderID
	r.record(ctx, span, res)
	return res
}

// Malformed records a notification that could not be parsed at all.
func (r *Reconciler) Malformed(ctx context.Context, err error) Result {
	zctx.From(ctx).Warn("Rejected malformed notification", zap.Error(err))
	res := Result{Outcome: OutcomeMalformed, Err: err}
	r.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", res.Outcome.String())))
	return res
}

func (r *Reconciler) reconcile(ctx context.Context, n Notification) Result {
	lg := zctx.From(ctx).With(
		zap.String("order_id", n.OrderID),
		zap.String("transaction_status", n.TransactionStatus),
		zap.String("fraud_status", n.FraudStatus),
	)

	if !r.verifier.Verify(n) {
		lg.Warn("Rejected notification with invalid signature")
		return Result{Outcome: OutcomeInvalidSignature, Err: ErrInvalidSignature}
	}

	o, err := r.orders.GetByID(ctx, n.OrderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			lg.Warn("Notification references unknown order")
			return Result{Outcome: OutcomeOrderNotFound, Err: err}
		}
		lg.Error("Load order failed", zap.Error(err))
		return Result{Outcome: OutcomePersistenceFailed, Err: errors.Wrap(err, "load order")}
	}

	if n.Amount != o.TotalAmount {
		mismatch := &AmountMismatchError{OrderID: o.ID, Expected: o.TotalAmount, Received: n.Amount}
		lg.Error("Amount mismatch in payment notification",
			zap.Bool("alert", true),
			zap.Int64("expected", o.TotalAmount),
			zap.Int64("received", n.Amount),
		)
		return Result{Outcome: OutcomeAmountMismatch, Err: mismatch}
	}

	if o.PaymentStatus == order.PaymentPaid {
		lg.Info("Order already paid, ignoring notification")
		return Result{Outcome: OutcomeAlreadyProcessed}
	}

	m, known := r.mapStatus(n.TransactionStatus, n.FraudStatus)
	if !known {
		lg.Warn("Unknown transaction status, keeping order pending")
	}

	if err := r.orders.UpdatePaymentStatus(ctx, o.ID, m.Order, m.Payment); err != nil {
		switch {
		case errors.Is(err, order.ErrAlreadyPaid):
			// A concurrent delivery won the race.
			lg.Info("Order paid concurrently, ignoring notification")
			return Result{Outcome: OutcomeAlreadyProcessed}
		case errors.Is(err, order.ErrNotFound):
			lg.Warn("Order disappeared during reconciliation")
			return Result{Outcome: OutcomeOrderNotFound, Err: err}
		}
		perr := &PersistenceError{OrderID: o.ID, Mapping: m, Err: err}
		lg.Error("Persist reconciled status failed",
			zap.Error(err),
			zap.String("order_status", string(m.Order)),
			zap.String("payment_status", string(m.Payment)),
			zap.ByteString("payload", n.Raw),
		)
		return Result{Outcome: OutcomePersistenceFailed, Mapping: m, Err: perr}
	}

	lg.Info("Order payment status updated",
		zap.String("order_status", string(m.Order)),
		zap.String("payment_status", string(m.Payment)),
	)
	return Result{Outcome: OutcomeApplied, Mapping: m}
}

func (r *Reconciler) record(ctx context.Context, span trace.Span, res Result) {
	span.SetAttributes(attribute.String("payment.outcome", res.Outcome.String()))
	if !res.Outcome.Acknowledged() {
		span.SetStatus(codes.Error, res.Outcome.String())
	}
	r.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", res.Outcome.String())))
}
