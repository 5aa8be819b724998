package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/preloved-shop/internal/domain/order"
	"github.com/xenking/preloved-shop/internal/events"
)

const (
	orderColumns = `id, user_id, customer_name, customer_email, total_amount,
		shipping_address, shipping_city, shipping_postal, shipping_phone,
		order_status, payment_status, payment_id, payment_url, notes,
		processed_by, processed_at, created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (id, user_id, customer_name, customer_email, total_amount,
		shipping_address, shipping_city, shipping_postal, shipping_phone, order_status, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	createOrderItemSQL = `INSERT INTO order_items (order_id, product_id, name, price, quantity)
		VALUES ($1, $2, $3, $4, $5)`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	listOrderItemsSQL = `SELECT order_id, product_id, name, price, quantity
		FROM order_items WHERE order_id = ANY($1) ORDER BY id`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE ($1 = '' OR order_status = $1)
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`

	countOrdersSQL = `SELECT COUNT(*) FROM orders WHERE ($1 = '' OR order_status = $1)`

	setPaymentSQL = `UPDATE orders SET payment_id = $2, payment_url = $3, updated_at = NOW()
		WHERE id = $1`

	// The PAID guard makes the check and the write one statement.
	updatePaymentStatusSQL = `UPDATE orders SET order_status = $2, payment_status = $3, updated_at = NOW()
		WHERE id = $1 AND payment_status <> 'PAID'`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

	updateFulfillmentSQL = `UPDATE orders SET
		order_status = COALESCE($2, order_status),
		notes = COALESCE($3, notes),
		processed_by = $4,
		processed_at = NOW(),
		updated_at = NOW()
		WHERE id = $1`

	insertOutboxSQL = `INSERT INTO outbox (event_id, event_type, payload) VALUES ($1, $2, $3)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool, now: time.Now}
}

// Create persists a new order together with its items.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, createOrderSQL,
			o.ID, o.UserID, o.Customer.Name, o.Customer.Email, o.TotalAmount,
			o.Shipping.Address, o.Shipping.City, o.Shipping.Postal, o.Shipping.Phone,
			string(o.Status), string(o.PaymentStatus),
		); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, it := range o.Items {
			batch.Queue(createOrderItemSQL, o.ID, it.ProductID, it.Name, it.Price, it.Quantity)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// GetByID returns an order with its items.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	orders := []order.Order{o}
	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// List returns one page of orders, newest first.
func (r *OrderRepository) List(ctx context.Context, filter order.ListFilter) (*order.Page, error) {
	var total int
	if err := r.pool.QueryRow(ctx, countOrdersSQL, string(filter.Status)).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting orders: %w", err)
	}

	offset := (filter.Page - 1) * filter.Limit
	rows, err := r.pool.Query(ctx, listOrdersSQL, string(filter.Status), filter.Limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}

	return &order.Page{
		Orders:      orders,
		Total:       total,
		CurrentPage: filter.Page,
		TotalPages:  order.TotalPages(total, filter.Limit),
	}, nil
}

// SetPayment records the provider reference and hosted checkout URL.
func (r *OrderRepository) SetPayment(ctx context.Context, id, paymentID, paymentURL string) error {
	tag, err := r.pool.Exec(ctx, setPaymentSQL, id, paymentID, paymentURL)
	if err != nil {
		return fmt.Errorf("setting payment for order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// UpdatePaymentStatus writes both statuses unless the order is already paid
// and records a payment event in the outbox within the same transaction.
func (r *OrderRepository) UpdatePaymentStatus(ctx context.Context, id string, status order.Status, ps order.PaymentStatus) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, updatePaymentStatusSQL, id, string(status), string(ps))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return order.ErrNotFound
			}
			return order.ErrAlreadyPaid
		}

		ev := events.NewPaymentStatusChanged(id, status, ps, r.now())
		_, err = tx.Exec(ctx, insertOutboxSQL, ev.EventID, events.TypePaymentStatusChanged, ev.Encode())
		return err
	})
	if err != nil {
		if errors.Is(err, order.ErrNotFound) || errors.Is(err, order.ErrAlreadyPaid) {
			return err
		}
		return fmt.Errorf("updating payment status of order %q: %w", id, err)
	}
	return nil
}

// UpdateFulfillment applies a staff change. Nil fields keep their value.
func (r *OrderRepository) UpdateFulfillment(ctx context.Context, id string, upd order.FulfillmentUpdate) error {
	var status *string
	if upd.Status != nil {
		s := string(*upd.Status)
		status = &s
	}
	tag, err := r.pool.Exec(ctx, updateFulfillmentSQL, id, status, upd.Notes, upd.ProcessedBy)
	if err != nil {
		return fmt.Errorf("updating order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func (r *OrderRepository) loadItems(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	rows, err := r.pool.Query(ctx, listOrderItemsSQL, ids)
	if err != nil {
		return fmt.Errorf("listing order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			orderID string
			it      order.Item
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.Name, &it.Price, &it.Quantity); err != nil {
			return fmt.Errorf("scanning order item: %w", err)
		}
		i := index[orderID]
		orders[i].Items = append(orders[i].Items, it)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("listing order items: %w", err)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		status, pstat string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.Customer.Name, &o.Customer.Email, &o.TotalAmount,
		&o.Shipping.Address, &o.Shipping.City, &o.Shipping.Postal, &o.Shipping.Phone,
		&status, &pstat, &o.PaymentID, &o.PaymentURL, &o.Notes,
		&o.ProcessedBy, &o.ProcessedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(pstat)
	return o, err
}
