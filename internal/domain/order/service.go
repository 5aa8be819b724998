package order

import (
	"context"
	"fmt"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// Service implements back-office order management. It never touches the
// payment axis of an order.
type Service struct {
	orders Repository
}

// NewService creates an order Service backed by the given Repository.
func NewService(orders Repository) *Service {
	return &Service{orders: orders}
}

// Get returns a single order.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// List returns one page of orders, newest first. Page and limit are clamped
// to sane values.
func (s *Service) List(ctx context.Context, filter ListFilter) (*Page, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultPageLimit
	case filter.Limit > maxPageLimit:
		filter.Limit = maxPageLimit
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return page, nil
}

// UpdateFulfillment applies a staff change and returns the updated order.
func (s *Service) UpdateFulfillment(ctx context.Context, id string, upd FulfillmentUpdate) (*Order, error) {
	if upd.Status != nil && !upd.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	if err := s.orders.UpdateFulfillment(ctx, id, upd); err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}
	return s.Get(ctx, id)
}

// TotalPages returns the number of pages needed for total rows.
func TotalPages(total, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
