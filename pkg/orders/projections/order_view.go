// Package projections contains read models built from order events.
package projections

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/plaenen/orderstream/pkg/domain"
	"github.com/plaenen/orderstream/pkg/orders"
	"github.com/plaenen/orderstream/pkg/runner"
)

// OrderView is one row of the order read model.
type OrderView struct {
	OrderID         string
	CustomerID      string
	Status          string
	ItemCount       int
	TotalAmount     decimal.Decimal
	ShippingAddress string
	TrackingNumber  string
	LastVersion     int64
	UpdatedAt       time.Time
}

// OrderViewProjection maintains a one-row-per-order summary table.
//
// Applies are idempotent two ways: writes carry the event's aggregate
// version and only land when it is newer than the stored last_version, and
// item events carry post-state totals that are set, never accumulated.
type OrderViewProjection struct {
	db     *sql.DB
	logger runner.Logger
}

// NewOrderViewProjection creates the projection and ensures its table.
func NewOrderViewProjection(db *sql.DB, logger runner.Logger) (*OrderViewProjection, error) {
	if logger == nil {
		logger = runner.NewNoopLogger()
	}
	p := &OrderViewProjection{db: db, logger: logger}
	if err := p.ensureSchema(); err != nil {
		return nil, err
	}
	return p, nil
}

// Name returns the projection's unique name.
func (p *OrderViewProjection) Name() string {
	return "order_view"
}

func (p *OrderViewProjection) ensureSchema() error {
	_, err := p.db.Exec(`
		CREATE TABLE IF NOT EXISTS order_view (
			order_id         TEXT PRIMARY KEY,
			customer_id      TEXT NOT NULL,
			status           TEXT NOT NULL,
			item_count       INTEGER NOT NULL DEFAULT 0,
			total_amount     TEXT NOT NULL DEFAULT '0',
			shipping_address TEXT NOT NULL DEFAULT '',
			tracking_number  TEXT NOT NULL DEFAULT '',
			last_version     INTEGER NOT NULL,
			updated_at       INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create order_view table: %w", err)
	}
	return nil
}

// Handle applies an order event to the read model.
func (p *OrderViewProjection) Handle(ctx context.Context, envelope *domain.EventEnvelope) error {
	evt := &envelope.Event
	if evt.AggregateType != orders.AggregateType {
		return nil
	}

	payload, err := orders.DecodeEvent(evt)
	if err != nil {
		return fmt.Errorf("order_view: %w", err)
	}

	now := domain.Now().Unix()

	switch e := payload.(type) {
	case *orders.OrderCreated:
		// INSERT OR IGNORE makes redelivery of the creation event a no-op.
		_, err = p.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO order_view
				(order_id, customer_id, status, item_count, total_amount, last_version, updated_at)
			VALUES (?, ?, ?, 0, '0', ?, ?)
		`, e.OrderID, e.CustomerID, string(orders.StatusCreated), evt.Version, now)

	case *orders.ItemAdded:
		_, err = p.db.ExecContext(ctx, `
			UPDATE order_view
			SET item_count = ?, total_amount = ?, last_version = ?, updated_at = ?
			WHERE order_id = ? AND last_version < ?
		`, e.ItemCount, e.TotalAmount.String(), evt.Version, now, e.OrderID, evt.Version)

	case *orders.ItemRemoved:
		_, err = p.db.ExecContext(ctx, `
			UPDATE order_view
			SET item_count = ?, total_amount = ?, last_version = ?, updated_at = ?
			WHERE order_id = ? AND last_version < ?
		`, e.ItemCount, e.TotalAmount.String(), evt.Version, now, e.OrderID, evt.Version)

	case *orders.OrderSubmitted:
		_, err = p.db.ExecContext(ctx, `
			UPDATE order_view
			SET status = ?, shipping_address = ?, last_version = ?, updated_at = ?
			WHERE order_id = ? AND last_version < ?
		`, string(orders.StatusSubmitted), e.ShippingAddress, evt.Version, now, e.OrderID, evt.Version)

	case *orders.OrderCancelled:
		_, err = p.db.ExecContext(ctx, `
			UPDATE order_view
			SET status = ?, last_version = ?, updated_at = ?
			WHERE order_id = ? AND last_version < ?
		`, string(orders.StatusCancelled), evt.Version, now, e.OrderID, evt.Version)

	case *orders.PaymentReceived:
		_, err = p.db.ExecContext(ctx, `
			UPDATE order_view
			SET status = ?, last_version = ?, updated_at = ?
			WHERE order_id = ? AND last_version < ?
		`, string(orders.StatusPaid), evt.Version, now, e.OrderID, evt.Version)

	case *orders.OrderShipped:
		_, err = p.db.ExecContext(ctx, `
			UPDATE order_view
			SET status = ?, tracking_number = ?, last_version = ?, updated_at = ?
			WHERE order_id = ? AND last_version < ?
		`, string(orders.StatusShipped), e.TrackingNumber, evt.Version, now, e.OrderID, evt.Version)

	default:
		p.logger.Debug("order_view: skipping unhandled event type", "event_type", evt.EventType)
		return nil
	}

	if err != nil {
		return fmt.Errorf("order_view: failed to apply %s: %w", evt.EventType, err)
	}
	return nil
}

// Reset drops all read model rows so the projection can be rebuilt.
func (p *OrderViewProjection) Reset(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, "DELETE FROM order_view"); err != nil {
		return fmt.Errorf("order_view: failed to reset: %w", err)
	}
	return nil
}

// Get returns the view row for an order, or sql.ErrNoRows.
func (p *OrderViewProjection) Get(ctx context.Context, orderID string) (*OrderView, error) {
	var (
		view      OrderView
		total     string
		updatedAt int64
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT order_id, customer_id, status, item_count, total_amount,
			shipping_address, tracking_number, last_version, updated_at
		FROM order_view
		WHERE order_id = ?
	`, orderID).Scan(
		&view.OrderID,
		&view.CustomerID,
		&view.Status,
		&view.ItemCount,
		&total,
		&view.ShippingAddress,
		&view.TrackingNumber,
		&view.LastVersion,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	view.TotalAmount, err = decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("order_view: bad total_amount for %s: %w", orderID, err)
	}
	view.UpdatedAt = time.Unix(updatedAt, 0)
	return &view, nil
}

// ListByCustomer returns all of a customer's orders, newest first.
func (p *OrderViewProjection) ListByCustomer(ctx context.Context, customerID string) ([]*OrderView, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT order_id, customer_id, status, item_count, total_amount,
			shipping_address, tracking_number, last_version, updated_at
		FROM order_view
		WHERE customer_id = ?
		ORDER BY updated_at DESC, order_id
	`, customerID)
	if err != nil {
		return nil, fmt.Errorf("order_view: failed to list orders: %w", err)
	}
	defer rows.Close()

	var views []*OrderView
	for rows.Next() {
		var (
			view      OrderView
			total     string
			updatedAt int64
		)
		if err := rows.Scan(
			&view.OrderID,
			&view.CustomerID,
			&view.Status,
			&view.ItemCount,
			&total,
			&view.ShippingAddress,
			&view.TrackingNumber,
			&view.LastVersion,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("order_view: failed to scan row: %w", err)
		}
		view.TotalAmount, err = decimal.NewFromString(total)
		if err != nil {
			return nil, fmt.Errorf("order_view: bad total_amount for %s: %w", view.OrderID, err)
		}
		view.UpdatedAt = time.Unix(updatedAt, 0)
		views = append(views, &view)
	}
	return views, rows.Err()
}
