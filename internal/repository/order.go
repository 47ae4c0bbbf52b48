package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rookgm/cryptomart/internal/models"
	"github.com/rookgm/cryptomart/internal/repository/postgres"
	"github.com/shopspring/decimal"
)

const (
	insertOrderQuery = `
						INSERT INTO orders (user_id, status, total, wallet_portion, expires_at)
						values ($1, $2, $3, $4, $5)
						RETURNING id, created_at
`
	insertOrderLineQuery = `
						INSERT INTO order_lines (order_id, name, quantity, unit_price, is_physical)
						values ($1, $2, $3, $4, $5)
`
	selectOrderByIDQuery = `
						SELECT id, user_id, status, total, wallet_portion, address, cancel_reason,
						       refunded_wallet, refunded_gateway, penalty_withheld,
						       expiry_extended, created_at, expires_at
						FROM orders
						WHERE id = $1
`
	selectOrderForUpdateQuery = `
						SELECT id, user_id, status, total, wallet_portion, address, cancel_reason,
						       refunded_wallet, refunded_gateway, penalty_withheld,
						       expiry_extended, created_at, expires_at
						FROM orders
						WHERE id = $1
						FOR UPDATE
`
	selectOrderLinesQuery = `
						SELECT name, quantity, unit_price, is_physical FROM order_lines
						WHERE order_id = $1
						ORDER BY id
`
	updateOrderCheckoutQuery = `
						UPDATE orders
						SET total = $1, status = $2
						WHERE id = $3
`
	updateOrderStatusQuery = `
						UPDATE orders
						SET status = $1
						WHERE id = $2 AND status = $3
`
	updateOrderAddressQuery = `
						UPDATE orders
						SET address = $1, status = $2
						WHERE id = $3 AND status = $4
`
	updateOrderWalletPortionQuery = `
						UPDATE orders
						SET wallet_portion = $1
						WHERE id = $2
`
	updateOrderExpiryQuery = `
						UPDATE orders
						SET expires_at = $1, expiry_extended = TRUE
						WHERE id = $2 AND NOT expiry_extended
`
	closeOrderQuery = `
						UPDATE orders
						SET status = $1, cancel_reason = $2,
						    refunded_wallet = $3, refunded_gateway = $4, penalty_withheld = $5
						WHERE id = $6 AND status = $7
`
	selectExpiredOrderIDsQuery = `
						SELECT id FROM orders
						WHERE status IN ('PENDING_PAYMENT_AND_ADDRESS', 'PENDING_PAYMENT', 'PENDING_PAYMENT_PARTIAL')
						  AND expires_at < $1
						ORDER BY expires_at
`
)

// OrderRepository implements OrderRepository interface
type OrderRepository struct {
	db *postgres.DB
}

// NewOrderRepository creates new OrderRepository instance
func NewOrderRepository(db *postgres.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// CreateOrder inserts new order to database
func (or *OrderRepository) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	err := or.db.QueryRow(ctx, insertOrderQuery, order.UserID, order.Status, order.Total, order.WalletPortion, order.ExpiresAt).Scan(&order.ID, &order.CreatedAt)
	if err != nil {
		return nil, err
	}

	return order, nil
}

// CreateOrderLines inserts order lines
func (or *OrderRepository) CreateOrderLines(ctx context.Context, orderID int64, lines []models.OrderLine) error {
	for _, line := range lines {
		_, err := or.db.Exec(ctx, insertOrderLineQuery, orderID, line.Name, line.Quantity, line.UnitPrice, line.IsPhysical)
		if err != nil {
			return err
		}
	}

	return nil
}

// GetOrderByID returns order with its lines
func (or *OrderRepository) GetOrderByID(ctx context.Context, orderID int64) (*models.Order, error) {
	return or.getOrder(ctx, selectOrderByIDQuery, orderID)
}

// GetOrderForUpdate returns order with its lines, locking the order row
// for the duration of the context transaction.
func (or *OrderRepository) GetOrderForUpdate(ctx context.Context, orderID int64) (*models.Order, error) {
	return or.getOrder(ctx, selectOrderForUpdateQuery, orderID)
}

func (or *OrderRepository) getOrder(ctx context.Context, query string, orderID int64) (*models.Order, error) {
	order := models.Order{}
	var refWallet, refGateway, refPenalty decimal.NullDecimal

	err := or.db.QueryRow(ctx, query, orderID).Scan(
		&order.ID, &order.UserID, &order.Status, &order.Total, &order.WalletPortion,
		&order.Address, &order.CancelReason,
		&refWallet, &refGateway, &refPenalty,
		&order.ExpiryExtended, &order.CreatedAt, &order.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrDataNotFound
		}
		return nil, err
	}

	if refWallet.Valid {
		order.Refund = &models.Refund{
			Wallet:  refWallet.Decimal,
			Gateway: refGateway.Decimal,
			Penalty: refPenalty.Decimal,
		}
	}

	rows, err := or.db.Query(ctx, selectOrderLinesQuery, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		line := models.OrderLine{}
		err = rows.Scan(&line.Name, &line.Quantity, &line.UnitPrice, &line.IsPhysical)
		if err != nil {
			continue
		}
		order.Lines = append(order.Lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &order, nil
}

// SetOrderCheckout stores the total and initial status computed from the
// reserved units.
func (or *OrderRepository) SetOrderCheckout(ctx context.Context, orderID int64, total decimal.Decimal, status models.OrderStatus) error {
	cmd, err := or.db.Exec(ctx, updateOrderCheckoutQuery, total, status, orderID)
	if err != nil {
		return err
	}

	if cmd.RowsAffected() == 0 {
		return models.ErrDataNotFound
	}

	return nil
}

// UpdateOrderStatus moves order from one status to another. The update is
// guarded by the expected current status: a concurrent transition makes
// the guard fail and the call returns ErrInvalidTransition.
func (or *OrderRepository) UpdateOrderStatus(ctx context.Context, orderID int64, from, to models.OrderStatus) error {
	cmd, err := or.db.Exec(ctx, updateOrderStatusQuery, to, orderID, from)
	if err != nil {
		return err
	}

	if cmd.RowsAffected() == 0 {
		return models.ErrInvalidTransition
	}

	return nil
}

// SetOrderAddress stores the shipping address and moves order to the next
// status, guarded by the expected current status.
func (or *OrderRepository) SetOrderAddress(ctx context.Context, orderID int64, address string, from, to models.OrderStatus) error {
	cmd, err := or.db.Exec(ctx, updateOrderAddressQuery, address, to, orderID, from)
	if err != nil {
		return err
	}

	if cmd.RowsAffected() == 0 {
		return models.ErrInvalidTransition
	}

	return nil
}

// SetWalletPortion stores the wallet portion held against the order
func (or *OrderRepository) SetWalletPortion(ctx context.Context, orderID int64, portion decimal.Decimal) error {
	cmd, err := or.db.Exec(ctx, updateOrderWalletPortionQuery, portion, orderID)
	if err != nil {
		return err
	}

	if cmd.RowsAffected() == 0 {
		return models.ErrDataNotFound
	}

	return nil
}

// ExtendOrderExpiry pushes expires_at forward. Permitted exactly once per
// order: a second call returns ErrConflictData.
func (or *OrderRepository) ExtendOrderExpiry(ctx context.Context, orderID int64, until time.Time) error {
	cmd, err := or.db.Exec(ctx, updateOrderExpiryQuery, until, orderID)
	if err != nil {
		return err
	}

	if cmd.RowsAffected() == 0 {
		return models.ErrConflictData
	}

	return nil
}

// CloseOrder moves order to a terminal status and records the cancel
// reason and refund breakdown, guarded by the expected current status.
func (or *OrderRepository) CloseOrder(ctx context.Context, orderID int64, from, to models.OrderStatus, reason string, refund models.Refund) error {
	cmd, err := or.db.Exec(ctx, closeOrderQuery, to, reason, refund.Wallet, refund.Gateway, refund.Penalty, orderID, from)
	if err != nil {
		return err
	}

	if cmd.RowsAffected() == 0 {
		return models.ErrInvalidTransition
	}

	return nil
}

// ListExpiredOrderIDs returns ids of payment-pending orders whose
// expires_at is before now.
func (or *OrderRepository) ListExpiredOrderIDs(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := or.db.Query(ctx, selectExpiredOrderIDsQuery, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return ids, nil
}
