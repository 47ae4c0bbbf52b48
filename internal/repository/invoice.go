package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rookgm/cryptomart/internal/models"
	"github.com/rookgm/cryptomart/internal/repository/postgres"
)

const (
	insertInvoiceQuery = `
						INSERT INTO invoices (order_id, payment_id, amount, currency, fiat_amount, pay_url, attempt)
						values ($1, $2, $3, $4, $5, $6, $7)
						RETURNING id, is_active, created_at
`
	selectActiveInvoiceQuery = `
						SELECT id, order_id, payment_id, amount, currency, fiat_amount, pay_url, is_active, attempt, created_at
						FROM invoices
						WHERE order_id = $1 AND is_active
`
	selectInvoiceByPaymentIDQuery = `
						SELECT id, order_id, payment_id, amount, currency, fiat_amount, pay_url, is_active, attempt, created_at
						FROM invoices
						WHERE payment_id = $1
`
	deactivateOrderInvoicesQuery = `
						UPDATE invoices
						SET is_active = FALSE
						WHERE order_id = $1 AND is_active
`
	countOrderInvoicesQuery = `
						SELECT count(*) FROM invoices
						WHERE order_id = $1
`

	activeInvoiceConstraint = "invoices_active_order_idx"
)

// InvoiceRepository implements InvoiceRepository interface
type InvoiceRepository struct {
	db *postgres.DB
}

// NewInvoiceRepository creates new InvoiceRepository instance
func NewInvoiceRepository(db *postgres.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// CreateInvoice inserts new invoice to database. The partial unique index
// on active invoices backs the at-most-one-active invariant: violating it
// returns ErrActiveInvoiceExists.
func (ir *InvoiceRepository) CreateInvoice(ctx context.Context, inv *models.Invoice) (*models.Invoice, error) {
	err := ir.db.QueryRow(ctx, insertInvoiceQuery, inv.OrderID, inv.PaymentID, inv.Amount, inv.Currency, inv.FiatAmount, inv.PayURL, inv.Attempt).Scan(&inv.ID, &inv.IsActive, &inv.CreatedAt)
	if err != nil {
		if ir.db.IsUniqueViolation(err) {
			if ir.db.ConstraintName(err) == activeInvoiceConstraint {
				return nil, models.ErrActiveInvoiceExists
			}
			return nil, models.ErrConflictData
		}
		return nil, err
	}

	return inv, nil
}

// GetActiveInvoice returns the order's active invoice
func (ir *InvoiceRepository) GetActiveInvoice(ctx context.Context, orderID int64) (*models.Invoice, error) {
	return ir.getInvoice(ctx, selectActiveInvoiceQuery, orderID)
}

// GetInvoiceByPaymentID returns invoice by the gateway payment identifier
func (ir *InvoiceRepository) GetInvoiceByPaymentID(ctx context.Context, paymentID string) (*models.Invoice, error) {
	return ir.getInvoice(ctx, selectInvoiceByPaymentIDQuery, paymentID)
}

func (ir *InvoiceRepository) getInvoice(ctx context.Context, query string, arg any) (*models.Invoice, error) {
	inv := models.Invoice{}
	err := ir.db.QueryRow(ctx, query, arg).Scan(&inv.ID, &inv.OrderID, &inv.PaymentID, &inv.Amount, &inv.Currency, &inv.FiatAmount, &inv.PayURL, &inv.IsActive, &inv.Attempt, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrDataNotFound
		}
		return nil, err
	}

	return &inv, nil
}

// DeactivateOrderInvoices soft-deletes the order's active invoices.
// Already-inactive invoices are left untouched.
func (ir *InvoiceRepository) DeactivateOrderInvoices(ctx context.Context, orderID int64) error {
	_, err := ir.db.Exec(ctx, deactivateOrderInvoicesQuery, orderID)
	return err
}

// CountOrderInvoices returns how many payment attempts were issued
// against the order.
func (ir *InvoiceRepository) CountOrderInvoices(ctx context.Context, orderID int64) (int, error) {
	var count int
	if err := ir.db.QueryRow(ctx, countOrderInvoicesQuery, orderID).Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}
