package repository

import (
	"context"

	"github.com/rookgm/cryptomart/internal/models"
	"github.com/rookgm/cryptomart/internal/repository/postgres"
	"github.com/shopspring/decimal"
)

const (
	insertTransactionQuery = `
						INSERT INTO payment_transactions
						    (order_id, invoice_id, payment_id, amount_paid, amount_required, fiat_amount, currency,
						     result, is_underpayment, is_overpayment)
						values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
						RETURNING id, created_at
`
	sumFundedFiatQuery = `
						SELECT COALESCE(sum(LEAST(pt.fiat_amount, i.fiat_amount)), 0)
						FROM payment_transactions pt
						LEFT JOIN invoices i ON i.id = pt.invoice_id
						WHERE pt.order_id = $1 AND pt.result IN ('exact', 'overpayment', 'underpayment')
`
	markPenaltyAppliedQuery = `
						UPDATE payment_transactions
						SET penalty_applied = TRUE
						WHERE order_id = $1 AND result IN ('exact', 'overpayment', 'underpayment')
`
)

// PaymentRepository implements PaymentRepository interface
type PaymentRepository struct {
	db *postgres.DB
}

// NewPaymentRepository creates new PaymentRepository instance
func NewPaymentRepository(db *postgres.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// CreateTransaction appends a payment signal to the audit trail. OrderID
// and InvoiceID equal to zero are stored as NULL (signal matched nothing).
func (pr *PaymentRepository) CreateTransaction(ctx context.Context, txn *models.PaymentTransaction) (*models.PaymentTransaction, error) {
	var orderID, invoiceID any
	if txn.OrderID != 0 {
		orderID = txn.OrderID
	}
	if txn.InvoiceID != 0 {
		invoiceID = txn.InvoiceID
	}

	err := pr.db.QueryRow(ctx, insertTransactionQuery,
		orderID, invoiceID, txn.PaymentID, txn.AmountPaid, txn.AmountRequired, txn.FiatAmount, txn.Currency,
		txn.Result, txn.IsUnderpayment, txn.IsOverpayment).Scan(&txn.ID, &txn.CreatedAt)
	if err != nil {
		return nil, err
	}

	return txn, nil
}

// SumFundedFiat returns the total fiat value applied to the order:
// gateway receipts plus the wallet debit that completed it. Each receipt
// is capped at its invoice amount, since overpayment surplus is credited
// back at payment time and must not count toward a later refund.
func (pr *PaymentRepository) SumFundedFiat(ctx context.Context, orderID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	if err := pr.db.QueryRow(ctx, sumFundedFiatQuery, orderID).Scan(&sum); err != nil {
		return decimal.Decimal{}, err
	}

	return sum, nil
}

// MarkPenaltyApplied flags the order's funded transactions after a
// penalized refund.
func (pr *PaymentRepository) MarkPenaltyApplied(ctx context.Context, orderID int64) error {
	_, err := pr.db.Exec(ctx, markPenaltyAppliedQuery, orderID)
	return err
}
