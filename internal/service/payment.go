package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rookgm/cryptomart/internal/gateway"
	"github.com/rookgm/cryptomart/internal/logger"
	"github.com/rookgm/cryptomart/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// GatewayClient is interface for interacting with the crypto payment
// gateway
type GatewayClient interface {
	// CreateInvoice asks the gateway for a new crypto invoice
	CreateInvoice(ctx context.Context, req gateway.InvoiceRequest) (*gateway.Invoice, error)
	// VerifyWebhook checks the webhook signature
	VerifyWebhook(hook gateway.Webhook) error
}

// OrderTransitions is interface for applying reconciled payment outcomes
// to the order state machine
type OrderTransitions interface {
	// CompleteGatewayPayment finishes the order after an exact or overpaid invoice
	CompleteGatewayPayment(ctx context.Context, inv *models.Invoice, txn *models.PaymentTransaction, creditFiat decimal.Decimal) (*models.Order, error)
	// ApplyUnderpaymentRetry keeps the shortfall and issues the second invoice
	ApplyUnderpaymentRetry(ctx context.Context, inv *models.Invoice, next *models.Invoice, txn *models.PaymentTransaction) (*models.Order, error)
	// ApplyUnderpaymentCancel cancels the order after the second shortfall
	ApplyUnderpaymentCancel(ctx context.Context, inv *models.Invoice, txn *models.PaymentTransaction) (*models.Order, error)
}

// PaymentPolicy carries the reconciliation tolerances
type PaymentPolicy struct {
	// FiatCurrency is the shop currency invoices are denominated in.
	FiatCurrency string
	// ExactTolerance forgives shortfalls up to this crypto amount.
	ExactTolerance decimal.Decimal
	// OverpayTolerance keeps surpluses up to this crypto amount without credit.
	OverpayTolerance decimal.Decimal
}

// PaymentService issues gateway invoices and reconciles the signals the
// gateway sends back. Classification happens here; the resulting state
// change is delegated to the order service so each outcome commits
// atomically.
type PaymentService struct {
	orders   OrderRepository
	users    UserRepository
	invoices InvoiceRepository
	payments PaymentRepository
	gw       GatewayClient
	orderSvc OrderTransitions
	tx       TxRunner
	policy   PaymentPolicy
}

// NewPaymentService creates new PaymentService instance
func NewPaymentService(orders OrderRepository, users UserRepository, invoices InvoiceRepository,
	payments PaymentRepository, gw GatewayClient, orderSvc OrderTransitions,
	tx TxRunner, policy PaymentPolicy) *PaymentService {
	return &PaymentService{
		orders:   orders,
		users:    users,
		invoices: invoices,
		payments: payments,
		gw:       gw,
		orderSvc: orderSvc,
		tx:       tx,
		policy:   policy,
	}
}

// RequestGatewayInvoice creates a crypto invoice for the order's
// outstanding amount. With useWallet the user's balance is applied
// first and only the remainder is invoiced; the wallet hold and the
// invoice row commit together. The gateway call happens before the
// transaction, so a row conflict leaves an orphan invoice at the
// gateway that later reconciles as stale.
func (ps *PaymentService) RequestGatewayInvoice(ctx context.Context, orderID int64, payCurrency string, useWallet bool) (*models.Order, *models.Invoice, error) {
	if payCurrency == "" {
		return nil, nil, fmt.Errorf("empty pay currency: %w", models.ErrMalformedPayload)
	}

	order, err := ps.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if order.Status != models.OrderStatusPendingPayment {
		return nil, nil, fmt.Errorf("invoice request in state %s: %w", order.Status, models.ErrInvalidTransition)
	}

	if _, err := ps.invoices.GetActiveInvoice(ctx, orderID); err == nil {
		return nil, nil, models.ErrActiveInvoiceExists
	} else if !errors.Is(err, models.ErrDataNotFound) {
		return nil, nil, err
	}

	portion := decimal.Zero
	if useWallet {
		user, err := ps.users.GetUserByID(ctx, order.UserID)
		if err != nil {
			return nil, nil, err
		}
		portion = decimal.Min(user.Balance, order.Total)
		if portion.GreaterThanOrEqual(order.Total) {
			return nil, nil, fmt.Errorf("wallet covers the total: %w", models.ErrConflictData)
		}
	}
	remainder := models.RoundFiat(order.Total.Sub(portion))

	gwInv, err := ps.gw.CreateInvoice(ctx, gateway.InvoiceRequest{
		FiatAmount:   remainder,
		FiatCurrency: ps.policy.FiatCurrency,
		PayCurrency:  payCurrency,
	})
	if err != nil {
		return nil, nil, err
	}

	inv := &models.Invoice{
		OrderID:    orderID,
		PaymentID:  gwInv.PaymentID,
		Amount:     gwInv.Amount,
		Currency:   gwInv.Currency,
		FiatAmount: gwInv.FiatAmount,
		PayURL:     gwInv.PayURL,
		IsActive:   true,
	}

	err = ps.tx.InTx(ctx, func(ctx context.Context) error {
		cur, err := ps.orders.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if cur.Status != models.OrderStatusPendingPayment {
			return fmt.Errorf("invoice request in state %s: %w", cur.Status, models.ErrInvalidTransition)
		}

		if portion.IsPositive() {
			if err := ps.users.DebitBalance(ctx, cur.UserID, portion); err != nil {
				return err
			}
			if err := ps.orders.SetWalletPortion(ctx, orderID, portion); err != nil {
				return err
			}
		}

		attempts, err := ps.invoices.CountOrderInvoices(ctx, orderID)
		if err != nil {
			return err
		}
		inv.Attempt = attempts + 1

		if _, err := ps.invoices.CreateInvoice(ctx, inv); err != nil {
			return err
		}

		order.WalletPortion = portion
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	logger.Log.Info("invoice issued",
		zap.Int64("order_id", orderID),
		zap.String("payment_id", inv.PaymentID),
		zap.String("pay_currency", inv.Currency),
		zap.String("fiat_amount", inv.FiatAmount.String()),
		zap.String("wallet_portion", portion.String()))

	return order, inv, nil
}

// HandleGatewayEvent verifies and reconciles one gateway webhook. Every
// accepted signal leaves exactly one audit row; signals that cannot
// change the order anymore are recorded as stale and otherwise ignored.
// An invalid signature is rejected outright and leaves no row.
func (ps *PaymentService) HandleGatewayEvent(ctx context.Context, hook gateway.Webhook) (*models.PaymentTransaction, error) {
	if err := ps.gw.VerifyWebhook(hook); err != nil {
		return nil, err
	}

	paid, err := decimal.NewFromString(hook.AmountPaid)
	if err != nil {
		return nil, fmt.Errorf("amount_paid %q: %w", hook.AmountPaid, models.ErrMalformedPayload)
	}
	required, err := decimal.NewFromString(hook.AmountRequired)
	if err != nil {
		return nil, fmt.Errorf("amount_required %q: %w", hook.AmountRequired, models.ErrMalformedPayload)
	}
	fiat, err := decimal.NewFromString(hook.FiatAmount)
	if err != nil {
		return nil, fmt.Errorf("fiat_amount %q: %w", hook.FiatAmount, models.ErrMalformedPayload)
	}

	txn := &models.PaymentTransaction{
		PaymentID:      hook.PaymentID,
		AmountPaid:     paid,
		AmountRequired: required,
		FiatAmount:     fiat,
		Currency:       hook.Currency,
	}

	inv, err := ps.invoices.GetInvoiceByPaymentID(ctx, hook.PaymentID)
	if err != nil {
		if errors.Is(err, models.ErrDataNotFound) {
			return ps.recordStale(ctx, txn, "unknown payment id")
		}
		return nil, err
	}
	txn.OrderID = inv.OrderID
	txn.InvoiceID = inv.ID

	order, err := ps.orders.GetOrderByID(ctx, inv.OrderID)
	if err != nil {
		return nil, err
	}
	if !inv.IsActive {
		return ps.recordStale(ctx, txn, "invoice no longer active")
	}
	if order.Status != models.OrderStatusPendingPayment && order.Status != models.OrderStatusPendingPaymentPartial {
		return ps.recordStale(ctx, txn, fmt.Sprintf("order in state %s", order.Status))
	}

	if hook.Currency != inv.Currency {
		txn.Result = models.PaymentResultCurrencyMismatch
		logger.Log.Warn("payment currency mismatch",
			zap.Int64("order_id", inv.OrderID),
			zap.String("payment_id", hook.PaymentID),
			zap.String("want", inv.Currency),
			zap.String("got", hook.Currency))
		return ps.payments.CreateTransaction(ctx, txn)
	}

	diff := paid.Sub(required)
	switch {
	case diff.GreaterThan(ps.policy.OverpayTolerance):
		txn.Result = models.PaymentResultOverpayment
		txn.IsOverpayment = true
		surplus := models.RoundFiat(fiat.Sub(inv.FiatAmount))
		if surplus.IsNegative() {
			surplus = decimal.Zero
		}
		if _, err := ps.orderSvc.CompleteGatewayPayment(ctx, inv, txn, surplus); err != nil {
			if errors.Is(err, models.ErrInvalidTransition) {
				return ps.recordStale(ctx, txn, "order changed during reconciliation")
			}
			return nil, err
		}
		return txn, nil

	case diff.GreaterThanOrEqual(ps.policy.ExactTolerance.Neg()):
		txn.Result = models.PaymentResultExact
		if _, err := ps.orderSvc.CompleteGatewayPayment(ctx, inv, txn, decimal.Zero); err != nil {
			if errors.Is(err, models.ErrInvalidTransition) {
				return ps.recordStale(ctx, txn, "order changed during reconciliation")
			}
			return nil, err
		}
		return txn, nil

	default:
		txn.Result = models.PaymentResultUnderpayment
		txn.IsUnderpayment = true

		if inv.Attempt >= models.MaxInvoiceAttempts {
			if _, err := ps.orderSvc.ApplyUnderpaymentCancel(ctx, inv, txn); err != nil {
				if errors.Is(err, models.ErrInvalidTransition) {
					return ps.recordStale(ctx, txn, "order changed during reconciliation")
				}
				return nil, err
			}
			return txn, nil
		}

		remainder := models.RoundFiat(inv.FiatAmount.Sub(fiat))
		minInvoice := decimal.NewFromFloat(0.01)
		if remainder.LessThan(minInvoice) {
			remainder = minInvoice
		}

		gwInv, err := ps.gw.CreateInvoice(ctx, gateway.InvoiceRequest{
			FiatAmount:   remainder,
			FiatCurrency: ps.policy.FiatCurrency,
			PayCurrency:  inv.Currency,
		})
		if err != nil {
			return nil, err
		}

		next := &models.Invoice{
			PaymentID:  gwInv.PaymentID,
			Amount:     gwInv.Amount,
			Currency:   gwInv.Currency,
			FiatAmount: gwInv.FiatAmount,
			PayURL:     gwInv.PayURL,
			IsActive:   true,
		}
		if _, err := ps.orderSvc.ApplyUnderpaymentRetry(ctx, inv, next, txn); err != nil {
			if errors.Is(err, models.ErrInvalidTransition) {
				return ps.recordStale(ctx, txn, "order changed during reconciliation")
			}
			return nil, err
		}
		return txn, nil
	}
}

// recordStale writes the audit row for a signal that arrived too late
// to matter
func (ps *PaymentService) recordStale(ctx context.Context, txn *models.PaymentTransaction, why string) (*models.PaymentTransaction, error) {
	txn.Result = models.PaymentResultStale
	logger.Log.Warn("stale payment event",
		zap.String("payment_id", txn.PaymentID),
		zap.String("reason", why))
	return ps.payments.CreateTransaction(ctx, txn)
}
