package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rookgm/cryptomart/internal/events"
	"github.com/rookgm/cryptomart/internal/logger"
	"github.com/rookgm/cryptomart/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TxRunner runs a function inside one atomic unit of work
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository is interface for interacting with order-related data
type OrderRepository interface {
	// CreateOrder inserts new order to database
	CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error)
	// CreateOrderLines inserts order lines
	CreateOrderLines(ctx context.Context, orderID int64, lines []models.OrderLine) error
	// GetOrderByID returns order with its lines
	GetOrderByID(ctx context.Context, orderID int64) (*models.Order, error)
	// GetOrderForUpdate returns order with its lines, locking the order row
	GetOrderForUpdate(ctx context.Context, orderID int64) (*models.Order, error)
	// SetOrderCheckout stores the total and initial status
	SetOrderCheckout(ctx context.Context, orderID int64, total decimal.Decimal, status models.OrderStatus) error
	// UpdateOrderStatus moves order between statuses, guarded by the expected one
	UpdateOrderStatus(ctx context.Context, orderID int64, from, to models.OrderStatus) error
	// SetOrderAddress stores the shipping address and moves order to the next status
	SetOrderAddress(ctx context.Context, orderID int64, address string, from, to models.OrderStatus) error
	// SetWalletPortion stores the wallet portion held against the order
	SetWalletPortion(ctx context.Context, orderID int64, portion decimal.Decimal) error
	// ExtendOrderExpiry pushes expires_at forward, permitted exactly once
	ExtendOrderExpiry(ctx context.Context, orderID int64, until time.Time) error
	// CloseOrder moves order to a terminal status with reason and refund breakdown
	CloseOrder(ctx context.Context, orderID int64, from, to models.OrderStatus, reason string, refund models.Refund) error
	// ListExpiredOrderIDs returns ids of payment-pending orders past their deadline
	ListExpiredOrderIDs(ctx context.Context, now time.Time) ([]int64, error)
}

// ItemRepository is interface for interacting with inventory units
type ItemRepository interface {
	// ReserveUnits claims up to qty free units of a position for the order
	ReserveUnits(ctx context.Context, orderID int64, name string, qty int) ([]models.Item, error)
	// ReleaseUnits frees the order's reserved, not yet sold units
	ReleaseUnits(ctx context.Context, orderID int64) (int64, error)
	// MarkUnitsSold permanently marks the order's reserved units as sold
	MarkUnitsSold(ctx context.Context, orderID int64) ([]int64, error)
	// GetOrderItems returns units currently bound to the order
	GetOrderItems(ctx context.Context, orderID int64) ([]models.Item, error)
	// CreateDeliveries records delivery rows for the order's units
	CreateDeliveries(ctx context.Context, orderID int64, itemIDs []int64) error
}

// UserRepository is interface for interacting with user wallets and the
// strike ledger
type UserRepository interface {
	// EnsureUser inserts the user on first contact and returns the row
	EnsureUser(ctx context.Context, userID int64) (*models.User, error)
	// GetUserByID returns user by id
	GetUserByID(ctx context.Context, userID int64) (*models.User, error)
	// DebitBalance withdraws amount, failing with ErrInsufficientBalance
	DebitBalance(ctx context.Context, userID int64, amount decimal.Decimal) error
	// CreditBalance adds amount and returns the updated row
	CreditBalance(ctx context.Context, userID int64, amount decimal.Decimal) (*models.User, error)
	// AddStrike increments the strike counter and returns the updated row
	AddStrike(ctx context.Context, userID int64) (*models.User, error)
	// BanUser sets the ban flag unless the user is exempt
	BanUser(ctx context.Context, userID int64) (bool, error)
	// UnbanUser clears the ban flag and the strike counter
	UnbanUser(ctx context.Context, userID int64) error
}

// InvoiceRepository is interface for interacting with payment attempts
type InvoiceRepository interface {
	// CreateInvoice inserts new invoice
	CreateInvoice(ctx context.Context, inv *models.Invoice) (*models.Invoice, error)
	// GetActiveInvoice returns the order's active invoice
	GetActiveInvoice(ctx context.Context, orderID int64) (*models.Invoice, error)
	// GetInvoiceByPaymentID returns invoice by the gateway payment identifier
	GetInvoiceByPaymentID(ctx context.Context, paymentID string) (*models.Invoice, error)
	// DeactivateOrderInvoices soft-deletes the order's active invoices
	DeactivateOrderInvoices(ctx context.Context, orderID int64) error
	// CountOrderInvoices returns how many attempts were issued against the order
	CountOrderInvoices(ctx context.Context, orderID int64) (int, error)
}

// PaymentRepository is interface for interacting with the payment audit
// trail
type PaymentRepository interface {
	// CreateTransaction appends a payment signal to the audit trail
	CreateTransaction(ctx context.Context, txn *models.PaymentTransaction) (*models.PaymentTransaction, error)
	// SumFundedFiat returns the fiat value applied to the order so far
	SumFundedFiat(ctx context.Context, orderID int64) (decimal.Decimal, error)
	// MarkPenaltyApplied flags the order's funded transactions after a penalized refund
	MarkPenaltyApplied(ctx context.Context, orderID int64) error
}

// OrderPolicy carries the reconciliation knobs of the order lifecycle
type OrderPolicy struct {
	// FiatCurrency is the shop currency all totals are denominated in.
	FiatCurrency string
	// OrderTTL is the payment window measured from order creation.
	OrderTTL time.Duration
	// RetryTTL extends the window once after a first underpayment.
	RetryTTL time.Duration
	// GracePeriod is how long after creation a cancellation stays free.
	GracePeriod time.Duration
	// PenaltyPercent is withheld from the wallet refund outside grace.
	PenaltyPercent int
	// StrikeLimit bans the user when reached.
	StrikeLimit int
}

// OrderService owns the order state machine: every status transition and
// its money/inventory effects run here, inside one unit of work each.
type OrderService struct {
	orders   OrderRepository
	items    ItemRepository
	users    UserRepository
	invoices InvoiceRepository
	payments PaymentRepository
	tx       TxRunner
	pub      events.Publisher
	policy   OrderPolicy
	now      func() time.Time
}

// NewOrderService creates new OrderService instance
func NewOrderService(orders OrderRepository, items ItemRepository, users UserRepository,
	invoices InvoiceRepository, payments PaymentRepository, tx TxRunner,
	pub events.Publisher, policy OrderPolicy) *OrderService {
	return &OrderService{
		orders:   orders,
		items:    items,
		users:    users,
		invoices: invoices,
		payments: payments,
		tx:       tx,
		pub:      pub,
		policy:   policy,
		now:      time.Now,
	}
}

// publishEvent sends a notification intent. Delivery failures are logged
// and never fail the transition that produced the event.
func publishEvent(ctx context.Context, pub events.Publisher, ev events.Event) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, ev); err != nil {
		logger.Log.Error("publish notification intent", zap.String("type", ev.Type), zap.Error(err))
	}
}

// Checkout creates an order for the requested lines, reserving one unit
// row per piece. Reservation is all-or-nothing: if any position has
// fewer free units than requested the whole checkout rolls back and
// nothing stays held.
func (os *OrderService) Checkout(ctx context.Context, userID int64, lines []models.OrderLine) (*models.Order, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("checkout without lines: %w", models.ErrMalformedPayload)
	}
	for _, line := range lines {
		if line.Name == "" || line.Quantity <= 0 {
			return nil, fmt.Errorf("bad line %q x%d: %w", line.Name, line.Quantity, models.ErrMalformedPayload)
		}
	}

	user, err := os.users.EnsureUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.IsBanned {
		return nil, models.ErrUserBanned
	}

	order := &models.Order{
		UserID:    userID,
		Status:    models.OrderStatusPendingPayment,
		Total:     decimal.Zero,
		ExpiresAt: os.now().Add(os.policy.OrderTTL),
	}

	err = os.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := os.orders.CreateOrder(ctx, order); err != nil {
			return err
		}

		total := decimal.Zero
		physical := false
		var orderLines []models.OrderLine

		for _, line := range lines {
			units, err := os.items.ReserveUnits(ctx, order.ID, line.Name, line.Quantity)
			if err != nil {
				return err
			}
			if len(units) < line.Quantity {
				return models.InsufficientStockError{
					Name:      line.Name,
					Requested: line.Quantity,
					Available: len(units),
				}
			}

			linePhysical := false
			for _, unit := range units {
				total = total.Add(unit.Price)
				linePhysical = linePhysical || unit.IsPhysical
			}
			physical = physical || linePhysical

			orderLines = append(orderLines, models.OrderLine{
				Name:       line.Name,
				Quantity:   line.Quantity,
				UnitPrice:  units[0].Price,
				IsPhysical: linePhysical,
			})
		}

		status := models.OrderStatusPendingPayment
		if physical {
			status = models.OrderStatusPendingPaymentAndAddress
		}

		if err := os.orders.CreateOrderLines(ctx, order.ID, orderLines); err != nil {
			return err
		}

		total = models.RoundFiat(total)
		if err := os.orders.SetOrderCheckout(ctx, order.ID, total, status); err != nil {
			return err
		}

		order.Lines = orderLines
		order.Total = total
		order.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", userID),
		zap.String("status", string(order.Status)),
		zap.String("total", order.Total.String()))

	ev := events.New(events.OrderCreated, userID, order.ID)
	ev.Amount = order.Total
	ev.Status = string(order.Status)
	publishEvent(ctx, os.pub, ev)
	if order.Status == models.OrderStatusPendingPaymentAndAddress {
		publishEvent(ctx, os.pub, events.New(events.OrderAwaitingAddress, userID, order.ID))
	}

	return order, nil
}

// GetOrder returns order by id
func (os *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	return os.orders.GetOrderByID(ctx, orderID)
}

// GetDeliverables returns the order's units with their payloads. Units
// are handed out only once the order is paid; before that the payloads
// are still sellable goods.
func (os *OrderService) GetDeliverables(ctx context.Context, orderID int64) ([]models.Item, error) {
	order, err := os.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch order.Status {
	case models.OrderStatusPaid, models.OrderStatusPaidAwaitingShipment, models.OrderStatusShipped:
	default:
		return nil, fmt.Errorf("order %d is not paid: %w", orderID, models.ErrInvalidTransition)
	}

	return os.items.GetOrderItems(ctx, orderID)
}

// SubmitAddress attaches a shipping address to an order waiting for one
func (os *OrderService) SubmitAddress(ctx context.Context, orderID int64, address string) (*models.Order, error) {
	if address == "" {
		return nil, fmt.Errorf("empty address: %w", models.ErrMalformedPayload)
	}

	var order *models.Order
	err := os.tx.InTx(ctx, func(ctx context.Context) error {
		cur, err := os.orders.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if cur.Status != models.OrderStatusPendingPaymentAndAddress {
			return fmt.Errorf("submit address in state %s: %w", cur.Status, models.ErrInvalidTransition)
		}

		if err := os.orders.SetOrderAddress(ctx, orderID, address,
			models.OrderStatusPendingPaymentAndAddress, models.OrderStatusPendingPayment); err != nil {
			return err
		}

		cur.Address = address
		cur.Status = models.OrderStatusPendingPayment
		order = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// AttemptWalletPayment pays the order's outstanding amount entirely from
// the user's wallet balance. Either the whole amount is debited and the
// order completes, or nothing happens and ErrInsufficientBalance is
// returned.
func (os *OrderService) AttemptWalletPayment(ctx context.Context, orderID int64) (*models.Order, error) {
	var order *models.Order
	err := os.tx.InTx(ctx, func(ctx context.Context) error {
		cur, err := os.orders.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if cur.Status != models.OrderStatusPendingPayment && cur.Status != models.OrderStatusPendingPaymentPartial {
			return fmt.Errorf("wallet payment in state %s: %w", cur.Status, models.ErrInvalidTransition)
		}

		received, err := os.payments.SumFundedFiat(ctx, cur.ID)
		if err != nil {
			return err
		}
		outstanding := models.RoundFiat(cur.Total.Sub(cur.WalletPortion).Sub(received))

		if outstanding.IsPositive() {
			if err := os.users.DebitBalance(ctx, cur.UserID, outstanding); err != nil {
				return err
			}
			txn := &models.PaymentTransaction{
				OrderID:        cur.ID,
				PaymentID:      fmt.Sprintf("wallet:%d", cur.ID),
				AmountPaid:     outstanding,
				AmountRequired: outstanding,
				FiatAmount:     outstanding,
				Currency:       os.policy.FiatCurrency,
				Result:         models.PaymentResultExact,
			}
			if _, err := os.payments.CreateTransaction(ctx, txn); err != nil {
				return err
			}
		}

		if err := os.completePaid(ctx, cur); err != nil {
			return err
		}

		order = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("order paid from wallet", zap.Int64("order_id", order.ID))

	ev := events.New(events.OrderPaid, order.UserID, order.ID)
	ev.Amount = order.Total
	ev.Status = string(order.Status)
	publishEvent(ctx, os.pub, ev)

	return order, nil
}

// CompleteGatewayPayment applies a funding gateway event: the audit row
// is recorded, active invoices close, units become sold and the order
// turns paid. creditFiat, when positive, is the overpayment surplus
// credited back to the wallet in the same unit of work.
func (os *OrderService) CompleteGatewayPayment(ctx context.Context, inv *models.Invoice, txn *models.PaymentTransaction, creditFiat decimal.Decimal) (*models.Order, error) {
	var order *models.Order
	err := os.tx.InTx(ctx, func(ctx context.Context) error {
		cur, err := os.orders.GetOrderForUpdate(ctx, inv.OrderID)
		if err != nil {
			return err
		}
		if cur.Status != models.OrderStatusPendingPayment && cur.Status != models.OrderStatusPendingPaymentPartial {
			return fmt.Errorf("gateway payment in state %s: %w", cur.Status, models.ErrInvalidTransition)
		}

		if _, err := os.payments.CreateTransaction(ctx, txn); err != nil {
			return err
		}

		if creditFiat.IsPositive() {
			if _, err := os.users.CreditBalance(ctx, cur.UserID, creditFiat); err != nil {
				return err
			}
		}

		if err := os.completePaid(ctx, cur); err != nil {
			return err
		}

		order = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("order paid via gateway",
		zap.Int64("order_id", order.ID),
		zap.String("payment_id", inv.PaymentID),
		zap.String("result", string(txn.Result)))

	ev := events.New(events.OrderPaid, order.UserID, order.ID)
	ev.Amount = order.Total
	ev.Status = string(order.Status)
	publishEvent(ctx, os.pub, ev)
	if creditFiat.IsPositive() {
		credited := events.New(events.WalletCredited, order.UserID, order.ID)
		credited.Amount = creditFiat
		publishEvent(ctx, os.pub, credited)
	}

	return order, nil
}

// completePaid performs the shared effects of a fully funded order. The
// context must carry the unit of work that locked the order row.
func (os *OrderService) completePaid(ctx context.Context, order *models.Order) error {
	if err := os.invoices.DeactivateOrderInvoices(ctx, order.ID); err != nil {
		return err
	}

	soldIDs, err := os.items.MarkUnitsSold(ctx, order.ID)
	if err != nil {
		return err
	}
	if err := os.items.CreateDeliveries(ctx, order.ID, soldIDs); err != nil {
		return err
	}

	target := models.OrderStatusPaid
	if order.HasPhysical() {
		target = models.OrderStatusPaidAwaitingShipment
	}
	if err := os.orders.UpdateOrderStatus(ctx, order.ID, order.Status, target); err != nil {
		return err
	}

	order.Status = target
	return nil
}

// ApplyUnderpaymentRetry handles a first underpayment: the short payment
// is recorded and kept, invoice one closes, the prepared retry invoice
// is stored as attempt two and the payment deadline is extended exactly
// once.
func (os *OrderService) ApplyUnderpaymentRetry(ctx context.Context, inv *models.Invoice, next *models.Invoice, txn *models.PaymentTransaction) (*models.Order, error) {
	var order *models.Order
	err := os.tx.InTx(ctx, func(ctx context.Context) error {
		cur, err := os.orders.GetOrderForUpdate(ctx, inv.OrderID)
		if err != nil {
			return err
		}
		if cur.Status != models.OrderStatusPendingPayment {
			return fmt.Errorf("underpayment retry in state %s: %w", cur.Status, models.ErrInvalidTransition)
		}

		if _, err := os.payments.CreateTransaction(ctx, txn); err != nil {
			return err
		}
		if err := os.invoices.DeactivateOrderInvoices(ctx, cur.ID); err != nil {
			return err
		}

		next.OrderID = cur.ID
		next.Attempt = inv.Attempt + 1
		if _, err := os.invoices.CreateInvoice(ctx, next); err != nil {
			return err
		}

		until := cur.ExpiresAt.Add(os.policy.RetryTTL)
		if err := os.orders.ExtendOrderExpiry(ctx, cur.ID, until); err != nil {
			return err
		}

		if err := os.orders.UpdateOrderStatus(ctx, cur.ID,
			models.OrderStatusPendingPayment, models.OrderStatusPendingPaymentPartial); err != nil {
			return err
		}

		cur.Status = models.OrderStatusPendingPaymentPartial
		cur.ExpiresAt = until
		cur.ExpiryExtended = true
		order = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Warn("underpayment, retry invoice issued",
		zap.Int64("order_id", order.ID),
		zap.String("payment_id", inv.PaymentID),
		zap.String("retry_fiat", next.FiatAmount.String()))

	ev := events.New(events.OrderUnderpaymentRetry, order.UserID, order.ID)
	ev.Amount = next.FiatAmount
	ev.Status = string(order.Status)
	publishEvent(ctx, os.pub, ev)

	return order, nil
}

// ApplyUnderpaymentCancel handles a second underpayment: the order is
// cancelled by the system, every fiat amount actually received comes
// back to the wallet in full and no strike is issued. The shop caused
// neither shortfall to be recoverable, so the user pays no penalty.
func (os *OrderService) ApplyUnderpaymentCancel(ctx context.Context, inv *models.Invoice, txn *models.PaymentTransaction) (*models.Order, error) {
	var order *models.Order
	var credited decimal.Decimal
	err := os.tx.InTx(ctx, func(ctx context.Context) error {
		cur, err := os.orders.GetOrderForUpdate(ctx, inv.OrderID)
		if err != nil {
			return err
		}
		if cur.Status != models.OrderStatusPendingPaymentPartial {
			return fmt.Errorf("underpayment cancel in state %s: %w", cur.Status, models.ErrInvalidTransition)
		}

		if _, err := os.payments.CreateTransaction(ctx, txn); err != nil {
			return err
		}
		if err := os.invoices.DeactivateOrderInvoices(ctx, cur.ID); err != nil {
			return err
		}
		if _, err := os.items.ReleaseUnits(ctx, cur.ID); err != nil {
			return err
		}

		received, err := os.payments.SumFundedFiat(ctx, cur.ID)
		if err != nil {
			return err
		}

		refund := models.Refund{
			Wallet:  cur.WalletPortion,
			Gateway: received,
			Penalty: decimal.Zero,
		}
		credited = models.RoundFiat(refund.Wallet.Add(refund.Gateway))
		if credited.IsPositive() {
			if _, err := os.users.CreditBalance(ctx, cur.UserID, credited); err != nil {
				return err
			}
		}

		if err := os.orders.CloseOrder(ctx, cur.ID, cur.Status, models.OrderStatusCancelledBySystem,
			"payment incomplete after two attempts", refund); err != nil {
			return err
		}

		cur.Status = models.OrderStatusCancelledBySystem
		cur.CancelReason = "payment incomplete after two attempts"
		cur.Refund = &refund
		order = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Warn("order cancelled after second underpayment",
		zap.Int64("order_id", order.ID),
		zap.String("credited", credited.String()))

	ev := events.New(events.OrderCancelled, order.UserID, order.ID)
	ev.Status = string(order.Status)
	ev.Reason = order.CancelReason
	ev.Amount = credited
	publishEvent(ctx, os.pub, ev)
	if credited.IsPositive() {
		walletEv := events.New(events.WalletCredited, order.UserID, order.ID)
		walletEv.Amount = credited
		publishEvent(ctx, os.pub, walletEv)
	}

	return order, nil
}

// closeOutcome captures the side effects of closing a pending order so
// callers can publish the matching events after commit.
type closeOutcome struct {
	refund   models.Refund
	credited decimal.Decimal
	struck   bool
	banned   bool
}

// closePending releases units and invoices, refunds the wallet portion
// under the grace policy, credits received gateway fiat in full and
// closes the order. Called with the order row locked.
func (os *OrderService) closePending(ctx context.Context, order *models.Order, to models.OrderStatus, reason string) (*closeOutcome, error) {
	if _, err := os.items.ReleaseUnits(ctx, order.ID); err != nil {
		return nil, err
	}
	if err := os.invoices.DeactivateOrderInvoices(ctx, order.ID); err != nil {
		return nil, err
	}

	received, err := os.payments.SumFundedFiat(ctx, order.ID)
	if err != nil {
		return nil, err
	}

	elapsed := os.now().Sub(order.CreatedAt)
	outsideGrace := elapsed > os.policy.GracePeriod

	walletRefund := order.WalletPortion
	penalty := decimal.Zero
	if outsideGrace && walletRefund.IsPositive() {
		penalty = models.RoundFiat(walletRefund.Mul(decimal.NewFromInt(int64(os.policy.PenaltyPercent))).Div(decimal.NewFromInt(100)))
		walletRefund = walletRefund.Sub(penalty)
	}

	outcome := &closeOutcome{
		refund: models.Refund{
			Wallet:  walletRefund,
			Gateway: received,
			Penalty: penalty,
		},
	}

	outcome.credited = models.RoundFiat(walletRefund.Add(received))
	if outcome.credited.IsPositive() {
		if _, err := os.users.CreditBalance(ctx, order.UserID, outcome.credited); err != nil {
			return nil, err
		}
	}
	if penalty.IsPositive() {
		if err := os.payments.MarkPenaltyApplied(ctx, order.ID); err != nil {
			return nil, err
		}
	}

	if outsideGrace {
		user, err := os.users.AddStrike(ctx, order.UserID)
		if err != nil {
			return nil, err
		}
		outcome.struck = true
		if user.Strikes >= os.policy.StrikeLimit && !user.IsBanned {
			banned, err := os.users.BanUser(ctx, order.UserID)
			if err != nil {
				return nil, err
			}
			outcome.banned = banned
		}
	}

	if err := os.orders.CloseOrder(ctx, order.ID, order.Status, to, reason, outcome.refund); err != nil {
		return nil, err
	}

	order.Status = to
	order.CancelReason = reason
	order.Refund = &outcome.refund
	return outcome, nil
}

// publishCloseEvents emits the intents produced by closing a pending order
func (os *OrderService) publishCloseEvents(ctx context.Context, order *models.Order, eventType string, outcome *closeOutcome) {
	ev := events.New(eventType, order.UserID, order.ID)
	ev.Status = string(order.Status)
	ev.Reason = order.CancelReason
	ev.Amount = outcome.credited
	publishEvent(ctx, os.pub, ev)

	if outcome.credited.IsPositive() {
		walletEv := events.New(events.WalletCredited, order.UserID, order.ID)
		walletEv.Amount = outcome.credited
		publishEvent(ctx, os.pub, walletEv)
	}
	if outcome.banned {
		publishEvent(ctx, os.pub, events.New(events.UserBanned, order.UserID, order.ID))
	}
}

// CancelByUser cancels a payment-pending order at the user's request.
// Within the grace period the wallet portion comes back in full; after
// it the penalty is withheld and a strike is recorded. An order past
// its payment deadline is left for the sweeper to close as a timeout.
func (os *OrderService) CancelByUser(ctx context.Context, orderID int64) (*models.Order, error) {
	var order *models.Order
	var outcome *closeOutcome
	err := os.tx.InTx(ctx, func(ctx context.Context) error {
		cur, err := os.orders.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !cur.Status.PaymentPending() {
			return fmt.Errorf("user cancel in state %s: %w", cur.Status, models.ErrInvalidTransition)
		}
		if cur.Expired(os.now()) {
			return fmt.Errorf("order %d already expired: %w", orderID, models.ErrInvalidTransition)
		}

		outcome, err = os.closePending(ctx, cur, models.OrderStatusCancelledByUser, "cancelled by user")
		if err != nil {
			return err
		}

		order = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("order cancelled by user",
		zap.Int64("order_id", order.ID),
		zap.String("refunded", outcome.credited.String()),
		zap.Bool("strike", outcome.struck))

	os.publishCloseEvents(ctx, order, events.OrderCancelled, outcome)
	return order, nil
}

// CancelByAdmin cancels a payment-pending or paid-awaiting-shipment
// order on behalf of the shop. Everything the user put in comes back in
// full; sold units stay sold and no strike is recorded.
func (os *OrderService) CancelByAdmin(ctx context.Context, orderID int64, reason string) (*models.Order, error) {
	if reason == "" {
		reason = "cancelled by administrator"
	}

	var order *models.Order
	var credited decimal.Decimal
	err := os.tx.InTx(ctx, func(ctx context.Context) error {
		cur, err := os.orders.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !cur.Status.PaymentPending() && cur.Status != models.OrderStatusPaidAwaitingShipment {
			return fmt.Errorf("admin cancel in state %s: %w", cur.Status, models.ErrInvalidTransition)
		}

		if _, err := os.items.ReleaseUnits(ctx, cur.ID); err != nil {
			return err
		}
		if err := os.invoices.DeactivateOrderInvoices(ctx, cur.ID); err != nil {
			return err
		}

		received, err := os.payments.SumFundedFiat(ctx, cur.ID)
		if err != nil {
			return err
		}

		refund := models.Refund{
			Wallet:  cur.WalletPortion,
			Gateway: received,
			Penalty: decimal.Zero,
		}
		credited = models.RoundFiat(refund.Wallet.Add(refund.Gateway))
		if credited.IsPositive() {
			if _, err := os.users.CreditBalance(ctx, cur.UserID, credited); err != nil {
				return err
			}
		}

		if err := os.orders.CloseOrder(ctx, cur.ID, cur.Status, models.OrderStatusCancelledByAdmin, reason, refund); err != nil {
			return err
		}

		cur.Status = models.OrderStatusCancelledByAdmin
		cur.CancelReason = reason
		cur.Refund = &refund
		order = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("order cancelled by admin",
		zap.Int64("order_id", order.ID),
		zap.String("reason", reason),
		zap.String("refunded", credited.String()))

	ev := events.New(events.OrderCancelled, order.UserID, order.ID)
	ev.Status = string(order.Status)
	ev.Reason = reason
	ev.Amount = credited
	publishEvent(ctx, os.pub, ev)
	if credited.IsPositive() {
		walletEv := events.New(events.WalletCredited, order.UserID, order.ID)
		walletEv.Amount = credited
		publishEvent(ctx, os.pub, walletEv)
	}

	return order, nil
}

// MarkShipped moves a paid order with physical items to shipped
func (os *OrderService) MarkShipped(ctx context.Context, orderID int64) (*models.Order, error) {
	var order *models.Order
	err := os.tx.InTx(ctx, func(ctx context.Context) error {
		cur, err := os.orders.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if cur.Status != models.OrderStatusPaidAwaitingShipment {
			return fmt.Errorf("ship in state %s: %w", cur.Status, models.ErrInvalidTransition)
		}

		if err := os.orders.UpdateOrderStatus(ctx, cur.ID,
			models.OrderStatusPaidAwaitingShipment, models.OrderStatusShipped); err != nil {
			return err
		}

		cur.Status = models.OrderStatusShipped
		order = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("order shipped", zap.Int64("order_id", order.ID))

	ev := events.New(events.OrderShipped, order.UserID, order.ID)
	ev.Status = string(order.Status)
	publishEvent(ctx, os.pub, ev)

	return order, nil
}

// ExpireOrder forces the timeout transition on one order. The deadline
// is re-checked under the row lock so a retry extension granted after
// the sweep listed the order wins over the sweep.
func (os *OrderService) ExpireOrder(ctx context.Context, orderID int64) error {
	var order *models.Order
	var outcome *closeOutcome
	err := os.tx.InTx(ctx, func(ctx context.Context) error {
		cur, err := os.orders.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !cur.Status.PaymentPending() {
			return fmt.Errorf("expire in state %s: %w", cur.Status, models.ErrInvalidTransition)
		}
		if !cur.Expired(os.now()) {
			return fmt.Errorf("order %d not yet expired: %w", orderID, models.ErrInvalidTransition)
		}

		outcome, err = os.closePending(ctx, cur, models.OrderStatusTimeout, "payment window elapsed")
		if err != nil {
			return err
		}

		order = cur
		return nil
	})
	if err != nil {
		return err
	}

	logger.Log.Info("order timed out",
		zap.Int64("order_id", order.ID),
		zap.String("refunded", outcome.credited.String()),
		zap.Bool("strike", outcome.struck))

	os.publishCloseEvents(ctx, order, events.OrderTimeout, outcome)
	return nil
}

// ExpireDueOrders sweeps all expired payment-pending orders, one
// transaction per order. A failure on one order never blocks the rest;
// orders that raced into another state count as no-ops.
func (os *OrderService) ExpireDueOrders(ctx context.Context) (int, error) {
	ids, err := os.orders.ListExpiredOrderIDs(ctx, os.now())
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		if err := os.ExpireOrder(ctx, id); err != nil {
			if errors.Is(err, models.ErrInvalidTransition) {
				logger.Log.Debug("expiry no-op", zap.Int64("order_id", id))
				continue
			}
			logger.Log.Error("expire order", zap.Int64("order_id", id), zap.Error(err))
			continue
		}
		expired++
	}

	return expired, nil
}
