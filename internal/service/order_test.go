package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rookgm/cryptomart/internal/events"
	"github.com/rookgm/cryptomart/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestOrderService_Checkout_Digital(t *testing.T) {
	e := newTestEnv(t)
	e.seedUnits("vpn_key", "digital", "10.00", false, 3)

	order, err := e.orders.Checkout(context.Background(), 1, []models.OrderLine{
		{Name: "vpn_key", Quantity: 2},
	})
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusPendingPayment, order.Status)
	assertDecimal(t, "20.00", order.Total)
	require.Len(t, order.Lines, 1)
	assertDecimal(t, "10.00", order.Lines[0].UnitPrice)
	assert.False(t, order.Lines[0].IsPhysical)

	available, err := e.repo.CountAvailableUnits(context.Background(), "vpn_key")
	require.NoError(t, err)
	assert.Equal(t, 1, available)

	assert.Contains(t, e.pub.types(), events.OrderCreated)
	assert.NotContains(t, e.pub.types(), events.OrderAwaitingAddress)
}

func TestOrderService_Checkout_PhysicalWaitsForAddress(t *testing.T) {
	e := newTestEnv(t)
	e.seedUnits("tshirt", "merch", "25.00", true, 2)

	order, err := e.orders.Checkout(context.Background(), 1, []models.OrderLine{
		{Name: "tshirt", Quantity: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusPendingPaymentAndAddress, order.Status)
	assert.Contains(t, e.pub.types(), events.OrderAwaitingAddress)
}

func TestOrderService_Checkout_InsufficientStock(t *testing.T) {
	e := newTestEnv(t)
	e.seedUnits("tshirt", "merch", "25.00", true, 1)

	_, err := e.orders.Checkout(context.Background(), 1, []models.OrderLine{
		{Name: "tshirt", Quantity: 2},
	})

	var stockErr models.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "tshirt", stockErr.Name)
	assert.Equal(t, 2, stockErr.Requested)
	assert.Equal(t, 1, stockErr.Available)

	// the whole checkout rolled back
	assert.Empty(t, e.store.orders)
	available, err := e.repo.CountAvailableUnits(context.Background(), "tshirt")
	require.NoError(t, err)
	assert.Equal(t, 1, available)
}

func TestOrderService_Checkout_AllOrNothingAcrossLines(t *testing.T) {
	e := newTestEnv(t)
	e.seedUnits("vpn_key", "digital", "10.00", false, 2)
	e.seedUnits("tshirt", "merch", "25.00", true, 1)

	_, err := e.orders.Checkout(context.Background(), 1, []models.OrderLine{
		{Name: "vpn_key", Quantity: 2},
		{Name: "tshirt", Quantity: 2},
	})

	var stockErr models.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "tshirt", stockErr.Name)

	// units claimed for the first line are free again
	available, err := e.repo.CountAvailableUnits(context.Background(), "vpn_key")
	require.NoError(t, err)
	assert.Equal(t, 2, available)
}

func TestOrderService_Checkout_LastUnitGoesToOneBuyer(t *testing.T) {
	e := newTestEnv(t)
	e.seedUnits("vpn_key", "digital", "10.00", false, 1)

	_, err := e.orders.Checkout(context.Background(), 1, []models.OrderLine{
		{Name: "vpn_key", Quantity: 1},
	})
	require.NoError(t, err)

	_, err = e.orders.Checkout(context.Background(), 2, []models.OrderLine{
		{Name: "vpn_key", Quantity: 1},
	})

	var stockErr models.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 0, stockErr.Available)
}

func TestOrderService_Checkout_BannedUser(t *testing.T) {
	e := newTestEnv(t)
	e.seedUnits("vpn_key", "digital", "10.00", false, 1)
	e.seedUser(1, "0.00")
	user := e.store.users[1]
	user.IsBanned = true
	e.store.users[1] = user

	_, err := e.orders.Checkout(context.Background(), 1, []models.OrderLine{
		{Name: "vpn_key", Quantity: 1},
	})
	require.ErrorIs(t, err, models.ErrUserBanned)
}

func TestOrderService_Checkout_BadLines(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.orders.Checkout(context.Background(), 1, nil)
	require.ErrorIs(t, err, models.ErrMalformedPayload)

	_, err = e.orders.Checkout(context.Background(), 1, []models.OrderLine{
		{Name: "vpn_key", Quantity: 0},
	})
	require.ErrorIs(t, err, models.ErrMalformedPayload)
}

func TestOrderService_SubmitAddress(t *testing.T) {
	e := newTestEnv(t)
	e.seedUnits("tshirt", "merch", "25.00", true, 1)

	order, err := e.orders.Checkout(context.Background(), 1, []models.OrderLine{
		{Name: "tshirt", Quantity: 1},
	})
	require.NoError(t, err)

	updated, err := e.orders.SubmitAddress(context.Background(), order.ID, "221B Baker Street")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPendingPayment, updated.Status)
	assert.Equal(t, "221B Baker Street", updated.Address)

	// a second submission has nowhere to go
	_, err = e.orders.SubmitAddress(context.Background(), order.ID, "other")
	require.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestOrderService_SubmitAddress_DigitalOrder(t *testing.T) {
	e := newTestEnv(t)
	e.seedUnits("vpn_key", "digital", "10.00", false, 1)

	order, err := e.orders.Checkout(context.Background(), 1, []models.OrderLine{
		{Name: "vpn_key", Quantity: 1},
	})
	require.NoError(t, err)

	_, err = e.orders.SubmitAddress(context.Background(), order.ID, "221B Baker Street")
	require.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestOrderService_WalletPayment_CompletesDigitalOrder(t *testing.T) {
	e := newTestEnv(t)
	e.seedUnits("vpn_key", "digital", "10.00", false, 2)
	e.seedUser(1, "30.00")

	order, err := e.orders.Checkout(context.Background(), 1, []models.OrderLine{
		{Name: "vpn_key", Quantity: 2},
	})
	require.NoError(t, err)

	paid, err := e.orders.AttemptWalletPayment(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, paid.Status)

	assertDecimal(t, "10.00", e.store.users[1].Balance)

	items, err := e.repo.GetOrderItems(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.True(t, item.IsSold)
	}
	assert.Len(t, e.store.deliveries[order.ID], 2)

	require.Len(t, e.store.txns, 1)
	txn := e.store.txns[0]
	assert.Equal(t, models.PaymentResultExact, txn.Result)
	assertDecimal(t, "20.00", txn.FiatAmount)
	assert.Equal(t, "EUR", txn.Currency)

	assert.Contains(t, e.pub.types(), events.OrderPaid)
}

func TestOrderService_WalletPayment_InsufficientBalance(t *testing.T) {
	e := newTestEnv(t)
	e.seedUnits("vpn_key", "digital", "10.00", false, 2)
	e.seedUser(1, "5.00")

	order, err := e.orders.Checkout(context.Background(), 1, []models.OrderLine{
		{Name: "vpn_key", Quantity: 2},
	})
	require.NoError(t, err)

	_, err = e.orders.AttemptWalletPayment(context.Background(), order.ID)
	require.ErrorIs(t, err, models.ErrInsufficientBalance)

	// nothing was debited, the order still awaits payment
	assertDecimal(t, "5.00", e.store.users[1].Balance)
	assert.Equal(t, models.OrderStatusPendingPayment, e.store.orders[order.ID].Status)
	assert.Empty(t, e.store.txns)
}

func TestOrderService_WalletPayment_PhysicalAwaitsShipment(t *testing.T) {
	e := newTestEnv(t)
	e.seedUnits("tshirt", "merch", "25.00", true, 1)
	e.seedUser(1, "50.00")

	order, err := e.orders.Checkout(context.Background(), 1, []models.OrderLine{
		{Name: "tshirt", Quantity: 1},
	})
	require.NoError(t, err)

	_, err = e.orders.SubmitAddress(context.Background(), order.ID, "221B Baker Street")
	require.NoError(t, err)

	paid, err := e.orders.AttemptWalletPayment(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaidAwaitingShipment, paid.Status)

	shipped, err := e.orders.MarkShipped(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusShipped, shipped.Status)
	assert.Contains(t, e.pub.types(), events.OrderShipped)
}

func TestOrderService_MarkShipped_DigitalOrder(t *testing.T) {
	e := newTestEnv(t)
	e.seedUnits("vpn_key", "digital", "10.00", false, 1)
	e.seedUser(1, "10.00")

	order, err := e.orders.Checkout(context.Background(), 1, []models.OrderLine{
		{Name: "vpn_key", Quantity: 1},
	})
	require.NoError(t, err)

	_, err = e.orders.AttemptWalletPayment(context.Background(), order.ID)
	require.NoError(t, err)

	_, err = e.orders.MarkShipped(context.Background(), order.ID)
	require.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestOrderService_CancelByUser_WithinGrace(t *testing.T) {
	e := newTestEnv(t)
	e.seedUnits("vpn_key", "digital", "10.00", false, 1)

	order, err := e.orders.Checkout(context.Background(), 1, []models.OrderLine{
		{Name: "vpn_key", Quantity: 1},
	})
	require.NoError(t, err)

	cancelled, err := e.orders.CancelByUser(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelledByUser, cancelled.Status)

	require.NotNil(t, cancelled.Refund)
	assertDecimal(t, "0", cancelled.Refund.Wallet)
	assertDecimal(t, "0", cancelled.Refund.Penalty)

	assert.Equal(t, 0, e.store.users[1].Strikes)

	available, err := e.repo.CountAvailableUnits(context.Background(), "vpn_key")
	require.NoError(t, err)
	assert.Equal(t, 1, available)
}

func TestOrderService_CancelByUser_OutsideGracePenaltyAndStrike(t *testing.T) {
	e := newTestEnv(t)
	e.seedUnits("vpn_key", "digital", "25.00", false, 2)
	e.seedUser(1, "100.00")

	order, err := e.orders.Checkout(context.Background(), 1, []models.OrderLine{
		{Name: "vpn_key", Quantity: 2},
	})
	require.NoError(t, err)

	// part of the total is held from the wallet, as an invoice request does
	require.NoError(t, e.repo.DebitBalance(context.Background(), 1, dec("20.00")))
	require.NoError(t, e.repo.SetWalletPortion(context.Background(), order.ID, dec("20.00")))

	e.advance(10 * time.Minute)

	cancelled, err := e.orders.CancelByUser(context.Background(), order.ID)
	require.NoError(t, err)

	require.NotNil(t, cancelled.Refund)
	assertDecimal(t, "18.00", cancelled.Refund.Wallet)
	assertDecimal(t, "2.00", cancelled.Refund.Penalty)
	assertDecimal(t, "0", cancelled.Refund.Gateway)

	assertDecimal(t, "98.00", e.store.users[1].Balance)
	assert.Equal(t, 1, e.store.users[1].Strikes)
	assert.False(t, e.store.users[1].IsBanned)

	assert.Contains(t, e.pub.types(), events.OrderCancelled)
	assert.Contains(t, e.pub.types(), events.WalletCredited)
}

func TestOrderService_CancelByUser_ExpiredOrderLeftForSweeper(t *testing.T) {
	e := newTestEnv(t)
	e.seedUnits("vpn_key", "digital", "10.00", false, 1)

	order, err := e.orders.Checkout(context.Background(), 1, []models.OrderLine{
		{Name: "vpn_key", Quantity: 1},
	})
	require.NoError(t, err)

	e.advance(2 * time.Hour)

	_, err = e.orders.CancelByUser(context.Background(), order.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	assert.Equal(t, models.OrderStatusPendingPayment, e.store.orders[order.ID].Status)
}

func TestOrderService_ThreeStrikesBan(t *testing.T) {
	e := newTestEnv(t)
	e.seedUnits("vpn_key", "digital", "10.00", false, 5)
	e.seedUser(1, "100.00")
	e.advance(10 * time.Minute)

	for i := 0; i < 3; i++ {
		order, err := e.orders.Checkout(context.Background(), 1, []models.OrderLine{
			{Name: "vpn_key", Quantity: 1},
		})
		require.NoError(t, err)

		require.NoError(t, e.repo.DebitBalance(context.Background(), 1, dec("10.00")))
		require.NoError(t, e.repo.SetWalletPortion(context.Background(), order.ID, dec("10.00")))

		_, err = e.orders.CancelByUser(context.Background(), order.ID)
		require.NoError(t, err)
	}

	assert.Equal(t, 3, e.store.users[1].Strikes)
	assert.True(t, e.store.users[1].IsBanned)
	assert.Contains(t, e.pub.types(), events.UserBanned)

	_, err := e.orders.Checkout(context.Background(), 1, []models.OrderLine{
		{Name: "vpn_key", Quantity: 1},
	})
	require.ErrorIs(t, err, models.ErrUserBanned)
}

func TestOrderService_ExemptUserIsNeverBanned(t *testing.T) {
	e := newTestEnv(t)
	e.seedUnits("vpn_key", "digital", "10.00", false, 5)
	e.seedUser(1, "100.00")
	user := e.store.users[1]
	user.IsExempt = true
	e.store.users[1] = user
	e.advance(10 * time.Minute)

	for i := 0; i < 3; i++ {
		order, err := e.orders.Checkout(context.Background(), 1, []models.OrderLine{
			{Name: "vpn_key", Quantity: 1},
		})
		require.NoError(t, err)

		_, err = e.orders.CancelByUser(context.Background(), order.ID)
		require.NoError(t, err)
	}

	assert.Equal(t, 3, e.store.users[1].Strikes)
	assert.False(t, e.store.users[1].IsBanned)
	assert.NotContains(t, e.pub.types(), events.UserBanned)
}

func TestOrderService_ExpireDueOrders(t *testing.T) {
	e := newTestEnv(t)
	e.seedUnits("vpn_key", "digital", "10.00", false, 1)

	order, err := e.orders.Checkout(context.Background(), 1, []models.OrderLine{
		{Name: "vpn_key", Quantity: 1},
	})
	require.NoError(t, err)

	// not due yet
	expired, err := e.orders.ExpireDueOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, expired)

	e.advance(2 * time.Hour)

	expired, err = e.orders.ExpireDueOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	assert.Equal(t, models.OrderStatusTimeout, e.store.orders[order.ID].Status)
	assert.Equal(t, 1, e.store.users[1].Strikes)
	assert.Contains(t, e.pub.types(), events.OrderTimeout)

	available, err := e.repo.CountAvailableUnits(context.Background(), "vpn_key")
	require.NoError(t, err)
	assert.Equal(t, 1, available)

	// the sweep is idempotent
	expired, err = e.orders.ExpireDueOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, expired)
}

func TestOrderService_CancelByAdmin_FullRefundNoStrike(t *testing.T) {
	e := newTestEnv(t)
	e.seedUnits("vpn_key", "digital", "25.00", false, 2)
	e.seedUser(1, "100.00")

	order, err := e.orders.Checkout(context.Background(), 1, []models.OrderLine{
		{Name: "vpn_key", Quantity: 2},
	})
	require.NoError(t, err)

	require.NoError(t, e.repo.DebitBalance(context.Background(), 1, dec("20.00")))
	require.NoError(t, e.repo.SetWalletPortion(context.Background(), order.ID, dec("20.00")))

	e.advance(10 * time.Minute)

	cancelled, err := e.orders.CancelByAdmin(context.Background(), order.ID, "out of stock")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelledByAdmin, cancelled.Status)
	assert.Equal(t, "out of stock", cancelled.CancelReason)

	require.NotNil(t, cancelled.Refund)
	assertDecimal(t, "20.00", cancelled.Refund.Wallet)
	assertDecimal(t, "0", cancelled.Refund.Penalty)

	assertDecimal(t, "100.00", e.store.users[1].Balance)
	assert.Equal(t, 0, e.store.users[1].Strikes)
}

func TestOrderService_CancelByAdmin_PaidOrderKeepsUnitsSold(t *testing.T) {
	e := newTestEnv(t)
	e.seedUnits("tshirt", "merch", "30.00", true, 1)
	e.seedUser(1, "50.00")

	order, err := e.orders.Checkout(context.Background(), 1, []models.OrderLine{
		{Name: "tshirt", Quantity: 1},
	})
	require.NoError(t, err)

	_, err = e.orders.SubmitAddress(context.Background(), order.ID, "221B Baker Street")
	require.NoError(t, err)
	_, err = e.orders.AttemptWalletPayment(context.Background(), order.ID)
	require.NoError(t, err)

	cancelled, err := e.orders.CancelByAdmin(context.Background(), order.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelledByAdmin, cancelled.Status)

	// everything the user paid comes back
	assertDecimal(t, "50.00", e.store.users[1].Balance)

	// sold units are never reverted
	items, err := e.repo.GetOrderItems(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].IsSold)
}

func TestOrderService_CancelByAdmin_ShippedOrder(t *testing.T) {
	e := newTestEnv(t)
	e.seedUnits("tshirt", "merch", "30.00", true, 1)
	e.seedUser(1, "50.00")

	order, err := e.orders.Checkout(context.Background(), 1, []models.OrderLine{
		{Name: "tshirt", Quantity: 1},
	})
	require.NoError(t, err)

	_, err = e.orders.SubmitAddress(context.Background(), order.ID, "221B Baker Street")
	require.NoError(t, err)
	_, err = e.orders.AttemptWalletPayment(context.Background(), order.ID)
	require.NoError(t, err)
	_, err = e.orders.MarkShipped(context.Background(), order.ID)
	require.NoError(t, err)

	_, err = e.orders.CancelByAdmin(context.Background(), order.ID, "")
	require.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestOrderService_PublishFailureDoesNotFailTransition(t *testing.T) {
	e := newTestEnv(t)
	e.seedUnits("vpn_key", "digital", "10.00", false, 1)
	e.pub.err = errors.New("broker down")

	order, err := e.orders.Checkout(context.Background(), 1, []models.OrderLine{
		{Name: "vpn_key", Quantity: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPendingPayment, order.Status)
}

func TestOrderService_GetDeliverables_PaidOrder(t *testing.T) {
	e := newTestEnv(t)
	e.seedUnits("vpn_key", "digital", "10.00", false, 2)
	e.seedUser(1, "30.00")

	order, err := e.orders.Checkout(context.Background(), 1, []models.OrderLine{
		{Name: "vpn_key", Quantity: 2},
	})
	require.NoError(t, err)

	_, err = e.orders.AttemptWalletPayment(context.Background(), order.ID)
	require.NoError(t, err)

	items, err := e.orders.GetDeliverables(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Equal(t, "vpn_key", item.Name)
		assert.NotEmpty(t, item.Payload)
	}
}

func TestOrderService_GetDeliverables_UnpaidOrder(t *testing.T) {
	e := newTestEnv(t)
	e.seedUnits("vpn_key", "digital", "10.00", false, 1)

	order, err := e.orders.Checkout(context.Background(), 1, []models.OrderLine{
		{Name: "vpn_key", Quantity: 1},
	})
	require.NoError(t, err)

	_, err = e.orders.GetDeliverables(context.Background(), order.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestOrderService_GetDeliverables_UnknownOrder(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.orders.GetDeliverables(context.Background(), 999)
	assert.ErrorIs(t, err, models.ErrDataNotFound)
}
