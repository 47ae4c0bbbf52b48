package service

import (
	"context"
	"fmt"

	"github.com/rookgm/cryptomart/internal/events"
	"github.com/rookgm/cryptomart/internal/logger"
	"github.com/rookgm/cryptomart/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// WalletService manages prepaid balances
type WalletService struct {
	users          UserRepository
	tx             TxRunner
	pub            events.Publisher
	unbanThreshold decimal.Decimal
}

// NewWalletService creates new WalletService instance
func NewWalletService(users UserRepository, tx TxRunner, pub events.Publisher, unbanThreshold decimal.Decimal) *WalletService {
	return &WalletService{
		users:          users,
		tx:             tx,
		pub:            pub,
		unbanThreshold: unbanThreshold,
	}
}

// GetWallet returns the user's wallet
func (ws *WalletService) GetWallet(ctx context.Context, userID int64) (*models.User, error) {
	return ws.users.GetUserByID(ctx, userID)
}

// TopUp credits the user's balance. A banned user whose balance reaches
// the unban threshold is unbanned in the same unit of work, with the
// strike counter reset.
func (ws *WalletService) TopUp(ctx context.Context, userID int64, amount decimal.Decimal) (*models.User, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("top up amount %s: %w", amount.String(), models.ErrMalformedPayload)
	}
	amount = models.RoundFiat(amount)

	var user *models.User
	var unbanned bool
	err := ws.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := ws.users.EnsureUser(ctx, userID); err != nil {
			return err
		}

		cur, err := ws.users.CreditBalance(ctx, userID, amount)
		if err != nil {
			return err
		}

		if cur.IsBanned && cur.Balance.GreaterThanOrEqual(ws.unbanThreshold) {
			if err := ws.users.UnbanUser(ctx, userID); err != nil {
				return err
			}
			cur.IsBanned = false
			cur.Strikes = 0
			unbanned = true
		}

		user = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("wallet topped up",
		zap.Int64("user_id", userID),
		zap.String("amount", amount.String()),
		zap.Bool("unbanned", unbanned))

	ev := events.New(events.WalletCredited, userID, 0)
	ev.Amount = amount
	publishEvent(ctx, ws.pub, ev)
	if unbanned {
		publishEvent(ctx, ws.pub, events.New(events.UserUnbanned, userID, 0))
	}

	return user, nil
}
