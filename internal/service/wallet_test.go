package service

import (
	"context"
	"testing"

	"github.com/rookgm/cryptomart/internal/events"
	"github.com/rookgm/cryptomart/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWalletService(e *env) *WalletService {
	return NewWalletService(e.repo, e.repo, e.pub, dec("10.00"))
}

func TestWalletService_TopUpCreatesUserLazily(t *testing.T) {
	e := newTestEnv(t)
	ws := newWalletService(e)

	user, err := ws.TopUp(context.Background(), 42, dec("25.00"))
	require.NoError(t, err)

	assertDecimal(t, "25.00", user.Balance)
	assert.Equal(t, []string{events.WalletCredited}, e.pub.types())
	assert.Equal(t, int64(0), e.pub.published[0].OrderID)
}

func TestWalletService_TopUpRoundsAmount(t *testing.T) {
	e := newTestEnv(t)
	ws := newWalletService(e)

	user, err := ws.TopUp(context.Background(), 42, dec("9.999"))
	require.NoError(t, err)

	assertDecimal(t, "10.00", user.Balance)
}

func TestWalletService_TopUpRejectsNonPositive(t *testing.T) {
	e := newTestEnv(t)
	ws := newWalletService(e)

	_, err := ws.TopUp(context.Background(), 42, dec("0"))
	assert.ErrorIs(t, err, models.ErrMalformedPayload)

	_, err = ws.TopUp(context.Background(), 42, dec("-5.00"))
	assert.ErrorIs(t, err, models.ErrMalformedPayload)

	assert.Empty(t, e.store.users)
}

func TestWalletService_TopUpLiftsBanAtThreshold(t *testing.T) {
	e := newTestEnv(t)
	ws := newWalletService(e)

	e.seedUser(42, "4.00")
	u := e.store.users[42]
	u.IsBanned = true
	u.Strikes = 3
	e.store.users[42] = u

	user, err := ws.TopUp(context.Background(), 42, dec("6.00"))
	require.NoError(t, err)

	assertDecimal(t, "10.00", user.Balance)
	assert.False(t, user.IsBanned)
	assert.Equal(t, 0, user.Strikes)
	assert.False(t, e.store.users[42].IsBanned)
	assert.Equal(t, []string{events.WalletCredited, events.UserUnbanned}, e.pub.types())
}

func TestWalletService_TopUpBelowThresholdKeepsBan(t *testing.T) {
	e := newTestEnv(t)
	ws := newWalletService(e)

	e.seedUser(42, "1.00")
	u := e.store.users[42]
	u.IsBanned = true
	u.Strikes = 3
	e.store.users[42] = u

	user, err := ws.TopUp(context.Background(), 42, dec("5.00"))
	require.NoError(t, err)

	assertDecimal(t, "6.00", user.Balance)
	assert.True(t, user.IsBanned)
	assert.Equal(t, 3, user.Strikes)
	assert.Equal(t, []string{events.WalletCredited}, e.pub.types())
}

func TestWalletService_GetWalletUnknownUser(t *testing.T) {
	e := newTestEnv(t)
	ws := newWalletService(e)

	_, err := ws.GetWallet(context.Background(), 99)
	assert.ErrorIs(t, err, models.ErrDataNotFound)
}
