package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rookgm/cryptomart/internal/models"
	"github.com/rookgm/cryptomart/internal/repository/postgres"
	"github.com/shopspring/decimal"
)

const (
	insertUserQuery = `
						INSERT INTO users (id)
						values ($1)
						ON CONFLICT (id) DO NOTHING
`
	selectUserByIDQuery = `
						SELECT id, balance, strikes, is_banned, is_exempt, created_at FROM users
						WHERE id = $1
`
	debitBalanceQuery = `
						UPDATE users
						SET balance = balance - $1
						WHERE id = $2 AND balance >= $1
`
	creditBalanceQuery = `
						UPDATE users
						SET balance = balance + $1
						WHERE id = $2
						RETURNING id, balance, strikes, is_banned, is_exempt, created_at
`
	addStrikeQuery = `
						UPDATE users
						SET strikes = strikes + 1
						WHERE id = $1
						RETURNING id, balance, strikes, is_banned, is_exempt, created_at
`
	banUserQuery = `
						UPDATE users
						SET is_banned = TRUE
						WHERE id = $1 AND NOT is_exempt
`
	unbanUserQuery = `
						UPDATE users
						SET is_banned = FALSE, strikes = 0
						WHERE id = $1
`
)

// UserRepository implements UserRepository interface
type UserRepository struct {
	db *postgres.DB
}

// NewUserRepository creates new UserRepository instance
func NewUserRepository(db *postgres.DB) *UserRepository {
	return &UserRepository{db: db}
}

// EnsureUser inserts the user on first contact and returns the row
func (ur *UserRepository) EnsureUser(ctx context.Context, userID int64) (*models.User, error) {
	if _, err := ur.db.Exec(ctx, insertUserQuery, userID); err != nil {
		return nil, err
	}

	return ur.GetUserByID(ctx, userID)
}

// GetUserByID returns user by id
func (ur *UserRepository) GetUserByID(ctx context.Context, userID int64) (*models.User, error) {
	user := models.User{}
	err := ur.db.QueryRow(ctx, selectUserByIDQuery, userID).Scan(&user.ID, &user.Balance, &user.Strikes, &user.IsBanned, &user.IsExempt, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrDataNotFound
		}
		return nil, err
	}

	return &user, nil
}

// DebitBalance withdraws amount from the user balance. The update is
// guarded so the balance never goes negative: overdrawing fails with
// ErrInsufficientBalance.
func (ur *UserRepository) DebitBalance(ctx context.Context, userID int64, amount decimal.Decimal) error {
	cmd, err := ur.db.Exec(ctx, debitBalanceQuery, amount, userID)
	if err != nil {
		return err
	}

	if cmd.RowsAffected() == 0 {
		return models.ErrInsufficientBalance
	}

	return nil
}

// CreditBalance adds amount to the user balance and returns the updated row
func (ur *UserRepository) CreditBalance(ctx context.Context, userID int64, amount decimal.Decimal) (*models.User, error) {
	user := models.User{}
	err := ur.db.QueryRow(ctx, creditBalanceQuery, amount, userID).Scan(&user.ID, &user.Balance, &user.Strikes, &user.IsBanned, &user.IsExempt, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrDataNotFound
		}
		return nil, err
	}

	return &user, nil
}

// AddStrike increments the user strike counter and returns the updated row
func (ur *UserRepository) AddStrike(ctx context.Context, userID int64) (*models.User, error) {
	user := models.User{}
	err := ur.db.QueryRow(ctx, addStrikeQuery, userID).Scan(&user.ID, &user.Balance, &user.Strikes, &user.IsBanned, &user.IsExempt, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrDataNotFound
		}
		return nil, err
	}

	return &user, nil
}

// BanUser sets the ban flag. Exempt users are never banned: the call is
// a no-op for them.
func (ur *UserRepository) BanUser(ctx context.Context, userID int64) (bool, error) {
	cmd, err := ur.db.Exec(ctx, banUserQuery, userID)
	if err != nil {
		return false, err
	}

	return cmd.RowsAffected() > 0, nil
}

// UnbanUser clears the ban flag and the strike counter
func (ur *UserRepository) UnbanUser(ctx context.Context, userID int64) error {
	cmd, err := ur.db.Exec(ctx, unbanUserQuery, userID)
	if err != nil {
		return err
	}

	if cmd.RowsAffected() == 0 {
		return models.ErrDataNotFound
	}

	return nil
}
