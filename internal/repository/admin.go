package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rookgm/cryptomart/internal/models"
	"github.com/rookgm/cryptomart/internal/repository/postgres"
)

const (
	insertAdminQuery = `
						INSERT INTO admins (login, password_hash)
						values ($1, $2)
						RETURNING id, login, password_hash, created_at
`
	selectAdminByLoginQuery = `
						SELECT id, login, password_hash, created_at FROM admins
						WHERE login = $1
`
)

// AdminRepository implements AdminRepository interface
type AdminRepository struct {
	db *postgres.DB
}

// NewAdminRepository creates new AdminRepository instance
func NewAdminRepository(db *postgres.DB) *AdminRepository {
	return &AdminRepository{db: db}
}

// CreateAdmin inserts new admin account to database
func (ar *AdminRepository) CreateAdmin(ctx context.Context, admin *models.Admin) (*models.Admin, error) {
	err := ar.db.QueryRow(ctx, insertAdminQuery, admin.Login, admin.PasswordHash).Scan(&admin.ID, &admin.Login, &admin.PasswordHash, &admin.CreatedAt)
	if err != nil {
		if ar.db.IsUniqueViolation(err) {
			return nil, models.ErrConflictData
		}
		return nil, err
	}

	return admin, nil
}

// GetAdminByLogin returns admin account by login
func (ar *AdminRepository) GetAdminByLogin(ctx context.Context, login string) (*models.Admin, error) {
	admin := models.Admin{}
	err := ar.db.QueryRow(ctx, selectAdminByLoginQuery, login).Scan(&admin.ID, &admin.Login, &admin.PasswordHash, &admin.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrDataNotFound
		}
		return nil, err
	}

	return &admin, nil
}
