package service

import (
	"context"
	"errors"

	"github.com/rookgm/cryptomart/internal/logger"
	"github.com/rookgm/cryptomart/internal/models"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AdminRepository is interface for interacting with admin accounts
type AdminRepository interface {
	// CreateAdmin inserts new admin account
	CreateAdmin(ctx context.Context, admin *models.Admin) (*models.Admin, error)
	// GetAdminByLogin returns admin by login
	GetAdminByLogin(ctx context.Context, login string) (*models.Admin, error)
}

// AuthService authenticates shop administrators
type AuthService struct {
	admins AdminRepository
	token  TokenService
}

// NewAuthService creates new AuthService instance
func NewAuthService(admins AdminRepository, token TokenService) *AuthService {
	return &AuthService{
		admins: admins,
		token:  token,
	}
}

// Register creates a new admin account with a hashed password
func (as *AuthService) Register(ctx context.Context, login, password string) (*models.Admin, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, models.ErrInternalError
	}

	admin := &models.Admin{
		Login:        login,
		PasswordHash: string(hash),
	}

	admin, err = as.admins.CreateAdmin(ctx, admin)
	if err != nil {
		return nil, err
	}

	logger.Log.Info("admin registered", zap.String("login", login))
	return admin, nil
}

// Login checks the credentials and returns a fresh token
func (as *AuthService) Login(ctx context.Context, login, password string) (string, error) {
	admin, err := as.admins.GetAdminByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, models.ErrDataNotFound) {
			return "", models.ErrInvalidCredentials
		}
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		return "", models.ErrInvalidCredentials
	}

	token, err := as.token.CreateToken(admin)
	if err != nil {
		return "", models.ErrInternalError
	}

	return token, nil
}
