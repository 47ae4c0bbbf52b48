package service

import "github.com/rookgm/cryptomart/internal/models"

// TokenService is interface for interacting with admin token
type TokenService interface {
	// CreateToken creates a new token for a given admin
	CreateToken(admin *models.Admin) (string, error)
	// VerifyToken checks if the token is valid and returns the payload
	VerifyToken(tokenString string) (*models.TokenPayload, error)
}
