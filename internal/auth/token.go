package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rookgm/cryptomart/internal/models"
)

const tokenDuration = 24 * time.Hour

// AuthToken issues and verifies signed admin tokens
type AuthToken struct {
	key []byte
}

// NewAuthToken creates new AuthToken instance
func NewAuthToken(key []byte) *AuthToken {
	return &AuthToken{key: key}
}

type tokenClaims struct {
	jwt.RegisteredClaims
	AdminID int64  `json:"aid"`
	Login   string `json:"login"`
}

// CreateToken creates a new token for a given admin
func (at *AuthToken) CreateToken(admin *models.Admin) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenDuration)),
		},
		AdminID: admin.ID,
		Login:   admin.Login,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(at.key)
}

// VerifyToken checks if the token is valid and returns the payload
func (at *AuthToken) VerifyToken(tokenString string) (*models.TokenPayload, error) {
	token, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, models.ErrInvalidToken
		}
		return at.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, models.ErrExpiredToken
		}
		return nil, models.ErrInvalidToken
	}

	claims, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return nil, models.ErrInvalidToken
	}

	return &models.TokenPayload{
		AdminID: claims.AdminID,
		Login:   claims.Login,
	}, nil
}
